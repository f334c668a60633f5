package mongolite

import (
	"context"

	"github.com/dop251/goja"

	"github.com/mongolite/mongolite/errors"
)

// FunctionRunner executes user supplied function bodies against a document
type FunctionRunner interface {
	// Run evaluates the source with the document bound as 'doc' and returns
	// the script's result
	Run(ctx context.Context, src string, doc map[string]any) (any, error)
}

type gojaRunner struct{}

func newFunctionRunner() FunctionRunner {
	return gojaRunner{}
}

func (gojaRunner) Run(ctx context.Context, src string, doc map[string]any) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("doc", doc); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to bind document")
	}
	if err := vm.Set("newObjectId", func() string {
		return string(NewObjectID())
	}); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to bind helpers")
	}
	value, err := vm.RunString(src)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "function execution failed")
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}
