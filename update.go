package mongolite

import (
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/mongolite/mongolite/errors"
)

// applyUpdate produces a new document from the given update specification.
// The input document is never mutated. A nil document seeds a fresh upsert
// document from the non-operator fields of the seed filter. Operators, and
// fields within an operator, apply in lexicographic order.
func applyUpdate(doc *Document, update map[string]any, seedFilter map[string]any) (*Document, error) {
	if err := validateUpdate(update); err != nil {
		return nil, err
	}
	var value map[string]any
	if doc != nil {
		value = deepClone(doc.Value()).(map[string]any)
	} else {
		value = map[string]any{}
		for k, v := range seedFilter {
			if strings.HasPrefix(k, "$") {
				continue
			}
			if _, isOps := operatorMap(v); isOps {
				continue
			}
			setPath(value, k, deepClone(v))
		}
	}
	for _, op := range sortedKeys(update) {
		fields := update[op].(map[string]any)
		for _, field := range sortedKeys(fields) {
			if err := applyOperator(value, op, field, fields[field]); err != nil {
				return nil, err
			}
		}
	}
	if _, ok := value["_id"]; !ok {
		value["_id"] = NewObjectID().String()
	}
	return NewDocumentFrom(value)
}

func validateUpdate(update map[string]any) error {
	if len(update) == 0 {
		return errors.New(errors.Validation, "empty update specification")
	}
	for op, fields := range update {
		if !strings.HasPrefix(op, "$") {
			return errors.New(errors.Validation, "update operators must begin with '$': '%s'", op)
		}
		if _, ok := fields.(map[string]any); !ok {
			return errors.New(errors.Validation, "'%s' requires a field -> value map", op)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applyOperator(value map[string]any, op, field string, operand any) error {
	switch op {
	case "$set":
		setPath(value, field, deepClone(operand))
	case "$unset":
		delPath(value, field)
	case "$inc", "$mul":
		if !isNumber(operand) {
			return errors.New(errors.Validation, "'%s' requires a numeric operand for field '%s'", op, field)
		}
		current := lookupPath(value, field)
		if isUndefined(current) {
			current = 0
		}
		if !isNumber(current) {
			return errors.New(errors.Validation, "'%s' target field '%s' is not numeric", op, field)
		}
		if op == "$inc" {
			setPath(value, field, cast.ToFloat64(current)+cast.ToFloat64(operand))
		} else {
			setPath(value, field, cast.ToFloat64(current)*cast.ToFloat64(operand))
		}
	case "$min":
		current := lookupPath(value, field)
		if isUndefined(current) || compareValues(operand, current) < 0 {
			setPath(value, field, deepClone(operand))
		}
	case "$max":
		current := lookupPath(value, field)
		if isUndefined(current) || compareValues(operand, current) > 0 {
			setPath(value, field, deepClone(operand))
		}
	case "$rename":
		target, ok := operand.(string)
		if !ok {
			return errors.New(errors.Validation, "'$rename' requires a string target for field '%s'", field)
		}
		current := lookupPath(value, field)
		if isUndefined(current) {
			return nil
		}
		delPath(value, field)
		setPath(value, target, current)
	case "$push":
		elements, err := pathArray(value, field, op)
		if err != nil {
			return err
		}
		setPath(value, field, append(elements, deepCloneSlice(eachElements(operand))...))
	case "$pull":
		current := lookupPath(value, field)
		if isUndefined(current) {
			return nil
		}
		elements, ok := asSlice(current)
		if !ok {
			return errors.New(errors.Validation, "'$pull' target field '%s' is not an array", field)
		}
		var kept []any
		for _, element := range elements {
			if !deepEqual(element, operand) {
				kept = append(kept, element)
			}
		}
		if kept == nil {
			kept = []any{}
		}
		setPath(value, field, kept)
	case "$pop":
		current := lookupPath(value, field)
		if isUndefined(current) {
			return nil
		}
		elements, ok := asSlice(current)
		if !ok {
			return errors.New(errors.Validation, "'$pop' target field '%s' is not an array", field)
		}
		if len(elements) == 0 {
			return nil
		}
		if cast.ToInt(operand) < 0 {
			setPath(value, field, elements[1:])
		} else {
			setPath(value, field, elements[:len(elements)-1])
		}
	case "$addToSet":
		elements, err := pathArray(value, field, op)
		if err != nil {
			return err
		}
		for _, candidate := range eachElements(operand) {
			var present bool
			for _, element := range elements {
				if deepEqual(element, candidate) {
					present = true
					break
				}
			}
			if !present {
				elements = append(elements, deepClone(candidate))
			}
		}
		setPath(value, field, elements)
	case "$currentDate":
		if wantsTimestamp(operand) {
			setPath(value, field, time.Now().UnixMilli())
		} else {
			setPath(value, field, time.Now().UTC().Format(time.RFC3339Nano))
		}
	default:
		return errors.New(errors.Validation, "invalid update operator: '%s'", op)
	}
	return nil
}

// pathArray returns the array at the path, or an empty array when the field
// is missing.
func pathArray(value map[string]any, field, op string) ([]any, error) {
	current := lookupPath(value, field)
	if isUndefined(current) {
		return []any{}, nil
	}
	elements, ok := asSlice(current)
	if !ok {
		return nil, errors.New(errors.Validation, "'%s' target field '%s' is not an array", op, field)
	}
	return elements, nil
}

// eachElements unwraps a {$each: [...]} operand into its elements, or wraps
// a plain operand into a single-element batch.
func eachElements(operand any) []any {
	if m, ok := operand.(map[string]any); ok {
		if each, ok := m["$each"]; ok {
			if elements, ok := asSlice(each); ok {
				return elements
			}
		}
	}
	return []any{operand}
}

func wantsTimestamp(operand any) bool {
	m, ok := operand.(map[string]any)
	if !ok {
		return false
	}
	return cast.ToString(m["$type"]) == "timestamp"
}

func deepCloneSlice(elements []any) []any {
	return deepClone(elements).([]any)
}
