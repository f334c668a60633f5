package mongolite

import (
	"strings"

	"github.com/segmentio/ksuid"
	"github.com/spf13/cast"
)

// ObjectID is a document identifier. Identifiers compare equal to their
// canonical string form regardless of representation.
type ObjectID string

func (o ObjectID) String() string {
	return string(o)
}

// NewObjectID returns a new sortable unique identifier
func NewObjectID() ObjectID {
	return ObjectID(ksuid.New().String())
}

type undefinedType struct{}

// undefined marks a field that is absent from a document. It is distinct
// from an explicit null value.
var undefined = undefinedType{}

func isUndefined(value any) bool {
	_, ok := value.(undefinedType)
	return ok
}

// lookupPath walks a dot-delimited path through nested values and returns
// undefined when any intermediate is missing or not an object.
func lookupPath(value any, path string) any {
	parts := strings.Split(path, ".")
	current := value
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return undefined
		}
		next, ok := obj[part]
		if !ok {
			return undefined
		}
		current = next
	}
	return current
}

// setPath sets a value at a dot-delimited path, creating intermediate
// objects as needed.
func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// delPath removes the value at a dot-delimited path. Missing intermediates
// are a no-op.
func delPath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

// deepClone copies a document value recursively
func deepClone(value any) any {
	switch value := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, v := range value {
			out[k] = deepClone(v)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, v := range value {
			out[i] = deepClone(v)
		}
		return out
	default:
		return value
	}
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func asSlice(value any) ([]any, bool) {
	switch value := value.(type) {
	case []any:
		return value, true
	case []string:
		out := make([]any, len(value))
		for i, v := range value {
			out[i] = v
		}
		return out, true
	case []int:
		out := make([]any, len(value))
		for i, v := range value {
			out[i] = v
		}
		return out, true
	case []float64:
		out := make([]any, len(value))
		for i, v := range value {
			out[i] = v
		}
		return out, true
	case []bool:
		out := make([]any, len(value))
		for i, v := range value {
			out[i] = v
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(value))
		for i, v := range value {
			out[i] = v
		}
		return out, true
	}
	return nil, false
}

// deepEqual compares two document values. Arrays are order sensitive,
// objects compare by key set then per key, identifiers compare by their
// canonical string form.
func deepEqual(a, b any) bool {
	if id, ok := a.(ObjectID); ok {
		a = id.String()
	}
	if id, ok := b.(ObjectID); ok {
		b = id.String()
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isUndefined(a) || isUndefined(b) {
		return isUndefined(a) && isUndefined(b)
	}
	if isNumber(a) && isNumber(b) {
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}
	if sa, ok := asSlice(a); ok {
		sb, ok := asSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !deepEqual(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	if ma, ok := a.(map[string]any); ok {
		mb, ok := b.(map[string]any)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !deepEqual(va, vb) {
				return false
			}
		}
		return true
	}
	return a == b
}

// compareValues orders two document values for sorting: missing and null
// sort first, numbers order numerically, strings lexicographically, and
// mixed types fall back to string comparison.
func compareValues(a, b any) int {
	arank, brank := sortRank(a), sortRank(b)
	if arank == 0 || brank == 0 {
		switch {
		case arank < brank:
			return -1
		case arank > brank:
			return 1
		}
		return 0
	}
	if arank == 1 && brank == 1 {
		af, bf := cast.ToFloat64(a), cast.ToFloat64(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(cast.ToString(a), cast.ToString(b))
}

func sortRank(value any) int {
	switch {
	case value == nil || isUndefined(value):
		return 0
	case isNumber(value):
		return 1
	}
	return 2
}

// typeName reports the runtime type of a document value for $type matching
func typeName(value any) string {
	if _, ok := value.(ObjectID); ok {
		return "objectId"
	}
	switch value := value.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case map[string]any:
		return "object"
	default:
		if isNumber(value) {
			return "number"
		}
		if _, ok := asSlice(value); ok {
			return "array"
		}
		return "unknown"
	}
}

func typeMatches(value any, name string) bool {
	actual := typeName(value)
	switch strings.ToLower(name) {
	case "number", "double", "int", "long", "decimal":
		return actual == "number"
	case "bool", "boolean":
		return actual == "bool"
	case "objectid":
		return actual == "objectId" || actual == "string"
	default:
		return actual == strings.ToLower(name)
	}
}
