package mongolite

import (
	"sort"

	"github.com/spf13/cast"

	"github.com/mongolite/mongolite/errors"
)

// SortField orders a result set by a single field
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// parseSort accepts either a {field: 1|-1} map (multi-key maps iterate in
// lexicographic field order), an ordered []map[string]any of single-key
// maps, or a []SortField.
func parseSort(spec any) ([]SortField, error) {
	switch spec := spec.(type) {
	case nil:
		return nil, nil
	case []SortField:
		return spec, nil
	case map[string]any:
		var fields []SortField
		for _, field := range sortedKeys(spec) {
			fields = append(fields, SortField{Field: field, Desc: cast.ToInt(spec[field]) < 0})
		}
		return fields, nil
	case []map[string]any:
		var fields []SortField
		for _, entry := range spec {
			for _, field := range sortedKeys(entry) {
				fields = append(fields, SortField{Field: field, Desc: cast.ToInt(entry[field]) < 0})
			}
		}
		return fields, nil
	case []any:
		var fields []SortField
		for _, entry := range spec {
			m, ok := entry.(map[string]any)
			if !ok {
				return nil, errors.New(errors.Validation, "invalid sort specification: %v", spec)
			}
			for _, field := range sortedKeys(m) {
				fields = append(fields, SortField{Field: field, Desc: cast.ToInt(m[field]) < 0})
			}
		}
		return fields, nil
	}
	return nil, errors.New(errors.Validation, "invalid sort specification: %v", spec)
}

// orderBy sorts documents by the given fields. The sort is stable: equal
// documents keep their relative input order. Missing and null values sort
// first in ascending order.
func orderBy(fields []SortField, documents Documents) Documents {
	if len(fields) == 0 {
		return documents
	}
	sorted := make(Documents, len(documents))
	copy(sorted, documents)
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, f := range fields {
			a := lookupPath(sorted[i].Value(), f.Field)
			b := lookupPath(sorted[j].Value(), f.Field)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sorted
}
