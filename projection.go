package mongolite

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/mongolite/mongolite/errors"
)

// applyProjection shapes a document copy according to a {field: 1|0} map.
// Inclusion and exclusion may not be mixed, except that _id may be excluded
// inside an inclusion projection. A nil or empty projection is a no-op.
func applyProjection(doc *Document, projection map[string]any) (*Document, error) {
	if len(projection) == 0 {
		return doc, nil
	}
	var (
		includes []string
		excludes []string
		excludeID bool
	)
	for field, flag := range projection {
		if strings.HasPrefix(field, "$") {
			return nil, errors.New(errors.Validation, "invalid projection field: '%s'", field)
		}
		if cast.ToBool(flag) {
			includes = append(includes, field)
			continue
		}
		if field == "_id" {
			excludeID = true
			continue
		}
		excludes = append(excludes, field)
	}
	if len(includes) > 0 && len(excludes) > 0 {
		return nil, errors.New(errors.Validation, "cannot mix inclusion and exclusion projections")
	}
	if len(includes) > 0 {
		value := doc.Value()
		out := map[string]any{}
		if !excludeID {
			if id, ok := value["_id"]; ok {
				out["_id"] = id
			}
		}
		for _, field := range includes {
			v := lookupPath(value, field)
			if isUndefined(v) {
				continue
			}
			setPath(out, field, deepClone(v))
		}
		return NewDocumentFrom(out)
	}
	projected := doc.Clone()
	if excludeID {
		excludes = append(excludes, "_id")
	}
	if err := projected.DelAll(excludes...); err != nil {
		return nil, err
	}
	return projected, nil
}
