package mongolite

import (
	"context"
	"strings"

	"github.com/spf13/cast"

	"github.com/mongolite/mongolite/errors"
	"github.com/mongolite/mongolite/util"
)

// Aggregate runs an aggregation pipeline over a snapshot of the collection.
// Each stage consumes the full output of the previous stage, strictly left
// to right.
func (c *Collection) Aggregate(ctx context.Context, pipeline []map[string]any) (*Cursor, error) {
	return newAggregateCursor(c, pipeline), nil
}

func executePipeline(ctx context.Context, db *Database, documents Documents, pipeline []map[string]any) (Documents, error) {
	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, errors.New(errors.Validation, "pipeline stages must have exactly one key: %s", util.JSONString(stage))
		}
		var err error
		for name, spec := range stage {
			documents, err = executeStage(ctx, db, documents, name, spec)
		}
		if err != nil {
			return nil, err
		}
	}
	return documents, nil
}

func executeStage(ctx context.Context, db *Database, documents Documents, name string, spec any) (Documents, error) {
	switch name {
	case "$match":
		filter, ok := spec.(map[string]any)
		if !ok {
			return nil, errors.New(errors.Validation, "'$match' requires a filter document")
		}
		var out Documents
		for _, doc := range documents {
			pass, err := matchDocument(doc, filter)
			if err != nil {
				return nil, err
			}
			if pass {
				out = append(out, doc)
			}
		}
		return out, nil
	case "$project":
		projection, ok := spec.(map[string]any)
		if !ok {
			return nil, errors.New(errors.Validation, "'$project' requires a projection document")
		}
		return projectStage(documents, projection)
	case "$group":
		groupSpec, ok := spec.(map[string]any)
		if !ok {
			return nil, errors.New(errors.Validation, "'$group' requires a group document")
		}
		return groupStage(documents, groupSpec)
	case "$sort":
		sortFields, err := parseSort(spec)
		if err != nil {
			return nil, err
		}
		return orderBy(sortFields, documents), nil
	case "$limit":
		limit := cast.ToInt(spec)
		if limit < len(documents) {
			return documents[:limit], nil
		}
		return documents, nil
	case "$skip":
		skip := cast.ToInt(spec)
		if skip >= len(documents) {
			return Documents{}, nil
		}
		return documents[skip:], nil
	case "$count":
		field := cast.ToString(spec)
		if field == "" {
			return nil, errors.New(errors.Validation, "'$count' requires a field name")
		}
		doc, err := NewDocumentFrom(map[string]any{field: len(documents)})
		if err != nil {
			return nil, err
		}
		return Documents{doc}, nil
	case "$unwind":
		return unwindStage(documents, spec)
	case "$addFields", "$set":
		fields, ok := spec.(map[string]any)
		if !ok {
			return nil, errors.New(errors.Validation, "'%s' requires a field document", name)
		}
		return addFieldsStage(documents, fields)
	case "$lookup":
		lookup, ok := spec.(map[string]any)
		if !ok {
			return nil, errors.New(errors.Validation, "'$lookup' requires a lookup document")
		}
		return lookupStage(ctx, db, documents, lookup)
	case "$function":
		fn, ok := spec.(map[string]any)
		if !ok {
			return nil, errors.New(errors.Validation, "'$function' requires a function document")
		}
		return functionStage(ctx, db, documents, fn)
	default:
		// unknown stages pass documents through unchanged
		return documents, nil
	}
}

func projectStage(documents Documents, projection map[string]any) (Documents, error) {
	var (
		flags    = map[string]any{}
		computed = map[string]any{}
	)
	for field, spec := range projection {
		switch spec.(type) {
		case bool:
			flags[field] = spec
		default:
			if isNumber(spec) {
				flags[field] = spec
				continue
			}
			computed[field] = spec
		}
	}
	out := make(Documents, 0, len(documents))
	for _, doc := range documents {
		projected := doc
		if len(flags) > 0 {
			var err error
			projected, err = applyProjection(doc, flags)
			if err != nil {
				return nil, err
			}
		} else if len(computed) > 0 {
			// computed-only projections behave as inclusion mode
			projected, _ = NewDocumentFrom(map[string]any{})
			if id, ok := doc.Value()["_id"]; ok {
				if err := projected.Set("_id", id); err != nil {
					return nil, err
				}
			}
		}
		value := doc.Value()
		for field, expr := range computed {
			v, err := evalExpr(value, expr)
			if err != nil {
				return nil, err
			}
			if err := projected.Set(field, v); err != nil {
				return nil, err
			}
		}
		out = append(out, projected)
	}
	return out, nil
}

func addFieldsStage(documents Documents, fields map[string]any) (Documents, error) {
	out := make(Documents, 0, len(documents))
	for _, doc := range documents {
		next := doc.Clone()
		value := doc.Value()
		for _, field := range sortedKeys(fields) {
			v, err := evalExpr(value, fields[field])
			if err != nil {
				return nil, err
			}
			if err := next.Set(field, v); err != nil {
				return nil, err
			}
		}
		out = append(out, next)
	}
	return out, nil
}

type docGroup struct {
	key  any
	docs Documents
}

func groupStage(documents Documents, spec map[string]any) (Documents, error) {
	idSpec, ok := spec["_id"]
	if !ok {
		return nil, errors.New(errors.Validation, "'$group' requires an '_id' expression")
	}
	var (
		groups  []*docGroup
		indexes = map[string]int{}
	)
	for _, doc := range documents {
		key, err := evalExpr(doc.Value(), idSpec)
		if err != nil {
			return nil, err
		}
		hash := util.JSONString(key)
		idx, ok := indexes[hash]
		if !ok {
			idx = len(groups)
			indexes[hash] = idx
			groups = append(groups, &docGroup{key: key})
		}
		groups[idx].docs = append(groups[idx].docs, doc)
	}
	out := make(Documents, 0, len(groups))
	for _, group := range groups {
		value := map[string]any{"_id": group.key}
		for field, accSpec := range spec {
			if field == "_id" {
				continue
			}
			accMap, ok := accSpec.(map[string]any)
			if !ok {
				return nil, errors.New(errors.Validation, "'$group' accumulator for '%s' must be an operator map", field)
			}
			op, operand, ok := exprOperator(accMap)
			if !ok {
				return nil, errors.New(errors.Validation, "'$group' accumulator for '%s' must be an operator map", field)
			}
			v, err := accumulate(group.docs, op, operand)
			if err != nil {
				return nil, err
			}
			value[field] = v
		}
		doc, err := NewDocumentFrom(value)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func accumulate(documents Documents, op string, operand any) (any, error) {
	if op == "$count" {
		return len(documents), nil
	}
	values := make([]any, 0, len(documents))
	for _, doc := range documents {
		v, err := evalExpr(doc.Value(), operand)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	switch op {
	case "$sum":
		var sum float64
		for _, v := range values {
			if isNumber(v) {
				sum += cast.ToFloat64(v)
			}
		}
		return sum, nil
	case "$avg":
		var (
			sum   float64
			count int
		)
		for _, v := range values {
			if isNumber(v) {
				sum += cast.ToFloat64(v)
				count++
			}
		}
		if count == 0 {
			return nil, nil
		}
		return sum / float64(count), nil
	case "$min", "$max":
		var best any
		for _, v := range values {
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := compareValues(v, best)
			if (op == "$min" && c < 0) || (op == "$max" && c > 0) {
				best = v
			}
		}
		return best, nil
	case "$first":
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	case "$last":
		if len(values) == 0 {
			return nil, nil
		}
		return values[len(values)-1], nil
	case "$push":
		return values, nil
	case "$addToSet":
		var set []any
		for _, v := range values {
			var present bool
			for _, existing := range set {
				if deepEqual(existing, v) {
					present = true
					break
				}
			}
			if !present {
				set = append(set, v)
			}
		}
		if set == nil {
			set = []any{}
		}
		return set, nil
	default:
		return nil, errors.New(errors.Validation, "invalid accumulator: '%s'", op)
	}
}

func unwindStage(documents Documents, spec any) (Documents, error) {
	var (
		path     string
		preserve bool
	)
	switch spec := spec.(type) {
	case string:
		path = spec
	case map[string]any:
		path = cast.ToString(spec["path"])
		preserve = cast.ToBool(spec["preserveNullAndEmptyArrays"])
	default:
		return nil, errors.New(errors.Validation, "'$unwind' requires a path or an options document")
	}
	if !strings.HasPrefix(path, "$") {
		return nil, errors.New(errors.Validation, "'$unwind' path must begin with '$': '%s'", path)
	}
	field := strings.TrimPrefix(path, "$")
	var out Documents
	for _, doc := range documents {
		v := lookupPath(doc.Value(), field)
		elements, isArray := asSlice(v)
		switch {
		case isArray && len(elements) > 0:
			for _, element := range elements {
				next := doc.Clone()
				if err := next.Set(field, element); err != nil {
					return nil, err
				}
				out = append(out, next)
			}
		case isUndefined(v), v == nil, isArray && len(elements) == 0:
			if preserve {
				out = append(out, doc)
			}
		default:
			// a non-array value unwinds to itself
			out = append(out, doc)
		}
	}
	return out, nil
}

func lookupStage(ctx context.Context, db *Database, documents Documents, spec map[string]any) (Documents, error) {
	var (
		from         = cast.ToString(spec["from"])
		localField   = cast.ToString(spec["localField"])
		foreignField = cast.ToString(spec["foreignField"])
		as           = cast.ToString(spec["as"])
	)
	if from == "" || localField == "" || foreignField == "" || as == "" {
		return nil, errors.New(errors.Validation, "'$lookup' requires from, localField, foreignField and as")
	}
	if db == nil {
		return nil, errors.New(errors.Validation, "'$lookup' requires a database-backed pipeline")
	}
	foreign, err := db.Collection(from).readAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(Documents, 0, len(documents))
	for _, doc := range documents {
		local := lookupPath(doc.Value(), localField)
		if isUndefined(local) {
			local = nil
		}
		matches := []any{}
		for _, foreignDoc := range foreign {
			foreignVal := lookupPath(foreignDoc.Value(), foreignField)
			if isUndefined(foreignVal) {
				foreignVal = nil
			}
			if deepEqual(local, foreignVal) {
				matches = append(matches, foreignDoc.Value())
			}
		}
		next := doc.Clone()
		if err := next.Set(as, matches); err != nil {
			return nil, err
		}
		out = append(out, next)
	}
	return out, nil
}

// functionStage invokes the database's external function runner once per
// document, inline and in stage order.
func functionStage(ctx context.Context, db *Database, documents Documents, spec map[string]any) (Documents, error) {
	body := cast.ToString(spec["body"])
	if body == "" {
		return nil, errors.New(errors.Validation, "'$function' requires a body")
	}
	if db == nil || db.functions == nil {
		return nil, errors.New(errors.Validation, "'$function' requires a function runner")
	}
	as := cast.ToString(spec["as"])
	out := make(Documents, 0, len(documents))
	for _, doc := range documents {
		result, err := db.functions.Run(ctx, body, doc.Value())
		if err != nil {
			return nil, errors.Wrap(err, errors.Validation, "'$function' execution failed")
		}
		switch {
		case as != "":
			next := doc.Clone()
			if err := next.Set(as, result); err != nil {
				return nil, err
			}
			out = append(out, next)
		case result == nil:
			// a null result drops the document
		default:
			if value, ok := result.(map[string]any); ok {
				next, err := NewDocumentFrom(value)
				if err != nil {
					return nil, err
				}
				out = append(out, next)
				continue
			}
			out = append(out, doc)
		}
	}
	return out, nil
}
