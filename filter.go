package mongolite

import (
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/mongolite/mongolite/errors"
)

// matchDocument reports whether the document satisfies the filter. It never
// mutates the document and never fails for a missing field, only for a
// structurally invalid filter.
func matchDocument(doc *Document, filter map[string]any) (bool, error) {
	return matchValue(doc.Value(), filter)
}

func matchValue(doc map[string]any, filter map[string]any) (bool, error) {
	for key, cond := range filter {
		switch key {
		case "$and":
			subs, ok := asSlice(cond)
			if !ok {
				return false, errors.New(errors.Validation, "$and requires an array of filters")
			}
			for _, sub := range subs {
				subFilter, ok := sub.(map[string]any)
				if !ok {
					return false, errors.New(errors.Validation, "$and requires an array of filters")
				}
				pass, err := matchValue(doc, subFilter)
				if err != nil {
					return false, err
				}
				if !pass {
					return false, nil
				}
			}
		case "$or":
			subs, ok := asSlice(cond)
			if !ok {
				return false, errors.New(errors.Validation, "$or requires an array of filters")
			}
			var passed bool
			for _, sub := range subs {
				subFilter, ok := sub.(map[string]any)
				if !ok {
					return false, errors.New(errors.Validation, "$or requires an array of filters")
				}
				pass, err := matchValue(doc, subFilter)
				if err != nil {
					return false, err
				}
				if pass {
					passed = true
					break
				}
			}
			if !passed {
				return false, nil
			}
		case "$nor":
			subs, ok := asSlice(cond)
			if !ok {
				return false, errors.New(errors.Validation, "$nor requires an array of filters")
			}
			for _, sub := range subs {
				subFilter, ok := sub.(map[string]any)
				if !ok {
					return false, errors.New(errors.Validation, "$nor requires an array of filters")
				}
				pass, err := matchValue(doc, subFilter)
				if err != nil {
					return false, err
				}
				if pass {
					return false, nil
				}
			}
		default:
			if strings.HasPrefix(key, "$") {
				return false, errors.New(errors.Validation, "invalid operator: '%s'", key)
			}
			fieldVal := lookupPath(doc, key)
			if ops, ok := operatorMap(cond); ok {
				pass, err := matchOperators(fieldVal, ops)
				if err != nil {
					return false, err
				}
				if !pass {
					return false, nil
				}
				continue
			}
			if !matchEquality(fieldVal, cond) {
				return false, nil
			}
		}
	}
	return true, nil
}

// operatorMap reports whether the condition is an operator map rather than
// a literal value to compare against.
func operatorMap(cond any) (map[string]any, bool) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// matchEquality implements filter leaf equality: an explicit null matches
// both null and missing fields, anything else requires deep equality.
func matchEquality(fieldVal any, expected any) bool {
	if expected == nil {
		return fieldVal == nil || isUndefined(fieldVal)
	}
	if isUndefined(fieldVal) {
		return false
	}
	return deepEqual(fieldVal, expected)
}

func matchOperators(fieldVal any, ops map[string]any) (bool, error) {
	for op, operand := range ops {
		switch op {
		case "$eq":
			if !matchEquality(fieldVal, operand) {
				return false, nil
			}
		case "$ne":
			if matchEquality(fieldVal, operand) {
				return false, nil
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !isNumber(fieldVal) || !isNumber(operand) {
				return false, nil
			}
			a, b := cast.ToFloat64(fieldVal), cast.ToFloat64(operand)
			var pass bool
			switch op {
			case "$gt":
				pass = a > b
			case "$gte":
				pass = a >= b
			case "$lt":
				pass = a < b
			case "$lte":
				pass = a <= b
			}
			if !pass {
				return false, nil
			}
		case "$in":
			values, ok := asSlice(operand)
			if !ok {
				return false, errors.New(errors.Validation, "$in requires an array")
			}
			if isUndefined(fieldVal) {
				return false, nil
			}
			var found bool
			for _, v := range values {
				if deepEqual(fieldVal, v) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case "$nin":
			values, ok := asSlice(operand)
			if !ok {
				return false, errors.New(errors.Validation, "$nin requires an array")
			}
			if isUndefined(fieldVal) {
				return false, nil
			}
			for _, v := range values {
				if deepEqual(fieldVal, v) {
					return false, nil
				}
			}
		case "$exists":
			if cast.ToBool(operand) == isUndefined(fieldVal) {
				return false, nil
			}
		case "$not":
			nested, ok := operatorMap(operand)
			if !ok {
				return false, errors.New(errors.Validation, "$not requires an operator map")
			}
			pass, err := matchOperators(fieldVal, nested)
			if err != nil {
				return false, err
			}
			if pass {
				return false, nil
			}
		case "$regex":
			str, ok := fieldVal.(string)
			if !ok {
				return false, nil
			}
			re, err := regexp.Compile(cast.ToString(operand))
			if err != nil {
				return false, errors.Wrap(err, errors.Validation, "invalid $regex pattern")
			}
			if !re.MatchString(str) {
				return false, nil
			}
		case "$type":
			if isUndefined(fieldVal) {
				return false, nil
			}
			if !typeMatches(fieldVal, cast.ToString(operand)) {
				return false, nil
			}
		case "$elemMatch":
			elements, ok := asSlice(fieldVal)
			if !ok {
				return false, nil
			}
			cond, ok := operand.(map[string]any)
			if !ok {
				return false, errors.New(errors.Validation, "$elemMatch requires a filter document")
			}
			var matched bool
			for _, element := range elements {
				var (
					pass bool
					err  error
				)
				if ops, isOps := operatorMap(cond); isOps {
					pass, err = matchOperators(element, ops)
				} else if obj, isObj := element.(map[string]any); isObj {
					pass, err = matchValue(obj, cond)
				}
				if err != nil {
					return false, err
				}
				if pass {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		case "$size":
			elements, ok := asSlice(fieldVal)
			if !ok || len(elements) != cast.ToInt(operand) {
				return false, nil
			}
		case "$all":
			elements, ok := asSlice(fieldVal)
			if !ok {
				return false, nil
			}
			wanted, ok := asSlice(operand)
			if !ok {
				return false, errors.New(errors.Validation, "$all requires an array")
			}
			for _, want := range wanted {
				var found bool
				for _, element := range elements {
					if deepEqual(element, want) {
						found = true
						break
					}
				}
				if !found {
					return false, nil
				}
			}
		default:
			return false, errors.New(errors.Validation, "invalid operator: '%s'", op)
		}
	}
	return true, nil
}
