package mongolite

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/mongolite/mongolite/errors"
)

// evalExpr evaluates a literal, a "$field" reference, or an expression map
// against a document value map. Missing field references evaluate to null.
func evalExpr(doc map[string]any, expr any) (any, error) {
	switch expr := expr.(type) {
	case string:
		if strings.HasPrefix(expr, "$") {
			v := lookupPath(doc, strings.TrimPrefix(expr, "$"))
			if isUndefined(v) {
				return nil, nil
			}
			return v, nil
		}
		return expr, nil
	case map[string]any:
		if op, operand, ok := exprOperator(expr); ok {
			return evalExprOperator(doc, op, operand)
		}
		out := make(map[string]any, len(expr))
		for k, v := range expr {
			ev, err := evalExpr(doc, v)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	default:
		return expr, nil
	}
}

func exprOperator(expr map[string]any) (string, any, bool) {
	if len(expr) != 1 {
		return "", nil, false
	}
	for k, v := range expr {
		if strings.HasPrefix(k, "$") {
			return k, v, true
		}
	}
	return "", nil, false
}

func evalExprOperator(doc map[string]any, op string, operand any) (any, error) {
	switch op {
	case "$concat":
		operands, err := evalOperandList(doc, operand, op)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, v := range operands {
			if v == nil {
				return nil, nil
			}
			sb.WriteString(cast.ToString(v))
		}
		return sb.String(), nil
	case "$add", "$multiply":
		operands, err := evalOperandList(doc, operand, op)
		if err != nil {
			return nil, err
		}
		var result float64
		if op == "$multiply" {
			result = 1
		}
		for _, v := range operands {
			if !isNumber(v) {
				return nil, nil
			}
			if op == "$add" {
				result += cast.ToFloat64(v)
			} else {
				result *= cast.ToFloat64(v)
			}
		}
		return result, nil
	case "$subtract", "$divide":
		operands, err := evalOperandList(doc, operand, op)
		if err != nil {
			return nil, err
		}
		if len(operands) != 2 {
			return nil, errors.New(errors.Validation, "'%s' requires exactly two operands", op)
		}
		if !isNumber(operands[0]) || !isNumber(operands[1]) {
			return nil, nil
		}
		a, b := cast.ToFloat64(operands[0]), cast.ToFloat64(operands[1])
		if op == "$subtract" {
			return a - b, nil
		}
		if b == 0 {
			return nil, nil
		}
		return a / b, nil
	case "$ifNull":
		operands, err := evalOperandList(doc, operand, op)
		if err != nil {
			return nil, err
		}
		if len(operands) != 2 {
			return nil, errors.New(errors.Validation, "'$ifNull' requires exactly two operands")
		}
		if operands[0] != nil {
			return operands[0], nil
		}
		return operands[1], nil
	case "$cond":
		var condition, then, otherwise any
		switch operand := operand.(type) {
		case map[string]any:
			condition, then, otherwise = operand["if"], operand["then"], operand["else"]
		default:
			parts, ok := asSlice(operand)
			if !ok || len(parts) != 3 {
				return nil, errors.New(errors.Validation, "'$cond' requires {if,then,else} or a three element array")
			}
			condition, then, otherwise = parts[0], parts[1], parts[2]
		}
		pass, err := evalCondition(doc, condition)
		if err != nil {
			return nil, err
		}
		if pass {
			return evalExpr(doc, then)
		}
		return evalExpr(doc, otherwise)
	default:
		return nil, errors.New(errors.Validation, "invalid expression operator: '%s'", op)
	}
}

func evalOperandList(doc map[string]any, operand any, op string) ([]any, error) {
	parts, ok := asSlice(operand)
	if !ok {
		return nil, errors.New(errors.Validation, "'%s' requires an array of operands", op)
	}
	out := make([]any, 0, len(parts))
	for _, part := range parts {
		v, err := evalExpr(doc, part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// evalCondition evaluates a $cond condition: a comparison or logical
// operator over evaluated operands, or any expression coerced to a bool.
func evalCondition(doc map[string]any, condition any) (bool, error) {
	if m, ok := condition.(map[string]any); ok {
		if op, operand, isOp := exprOperator(m); isOp {
			switch op {
			case "$and", "$or":
				parts, ok := asSlice(operand)
				if !ok {
					return false, errors.New(errors.Validation, "'%s' requires an array of conditions", op)
				}
				for _, part := range parts {
					pass, err := evalCondition(doc, part)
					if err != nil {
						return false, err
					}
					if op == "$and" && !pass {
						return false, nil
					}
					if op == "$or" && pass {
						return true, nil
					}
				}
				return op == "$and", nil
			case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
				operands, err := evalOperandList(doc, operand, op)
				if err != nil {
					return false, err
				}
				if len(operands) != 2 {
					return false, errors.New(errors.Validation, "'%s' requires exactly two operands", op)
				}
				return compareCondition(op, operands[0], operands[1]), nil
			}
		}
	}
	v, err := evalExpr(doc, condition)
	if err != nil {
		return false, err
	}
	return cast.ToBool(v), nil
}

func compareCondition(op string, a, b any) bool {
	switch op {
	case "$eq":
		return deepEqual(a, b)
	case "$ne":
		return !deepEqual(a, b)
	}
	c := compareValues(a, b)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	}
	return c <= 0
}
