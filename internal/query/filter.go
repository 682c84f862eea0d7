package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/params"
)

type Operator string

const (
	OpEq         Operator = "="
	OpNe         Operator = "!="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT IN"
	OpBetween    Operator = "BETWEEN"
	OpNotBetween Operator = "NOT BETWEEN"
	OpLike       Operator = "LIKE"
	OpNotLike    Operator = "NOT LIKE"
	OpIsNull     Operator = "IS NULL"
	OpIsNotNull  Operator = "IS NOT NULL"
)

var operators = map[string]Operator{
	"=":           OpEq,
	"!=":          OpNe,
	"<>":          OpNe,
	">":           OpGt,
	">=":          OpGte,
	"<":           OpLt,
	"<=":          OpLte,
	"IN":          OpIn,
	"NOT IN":      OpNotIn,
	"BETWEEN":     OpBetween,
	"NOT BETWEEN": OpNotBetween,
	"LIKE":        OpLike,
	"NOT LIKE":    OpNotLike,
	"IS NULL":     OpIsNull,
	"IS NOT NULL": OpIsNotNull,
}

// Condition is one parsed filter: field OP values.
type Condition struct {
	Field  string
	Op     Operator
	Values []any
}

// ParseCondition reads the filter grammar: a literal means equality, a list means IN, and
// a single-key object names an operator, e.g. {"NOT BETWEEN": [33, 35]}.
func ParseCondition(field string, v any) (Condition, error) {
	switch t := v.(type) {
	case map[string]any:
		return parseOperator(field, t)
	case params.Bag:
		return parseOperator(field, map[string]any(t))
	case []any:
		if len(t) == 0 {
			return Condition{}, apierr.Newf(apierr.Validation, "%s: IN requires at least one value", field)
		}
		return Condition{Field: field, Op: OpIn, Values: t}, nil
	default:
		return Condition{Field: field, Op: OpEq, Values: []any{v}}, nil
	}
}

func parseOperator(field string, obj map[string]any) (Condition, error) {
	if len(obj) != 1 {
		return Condition{}, apierr.Newf(apierr.Validation, "%s: filter object must hold exactly one operator", field)
	}
	for key, arg := range obj {
		op, ok := operators[strings.ToUpper(strings.Join(strings.Fields(key), " "))]
		if !ok {
			return Condition{}, apierr.Newf(apierr.Validation, "%s: unsupported operator %q", field, key)
		}
		values := listValues(arg)
		switch op {
		case OpIsNull, OpIsNotNull:
			return Condition{Field: field, Op: op}, nil
		case OpIn, OpNotIn:
			if len(values) == 0 {
				return Condition{}, apierr.Newf(apierr.Validation, "%s: %s requires at least one value", field, op)
			}
		case OpBetween, OpNotBetween:
			if len(values) != 2 {
				return Condition{}, apierr.Newf(apierr.Validation, "%s: %s requires exactly two values", field, op)
			}
		default:
			if len(values) != 1 {
				return Condition{}, apierr.Newf(apierr.Validation, "%s: %s requires a single value", field, op)
			}
		}
		return Condition{Field: field, Op: op, Values: values}, nil
	}
	panic("unreachable")
}

// listValues accepts a JSON list, a scalar, or an object keyed "0","1",... (how PHP-style
// clients encode numerically indexed arrays).
func listValues(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case map[string]any:
		keys := make([]int, 0, len(t))
		byIndex := make(map[int]any, len(t))
		for k, item := range t {
			i, err := strconv.Atoi(k)
			if err != nil {
				return []any{v}
			}
			keys = append(keys, i)
			byIndex[i] = item
		}
		sort.Ints(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, byIndex[k])
		}
		return out
	default:
		return []any{v}
	}
}
