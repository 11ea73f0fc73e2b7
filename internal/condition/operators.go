package condition

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
	OpIn       Operator = "in"
)

func isWordOperator(w string) bool {
	switch Operator(strings.ToLower(w)) {
	case OpContains, OpMatches, OpIn:
		return true
	}
	return false
}

// toDecimal accepts decimals and the native numeric kinds a Record may hold.
// Floats convert through their shortest decimal representation.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	}
	return decimal.Decimal{}, false
}

func equal(left, right any) bool {
	ld, lok := toDecimal(left)
	rd, rok := toDecimal(right)
	if lok && rok {
		return ld.Equal(rd)
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func order(op Operator, left, right any) (bool, error) {
	ld, lok := toDecimal(left)
	rd, rok := toDecimal(right)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s needs numeric operands, got %T and %T", op, left, right)
	}
	c := ld.Cmp(rd)
	switch op {
	case OpGt:
		return c > 0, nil
	case OpGte:
		return c >= 0, nil
	case OpLt:
		return c < 0, nil
	default:
		return c <= 0, nil
	}
}

func member(v any, list *List) bool {
	for _, item := range list.Values {
		if equal(v, item) {
			return true
		}
	}
	return false
}
