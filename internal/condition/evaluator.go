package condition

import (
	"fmt"
	"strings"
)

// Record exposes named attributes to the evaluator.
type Record interface {
	Lookup(name string) (any, bool)
}

// Evaluate reports whether expr holds for rec.
func Evaluate(expr Expr, rec Record) (bool, error) {
	switch e := expr.(type) {
	case *LogicalExpr:
		left, err := Evaluate(e.Left, rec)
		if err != nil {
			return false, err
		}
		// short-circuit
		if (e.Op == "AND" && !left) || (e.Op == "OR" && left) {
			return left, nil
		}
		return Evaluate(e.Right, rec)
	case *NotExpr:
		v, err := Evaluate(e.Expr, rec)
		return !v && err == nil, err
	case *ComparisonExpr:
		return compare(e, rec)
	}
	return false, fmt.Errorf("unknown expression %T", expr)
}

func compare(e *ComparisonExpr, rec Record) (bool, error) {
	left, err := value(e.Left, rec)
	if err != nil {
		return false, err
	}
	if e.Op == OpIn {
		list, ok := e.Right.(*List)
		if !ok {
			return false, fmt.Errorf("in: right operand must be a list")
		}
		return member(left, list), nil
	}
	right, err := value(e.Right, rec)
	if err != nil {
		return false, err
	}

	switch e.Op {
	case OpEq:
		return equal(left, right), nil
	case OpNeq:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		return order(e.Op, left, right)
	case OpContains:
		s, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("contains: left operand must be a string, got %T", left)
		}
		return strings.Contains(s, fmt.Sprint(right)), nil
	case OpMatches:
		s, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("matches: left operand must be a string, got %T", left)
		}
		return e.re.MatchString(s), nil
	}
	return false, fmt.Errorf("unknown operator %q", e.Op)
}

func value(op Operand, rec Record) (any, error) {
	switch o := op.(type) {
	case *Literal:
		return o.Value, nil
	case *Field:
		v, ok := rec.Lookup(o.Name)
		if !ok {
			return nil, fmt.Errorf("field %q not found", o.Name)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unexpected operand %T", op)
}
