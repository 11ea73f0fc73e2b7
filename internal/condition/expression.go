package condition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Expr is a compiled boolean expression.
type Expr interface {
	exprNode()
}

// LogicalExpr joins two expressions with AND or OR.
type LogicalExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// NotExpr negates its operand.
type NotExpr struct {
	Expr Expr
}

// ComparisonExpr compares a field or literal against another operand.
type ComparisonExpr struct {
	Left  Operand
	Op    Operator
	Right Operand

	re *regexp.Regexp // set for OpMatches with a literal pattern
}

func (*LogicalExpr) exprNode()    {}
func (*NotExpr) exprNode()        {}
func (*ComparisonExpr) exprNode() {}

// Operand is a Literal, a Field or a List.
type Operand interface {
	operandNode()
}

// Literal is a constant string, decimal.Decimal or bool.
type Literal struct {
	Value any
}

// Field names a top-level attribute of the evaluated record, e.g. "amount".
type Field struct {
	Name string
}

// List is the right-hand side of an "in" comparison.
type List struct {
	Values []any
}

func (*Literal) operandNode() {}
func (*Field) operandNode()   {}
func (*List) operandNode()    {}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

// Parse compiles src into an expression tree. Regular expressions used with
// "matches" are compiled here so evaluation never fails on a bad pattern.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return e, nil
}

// or = and ( OR and )*
func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and = unary ( AND unary )*
func (p *parser) and() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

// unary = NOT unary | "(" or ")" | comparison
func (p *parser) unary() (Expr, error) {
	switch {
	case p.keyword("NOT"):
		p.next()
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	case p.peek().kind == tokLParen:
		p.next()
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" at position %d, got %q", t.pos, t.text)
		}
		return inner, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}

	t := p.next()
	var op Operator
	switch {
	case t.kind == tokCmp:
		op = Operator(t.text)
	case t.kind == tokIdent && isWordOperator(t.text):
		op = Operator(strings.ToLower(t.text))
	default:
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.text)
	}

	var right Operand
	if op == OpIn {
		right, err = p.list()
	} else {
		right, err = p.operand()
	}
	if err != nil {
		return nil, err
	}

	cmp := &ComparisonExpr{Left: left, Op: op, Right: right}
	if op == OpMatches {
		lit, ok := right.(*Literal)
		if !ok {
			return nil, fmt.Errorf("matches: pattern must be a string literal")
		}
		pattern, ok := lit.Value.(string)
		if !ok {
			return nil, fmt.Errorf("matches: pattern must be a string literal")
		}
		if cmp.re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("matches: invalid pattern %q: %w", pattern, err)
		}
	}
	return cmp, nil
}

func (p *parser) list() (Operand, error) {
	if t := p.next(); t.kind != tokLBracket {
		return nil, fmt.Errorf("in: expected \"[\" at position %d, got %q", t.pos, t.text)
	}
	l := &List{}
	for p.peek().kind != tokRBracket {
		if len(l.Values) > 0 {
			if t := p.next(); t.kind != tokComma {
				return nil, fmt.Errorf("in: expected \",\" at position %d, got %q", t.pos, t.text)
			}
		}
		v, err := p.literal()
		if err != nil {
			return nil, err
		}
		l.Values = append(l.Values, v)
	}
	p.next()
	return l, nil
}

func (p *parser) operand() (Operand, error) {
	if t := p.peek(); t.kind == tokIdent {
		p.next()
		return &Field{Name: t.text}, nil
	}
	v, err := p.literal()
	if err != nil {
		return nil, err
	}
	return &Literal{Value: v}, nil
}

func (p *parser) literal() (any, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return d, nil
	case tokBool:
		return t.text == "true", nil
	}
	return nil, fmt.Errorf("expected value at position %d, got %q", t.pos, t.text)
}
