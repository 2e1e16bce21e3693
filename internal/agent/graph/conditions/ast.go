package conditions

import (
	"fmt"
	"strconv"
)

// Expr is a parsed condition expression.
type Expr interface {
	eval(env Env) (value, error)
	// idents appends every identifier referenced by the expression.
	idents(out []string) []string
}

type literalExpr struct{ v value }

type identExpr struct{ path string }

type notExpr struct{ x Expr }

type logicalExpr struct {
	and  bool
	l, r Expr
}

type compareExpr struct {
	op   tokenKind
	l, r Expr
}

func (e literalExpr) idents(out []string) []string { return out }
func (e identExpr) idents(out []string) []string   { return append(out, e.path) }
func (e notExpr) idents(out []string) []string     { return e.x.idents(out) }
func (e logicalExpr) idents(out []string) []string { return e.r.idents(e.l.idents(out)) }
func (e compareExpr) idents(out []string) []string { return e.r.idents(e.l.idents(out)) }

// Identifiers lists the identifiers referenced by expr, in source order.
func Identifiers(expr Expr) []string {
	return expr.idents(nil)
}

type parser struct {
	toks []token
	pos  int
}

// Parse compiles src into an expression tree.
//
//	expr    := and ( ("||" | "or") and )*
//	and     := unary ( ("&&" | "and") unary )*
//	unary   := ("!" | "not") unary | compare
//	compare := primary ( op primary )?
//	primary := literal | ident | "(" expr ")"
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
	return expr, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = logicalExpr{and: false, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = logicalExpr{and: true, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Expr, error) {
	l, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().kind; op {
	case tokEq, tokNeq, tokLt, tokLte, tokGt, tokGte, tokContains:
		p.next()
		r, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return compareExpr{op: op, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at %d", c.pos)
		}
		return e, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at %d", t.text, t.pos)
		}
		return literalExpr{v: numberValue(f)}, nil
	case tokString:
		return literalExpr{v: stringValue(t.text)}, nil
	case tokTrue:
		return literalExpr{v: boolValue(true)}, nil
	case tokFalse:
		return literalExpr{v: boolValue(false)}, nil
	case tokNull:
		return literalExpr{v: value{kind: kindNull}}, nil
	case tokIdent:
		return identExpr{path: t.text}, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
}
