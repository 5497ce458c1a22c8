// Package grouping joins acquired series, computes derived fields and
// classifies records by concurrent equipment state.
package grouping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a derived-field formula over the values of one record. Eval reports
// false when an operand is missing or unavailable, on division by zero and
// when the result is not finite.
type Expr interface {
	Eval(values map[string]*float64) (float64, bool)
	String() string
}

// Ref reads a field of the record.
type Ref struct {
	Name string
}

func (r Ref) Eval(values map[string]*float64) (float64, bool) {
	v, ok := values[r.Name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

func (r Ref) String() string { return r.Name }

type Const struct {
	V float64
}

func (c Const) Eval(map[string]*float64) (float64, bool) { return c.V, true }

func (c Const) String() string { return strconv.FormatFloat(c.V, 'g', -1, 64) }

// Binary applies one of + - * / to two operands.
type Binary struct {
	Op   byte
	L, R Expr
}

func (b Binary) Eval(values map[string]*float64) (float64, bool) {
	l, ok := b.L.Eval(values)
	if !ok {
		return 0, false
	}
	r, ok := b.R.Eval(values)
	if !ok {
		return 0, false
	}
	var out float64
	switch b.Op {
	case '+':
		out = l + r
	case '-':
		out = l - r
	case '*':
		out = l * r
	case '/':
		if r == 0 {
			return 0, false
		}
		out = l / r
	default:
		return 0, false
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}

func (b Binary) String() string {
	return fmt.Sprintf("(%s %c %s)", b.L, b.Op, b.R)
}

// Fields returns the field names referenced by e, in first-use order.
func Fields(e Expr) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case Ref:
			if !seen[n.Name] {
				seen[n.Name] = true
				out = append(out, n.Name)
			}
		case Binary:
			walk(n.L)
			walk(n.R)
		}
	}
	walk(e)
	return out
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case strings.ContainsRune("+-*/", c):
			toks = append(toks, token{tokOp, string(c), i})
			i++
		case c == '.' || unicode.IsDigit(c):
			j := i
			for j < len(s) && (s[j] == '.' || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j], i})
			i = j
		case c == '_' || unicode.IsLetter(c):
			j := i
			for j < len(s) && (s[j] == '_' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(s)}), nil
}

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

// ParseExpr parses a formula such as "power / cooling_rate" or
// "(chw_return - chw_supply) * 500". Operators are + - * / with the usual
// precedence; parentheses group. A leading minus negates an operand.
func ParseExpr(s string) (Expr, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := tokenize(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	p := &parser{toks: toks}
	e, err := p.sum()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("parse %q: unexpected %q at %d", s, t.text, t.pos)
	}
	return e, nil
}

func (p *parser) sum() (Expr, error) {
	l, err := p.product()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokOp && (t.text == "+" || t.text == "-"); t = p.peek() {
		p.next()
		r, err := p.product()
		if err != nil {
			return nil, err
		}
		l = Binary{Op: t.text[0], L: l, R: r}
	}
	return l, nil
}

func (p *parser) product() (Expr, error) {
	l, err := p.operand()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokOp && (t.text == "*" || t.text == "/"); t = p.peek() {
		p.next()
		r, err := p.operand()
		if err != nil {
			return nil, err
		}
		l = Binary{Op: t.text[0], L: l, R: r}
	}
	return l, nil
}

func (p *parser) operand() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return Ref{Name: t.text}, nil
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at %d", t.text, t.pos)
		}
		return Const{V: v}, nil
	case tokLParen:
		e, err := p.sum()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, fmt.Errorf("missing ) at %d", c.pos)
		}
		return e, nil
	case tokOp:
		if t.text == "-" {
			e, err := p.operand()
			if err != nil {
				return nil, err
			}
			return Binary{Op: '-', L: Const{}, R: e}, nil
		}
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}
