package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a compiled rule condition.
//
// Grammar:
//
//	expr    = or
//	or      = and { ("or" | "||") and }
//	and     = not { ("and" | "&&") not }
//	not     = ("not" | "!") not | cmp
//	cmp     = sum [ ("==" | "!=" | "<" | "<=" | ">" | ">=" | "in" | "not" "in") sum ]
//	sum     = product { ("+" | "-") product }
//	product = unary { ("*" | "/") unary }
//	unary   = "-" unary | primary
//	primary = number | string | "true" | "false" | "None" | ident | ident "(" [args] ")"
//	        | "(" expr ")" | "[" [args] "]"
type Expr interface {
	eval(env Env) (Value, error)
	String() string
}

type (
	literal struct{ v Value }
	ident   struct{ name string }
	call    struct {
		fn   string
		args []Expr
	}
	list  struct{ items []Expr }
	unary struct {
		op string
		x  Expr
	}
	binary struct {
		op   string
		l, r Expr
	}
)

func (e literal) String() string { return fmt.Sprintf("%#v", e.v) }
func (e ident) String() string   { return e.name }
func (e call) String() string    { return e.fn + "(" + joinExprs(e.args) + ")" }
func (e list) String() string    { return "[" + joinExprs(e.items) + "]" }
func (e unary) String() string   { return "(" + e.op + " " + e.x.String() + ")" }
func (e binary) String() string  { return "(" + e.l.String() + " " + e.op + " " + e.r.String() + ")" }

func joinExprs(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// Compile parses a condition. Nothing outside the grammar is accepted.
func Compile(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
	return e, nil
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

// keyword reports whether the next token is the identifier or operator s.
func (p *parser) keyword(s ...string) bool {
	t := p.peek()
	if t.kind != tokIdent && t.kind != tokOp {
		return false
	}
	for _, k := range s {
		if t.text == k {
			return true
		}
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) error {
	t := p.next()
	if t.kind != kind {
		return fmt.Errorf("expected %s at %d, got %q", what, t.pos, t.text)
	}
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or", "||") {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = binary{"or", l, r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("and", "&&") {
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = binary{"and", l, r}
	}
	return l, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.keyword("not", "!") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unary{"not", x}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (Expr, error) {
	l, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	var op string
	switch {
	case p.keyword("==", "!=", "<", "<=", ">", ">=", "in"):
		op = p.next().text
	case p.keyword("not") && p.toks[p.pos+1].kind == tokIdent && p.toks[p.pos+1].text == "in":
		p.next()
		p.next()
		op = "not in"
	default:
		return l, nil
	}
	r, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return binary{op, l, r}, nil
}

func (p *parser) parseSum() (Expr, error) {
	l, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.keyword("+", "-") {
		op := p.next().text
		r, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		l = binary{op, l, r}
	}
	return l, nil
}

func (p *parser) parseProduct() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("*", "/") {
		op := p.next().text
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = binary{op, l, r}
	}
	return l, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.keyword("-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{"-", x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at %d", t.text, t.pos)
		}
		return literal{f}, nil
	case tokString:
		return literal{t.text}, nil
	case tokLParen:
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return e, nil
	case tokLBracket:
		items, err := p.parseArgs(tokRBracket, "]")
		if err != nil {
			return nil, err
		}
		return list{items}, nil
	case tokIdent:
		switch t.text {
		case "true", "True":
			return literal{true}, nil
		case "false", "False":
			return literal{false}, nil
		case "none", "None", "null":
			return literal{nil}, nil
		case "and", "or", "not", "in":
			return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
		}
		if p.peek().kind == tokLParen {
			p.next()
			if _, ok := functions[t.text]; !ok {
				return nil, fmt.Errorf("unknown function %q at %d", t.text, t.pos)
			}
			args, err := p.parseArgs(tokRParen, ")")
			if err != nil {
				return nil, err
			}
			return call{t.text, args}, nil
		}
		return ident{t.text}, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of condition")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

func (p *parser) parseArgs(closer tokenKind, what string) ([]Expr, error) {
	var args []Expr
	if p.peek().kind == closer {
		p.next()
		return args, nil
	}
	for {
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		if err := p.expect(closer, what); err != nil {
			return nil, err
		}
		return args, nil
	}
}
