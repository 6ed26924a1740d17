package formula

import (
	"fmt"
)

const (
	maxNesting = 64
)

type node interface {
	position() int
}

type literalNode struct {
	at    int
	value Value
}

type identNode struct {
	at   int
	name string
}

type unaryNode struct {
	at int
	op string
	x  node
}

type binaryNode struct {
	at   int
	op   string
	l, r node
}

type conditionalNode struct {
	at               int
	cond, then, els node
}

type memberNode struct {
	at   int
	x    node
	name string
}

type indexNode struct {
	at     int
	x, key node
}

type callNode struct {
	at   int
	name string
	args []node
}

func (n *literalNode) position() int     { return n.at }
func (n *identNode) position() int       { return n.at }
func (n *unaryNode) position() int       { return n.at }
func (n *binaryNode) position() int      { return n.at }
func (n *conditionalNode) position() int { return n.at }
func (n *memberNode) position() int      { return n.at }
func (n *indexNode) position() int       { return n.at }
func (n *callNode) position() int        { return n.at }

type stmtKind int

const (
	stmtExpr stmtKind = iota
	stmtLet
	stmtReturn
)

type statement struct {
	kind stmtKind
	name string
	x    node
}

var precedences = map[string]int{
	"||": 2,
	"&&": 3,
	"==": 4, "!=": 4,
	"<": 5, "<=": 5, ">": 5, ">=": 5,
	"+": 6, "-": 6,
	"*": 7, "/": 7, "%": 7,
	"**": 8,
}

const (
	ternaryPrecedence = 1
)

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func parse(src string) ([]statement, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	stmts := []statement{}
	for p.peek().typ != tokEOF {
		if p.accept(";") {
			continue
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if p.peek().typ != tokEOF && !p.accept(";") {
			return nil, p.errorf("expected ';', got %v", p.peek())
		}
	}
	return stmts, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(text string) bool {
	t := p.peek()
	return t.typ == tokPunct && t.text == text
}

func (p *parser) accept(text string) bool {
	if p.isPunct(text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		return p.errorf("expected %q, got %v", text, p.peek())
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) statement() (statement, error) {
	t := p.peek()
	if t.typ == tokIdent {
		switch t.text {
		case "let":
			p.next()
			name := p.next()
			if name.typ != tokIdent || isKeyword(name.text) {
				return statement{}, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("expected name after let, got %v", name)}
			}
			if err := p.expect("="); err != nil {
				return statement{}, err
			}
			x, err := p.expression(0)
			if err != nil {
				return statement{}, err
			}
			return statement{kind: stmtLet, name: name.text, x: x}, nil
		case "return":
			p.next()
			if p.isPunct(";") || p.peek().typ == tokEOF {
				return statement{kind: stmtReturn, x: &literalNode{at: t.pos, value: Nil}}, nil
			}
			x, err := p.expression(0)
			if err != nil {
				return statement{}, err
			}
			return statement{kind: stmtReturn, x: x}, nil
		}
	}
	x, err := p.expression(0)
	if err != nil {
		return statement{}, err
	}
	return statement{kind: stmtExpr, x: x}, nil
}

func isKeyword(s string) bool {
	switch s {
	case "let", "return", "true", "false", "nil", "null":
		return true
	}
	return false
}

func (p *parser) expression(minPrec int) (node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNesting {
		return nil, p.errorf("formula nested too deeply")
	}

	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.typ != tokPunct {
			return left, nil
		}
		if t.text == "?" {
			if ternaryPrecedence < minPrec {
				return left, nil
			}
			p.next()
			then, err := p.expression(0)
			if err != nil {
				return nil, err
			}
			if err := p.expect(":"); err != nil {
				return nil, err
			}
			els, err := p.expression(ternaryPrecedence)
			if err != nil {
				return nil, err
			}
			left = &conditionalNode{at: t.pos, cond: left, then: then, els: els}
			continue
		}
		prec, found := precedences[t.text]
		if !found || prec < minPrec {
			return left, nil
		}
		p.next()
		nextMin := prec + 1
		if t.text == "**" {
			nextMin = prec
		}
		right, err := p.expression(nextMin)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{at: t.pos, op: t.text, l: left, r: right}
	}
}

func (p *parser) unary() (node, error) {
	t := p.peek()
	if t.typ == tokPunct && (t.text == "-" || t.text == "!" || t.text == "+") {
		p.next()
		p.depth++
		defer func() { p.depth-- }()
		if p.depth > maxNesting {
			return nil, p.errorf("formula nested too deeply")
		}
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{at: t.pos, op: t.text, x: x}, nil
	}
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	return p.postfix(x)
}

func (p *parser) postfix(x node) (node, error) {
	for {
		t := p.peek()
		switch {
		case t.typ == tokPunct && t.text == ".":
			p.next()
			name := p.next()
			if name.typ != tokIdent {
				return nil, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("expected member name, got %v", name)}
			}
			x = &memberNode{at: t.pos, x: x, name: name.text}
		case t.typ == tokPunct && t.text == "[":
			p.next()
			key, err := p.expression(0)
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &indexNode{at: t.pos, x: x, key: key}
		case t.typ == tokPunct && t.text == "(":
			ident, ok := x.(*identNode)
			if !ok {
				return nil, p.errorf("only named functions can be called")
			}
			p.next()
			args := []node{}
			for !p.isPunct(")") {
				arg, err := p.expression(0)
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.accept(",") {
					break
				}
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			x = &callNode{at: ident.at, name: ident.name, args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.typ {
	case tokNumber:
		return &literalNode{at: t.pos, value: Number(t.num)}, nil
	case tokString:
		return &literalNode{at: t.pos, value: String(t.text)}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literalNode{at: t.pos, value: Bool(true)}, nil
		case "false":
			return &literalNode{at: t.pos, value: Bool(false)}, nil
		case "nil", "null":
			return &literalNode{at: t.pos, value: Nil}, nil
		case "let", "return":
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
		}
		return &identNode{at: t.pos, name: t.text}, nil
	case tokPunct:
		if t.text == "(" {
			x, err := p.expression(0)
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %v", t)}
}
