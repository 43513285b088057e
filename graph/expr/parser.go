package expr

import (
	"strconv"
)

// maxDepth bounds expression nesting so hostile templates cannot exhaust
// the stack during parsing or evaluation.
const maxDepth = 64

// Grammar:
//
//	expr    := or
//	or      := and ( "||" and )*
//	and     := unary ( "&&" unary )*
//	unary   := "!" unary | compare
//	compare := operand ( cmpop operand )?
//	operand := "-" number | number | string | true | false | null
//	         | path | "(" expr ")"
//	path    := ident ( "." ident | "[" ( string | number ) "]" )*
type parser struct {
	tokens []token
	pos    int
	depth  int
	roots  []string
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "expected "+what)
	}
	return t, nil
}

func (p *parser) errorf(t token, msg string) error {
	if t.kind == tokEOF {
		return &SyntaxError{Pos: t.pos, Msg: msg + ", found end of expression"}
	}
	return &SyntaxError{Pos: t.pos, Msg: msg + ", found " + strconv.Quote(t.text)}
}

func (p *parser) enter(t token) error {
	p.depth++
	if p.depth > maxDepth {
		return &SyntaxError{Pos: t.pos, Msg: "expression nested too deeply"}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseExpr() (node, error) {
	if err := p.enter(p.peek()); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{or: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if t := p.peek(); t.kind == tokNot {
		p.next()
		if err := p.enter(t); err != nil {
			return nil, err
		}
		defer p.leave()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch op := p.peek(); op.kind {
	case tokEq, tokNeq, tokLt, tokLte, tokGt, tokGte:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: op.kind, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.next()
	switch t.kind {
	case tokMinus:
		num, err := p.expect(tokNumber, "number after '-'")
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(num.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: num.pos, Msg: "invalid number " + num.text}
		}
		return &literalNode{value: -v}, nil
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: "invalid number " + t.text}
		}
		return &literalNode{value: v}, nil
	case tokString:
		return &literalNode{value: t.text}, nil
	case tokTrue:
		return &literalNode{value: true}, nil
	case tokFalse:
		return &literalNode{value: false}, nil
	case tokNull:
		return &literalNode{value: nil}, nil
	case tokIdent:
		return p.parsePath(t)
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, p.errorf(t, "expected operand")
}

func (p *parser) parsePath(root token) (node, error) {
	path := &pathNode{root: root.text, text: root.text}
	p.addRoot(root.text)
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			field, err := p.expect(tokIdent, "field name after '.'")
			if err != nil {
				return nil, err
			}
			path.steps = append(path.steps, field.text)
			path.text += "." + field.text
		case tokLBracket:
			p.next()
			key := p.next()
			switch key.kind {
			case tokString:
				path.steps = append(path.steps, key.text)
				path.text += "[" + strconv.Quote(key.text) + "]"
			case tokNumber:
				idx, err := strconv.Atoi(key.text)
				if err != nil || idx < 0 {
					return nil, &SyntaxError{Pos: key.pos, Msg: "invalid index " + key.text}
				}
				path.steps = append(path.steps, idx)
				path.text += "[" + key.text + "]"
			default:
				return nil, p.errorf(key, "expected string or index inside '[]'")
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
		default:
			return path, nil
		}
	}
}

func (p *parser) addRoot(name string) {
	for _, r := range p.roots {
		if r == name {
			return
		}
	}
	p.roots = append(p.roots, name)
}
