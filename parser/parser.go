package parser

import (
	"github.com/gramgate/gramgate/grammar"
)

// ParseEBNF parses a grammar in the GBNF-style EBNF dialect: one rule per
// `name ::= body` definition, bodies built from string literals, character
// classes, grouping, alternation, and the ?, *, +, {m}, {m,} and {m,n}
// repetition operators. rootRule selects the root; empty means "root".
//
// Rules may span lines: a definition ends where the next `name ::=` begins.
func ParseEBNF(src, rootRule string) (*grammar.Grammar, error) {
	if rootRule == "" {
		rootRule = "root"
	}
	p := &parser{lex: newLexer(src)}
	if err := p.fill(); err != nil {
		return nil, err
	}
	var rules []grammar.Rule
	for p.peek(0).kind != tokenEOF {
		name := p.peek(0)
		if name.kind != tokenIdent {
			return nil, errorAt(name.pos, "expected rule name")
		}
		if p.peek(1).kind != tokenDefine {
			return nil, errorAt(p.peek(1).pos, "expected \"::=\" after rule name %q", name.text)
		}
		p.advance()
		p.advance()
		body, err := p.parseChoice()
		if err != nil {
			return nil, err
		}
		if p.err != nil {
			return nil, p.err
		}
		rules = append(rules, grammar.Rule{Name: name.text, Body: body})
	}
	if len(rules) == 0 {
		return nil, errorAt(Position{1, 1}, "grammar has no rules")
	}
	return grammar.New(rules, rootRule)
}

type parser struct {
	lex *lexer
	buf [2]token
	err error
}

// fill primes the two-token lookahead.
func (p *parser) fill() error {
	for i := range p.buf {
		tok, err := p.lex.next()
		if err != nil {
			return err
		}
		p.buf[i] = tok
	}
	return nil
}

func (p *parser) peek(n int) token {
	return p.buf[n]
}

func (p *parser) advance() token {
	tok := p.buf[0]
	p.buf[0] = p.buf[1]
	if p.err == nil {
		next, err := p.lex.next()
		if err != nil {
			p.err = err
			next = token{kind: tokenEOF, pos: p.buf[1].pos}
		}
		p.buf[1] = next
	} else {
		p.buf[1] = token{kind: tokenEOF, pos: p.buf[1].pos}
	}
	return tok
}

func (p *parser) parseChoice() (*grammar.Expr, error) {
	if p.peek(0).kind == tokenPipe {
		return nil, errorAt(p.peek(0).pos, "expected expression before \"|\"")
	}
	items := []*grammar.Expr{}
	first, err := p.parseSequence()
	if err != nil {
		return nil, err
	}
	items = append(items, first)
	for p.peek(0).kind == tokenPipe {
		bar := p.advance()
		// A bar must introduce an alternative; an intentionally empty
		// one is spelled "".
		if !p.startsAlternative() {
			return nil, errorAt(bar.pos, "expected expression after \"|\"")
		}
		next, err := p.parseSequence()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	return grammar.Choice(items...), nil
}

func (p *parser) parseSequence() (*grammar.Expr, error) {
	var items []*grammar.Expr
	for {
		tok := p.peek(0)
		if tok.kind == tokenIdent && p.peek(1).kind == tokenDefine {
			break // start of the next rule
		}
		if !startsItem(tok.kind) {
			break
		}
		item, err := p.parseItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return grammar.Empty(), nil
	}
	return grammar.Seq(items...), nil
}

// startsAlternative reports whether the upcoming tokens begin another
// alternative rather than the next rule definition or end of input.
func (p *parser) startsAlternative() bool {
	tok := p.peek(0)
	if tok.kind == tokenIdent && p.peek(1).kind == tokenDefine {
		return false
	}
	return startsItem(tok.kind)
}

func startsItem(k tokenKind) bool {
	switch k {
	case tokenIdent, tokenString, tokenClass, tokenLParen:
		return true
	}
	return false
}

func (p *parser) parseItem() (*grammar.Expr, error) {
	prim, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek(0).kind {
		case tokenStar:
			p.advance()
			prim = grammar.ZeroOrMore(prim)
		case tokenPlus:
			p.advance()
			prim = grammar.OneOrMore(prim)
		case tokenQuestion:
			p.advance()
			prim = grammar.Optional(prim)
		case tokenLBrace:
			bounded, err := p.parseBounds(prim)
			if err != nil {
				return nil, err
			}
			prim = bounded
		default:
			return prim, nil
		}
	}
}

// parseBounds parses {m}, {m,} or {m,n} after an item.
func (p *parser) parseBounds(inner *grammar.Expr) (*grammar.Expr, error) {
	open := p.advance() // consume '{'
	lo := p.peek(0)
	if lo.kind != tokenNumber {
		return nil, errorAt(lo.pos, "expected repetition count")
	}
	p.advance()
	min, max := lo.num, lo.num
	if p.peek(0).kind == tokenComma {
		p.advance()
		max = -1
		if p.peek(0).kind == tokenNumber {
			max = p.peek(0).num
			p.advance()
		}
	}
	if p.peek(0).kind != tokenRBrace {
		return nil, errorAt(p.peek(0).pos, "expected \"}\" to close repetition")
	}
	p.advance()
	if max >= 0 && max < min {
		return nil, errorAt(open.pos, "repetition bounds {%d,%d} are unsatisfiable", min, max)
	}
	return grammar.Repeat(inner, min, max), nil
}

func (p *parser) parsePrimary() (*grammar.Expr, error) {
	tok := p.peek(0)
	switch tok.kind {
	case tokenString:
		p.advance()
		return grammar.LiteralBytes(tok.str), nil
	case tokenClass:
		p.advance()
		return grammar.Class(tok.rng, tok.neg), nil
	case tokenIdent:
		p.advance()
		return grammar.Ref(tok.text), nil
	case tokenLParen:
		p.advance()
		inner, err := p.parseChoice()
		if err != nil {
			return nil, err
		}
		if p.peek(0).kind != tokenRParen {
			return nil, errorAt(p.peek(0).pos, "expected \")\"")
		}
		p.advance()
		return inner, nil
	}
	return nil, errorAt(tok.pos, "expected expression")
}
