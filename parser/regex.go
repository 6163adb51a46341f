package parser

import (
	"unicode/utf8"

	"github.com/gramgate/gramgate/grammar"
)

// ParseRegex lowers a regular-expression pattern into an equivalent
// grammar whose root rule matches the whole pattern. The supported syntax
// covers literals, ".", character classes, the \d \D \w \W \s \S shorthand
// classes, grouping (capturing and non-capturing), alternation, and the
// ?, *, +, {m}, {m,} and {m,n} quantifiers (with an ignored lazy suffix).
// Anchors at the very start and end are accepted and dropped, since the
// grammar always matches the entire sequence. Backreferences and
// lookaround are rejected.
func ParseRegex(pattern string) (*grammar.Grammar, error) {
	p := &regexParser{src: pattern}
	expr, err := p.parseAlternation()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.src) {
		return nil, errorAt(p.at(), "unexpected %q", rune(p.src[p.pos]))
	}
	return grammar.New([]grammar.Rule{{Name: "root", Body: expr}}, "root")
}

type regexParser struct {
	src string
	pos int
}

func (p *regexParser) at() Position {
	return Position{Line: 1, Col: p.pos + 1}
}

func (p *regexParser) peek() (byte, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *regexParser) parseAlternation() (*grammar.Expr, error) {
	var items []*grammar.Expr
	for {
		seq, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		items = append(items, seq)
		if b, ok := p.peek(); !ok || b != '|' {
			break
		}
		p.pos++
	}
	return grammar.Choice(items...), nil
}

func (p *regexParser) parseConcat() (*grammar.Expr, error) {
	var items []*grammar.Expr
	for {
		b, ok := p.peek()
		if !ok || b == '|' || b == ')' {
			break
		}
		if b == '^' || b == '$' {
			// Anchors add nothing to whole-sequence matching.
			p.pos++
			continue
		}
		atom, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		atom, err = p.parseQuantifier(atom)
		if err != nil {
			return nil, err
		}
		items = append(items, atom)
	}
	if len(items) == 0 {
		return grammar.Empty(), nil
	}
	return grammar.Seq(items...), nil
}

func (p *regexParser) parseQuantifier(atom *grammar.Expr) (*grammar.Expr, error) {
	b, ok := p.peek()
	if !ok {
		return atom, nil
	}
	switch b {
	case '?':
		p.pos++
		atom = grammar.Optional(atom)
	case '*':
		p.pos++
		atom = grammar.ZeroOrMore(atom)
	case '+':
		p.pos++
		atom = grammar.OneOrMore(atom)
	case '{':
		start := p.pos
		p.pos++
		min, ok := p.parseInt()
		if !ok {
			// Not a quantifier after all; "{" is a literal.
			p.pos = start
			return atom, nil
		}
		max := min
		if c, ok := p.peek(); ok && c == ',' {
			p.pos++
			max = -1
			if n, ok := p.parseInt(); ok {
				max = n
			}
		}
		if c, ok := p.peek(); !ok || c != '}' {
			p.pos = start
			return atom, nil
		}
		p.pos++
		if max >= 0 && max < min {
			return nil, errorAt(p.at(), "quantifier {%d,%d} is unsatisfiable", min, max)
		}
		atom = grammar.Repeat(atom, min, max)
	default:
		return atom, nil
	}
	// A trailing '?' marks the quantifier lazy; greediness is irrelevant
	// for admissibility, so it is accepted and dropped.
	if c, ok := p.peek(); ok && c == '?' {
		p.pos++
	}
	return atom, nil
}

func (p *regexParser) parseInt() (int, bool) {
	start := p.pos
	n := 0
	for {
		b, ok := p.peek()
		if !ok || b < '0' || b > '9' {
			break
		}
		n = n*10 + int(b-'0')
		p.pos++
	}
	return n, p.pos > start
}

func (p *regexParser) parseAtom() (*grammar.Expr, error) {
	b, _ := p.peek()
	switch b {
	case '(':
		p.pos++
		if c, ok := p.peek(); ok && c == '?' {
			if p.pos+1 < len(p.src) && p.src[p.pos+1] == ':' {
				p.pos += 2
			} else {
				return nil, errorAt(p.at(), "unsupported group syntax")
			}
		}
		inner, err := p.parseAlternation()
		if err != nil {
			return nil, err
		}
		if c, ok := p.peek(); !ok || c != ')' {
			return nil, errorAt(p.at(), "missing \")\"")
		}
		p.pos++
		return inner, nil
	case '[':
		return p.parseClass()
	case '.':
		p.pos++
		return grammar.Class([]grammar.RuneRange{{Lo: '\n', Hi: '\n'}}, true), nil
	case '\\':
		p.pos++
		return p.parseEscapeAtom()
	case '*', '+', '?':
		return nil, errorAt(p.at(), "quantifier with nothing to repeat")
	}
	r, size := utf8.DecodeRuneInString(p.src[p.pos:])
	p.pos += size
	// A literal character lowers to its encoded bytes, not a one-rune
	// class; byte elements are cheaper to step.
	return grammar.Literal(string(r)), nil
}

var (
	digitRanges = []grammar.RuneRange{{Lo: '0', Hi: '9'}}
	wordRanges  = []grammar.RuneRange{{Lo: '0', Hi: '9'}, {Lo: 'A', Hi: 'Z'}, {Lo: '_', Hi: '_'}, {Lo: 'a', Hi: 'z'}}
	spaceRanges = []grammar.RuneRange{{Lo: '\t', Hi: '\n'}, {Lo: '\f', Hi: '\r'}, {Lo: ' ', Hi: ' '}}
)

func (p *regexParser) parseEscapeAtom() (*grammar.Expr, error) {
	if p.pos >= len(p.src) {
		return nil, errorAt(p.at(), "trailing backslash")
	}
	c := p.src[p.pos]
	switch c {
	case 'd':
		p.pos++
		return grammar.Class(digitRanges, false), nil
	case 'D':
		p.pos++
		return grammar.Class(digitRanges, true), nil
	case 'w':
		p.pos++
		return grammar.Class(wordRanges, false), nil
	case 'W':
		p.pos++
		return grammar.Class(wordRanges, true), nil
	case 's':
		p.pos++
		return grammar.Class(spaceRanges, false), nil
	case 'S':
		p.pos++
		return grammar.Class(spaceRanges, true), nil
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return nil, errorAt(p.at(), "backreferences are not supported")
	}
	r, err := p.escapeRune()
	if err != nil {
		return nil, err
	}
	return grammar.Literal(string(r)), nil
}

// escapeRune decodes an escape that denotes a single rune. The backslash
// has already been consumed; p.pos is at the escape letter.
func (p *regexParser) escapeRune() (rune, error) {
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'f':
		return '\f', nil
	case 'v':
		return '\v', nil
	case '0':
		return 0, nil
	case 'x':
		return p.hexRune(2)
	case 'u':
		return p.hexRune(4)
	}
	if c >= utf8.RuneSelf {
		p.pos--
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		p.pos += size
		return r, nil
	}
	return rune(c), nil
}

func (p *regexParser) hexRune(n int) (rune, error) {
	var v uint32
	for i := 0; i < n; i++ {
		if p.pos >= len(p.src) {
			return 0, errorAt(p.at(), "unterminated hex escape")
		}
		c := p.src[p.pos]
		var d uint32
		switch {
		case c >= '0' && c <= '9':
			d = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint32(c-'A') + 10
		default:
			return 0, errorAt(p.at(), "malformed hex escape")
		}
		v = v<<4 | d
		p.pos++
	}
	return rune(v), nil
}

func (p *regexParser) parseClass() (*grammar.Expr, error) {
	pos := p.at()
	p.pos++ // consume '['
	negated := false
	if b, ok := p.peek(); ok && b == '^' {
		negated = true
		p.pos++
	}
	var ranges []grammar.RuneRange
	first := true
	for {
		b, ok := p.peek()
		if !ok {
			return nil, errorAt(pos, "unterminated character class")
		}
		if b == ']' && !first {
			p.pos++
			return grammar.Class(ranges, negated), nil
		}
		first = false
		var lo rune
		if b == '\\' {
			p.pos++
			if c, ok := p.peek(); ok {
				switch c {
				case 'd':
					p.pos++
					ranges = append(ranges, digitRanges...)
					continue
				case 'w':
					p.pos++
					ranges = append(ranges, wordRanges...)
					continue
				case 's':
					p.pos++
					ranges = append(ranges, spaceRanges...)
					continue
				}
			}
			r, err := p.escapeRune()
			if err != nil {
				return nil, err
			}
			lo = r
		} else {
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			p.pos += size
			lo = r
		}
		hi := lo
		if b, ok := p.peek(); ok && b == '-' && p.pos+1 < len(p.src) && p.src[p.pos+1] != ']' {
			p.pos++
			c, _ := p.peek()
			if c == '\\' {
				p.pos++
				r, err := p.escapeRune()
				if err != nil {
					return nil, err
				}
				hi = r
			} else {
				r, size := utf8.DecodeRuneInString(p.src[p.pos:])
				p.pos += size
				hi = r
			}
			if hi < lo {
				return nil, errorAt(pos, "inverted character range")
			}
		}
		ranges = append(ranges, grammar.RuneRange{Lo: lo, Hi: hi})
	}
}
