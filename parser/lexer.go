// Package parser contains the textual front-ends that produce grammars:
// a lexer and recursive-descent parser for the GBNF-style EBNF dialect, and
// a regular-expression lowering.
package parser

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/gramgate/gramgate/grammar"
)

// Position is a location in the source text, 1-based.
type Position struct {
	Line, Col int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Error is a parse error carrying the position that caused it.
type Error struct {
	Pos Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func errorAt(pos Position, format string, args ...any) *Error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenDefine // ::=
	tokenString
	tokenClass
	tokenNumber
	tokenPipe
	tokenStar
	tokenPlus
	tokenQuestion
	tokenLParen
	tokenRParen
	tokenLBrace
	tokenRBrace
	tokenComma
)

type token struct {
	kind tokenKind
	pos  Position
	text string              // tokenIdent
	num  int                 // tokenNumber
	str  []byte              // tokenString, decoded
	rng  []grammar.RuneRange // tokenClass
	neg  bool                // tokenClass
}

type lexer struct {
	src  []byte
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: []byte(src), line: 1, col: 1}
}

func (l *lexer) at() Position {
	return Position{Line: l.line, Col: l.col}
}

func (l *lexer) peekByte() (byte, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos], true
}

func (l *lexer) readRune() (rune, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	r, size := utf8.DecodeRune(l.src[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r, true
}

func (l *lexer) skipSpace() {
	for {
		b, ok := l.peekByte()
		if !ok {
			return
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			l.readRune()
		case '#':
			for {
				r, ok := l.readRune()
				if !ok || r == '\n' {
					break
				}
			}
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	pos := l.at()
	b, ok := l.peekByte()
	if !ok {
		return token{kind: tokenEOF, pos: pos}, nil
	}
	switch {
	case b == ':':
		if l.pos+3 <= len(l.src) && string(l.src[l.pos:l.pos+3]) == "::=" {
			l.readRune()
			l.readRune()
			l.readRune()
			return token{kind: tokenDefine, pos: pos}, nil
		}
		return token{}, errorAt(pos, "unexpected character %q", rune(b))
	case b == '"':
		return l.lexString(pos)
	case b == '[':
		return l.lexClass(pos)
	case b == '|':
		l.readRune()
		return token{kind: tokenPipe, pos: pos}, nil
	case b == '*':
		l.readRune()
		return token{kind: tokenStar, pos: pos}, nil
	case b == '+':
		l.readRune()
		return token{kind: tokenPlus, pos: pos}, nil
	case b == '?':
		l.readRune()
		return token{kind: tokenQuestion, pos: pos}, nil
	case b == '(':
		l.readRune()
		return token{kind: tokenLParen, pos: pos}, nil
	case b == ')':
		l.readRune()
		return token{kind: tokenRParen, pos: pos}, nil
	case b == '{':
		l.readRune()
		return token{kind: tokenLBrace, pos: pos}, nil
	case b == '}':
		l.readRune()
		return token{kind: tokenRBrace, pos: pos}, nil
	case b == ',':
		l.readRune()
		return token{kind: tokenComma, pos: pos}, nil
	case b >= '0' && b <= '9':
		start := l.pos
		for {
			c, ok := l.peekByte()
			if !ok || c < '0' || c > '9' {
				break
			}
			l.readRune()
		}
		n, err := strconv.Atoi(string(l.src[start:l.pos]))
		if err != nil {
			return token{}, errorAt(pos, "malformed number")
		}
		return token{kind: tokenNumber, pos: pos, num: n}, nil
	case isIdentStart(rune(b)):
		start := l.pos
		for {
			c, ok := l.peekByte()
			if !ok || !isIdentPart(rune(c)) {
				break
			}
			l.readRune()
		}
		return token{kind: tokenIdent, pos: pos, text: string(l.src[start:l.pos])}, nil
	}
	return token{}, errorAt(pos, "unexpected character %q", rune(b))
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || r == '-' || (r >= '0' && r <= '9')
}

func (l *lexer) lexString(pos Position) (token, error) {
	l.readRune() // opening quote
	var out []byte
	for {
		r, ok := l.readRune()
		if !ok {
			return token{}, errorAt(pos, "unterminated string literal")
		}
		switch r {
		case '"':
			return token{kind: tokenString, pos: pos, str: out}, nil
		case '\\':
			decoded, raw, err := l.lexEscape(pos)
			if err != nil {
				return token{}, err
			}
			if raw {
				out = append(out, byte(decoded))
			} else {
				out = utf8.AppendRune(out, decoded)
			}
		case '\n':
			return token{}, errorAt(pos, "unterminated string literal")
		default:
			out = utf8.AppendRune(out, r)
		}
	}
}

// lexEscape decodes the escape following a backslash. raw reports that the
// result is a single literal byte (from \xNN) rather than a rune.
func (l *lexer) lexEscape(pos Position) (r rune, raw bool, err error) {
	c, ok := l.readRune()
	if !ok {
		return 0, false, errorAt(pos, "unterminated escape")
	}
	switch c {
	case 'n':
		return '\n', false, nil
	case 'r':
		return '\r', false, nil
	case 't':
		return '\t', false, nil
	case '0':
		return 0, true, nil
	case 'x':
		v, err := l.hexDigits(pos, 2)
		if err != nil {
			return 0, false, err
		}
		return rune(v), true, nil
	case 'u':
		v, err := l.hexDigits(pos, 4)
		if err != nil {
			return 0, false, err
		}
		return rune(v), false, nil
	case 'U':
		v, err := l.hexDigits(pos, 8)
		if err != nil {
			return 0, false, err
		}
		if v > utf8.MaxRune {
			return 0, false, errorAt(pos, "rune escape out of range")
		}
		return rune(v), false, nil
	default:
		// Any punctuation escapes to itself: \" \\ \] \- \/ and so on.
		return c, false, nil
	}
}

func (l *lexer) hexDigits(pos Position, n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		r, ok := l.readRune()
		if !ok {
			return 0, errorAt(pos, "unterminated escape")
		}
		var d uint32
		switch {
		case r >= '0' && r <= '9':
			d = uint32(r - '0')
		case r >= 'a' && r <= 'f':
			d = uint32(r-'a') + 10
		case r >= 'A' && r <= 'F':
			d = uint32(r-'A') + 10
		default:
			return 0, errorAt(pos, "malformed hex escape")
		}
		v = v<<4 | d
	}
	return v, nil
}

func (l *lexer) lexClass(pos Position) (token, error) {
	l.readRune() // opening bracket
	tok := token{kind: tokenClass, pos: pos}
	if b, ok := l.peekByte(); ok && b == '^' {
		l.readRune()
		tok.neg = true
	}
	readOne := func() (rune, bool, error) {
		r, ok := l.readRune()
		if !ok {
			return 0, false, errorAt(pos, "unterminated character class")
		}
		if r == '\\' {
			dec, _, err := l.lexEscape(pos)
			return dec, true, err
		}
		return r, false, nil
	}
	for {
		r, escaped, err := readOne()
		if err != nil {
			return token{}, err
		}
		if r == ']' && !escaped {
			if len(tok.rng) == 0 && !tok.neg {
				return token{}, errorAt(pos, "empty character class")
			}
			return tok, nil
		}
		lo := r
		hi := r
		if b, ok := l.peekByte(); ok && b == '-' {
			l.readRune()
			if b2, ok := l.peekByte(); ok && b2 == ']' {
				// Trailing dash is a literal.
				tok.rng = append(tok.rng,
					grammar.RuneRange{Lo: lo, Hi: lo},
					grammar.RuneRange{Lo: '-', Hi: '-'})
				continue
			}
			hi, _, err = readOne()
			if err != nil {
				return token{}, err
			}
			if hi < lo {
				return token{}, errorAt(pos, "inverted character range")
			}
		}
		tok.rng = append(tok.rng, grammar.RuneRange{Lo: lo, Hi: hi})
	}
}
