package grammar

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// String renders the grammar in GBNF form, one rule per line in table
// order.
func (g *Grammar) String() string {
	var b strings.Builder
	for _, r := range g.rules {
		b.WriteString(r.Name)
		b.WriteString(" ::= ")
		writeExpr(&b, r.Body, false)
		b.WriteByte('\n')
	}
	return b.String()
}

func writeExpr(b *strings.Builder, e *Expr, nested bool) {
	switch e.Kind {
	case KindEmpty:
		b.WriteString(`""`)
	case KindBytes:
		writeQuoted(b, e.Bytes)
	case KindCharClass:
		writeClass(b, e)
	case KindSequence:
		if nested {
			b.WriteByte('(')
		}
		for i, item := range e.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeExpr(b, item, true)
		}
		if nested {
			b.WriteByte(')')
		}
	case KindChoice:
		if nested {
			b.WriteByte('(')
		}
		for i, item := range e.Items {
			if i > 0 {
				b.WriteString(" | ")
			}
			writeExpr(b, item, true)
		}
		if nested {
			b.WriteByte(')')
		}
	case KindRepeat:
		writeExpr(b, e.Inner, true)
		switch {
		case e.Min == 0 && e.Max == 1:
			b.WriteByte('?')
		case e.Min == 0 && e.Max < 0:
			b.WriteByte('*')
		case e.Min == 1 && e.Max < 0:
			b.WriteByte('+')
		case e.Max < 0:
			fmt.Fprintf(b, "{%d,}", e.Min)
		case e.Min == e.Max:
			fmt.Fprintf(b, "{%d}", e.Min)
		default:
			fmt.Fprintf(b, "{%d,%d}", e.Min, e.Max)
		}
	case KindRuleRef:
		b.WriteString(e.Ref)
	case KindTagDispatch:
		b.WriteString("TagDispatch(")
		for i, d := range e.Dispatch {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			writeQuoted(b, []byte(d.Trigger))
			b.WriteString(", ")
			b.WriteString(d.Rule)
			b.WriteByte(')')
		}
		fmt.Fprintf(b, ", stop_eos=%v, loop_after_dispatch=%v)", e.StopEOS, e.LoopAfterDispatch)
	}
}

func writeQuoted(b *strings.Builder, data []byte) {
	b.WriteByte('"')
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(b, `\x%02x`, data[i])
			i++
			continue
		}
		writeEscapedRune(b, r, '"')
		i += size
	}
	b.WriteByte('"')
}

func writeClass(b *strings.Builder, e *Expr) {
	b.WriteByte('[')
	if e.Negated {
		b.WriteByte('^')
	}
	for _, rr := range e.Ranges {
		writeEscapedRune(b, rr.Lo, ']')
		if rr.Hi != rr.Lo {
			b.WriteByte('-')
			writeEscapedRune(b, rr.Hi, ']')
		}
	}
	b.WriteByte(']')
}

func writeEscapedRune(b *strings.Builder, r rune, quote rune) {
	switch r {
	case '\\':
		b.WriteString(`\\`)
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	case quote, '-':
		if r == quote || quote == ']' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	default:
		if r < 0x20 {
			fmt.Fprintf(b, `\x%02x`, r)
		} else {
			b.WriteRune(r)
		}
	}
}
