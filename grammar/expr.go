package grammar

// ExprKind distinguishes the operators a rule body is built from.
type ExprKind int

const (
	// KindEmpty matches the empty string.
	KindEmpty ExprKind = iota
	// KindBytes matches a literal byte sequence.
	KindBytes
	// KindCharClass matches a single rune inside (or outside) a set of
	// inclusive rune ranges.
	KindCharClass
	// KindSequence matches its items one after another.
	KindSequence
	// KindChoice matches any one of its items.
	KindChoice
	// KindRepeat matches its inner expression between Min and Max times.
	KindRepeat
	// KindRuleRef matches the named rule, enabling recursion.
	KindRuleRef
	// KindTagDispatch is the root operator of a structural-tag grammar: it
	// matches freeform text, switching to a tag rule whenever one of the
	// trigger strings is produced. It may only appear as the entire body of
	// the root rule.
	KindTagDispatch
)

// RuneRange is an inclusive range of runes in a character class.
type RuneRange struct {
	Lo, Hi rune
}

// DispatchEntry associates a trigger string with the rule that constrains
// generation once the trigger has been produced.
type DispatchEntry struct {
	Trigger string
	Rule    string
}

// Expr is a node in a rule body. Which fields are meaningful depends on
// Kind. Expressions are treated as immutable once they are part of a
// Grammar.
type Expr struct {
	Kind ExprKind

	// Literal bytes, for KindBytes.
	Bytes []byte
	// Rune ranges and negation flag, for KindCharClass.
	Ranges  []RuneRange
	Negated bool
	// Sub-expressions, for KindSequence and KindChoice.
	Items []*Expr
	// Operand and bounds, for KindRepeat. Max < 0 means unbounded.
	Inner    *Expr
	Min, Max int
	// Referenced rule name, for KindRuleRef.
	Ref string
	// Dispatch table, for KindTagDispatch.
	Dispatch []DispatchEntry
	// Whether an end-of-sequence token is admissible while in the freeform
	// region of a tag dispatch, and whether the dispatch returns to the
	// freeform region after a tag rule completes.
	StopEOS           bool
	LoopAfterDispatch bool
}

// Empty returns an expression matching the empty string.
func Empty() *Expr {
	return &Expr{Kind: KindEmpty}
}

// Literal returns an expression matching the UTF-8 bytes of s.
func Literal(s string) *Expr {
	if s == "" {
		return Empty()
	}
	return &Expr{Kind: KindBytes, Bytes: []byte(s)}
}

// LiteralBytes returns an expression matching the given bytes.
func LiteralBytes(b []byte) *Expr {
	if len(b) == 0 {
		return Empty()
	}
	return &Expr{Kind: KindBytes, Bytes: b}
}

// Class returns a character-class expression.
func Class(ranges []RuneRange, negated bool) *Expr {
	return &Expr{Kind: KindCharClass, Ranges: ranges, Negated: negated}
}

// Rune returns a character class matching exactly r.
func Rune(r rune) *Expr {
	return Class([]RuneRange{{r, r}}, false)
}

// Seq returns a sequence of the given expressions. Single-item sequences
// collapse to the item itself.
func Seq(items ...*Expr) *Expr {
	if len(items) == 1 {
		return items[0]
	}
	return &Expr{Kind: KindSequence, Items: items}
}

// Choice returns an ordered choice of the given expressions. Single-item
// choices collapse to the item itself.
func Choice(items ...*Expr) *Expr {
	if len(items) == 1 {
		return items[0]
	}
	return &Expr{Kind: KindChoice, Items: items}
}

// Repeat returns a repetition of inner between min and max times. A max of
// -1 means no upper bound.
func Repeat(inner *Expr, min, max int) *Expr {
	return &Expr{Kind: KindRepeat, Inner: inner, Min: min, Max: max}
}

// ZeroOrMore is Repeat(inner, 0, -1).
func ZeroOrMore(inner *Expr) *Expr {
	return Repeat(inner, 0, -1)
}

// OneOrMore is Repeat(inner, 1, -1).
func OneOrMore(inner *Expr) *Expr {
	return Repeat(inner, 1, -1)
}

// Optional is Repeat(inner, 0, 1).
func Optional(inner *Expr) *Expr {
	return Repeat(inner, 0, 1)
}

// Ref returns a reference to the named rule.
func Ref(name string) *Expr {
	return &Expr{Kind: KindRuleRef, Ref: name}
}

// visit calls fn for e and every expression reachable from it.
func (e *Expr) visit(fn func(*Expr)) {
	if e == nil {
		return
	}
	fn(e)
	for _, item := range e.Items {
		item.visit(fn)
	}
	e.Inner.visit(fn)
}

// rename rewrites every rule reference through the given mapping, returning
// a deep copy. Used by Concat and Union to keep rule namespaces of combined
// grammars apart.
func (e *Expr) rename(mapping map[string]string) *Expr {
	if e == nil {
		return nil
	}
	out := *e
	if len(e.Items) > 0 {
		out.Items = make([]*Expr, len(e.Items))
		for i, item := range e.Items {
			out.Items[i] = item.rename(mapping)
		}
	}
	out.Inner = e.Inner.rename(mapping)
	if e.Kind == KindRuleRef {
		if to, ok := mapping[e.Ref]; ok {
			out.Ref = to
		}
	}
	if e.Kind == KindTagDispatch {
		out.Dispatch = make([]DispatchEntry, len(e.Dispatch))
		for i, d := range e.Dispatch {
			out.Dispatch[i] = d
			if to, ok := mapping[d.Rule]; ok {
				out.Dispatch[i].Rule = to
			}
		}
	}
	return &out
}
