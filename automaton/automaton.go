// Package automaton lowers a grammar into the executable form the matcher
// walks token-by-token: a flattened rule table with pushdown discipline
// (rule references push a return frame; rule completion pops it), plus a
// byte trie over the vocabulary for per-token admissibility checks with
// prefix pruning.
package automaton

import (
	"fmt"

	"github.com/gramgate/gramgate/grammar"
	"github.com/gramgate/gramgate/internal/ahocorasick"
)

// ElemKind distinguishes the element types of a lowered rule body.
type ElemKind uint8

const (
	// ElemBytes consumes a literal byte sequence.
	ElemBytes ElemKind = iota
	// ElemClass consumes one rune inside (or outside) a set of ranges.
	ElemClass
	// ElemRuleRef pushes the referenced rule.
	ElemRuleRef
	// ElemRepeat pushes the referenced rule between Min and Max times.
	ElemRepeat
)

// Element is one step of a lowered alternative. Bytes elements are never
// empty, and the operand of a repeat is always a rule, so the matcher's
// cursor arithmetic stays trivial.
type Element struct {
	Kind    ElemKind
	Bytes   []byte
	Ranges  []grammar.RuneRange
	Negated bool
	Rule    int32
	// Repeat bounds. Max < 0 means unbounded.
	Min, Max int32
}

// Sequence is the element list of one alternative.
type Sequence []Element

// Rule is a lowered rule: an ordered choice of alternatives.
type Rule struct {
	Name string
	Alts []Sequence
}

// DispatchEntry maps a trigger string to the rule that constrains
// generation after the trigger fires.
type DispatchEntry struct {
	Trigger []byte
	Rule    int32
}

// Dispatch is the structural-tag dispatch table attached to an automaton
// whose root is a tag dispatch: the trigger scanner plus per-trigger rules.
type Dispatch struct {
	Entries []DispatchEntry
	StopEOS bool
	Loop    bool
	Scanner *ahocorasick.Automaton
}

// Automaton is the lowered, immutable form of a grammar.
type Automaton struct {
	Rules    []Rule
	Root     int32
	Dispatch *Dispatch
}

// MatchesClass reports whether r is matched by a class element.
func (e *Element) MatchesClass(r rune) bool {
	in := false
	for _, rr := range e.Ranges {
		if r >= rr.Lo && r <= rr.Hi {
			in = true
			break
		}
	}
	return in != e.Negated
}

type lowerer struct {
	g     *grammar.Grammar
	rules []Rule
	index map[string]int32
}

// Lower flattens a grammar into an automaton and verifies that every rule
// reachable from the root can terminate and that the grammar is free of
// left recursion, both of which the stack discipline cannot represent.
func Lower(g *grammar.Grammar) (*Automaton, error) {
	lo := &lowerer{g: g, index: make(map[string]int32, g.NumRules())}
	lo.rules = make([]Rule, g.NumRules())
	for i := 0; i < g.NumRules(); i++ {
		lo.rules[i].Name = g.RuleAt(i).Name
		lo.index[g.RuleAt(i).Name] = int32(i)
	}

	a := &Automaton{}
	rootIdx := lo.index[g.Root()]
	for i := 0; i < g.NumRules(); i++ {
		r := g.RuleAt(i)
		if r.Body.Kind == grammar.KindTagDispatch {
			// Validation in grammar.New pins tag dispatch to the root.
			d, err := lo.lowerDispatch(r.Body)
			if err != nil {
				return nil, err
			}
			a.Dispatch = d
			continue
		}
		alts, err := lo.lowerAlts(r.Name, r.Body)
		if err != nil {
			return nil, err
		}
		lo.rules[i].Alts = alts
	}
	a.Rules = lo.rules
	a.Root = rootIdx
	if err := a.analyze(); err != nil {
		return nil, err
	}
	return a, nil
}

func (lo *lowerer) lowerDispatch(body *grammar.Expr) (*Dispatch, error) {
	d := &Dispatch{StopEOS: body.StopEOS, Loop: body.LoopAfterDispatch}
	patterns := make([][]byte, len(body.Dispatch))
	for i, entry := range body.Dispatch {
		patterns[i] = []byte(entry.Trigger)
		d.Entries = append(d.Entries, DispatchEntry{
			Trigger: patterns[i],
			Rule:    lo.index[entry.Rule],
		})
	}
	d.Scanner = ahocorasick.New(patterns)
	return d, nil
}

// lowerAlts turns a rule body into its alternative list, splitting a
// top-level choice into the alternatives.
func (lo *lowerer) lowerAlts(rule string, body *grammar.Expr) ([]Sequence, error) {
	items := []*grammar.Expr{body}
	if body.Kind == grammar.KindChoice {
		items = body.Items
	}
	alts := make([]Sequence, 0, len(items))
	for _, item := range items {
		seq, err := lo.lowerSeq(rule, item)
		if err != nil {
			return nil, err
		}
		alts = append(alts, seq)
	}
	return alts, nil
}

func (lo *lowerer) lowerSeq(rule string, e *grammar.Expr) (Sequence, error) {
	items := []*grammar.Expr{e}
	if e.Kind == grammar.KindSequence {
		items = e.Items
	}
	var seq Sequence
	for _, item := range items {
		elems, err := lo.lowerItem(rule, item)
		if err != nil {
			return nil, err
		}
		seq = append(seq, elems...)
	}
	return seq, nil
}

func (lo *lowerer) lowerItem(rule string, e *grammar.Expr) ([]Element, error) {
	switch e.Kind {
	case grammar.KindEmpty:
		return nil, nil
	case grammar.KindBytes:
		if len(e.Bytes) == 0 {
			return nil, nil
		}
		return []Element{{Kind: ElemBytes, Bytes: e.Bytes}}, nil
	case grammar.KindCharClass:
		return []Element{{Kind: ElemClass, Ranges: e.Ranges, Negated: e.Negated}}, nil
	case grammar.KindRuleRef:
		return []Element{{Kind: ElemRuleRef, Rule: lo.index[e.Ref]}}, nil
	case grammar.KindSequence:
		seq, err := lo.lowerSeq(rule, e)
		if err != nil {
			return nil, err
		}
		return seq, nil
	case grammar.KindChoice:
		target, err := lo.synthesize(rule, e)
		if err != nil {
			return nil, err
		}
		return []Element{{Kind: ElemRuleRef, Rule: target}}, nil
	case grammar.KindRepeat:
		if e.Max == 0 {
			return nil, nil
		}
		if e.Min == 1 && e.Max == 1 {
			return lo.lowerItem(rule, e.Inner)
		}
		var target int32
		if e.Inner.Kind == grammar.KindRuleRef {
			target = lo.index[e.Inner.Ref]
		} else {
			var err error
			target, err = lo.synthesize(rule, e.Inner)
			if err != nil {
				return nil, err
			}
		}
		return []Element{{Kind: ElemRepeat, Rule: target, Min: int32(e.Min), Max: int32(e.Max)}}, nil
	case grammar.KindTagDispatch:
		return nil, &grammar.RuleError{Rule: rule, Err: fmt.Errorf("tag dispatch may only be the root rule body")}
	}
	return nil, &grammar.RuleError{Rule: rule, Err: fmt.Errorf("unknown expression kind %d", e.Kind)}
}

// synthesize lowers a nested expression into an auxiliary rule and returns
// its index.
func (lo *lowerer) synthesize(rule string, e *grammar.Expr) (int32, error) {
	name := fmt.Sprintf("%s__%d", rule, len(lo.rules))
	idx := int32(len(lo.rules))
	lo.rules = append(lo.rules, Rule{Name: name})
	lo.index[name] = idx
	alts, err := lo.lowerAlts(rule, e)
	if err != nil {
		return 0, err
	}
	lo.rules[idx].Alts = alts
	return idx, nil
}
