package automaton

import (
	"fmt"

	"github.com/gramgate/gramgate/grammar"
)

// analyze rejects grammars the pushdown matcher cannot execute: rules with
// no reachable base case (every derivation recurses forever) and left
// recursion (the matcher would push frames without consuming a byte).
func (a *Automaton) analyze() error {
	productive := a.productiveRules()
	nullable := a.nullableRules()

	reach := a.reachableRules()
	for i, r := range a.Rules {
		if a.Dispatch != nil && int32(i) == a.Root {
			// Dispatch roots have no alternatives of their own.
			continue
		}
		if reach[i] && !productive[i] {
			return &grammar.RuleError{Rule: r.Name, Err: fmt.Errorf("no terminating derivation exists")}
		}
	}
	return a.checkLeftRecursion(nullable, reach)
}

// productiveRules computes, by fixpoint, the rules with at least one finite
// derivation.
func (a *Automaton) productiveRules() []bool {
	productive := make([]bool, len(a.Rules))
	for changed := true; changed; {
		changed = false
		for i, r := range a.Rules {
			if productive[i] {
				continue
			}
			for _, alt := range r.Alts {
				ok := true
				for j := range alt {
					e := &alt[j]
					switch e.Kind {
					case ElemRuleRef:
						ok = productive[e.Rule]
					case ElemRepeat:
						ok = e.Min == 0 || productive[e.Rule]
					}
					if !ok {
						break
					}
				}
				if ok {
					productive[i] = true
					changed = true
					break
				}
			}
		}
	}
	return productive
}

// nullableRules computes the rules that can derive the empty string.
func (a *Automaton) nullableRules() []bool {
	nullable := make([]bool, len(a.Rules))
	for changed := true; changed; {
		changed = false
		for i, r := range a.Rules {
			if nullable[i] {
				continue
			}
			for _, alt := range r.Alts {
				ok := true
				for j := range alt {
					e := &alt[j]
					switch e.Kind {
					case ElemBytes, ElemClass:
						ok = false
					case ElemRuleRef:
						ok = nullable[e.Rule]
					case ElemRepeat:
						ok = e.Min == 0 || nullable[e.Rule]
					}
					if !ok {
						break
					}
				}
				if ok {
					nullable[i] = true
					changed = true
					break
				}
			}
		}
	}
	return nullable
}

func (a *Automaton) reachableRules() []bool {
	reach := make([]bool, len(a.Rules))
	var visit func(i int32)
	visit = func(i int32) {
		if reach[i] {
			return
		}
		reach[i] = true
		for _, alt := range a.Rules[i].Alts {
			for j := range alt {
				e := &alt[j]
				if e.Kind == ElemRuleRef || e.Kind == ElemRepeat {
					visit(e.Rule)
				}
			}
		}
	}
	visit(a.Root)
	if a.Dispatch != nil {
		for _, entry := range a.Dispatch.Entries {
			visit(entry.Rule)
		}
	}
	return reach
}

// checkLeftRecursion walks the leftmost-call graph: rule R calls rule S in
// leftmost position when some alternative of R reaches a reference to S
// past only nullable elements. A cycle in this graph means the matcher
// could push frames forever without consuming input.
func (a *Automaton) checkLeftRecursion(nullable, reach []bool) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]byte, len(a.Rules))
	var visit func(i int32) error
	visit = func(i int32) error {
		color[i] = gray
		for _, alt := range a.Rules[i].Alts {
			for j := range alt {
				e := &alt[j]
				done := false
				switch e.Kind {
				case ElemBytes, ElemClass:
					done = true
				case ElemRuleRef:
					if color[e.Rule] == gray {
						return &grammar.RuleError{Rule: a.Rules[e.Rule].Name, Err: fmt.Errorf("left recursion detected")}
					}
					if color[e.Rule] == white {
						if err := visit(e.Rule); err != nil {
							return err
						}
					}
					done = !nullable[e.Rule]
				case ElemRepeat:
					if color[e.Rule] == gray {
						return &grammar.RuleError{Rule: a.Rules[e.Rule].Name, Err: fmt.Errorf("left recursion detected")}
					}
					if color[e.Rule] == white {
						if err := visit(e.Rule); err != nil {
							return err
						}
					}
					done = e.Min > 0 && !nullable[e.Rule]
				}
				if done {
					break
				}
			}
		}
		color[i] = black
		return nil
	}
	for i := range a.Rules {
		if reach[i] && color[i] == white {
			if err := visit(int32(i)); err != nil {
				return err
			}
		}
	}
	return nil
}
