// Package grammar defines the rule-table representation of a context-free
// grammar used for constrained token generation, along with its textual and
// JSON serializations, combinators, and the translators that produce
// grammars from JSON schemas and structural tags.
//
// A Grammar is immutable after construction. It is the portable form that
// the compiler lowers into an executable automaton.
package grammar

import (
	"errors"
	"fmt"
)

// Rule is a single named production.
type Rule struct {
	Name string
	Body *Expr
}

// Grammar is an immutable table of rules with a designated root. Every rule
// reference in any body resolves to a rule in the table.
type Grammar struct {
	rules []Rule
	index map[string]int
	root  int
}

// New builds a grammar from the given rules. The rule named root becomes
// the root rule. New fails if a rule name repeats, the root is undefined, a
// body references an undefined rule, or a repetition carries unsatisfiable
// bounds.
func New(rules []Rule, root string) (*Grammar, error) {
	index := make(map[string]int, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, errors.New("grammar: rule with empty name")
		}
		if _, ok := index[r.Name]; ok {
			return nil, ruleErrorf(r.Name, "duplicate rule definition")
		}
		index[r.Name] = i
	}
	rootIdx, ok := index[root]
	if !ok {
		return nil, ruleErrorf(root, "root rule is not defined")
	}
	g := &Grammar{rules: rules, index: index, root: rootIdx}
	for _, r := range rules {
		if err := g.validateBody(r.Name, r.Body, r.Name == root); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// MustNew is like New but panics on error. Intended for grammars assembled
// from trusted, programmatic input.
func MustNew(rules []Rule, root string) *Grammar {
	g, err := New(rules, root)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Grammar) validateBody(rule string, e *Expr, isRoot bool) error {
	if e == nil {
		return ruleErrorf(rule, "rule has no body")
	}
	var err error
	top := true
	e.visit(func(x *Expr) {
		if err != nil {
			return
		}
		switch x.Kind {
		case KindRuleRef:
			if _, ok := g.index[x.Ref]; !ok {
				err = ruleErrorf(rule, "reference to undefined rule %q", x.Ref)
			}
		case KindRepeat:
			if x.Min < 0 || (x.Max >= 0 && x.Max < x.Min) {
				err = ruleErrorf(rule, "unsatisfiable repetition bounds {%d,%d}", x.Min, x.Max)
			}
		case KindCharClass:
			for _, r := range x.Ranges {
				if r.Lo > r.Hi {
					err = ruleErrorf(rule, "inverted character range %q-%q", r.Lo, r.Hi)
				}
			}
		case KindTagDispatch:
			if !isRoot || !top {
				err = ruleErrorf(rule, "tag dispatch may only be the entire body of the root rule")
				return
			}
			for _, d := range x.Dispatch {
				if d.Trigger == "" {
					err = ruleErrorf(rule, "tag dispatch with empty trigger")
					return
				}
				if _, ok := g.index[d.Rule]; !ok {
					err = ruleErrorf(rule, "tag dispatch references undefined rule %q", d.Rule)
					return
				}
			}
		}
		top = false
	})
	return err
}

// Root returns the name of the root rule.
func (g *Grammar) Root() string {
	return g.rules[g.root].Name
}

// NumRules returns the number of rules in the table.
func (g *Grammar) NumRules() int {
	return len(g.rules)
}

// RuleAt returns the i-th rule. Rule order is construction order and is
// stable across serialization.
func (g *Grammar) RuleAt(i int) Rule {
	return g.rules[i]
}

// Rule returns the named rule.
func (g *Grammar) Rule(name string) (Rule, bool) {
	i, ok := g.index[name]
	if !ok {
		return Rule{}, false
	}
	return g.rules[i], true
}

// RuleIndex returns the position of the named rule in the table.
func (g *Grammar) RuleIndex(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Concat returns a grammar matching the concatenation of the given
// grammars, in order. Rules of each input are copied into a fresh
// namespace, so inputs with clashing rule names combine cleanly.
func Concat(grammars ...*Grammar) (*Grammar, error) {
	return combine(grammars, func(roots []*Expr) *Expr { return Seq(roots...) })
}

// Union returns a grammar matching any one of the given grammars.
func Union(grammars ...*Grammar) (*Grammar, error) {
	return combine(grammars, func(roots []*Expr) *Expr { return Choice(roots...) })
}

func combine(grammars []*Grammar, join func([]*Expr) *Expr) (*Grammar, error) {
	if len(grammars) == 0 {
		return nil, errors.New("grammar: combining requires at least one grammar")
	}
	var rules []Rule
	roots := make([]*Expr, len(grammars))
	for i, g := range grammars {
		mapping := make(map[string]string, len(g.rules))
		for _, r := range g.rules {
			mapping[r.Name] = fmt.Sprintf("g%d_%s", i, r.Name)
		}
		for _, r := range g.rules {
			body := r.Body.rename(mapping)
			if body.Kind == KindTagDispatch {
				return nil, ruleErrorf(r.Name, "cannot combine a tag dispatch grammar")
			}
			rules = append(rules, Rule{Name: mapping[r.Name], Body: body})
		}
		roots[i] = Ref(mapping[g.Root()])
	}
	rules = append([]Rule{{Name: "root", Body: join(roots)}}, rules...)
	return New(rules, "root")
}
