// Package ahocorasick implements a deterministic multi-pattern string
// automaton used to scan freeform output for structural-tag triggers: one
// Step per byte, with every pattern matched simultaneously.
package ahocorasick

// State is a node in the automaton. State 0 is the start state.
type State int32

type node struct {
	edges   map[byte]State
	fail    State
	outputs []int32 // pattern indices matched when this state is reached
}

// Automaton matches a fixed set of byte patterns. It is immutable after
// construction and safe for concurrent use.
type Automaton struct {
	nodes []node
}

// New builds the automaton for the given patterns. Empty patterns are not
// allowed.
func New(patterns [][]byte) *Automaton {
	a := &Automaton{nodes: []node{{}}}
	for i, pat := range patterns {
		cur := State(0)
		for _, b := range pat {
			next, ok := a.nodes[cur].edges[b]
			if !ok {
				next = State(len(a.nodes))
				a.nodes = append(a.nodes, node{})
				if a.nodes[cur].edges == nil {
					a.nodes[cur].edges = map[byte]State{}
				}
				a.nodes[cur].edges[b] = next
			}
			cur = next
		}
		a.nodes[cur].outputs = append(a.nodes[cur].outputs, int32(i))
	}
	a.buildFailureLinks()
	return a
}

// buildFailureLinks computes the classic BFS failure function and folds
// each state's failure outputs into its own output set, so Outputs needs
// no link chasing at scan time.
func (a *Automaton) buildFailureLinks() {
	queue := make([]State, 0, len(a.nodes))
	for _, next := range a.nodes[0].edges {
		a.nodes[next].fail = 0
		queue = append(queue, next)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for b, next := range a.nodes[cur].edges {
			fail := a.nodes[cur].fail
			for fail != 0 {
				if _, ok := a.nodes[fail].edges[b]; ok {
					break
				}
				fail = a.nodes[fail].fail
			}
			if to, ok := a.nodes[fail].edges[b]; ok && to != next {
				a.nodes[next].fail = to
			}
			a.nodes[next].outputs = append(a.nodes[next].outputs, a.nodes[a.nodes[next].fail].outputs...)
			queue = append(queue, next)
		}
	}
}

// Step advances the automaton by one byte.
func (a *Automaton) Step(s State, b byte) State {
	for {
		if next, ok := a.nodes[s].edges[b]; ok {
			return next
		}
		if s == 0 {
			return 0
		}
		s = a.nodes[s].fail
	}
}

// Outputs returns the indices of every pattern that ends at s. The slice
// is shared and must not be mutated.
func (a *Automaton) Outputs(s State) []int32 {
	return a.nodes[s].outputs
}

// NumStates returns the automaton's state count.
func (a *Automaton) NumStates() int {
	return len(a.nodes)
}
