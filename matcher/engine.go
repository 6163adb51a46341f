// Package matcher executes a compiled grammar token by token: it tracks
// every viable parse as a set of pushdown stacks, fills per-step
// vocabulary bitmasks, and supports rollback to any earlier token
// boundary.
package matcher

import (
	"unicode/utf8"

	"github.com/gramgate/gramgate/automaton"
	"github.com/gramgate/gramgate/internal/ahocorasick"
	"github.com/gramgate/gramgate/internal/arena"
)

// frame is one stack frame of one viable parse: a cursor into an
// alternative of a rule, linked to the frame that pushed it. Frames are
// immutable once allocated and are shared freely between stacks and
// checkpoints.
type frame struct {
	parent arena.Pointer[frame]
	rule   int32
	alt    int32
	// pos indexes the element under the cursor; off is the consumed
	// prefix of a bytes element at pos.
	pos int32
	off int32
	// rep counts completed iterations of the repeat element at pos.
	rep int32
	// Partially consumed rune of a class element: runeLen bytes buffered,
	// runeNeed continuation bytes outstanding.
	runeLen  uint8
	runeNeed uint8
	runeBuf  [4]byte
}

type framePtr = arena.Pointer[frame]

// config is the complete matcher state between two bytes: the set of
// stack tops, whether a full derivation of the consumed text exists, and
// the freeform scanner state for dispatch grammars.
type config struct {
	stacks []framePtr
	// accept: the consumed text is a complete derivation of the grammar.
	accept bool
	// free: dispatch grammars only; generation is unconstrained until a
	// trigger fires. ac is the trigger scanner state.
	free bool
	ac   ahocorasick.State
}

// engine owns the frame arena and interning table shared by every state
// of one matcher. The arena only grows, so configs held in the rollback
// history stay valid.
type engine struct {
	a      *automaton.Automaton
	arena  arena.Arena[frame]
	intern map[frame]framePtr
}

func newEngine(a *automaton.Automaton) *engine {
	return &engine{a: a, intern: make(map[frame]framePtr)}
}

func (e *engine) put(f frame) framePtr {
	if p, ok := e.intern[f]; ok {
		return p
	}
	p := e.arena.New(f)
	e.intern[f] = p
	return p
}

// stackSet accumulates the deduplicated output stacks of one expansion or
// byte step.
type stackSet struct {
	stacks []framePtr
	seen   map[framePtr]bool
	accept bool
}

func (s *stackSet) add(p framePtr) {
	if s.seen == nil {
		s.seen = make(map[framePtr]bool)
	}
	if s.seen[p] {
		return
	}
	s.seen[p] = true
	s.stacks = append(s.stacks, p)
}

// canonRep folds equivalent iteration counts of an unbounded repeat so
// nullable loops reach a fixpoint instead of minting fresh frames forever.
func canonRep(e *automaton.Element, rep int32) int32 {
	if e.Max < 0 && rep > e.Min {
		return e.Min
	}
	return rep
}

// expand normalizes a frame into stack tops that sit on a consuming
// element, following rule entries, repeat decisions, and rule completions
// through epsilon moves. A frame whose root rule completes sets accept.
func (e *engine) expand(f frame, out *stackSet, visited map[frame]bool) {
	if visited[f] {
		return
	}
	visited[f] = true
	seq := e.a.Rules[f.rule].Alts[f.alt]
	if int(f.pos) >= len(seq) {
		if f.parent.Nil() {
			out.accept = true
			return
		}
		par := *e.arena.At(f.parent)
		pe := &e.a.Rules[par.rule].Alts[par.alt][par.pos]
		if pe.Kind == automaton.ElemRuleRef {
			par.pos++
			par.rep = 0
		} else {
			par.rep = canonRep(pe, par.rep+1)
		}
		e.expand(par, out, visited)
		return
	}
	el := &seq[f.pos]
	switch el.Kind {
	case automaton.ElemBytes, automaton.ElemClass:
		out.add(e.put(f))
	case automaton.ElemRuleRef:
		e.push(e.put(f), el.Rule, out, visited)
	case automaton.ElemRepeat:
		if f.rep >= el.Min {
			g := f
			g.pos++
			g.rep = 0
			e.expand(g, out, visited)
		}
		if el.Max < 0 || f.rep < el.Max {
			e.push(e.put(f), el.Rule, out, visited)
		}
	}
}

// push enters every alternative of a rule with the given return frame.
func (e *engine) push(parent framePtr, rule int32, out *stackSet, visited map[frame]bool) {
	for alt := range e.a.Rules[rule].Alts {
		e.expand(frame{parent: parent, rule: rule, alt: int32(alt)}, out, visited)
	}
}

// startConfig is the matcher state before any byte is consumed.
func (e *engine) startConfig() config {
	if d := e.a.Dispatch; d != nil {
		return config{free: true}
	}
	out := &stackSet{}
	visited := make(map[frame]bool)
	e.push(0, e.a.Root, out, visited)
	return config{stacks: out.stacks, accept: out.accept}
}

// stepStacks advances every stack by one byte, expanding epsilon moves
// behind any completed element. Stacks that cannot consume b drop out.
func (e *engine) stepStacks(stacks []framePtr, b byte, out *stackSet, visited map[frame]bool) {
	for _, p := range stacks {
		f := *e.arena.At(p)
		el := &e.a.Rules[f.rule].Alts[f.alt][f.pos]
		switch el.Kind {
		case automaton.ElemBytes:
			if el.Bytes[f.off] != b {
				continue
			}
			f.off++
			if int(f.off) == len(el.Bytes) {
				f.off = 0
				f.pos++
				e.expand(f, out, visited)
			} else {
				out.add(e.put(f))
			}
		case automaton.ElemClass:
			e.stepClass(f, el, b, out, visited)
		}
	}
}

// stepClass consumes one byte of a (possibly multi-byte) rune against a
// character class element.
func (e *engine) stepClass(f frame, el *automaton.Element, b byte, out *stackSet, visited map[frame]bool) {
	if f.runeNeed == 0 {
		if b < utf8.RuneSelf {
			if el.MatchesClass(rune(b)) {
				f.pos++
				e.expand(f, out, visited)
			}
			return
		}
		need := leadByteNeed(b)
		if need == 0 {
			return
		}
		f.runeBuf[0] = b
		f.runeLen = 1
		f.runeNeed = need
		out.add(e.put(f))
		return
	}
	if b&0xC0 != 0x80 {
		return
	}
	f.runeBuf[f.runeLen] = b
	f.runeLen++
	f.runeNeed--
	if f.runeNeed > 0 {
		out.add(e.put(f))
		return
	}
	r, size := utf8.DecodeRune(f.runeBuf[:f.runeLen])
	if r == utf8.RuneError && size <= 1 {
		return
	}
	if size != int(f.runeLen) {
		// Overlong encoding.
		return
	}
	if !el.MatchesClass(r) {
		return
	}
	f.runeLen = 0
	f.pos++
	e.expand(f, out, visited)
}

// leadByteNeed returns the continuation byte count for a UTF-8 lead byte,
// or zero when b cannot start a rune.
func leadByteNeed(b byte) uint8 {
	switch {
	case b >= 0xC2 && b <= 0xDF:
		return 1
	case b >= 0xE0 && b <= 0xEF:
		return 2
	case b >= 0xF0 && b <= 0xF4:
		return 3
	}
	return 0
}

// stepConfig advances the whole matcher state by one byte. ok reports
// whether any viable continuation or completion survives.
func (e *engine) stepConfig(cfg config, b byte) (config, bool) {
	out := &stackSet{}
	visited := make(map[frame]bool)
	e.stepStacks(cfg.stacks, b, out, visited)

	d := e.a.Dispatch
	if d == nil {
		next := config{stacks: out.stacks, accept: out.accept}
		return next, len(next.stacks) > 0 || next.accept
	}

	var next config
	// A completed tag rule either hands control back to freeform or, for
	// non-looping dispatch, finishes the grammar.
	tagDone := out.accept
	if cfg.free {
		st := d.Scanner.Step(cfg.ac, b)
		fired := d.Scanner.Outputs(st)
		if len(fired) == 0 {
			next.free = true
			next.ac = st
		} else {
			// Leaving freeform: from here only the dispatched tag bodies
			// constrain generation.
			for _, pat := range fired {
				e.push(0, d.Entries[pat].Rule, out, visited)
			}
			tagDone = tagDone || out.accept
		}
	}
	if tagDone {
		if d.Loop {
			// Freeform resumes after the tag; the scanner restarts since
			// the tag's closing bytes are not freeform text.
			if !next.free {
				next.free = true
				next.ac = 0
			}
		} else {
			next.accept = true
		}
	}
	next.stacks = out.stacks
	return next, len(next.stacks) > 0 || next.free || next.accept
}

// admissible reports whether a config represents a viable matcher state.
func (e *engine) admissible(cfg config) bool {
	return len(cfg.stacks) > 0 || cfg.free || cfg.accept
}

// stopAllowed reports whether a stop token may be emitted from cfg.
func (e *engine) stopAllowed(cfg config) bool {
	if d := e.a.Dispatch; d != nil {
		return cfg.accept || (cfg.free && d.StopEOS)
	}
	return cfg.accept
}
