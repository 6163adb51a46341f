package matcher

import (
	"errors"
	"fmt"

	"github.com/gramgate/gramgate/automaton"
	"github.com/gramgate/gramgate/bitmask"
)

// ErrRollbackDepth is returned when Rollback asks for more tokens than
// the history holds or than the configured limit allows.
var ErrRollbackDepth = errors.New("rollback depth exceeds history")

// Options configure a Matcher.
type Options struct {
	// OverrideStopTokens replaces the tokenizer's stop token ids. nil
	// keeps the tokenizer's; an empty slice means no stop tokens.
	OverrideStopTokens []int32
	// TerminateWithoutStopToken terminates the matcher as soon as the
	// consumed text is a complete derivation, without requiring a stop
	// token.
	TerminateWithoutStopToken bool
	// MaxRollbackTokens bounds Rollback depth. Zero means unlimited.
	MaxRollbackTokens int
}

type histEntry struct {
	token      int32
	cfg        config
	terminated bool
}

// Matcher tracks the match state of one generation sequence against a
// compiled grammar. It is not safe for concurrent use; run one matcher
// per sequence.
type Matcher struct {
	cg   *automaton.CompiledGrammar
	eng  *engine
	opts Options

	stops   []int32
	stopSet map[int32]bool

	init       config
	cur        config
	terminated bool
	history    []histEntry
}

// NewMatcher creates a matcher positioned before the first token.
func NewMatcher(cg *automaton.CompiledGrammar, opts Options) *Matcher {
	m := &Matcher{
		cg:   cg,
		eng:  newEngine(cg.Automaton()),
		opts: opts,
	}
	m.stops = cg.TokenizerInfo().StopTokenIDs()
	if opts.OverrideStopTokens != nil {
		m.stops = opts.OverrideStopTokens
	}
	m.stopSet = make(map[int32]bool, len(m.stops))
	for _, id := range m.stops {
		m.stopSet[id] = true
	}
	m.init = m.eng.startConfig()
	m.cur = m.init
	m.terminated = m.opts.TerminateWithoutStopToken && m.eng.stopAllowed(m.cur)
	return m
}

// StopTokenIDs returns the stop token ids this matcher honors.
func (m *Matcher) StopTokenIDs() []int32 {
	return m.stops
}

// IsTerminated reports whether the sequence has ended: a stop token was
// accepted, or the derivation completed under TerminateWithoutStopToken.
func (m *Matcher) IsTerminated() bool {
	return m.terminated
}

// Reset rewinds the matcher to its initial state and clears the rollback
// history.
func (m *Matcher) Reset() {
	m.cur = m.init
	m.history = m.history[:0]
	m.terminated = m.opts.TerminateWithoutStopToken && m.eng.stopAllowed(m.cur)
}

// FillNextTokenBitmask overwrites mask with the admissible next tokens.
// It returns false when every vocabulary id is admissible, meaning the
// caller can skip applying the mask to its logits.
func (m *Matcher) FillNextTokenBitmask(mask *bitmask.Bitmask) (bool, error) {
	info := m.cg.TokenizerInfo()
	if mask.Size() != info.VocabSize() {
		return false, fmt.Errorf("bitmask sized for %d tokens, vocabulary has %d", mask.Size(), info.VocabSize())
	}
	if m.terminated {
		return false, errors.New("matcher is terminated")
	}
	mask.Reset()
	if m.cur.free && len(m.cur.stacks) == 0 {
		// Freeform admits every ordinary token that cannot complete a
		// trigger; a token that does fire one is admissible only if the
		// dispatched tag bodies take its remaining bytes.
		for id := int32(0); id < int32(len(info.DecodedVocab())); id++ {
			if info.IsSpecialToken(id) || info.IsStopToken(id) {
				continue
			}
			b := info.TokenBytes(id)
			if len(b) > 0 && m.freeformAdmits(b) {
				mask.Set(id)
			}
		}
	} else {
		m.walkTrie(mask)
	}
	if m.eng.stopAllowed(m.cur) {
		for _, id := range m.stops {
			mask.Set(id)
		}
	}
	return mask.CountSet() < info.VocabSize(), nil
}

// freeformAdmits reports whether token bytes b are admissible from a
// pure freeform state. b stays admissible as long as the trigger
// scanner never reports a match; once it does, the full byte step from
// the current state decides.
func (m *Matcher) freeformAdmits(b []byte) bool {
	d := m.cg.Automaton().Dispatch
	st := m.cur.ac
	for _, c := range b {
		st = d.Scanner.Step(st, c)
		if len(d.Scanner.Outputs(st)) > 0 {
			_, ok := m.stepBytes(m.cur, b)
			return ok
		}
	}
	return true
}

// walkTrie classifies the vocabulary by depth-first walk of the token
// trie, advancing the match state byte by byte and pruning dead prefixes.
func (m *Matcher) walkTrie(mask *bitmask.Bitmask) {
	trie := m.cg.Trie()
	var walk func(node int32, cfg config)
	walk = func(node int32, cfg config) {
		n := trie.Node(node)
		for _, id := range n.Tokens {
			mask.Set(id)
		}
		for _, edge := range n.Edges {
			next, ok := m.eng.stepConfig(cfg, edge.B)
			if ok {
				walk(edge.Next, next)
			}
		}
	}
	n := trie.Node(trie.Root())
	for _, edge := range n.Edges {
		next, ok := m.eng.stepConfig(m.cur, edge.B)
		if ok {
			walk(edge.Next, next)
		}
	}
}

// AcceptToken advances the matcher by one generated token. It returns
// false, leaving the state untouched, when the token is not admissible
// or the matcher is already terminated.
func (m *Matcher) AcceptToken(id int32) bool {
	if m.terminated {
		return false
	}
	info := m.cg.TokenizerInfo()
	if id < 0 || int(id) >= info.VocabSize() {
		return false
	}
	if m.stopSet[id] {
		if !m.eng.stopAllowed(m.cur) {
			return false
		}
		m.history = append(m.history, histEntry{token: id, cfg: m.cur, terminated: true})
		m.terminated = true
		return true
	}
	if info.IsSpecialToken(id) {
		return false
	}
	cfg, ok := m.stepBytes(m.cur, info.TokenBytes(id))
	if !ok {
		return false
	}
	m.commit(id, cfg)
	return true
}

// AcceptString advances the matcher by raw text, as if the tokenizer had
// produced it. The whole string is one rollback step; nothing is consumed
// on failure.
func (m *Matcher) AcceptString(s string) bool {
	if m.terminated {
		return false
	}
	if s == "" {
		return true
	}
	cfg, ok := m.stepBytes(m.cur, []byte(s))
	if !ok {
		return false
	}
	m.commit(-1, cfg)
	return true
}

func (m *Matcher) stepBytes(cfg config, b []byte) (config, bool) {
	if len(b) == 0 {
		return cfg, false
	}
	for _, c := range b {
		var ok bool
		cfg, ok = m.eng.stepConfig(cfg, c)
		if !ok {
			return cfg, false
		}
	}
	return cfg, true
}

func (m *Matcher) commit(token int32, cfg config) {
	m.cur = cfg
	term := m.opts.TerminateWithoutStopToken && m.eng.stopAllowed(cfg)
	m.terminated = term
	m.history = append(m.history, histEntry{token: token, cfg: cfg, terminated: term})
}

// Rollback rewinds the last n accept operations.
func (m *Matcher) Rollback(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative depth %d", ErrRollbackDepth, n)
	}
	if n == 0 {
		return nil
	}
	if n > len(m.history) {
		return fmt.Errorf("%w: %d requested, %d available", ErrRollbackDepth, n, len(m.history))
	}
	if m.opts.MaxRollbackTokens > 0 && n > m.opts.MaxRollbackTokens {
		return fmt.Errorf("%w: %d requested, limit is %d", ErrRollbackDepth, n, m.opts.MaxRollbackTokens)
	}
	m.history = m.history[:len(m.history)-n]
	if len(m.history) == 0 {
		m.cur = m.init
		m.terminated = m.opts.TerminateWithoutStopToken && m.eng.stopAllowed(m.cur)
		return nil
	}
	last := m.history[len(m.history)-1]
	m.cur = last.cfg
	m.terminated = last.terminated
	return nil
}

// FindJumpForwardString returns the longest continuation every viable
// parse agrees on: the bytes the grammar forces regardless of what the
// model would sample. Decoders can append it verbatim and skip those
// steps.
func (m *Matcher) FindJumpForwardString() string {
	if m.terminated {
		return ""
	}
	cfg := m.cur
	var forced []byte
	for {
		if cfg.free || m.eng.stopAllowed(cfg) {
			break
		}
		nextByte := -1
		var nextCfg config
		for b := 0; b < 256; b++ {
			c, ok := m.eng.stepConfig(cfg, byte(b))
			if !ok {
				continue
			}
			if nextByte >= 0 {
				nextByte = -1
				break
			}
			nextByte = b
			nextCfg = c
		}
		if nextByte < 0 {
			break
		}
		forced = append(forced, byte(nextByte))
		cfg = nextCfg
	}
	return string(forced)
}
