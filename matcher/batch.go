package matcher

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gramgate/gramgate/automaton"
	"github.com/gramgate/gramgate/bitmask"
)

// BatchMatcher drives one matcher per sequence of a decoding batch
// against a shared compiled grammar, fanning the per-step mask fills out
// over a bounded worker pool.
type BatchMatcher struct {
	matchers []*Matcher
	workers  int
}

// NewBatchMatcher creates n independent matchers over cg. maxWorkers
// bounds the parallelism of the batch operations; zero or negative means
// GOMAXPROCS.
func NewBatchMatcher(cg *automaton.CompiledGrammar, n int, opts Options, maxWorkers int) *BatchMatcher {
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	b := &BatchMatcher{workers: maxWorkers}
	b.matchers = make([]*Matcher, n)
	for i := range b.matchers {
		b.matchers[i] = NewMatcher(cg, opts)
	}
	return b
}

// Len returns the batch size.
func (b *BatchMatcher) Len() int { return len(b.matchers) }

// At returns the matcher for sequence i.
func (b *BatchMatcher) At(i int) *Matcher { return b.matchers[i] }

// FillNextTokenBitmasks fills one mask per sequence in parallel.
// Terminated sequences are skipped; their mask is zeroed and their
// needs-apply entry is false. The returned slice reports, per sequence,
// whether the mask constrains anything.
func (b *BatchMatcher) FillNextTokenBitmasks(masks []*bitmask.Bitmask) ([]bool, error) {
	if len(masks) != len(b.matchers) {
		return nil, fmt.Errorf("got %d masks for %d sequences", len(masks), len(b.matchers))
	}
	needs := make([]bool, len(b.matchers))
	var g errgroup.Group
	g.SetLimit(b.workers)
	for i := range b.matchers {
		i := i
		g.Go(func() error {
			if b.matchers[i].IsTerminated() {
				masks[i].Reset()
				return nil
			}
			need, err := b.matchers[i].FillNextTokenBitmask(masks[i])
			if err != nil {
				return fmt.Errorf("sequence %d: %w", i, err)
			}
			needs[i] = need
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return needs, nil
}

// AcceptTokens advances every sequence by its sampled token and reports
// per-sequence acceptance. Terminated sequences report false.
func (b *BatchMatcher) AcceptTokens(ids []int32) ([]bool, error) {
	if len(ids) != len(b.matchers) {
		return nil, fmt.Errorf("got %d tokens for %d sequences", len(ids), len(b.matchers))
	}
	ok := make([]bool, len(b.matchers))
	var g errgroup.Group
	g.SetLimit(b.workers)
	for i := range b.matchers {
		i := i
		g.Go(func() error {
			ok[i] = b.matchers[i].AcceptToken(ids[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ok, nil
}
