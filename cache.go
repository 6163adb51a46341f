package gramgate

import (
	"context"
	"sync"

	"github.com/tidwall/btree"

	"github.com/gramgate/gramgate/automaton"
)

// cacheEntry is one cached (or in-flight) compilation. ready is closed
// when cg and err are final; callers that find an in-flight entry wait on
// it instead of compiling again.
type cacheEntry struct {
	ready chan struct{}
	cg    *automaton.CompiledGrammar
	err   error

	sig  uint64
	size int64
	// tick is the recency stamp; zero while the compile is in flight.
	tick uint64
}

type recencyKey struct {
	tick uint64
	sig  uint64
}

// compileCache deduplicates concurrent compilations of the same grammar
// and retains finished ones under a byte budget, evicting in LRU order.
// Failed compilations are never retained; every waiter gets the error.
type compileCache struct {
	mu        sync.Mutex
	entries   map[uint64]*cacheEntry
	recency   *btree.BTreeG[recencyKey]
	sizeBytes int64
	limit     int64
	tick      uint64
}

func newCompileCache(limit int64) *compileCache {
	return &compileCache{
		entries: make(map[uint64]*cacheEntry),
		recency: btree.NewBTreeG(func(a, b recencyKey) bool { return a.tick < b.tick }),
		limit:   limit,
	}
}

// getOrCompile returns the cached result for sig, joining an in-flight
// compilation when one exists, and otherwise runs compile and publishes
// its result.
func (c *compileCache) getOrCompile(ctx context.Context, sig uint64, compile func() (*automaton.CompiledGrammar, error)) (*automaton.CompiledGrammar, error) {
	c.mu.Lock()
	if e, ok := c.entries[sig]; ok {
		if e.tick != 0 {
			c.touchLocked(e)
		}
		c.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.cg, e.err
	}
	e := &cacheEntry{ready: make(chan struct{}), sig: sig}
	c.entries[sig] = e
	c.mu.Unlock()

	cg, err := compile()

	c.mu.Lock()
	e.cg, e.err = cg, err
	if err != nil {
		delete(c.entries, sig)
	} else {
		e.size = cg.MemorySizeBytes()
		c.sizeBytes += e.size
		c.touchLocked(e)
		c.evictLocked()
	}
	c.mu.Unlock()
	close(e.ready)
	return cg, err
}

// touchLocked stamps e as most recently used.
func (c *compileCache) touchLocked(e *cacheEntry) {
	if e.tick != 0 {
		c.recency.Delete(recencyKey{tick: e.tick, sig: e.sig})
	}
	c.tick++
	e.tick = c.tick
	c.recency.Set(recencyKey{tick: e.tick, sig: e.sig})
}

// evictLocked drops least recently used entries until the budget holds.
// In-flight entries carry no recency stamp and are never evicted here.
func (c *compileCache) evictLocked() {
	if c.limit <= 0 {
		return
	}
	for c.sizeBytes > c.limit {
		k, ok := c.recency.Min()
		if !ok {
			return
		}
		c.recency.Delete(k)
		e := c.entries[k.sig]
		if e == nil {
			continue
		}
		delete(c.entries, k.sig)
		c.sizeBytes -= e.size
	}
}

// clear drops every finished entry. In-flight compilations complete and
// republish themselves.
func (c *compileCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sig, e := range c.entries {
		if e.tick == 0 {
			continue
		}
		c.recency.Delete(recencyKey{tick: e.tick, sig: sig})
		delete(c.entries, sig)
		c.sizeBytes -= e.size
	}
}

func (c *compileCache) size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeBytes
}
