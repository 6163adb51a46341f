package gramgate

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"

	"github.com/gramgate/gramgate/automaton"
	"github.com/gramgate/gramgate/grammar"
	"github.com/gramgate/gramgate/parser"
	"github.com/gramgate/gramgate/tokenizer"
)

// Compiler compiles grammars against one tokenizer, bounding concurrent
// compilation work and caching results by grammar content.
//
// The zero value is not usable; TokenizerInfo must be set. The other
// fields are optional. A Compiler is safe for concurrent use, but its
// fields must not be changed after the first Compile call.
type Compiler struct {
	// TokenizerInfo describes the vocabulary every compiled grammar is
	// bound to. Required.
	TokenizerInfo *tokenizer.TokenizerInfo

	// MaxParallelism bounds concurrently running compilations. Values
	// less than one imply GOMAXPROCS.
	MaxParallelism int

	// DisableCache compiles every request from scratch.
	DisableCache bool

	// CacheLimitBytes bounds the estimated memory retained by the cache.
	// Zero or negative means unlimited.
	CacheLimitBytes int64

	initOnce sync.Once
	sem      *semaphore.Weighted
	cache    *compileCache

	trieOnce sync.Once
	trie     *automaton.TokenTrie
}

func (c *Compiler) init() {
	c.initOnce.Do(func() {
		par := c.MaxParallelism
		if par <= 0 {
			par = runtime.GOMAXPROCS(0)
		}
		c.sem = semaphore.NewWeighted(int64(par))
		c.cache = newCompileCache(c.CacheLimitBytes)
	})
}

// CompileGrammar compiles an already constructed grammar.
func (c *Compiler) CompileGrammar(ctx context.Context, g *grammar.Grammar) (*automaton.CompiledGrammar, error) {
	payload, err := g.SerializeJSON()
	if err != nil {
		return nil, err
	}
	return c.compile(ctx, c.signature("grammar", payload), func() (*grammar.Grammar, error) {
		return g, nil
	})
}

// CompileEBNF compiles a GBNF grammar text. rootRule names the start
// rule; empty means "root".
func (c *Compiler) CompileEBNF(ctx context.Context, src, rootRule string) (*automaton.CompiledGrammar, error) {
	return c.compile(ctx, c.signature("ebnf", []byte(src), rootRule), func() (*grammar.Grammar, error) {
		return parser.ParseEBNF(src, rootRule)
	})
}

// CompileRegex compiles a regular expression into a grammar matching it
// in full.
func (c *Compiler) CompileRegex(ctx context.Context, pattern string) (*automaton.CompiledGrammar, error) {
	return c.compile(ctx, c.signature("regex", []byte(pattern)), func() (*grammar.Grammar, error) {
		return parser.ParseRegex(pattern)
	})
}

// CompileJSONSchema compiles a JSON Schema document. opts nil means
// DefaultSchemaOptions.
func (c *Compiler) CompileJSONSchema(ctx context.Context, schema []byte, opts *grammar.SchemaOptions) (*automaton.CompiledGrammar, error) {
	if opts == nil {
		o := grammar.DefaultSchemaOptions()
		opts = &o
	}
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	return c.compile(ctx, c.signature("json_schema", schema, string(optsJSON)), func() (*grammar.Grammar, error) {
		return grammar.FromJSONSchema(schema, *opts)
	})
}

// CompileBuiltinJSONGrammar compiles the permissive any-JSON grammar.
func (c *Compiler) CompileBuiltinJSONGrammar(ctx context.Context) (*automaton.CompiledGrammar, error) {
	return c.compile(ctx, c.signature("builtin_json", nil), func() (*grammar.Grammar, error) {
		return grammar.BuiltinJSON(), nil
	})
}

// CompileStructuralTag compiles a structural tag document, in either the
// canonical format or the legacy tags/triggers form.
func (c *Compiler) CompileStructuralTag(ctx context.Context, tag []byte) (*automaton.CompiledGrammar, error) {
	return c.compile(ctx, c.signature("structural_tag", tag), func() (*grammar.Grammar, error) {
		st, err := grammar.ParseStructuralTag(tag)
		if err != nil {
			return nil, err
		}
		return grammar.FromStructuralTag(st)
	})
}

// CompileStructuralTagItems compiles the legacy structural-tag form of
// explicit tag items plus their trigger list.
//
// Deprecated: Use [Compiler.CompileStructuralTag] with a canonical
// structural-tag document, which subsumes this form.
func (c *Compiler) CompileStructuralTagItems(ctx context.Context, tags []grammar.TagItem, triggers []string) (*automaton.CompiledGrammar, error) {
	st := &grammar.StructuralTag{
		Triggers:          triggers,
		Tags:              tags,
		StopEOS:           true,
		LoopAfterDispatch: true,
	}
	parts := make([]string, 0, 4*len(tags)+len(triggers))
	for _, t := range tags {
		parts = append(parts, t.Begin, t.End, string(t.Schema))
		if t.Grammar != nil {
			gj, err := t.Grammar.SerializeJSON()
			if err != nil {
				return nil, err
			}
			parts = append(parts, string(gj))
		}
	}
	parts = append(parts, triggers...)
	return c.compile(ctx, c.signature("structural_tag_items", nil, parts...), func() (*grammar.Grammar, error) {
		return grammar.FromStructuralTag(st)
	})
}

// ClearCache drops every cached compilation.
func (c *Compiler) ClearCache() {
	c.init()
	c.cache.clear()
}

// CacheSizeBytes returns the estimated memory retained by cached
// compilations.
func (c *Compiler) CacheSizeBytes() int64 {
	c.init()
	return c.cache.size()
}

// compile funnels every Compile* entry point: cache lookup (joining an
// identical in-flight compilation), then grammar construction and
// lowering under the parallelism bound.
func (c *Compiler) compile(ctx context.Context, sig uint64, build func() (*grammar.Grammar, error)) (*automaton.CompiledGrammar, error) {
	if c.TokenizerInfo == nil {
		return nil, errors.New("compiler has no tokenizer info")
	}
	c.init()
	run := func() (*automaton.CompiledGrammar, error) {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
		g, err := build()
		if err != nil {
			return nil, err
		}
		return automaton.CompileWithTrie(g, c.TokenizerInfo, c.sharedTrie())
	}
	if c.DisableCache {
		return run()
	}
	return c.cache.getOrCompile(ctx, sig, run)
}

// sharedTrie builds the vocabulary trie once; every compilation against
// this tokenizer reuses it.
func (c *Compiler) sharedTrie() *automaton.TokenTrie {
	c.trieOnce.Do(func() {
		c.trie = automaton.NewTokenTrie(c.TokenizerInfo)
	})
	return c.trie
}

// signature keys the cache by request kind, payload, options, and the
// tokenizer fingerprint.
func (c *Compiler) signature(kind string, payload []byte, extras ...string) uint64 {
	h := xxhash.New()
	h.WriteString(kind)
	h.Write([]byte{0})
	h.Write(payload)
	h.Write([]byte{0})
	for _, s := range extras {
		h.WriteString(s)
		h.Write([]byte{0})
	}
	var fp [8]byte
	if c.TokenizerInfo != nil {
		binary.LittleEndian.PutUint64(fp[:], c.TokenizerInfo.Fingerprint())
	}
	h.Write(fp[:])
	return h.Sum64()
}
