package gramgate_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramgate/gramgate"
	"github.com/gramgate/gramgate/automaton"
	"github.com/gramgate/gramgate/grammar"
	"github.com/gramgate/gramgate/tokenizer"
)

func testTokenizer() *tokenizer.TokenizerInfo {
	vocab := []string{
		"a", "b", "c", "0", "1", "true", "false", "null",
		"{", "}", "[", "]", ":", ",", "\"", " ", "</s>",
	}
	return tokenizer.New(vocab, tokenizer.VocabRaw, 0, nil, false)
}

func TestCompilerCaching(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	c := &gramgate.Compiler{TokenizerInfo: testTokenizer()}
	ctx := context.Background()

	cg1, err := c.CompileEBNF(ctx, `root ::= "a" "b"`, "")
	require.NoError(err)
	cg2, err := c.CompileEBNF(ctx, `root ::= "a" "b"`, "")
	require.NoError(err)
	assert.Same(cg1, cg2)
	assert.Greater(c.CacheSizeBytes(), int64(0))

	// Different source keys a different entry.
	cg3, err := c.CompileEBNF(ctx, `root ::= "a" "c"`, "")
	require.NoError(err)
	assert.NotSame(cg1, cg3)

	c.ClearCache()
	assert.Equal(int64(0), c.CacheSizeBytes())
	cg4, err := c.CompileEBNF(ctx, `root ::= "a" "b"`, "")
	require.NoError(err)
	assert.NotSame(cg1, cg4)
}

func TestCompilerSingleFlight(t *testing.T) {
	t.Parallel()

	c := &gramgate.Compiler{TokenizerInfo: testTokenizer()}
	ctx := context.Background()

	const n = 16
	results := make([]*automaton.CompiledGrammar, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cg, err := c.CompileEBNF(ctx, `root ::= "a"*`, "")
			assert.NoError(t, err)
			results[i] = cg
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestCompilerFailureNotCached(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	c := &gramgate.Compiler{TokenizerInfo: testTokenizer()}
	ctx := context.Background()

	_, err := c.CompileEBNF(ctx, `root := broken`, "")
	assert.Error(err)
	_, err = c.CompileEBNF(ctx, `root := broken`, "")
	assert.Error(err)
	assert.Equal(int64(0), c.CacheSizeBytes())
}

func TestCompilerDisableCache(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c := &gramgate.Compiler{TokenizerInfo: testTokenizer(), DisableCache: true}
	ctx := context.Background()

	cg1, err := c.CompileEBNF(ctx, `root ::= "a"`, "")
	require.NoError(err)
	cg2, err := c.CompileEBNF(ctx, `root ::= "a"`, "")
	require.NoError(err)
	assert.NotSame(t, cg1, cg2)
	assert.Equal(t, int64(0), c.CacheSizeBytes())
}

func TestCompilerCacheEviction(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	// A one-byte budget cannot hold any compilation, so every entry is
	// evicted as soon as it lands.
	c := &gramgate.Compiler{TokenizerInfo: testTokenizer(), CacheLimitBytes: 1}
	ctx := context.Background()

	cg1, err := c.CompileEBNF(ctx, `root ::= "a"`, "")
	require.NoError(err)
	assert.Equal(t, int64(0), c.CacheSizeBytes())
	cg2, err := c.CompileEBNF(ctx, `root ::= "a"`, "")
	require.NoError(err)
	assert.NotSame(t, cg1, cg2)
}

func TestCompilerNoTokenizer(t *testing.T) {
	t.Parallel()

	c := &gramgate.Compiler{}
	_, err := c.CompileEBNF(context.Background(), `root ::= "a"`, "")
	assert.Error(t, err)
}

func TestCompilerContextCanceled(t *testing.T) {
	t.Parallel()

	c := &gramgate.Compiler{TokenizerInfo: testTokenizer()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CompileEBNF(ctx, `root ::= "a"`, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompileKinds(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c := &gramgate.Compiler{TokenizerInfo: testTokenizer()}
	ctx := context.Background()

	cg, err := c.CompileRegex(ctx, `[ab]+c`)
	require.NoError(err)
	require.NotNil(cg.Grammar())

	cg, err = c.CompileJSONSchema(ctx, []byte(`{"type":"boolean"}`), nil)
	require.NoError(err)
	require.NotNil(cg.Grammar())

	cg, err = c.CompileBuiltinJSONGrammar(ctx)
	require.NoError(err)
	again, err := c.CompileBuiltinJSONGrammar(ctx)
	require.NoError(err)
	assert.Same(t, cg, again)

	g, err := gramgate.FromRegex(`a+`)
	require.NoError(err)
	cg, err = c.CompileGrammar(ctx, g)
	require.NoError(err)
	require.NotNil(cg.Automaton())

	tag := []byte(`{
		"type": "structural_tag",
		"format": {
			"type": "triggered_tags",
			"triggers": ["["],
			"tags": [{
				"type": "tag",
				"begin": "[",
				"content": {"type": "json_schema", "json_schema": {"type": "boolean"}},
				"end": "]"
			}]
		}
	}`)
	cg, err = c.CompileStructuralTag(ctx, tag)
	require.NoError(err)
	require.NotNil(cg.Automaton().Dispatch)

	cg, err = c.CompileStructuralTagItems(ctx, []grammar.TagItem{
		{Begin: "[", Schema: []byte(`{"type":"boolean"}`), End: "]"},
	}, []string{"["})
	require.NoError(err)
	require.NotNil(cg.Automaton().Dispatch)
}

func TestCompilerSharedTrie(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c := &gramgate.Compiler{TokenizerInfo: testTokenizer(), DisableCache: true}
	ctx := context.Background()

	cg1, err := c.CompileEBNF(ctx, `root ::= "a"`, "")
	require.NoError(err)
	cg2, err := c.CompileEBNF(ctx, `root ::= "b"`, "")
	require.NoError(err)
	assert.Same(t, cg1.Trie(), cg2.Trie())
}

func TestFromStructuralTagAPI(t *testing.T) {
	t.Parallel()

	g, err := gramgate.FromStructuralTag([]byte(`{
		"type": "structural_tag",
		"format": {
			"type": "triggered_tags",
			"triggers": ["<f>"],
			"tags": [{
				"type": "tag",
				"begin": "<f>",
				"content": {"type": "json_schema", "json_schema": {"type": "null"}},
				"end": "</f>"
			}]
		}
	}`))
	require.NoError(t, err)
	root, ok := g.Rule(g.Root())
	require.True(t, ok)
	assert.Equal(t, grammar.KindTagDispatch, root.Body.Kind)

	_, err = gramgate.FromStructuralTag([]byte(`{`))
	assert.Error(t, err)
}

func TestCompilerCacheLRUOrder(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	ctx := context.Background()
	srcA := `root ::= "a"+`
	srcB := `root ::= "b"+`
	srcC := `root ::= "c"+`

	// Size the three entries first; the cache charges each entry its
	// compiled memory estimate.
	sizer := &gramgate.Compiler{TokenizerInfo: testTokenizer(), DisableCache: true}
	var total int64
	for _, src := range []string{srcA, srcB, srcC} {
		cg, err := sizer.CompileEBNF(ctx, src, "")
		require.NoError(err)
		total += cg.MemorySizeBytes()
	}

	// The budget holds any two of the three entries, never all three.
	c := &gramgate.Compiler{
		TokenizerInfo:   testTokenizer(),
		CacheLimitBytes: total - 1,
	}
	cgA, err := c.CompileEBNF(ctx, srcA, "")
	require.NoError(err)
	cgB, err := c.CompileEBNF(ctx, srcB, "")
	require.NoError(err)

	// Touching A leaves B as the least recently used entry.
	again, err := c.CompileEBNF(ctx, srcA, "")
	require.NoError(err)
	require.Same(cgA, again)

	// Inserting C overflows the budget and evicts B, not A.
	_, err = c.CompileEBNF(ctx, srcC, "")
	require.NoError(err)
	again, err = c.CompileEBNF(ctx, srcA, "")
	require.NoError(err)
	assert.Same(cgA, again)
	againB, err := c.CompileEBNF(ctx, srcB, "")
	require.NoError(err)
	assert.NotSame(cgB, againB)
}
