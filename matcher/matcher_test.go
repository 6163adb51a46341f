package matcher_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramgate/gramgate/automaton"
	"github.com/gramgate/gramgate/bitmask"
	"github.com/gramgate/gramgate/grammar"
	"github.com/gramgate/gramgate/matcher"
	"github.com/gramgate/gramgate/parser"
	"github.com/gramgate/gramgate/tokenizer"
)

// fixture pairs a compiled grammar with a vocabulary small enough to name
// tokens by their text in assertions.
type fixture struct {
	vocab []string
	info  *tokenizer.TokenizerInfo
	cg    *automaton.CompiledGrammar
	m     *matcher.Matcher
}

func newFixture(t *testing.T, g *grammar.Grammar, vocab []string, opts matcher.Options) *fixture {
	t.Helper()
	info := tokenizer.New(vocab, tokenizer.VocabRaw, 0, nil, false)
	cg, err := automaton.Compile(g, info)
	require.NoError(t, err)
	return &fixture{
		vocab: vocab,
		info:  info,
		cg:    cg,
		m:     matcher.NewMatcher(cg, opts),
	}
}

func ebnfFixture(t *testing.T, src string, vocab []string, opts matcher.Options) *fixture {
	t.Helper()
	g, err := parser.ParseEBNF(src, "")
	require.NoError(t, err)
	return newFixture(t, g, vocab, opts)
}

func (f *fixture) id(t *testing.T, text string) int32 {
	t.Helper()
	for i, v := range f.vocab {
		if v == text {
			return int32(i)
		}
	}
	t.Fatalf("token %q not in test vocabulary", text)
	return -1
}

// admitted fills a fresh bitmask and returns the admitted tokens by text.
func (f *fixture) admitted(t *testing.T) []string {
	t.Helper()
	mask := bitmask.New(f.info.VocabSize())
	_, err := f.m.FillNextTokenBitmask(mask)
	require.NoError(t, err)
	var out []string
	for i, v := range f.vocab {
		if mask.IsSet(int32(i)) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func TestMaskFollowsGrammar(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	f := ebnfFixture(t, `root ::= "a" "b"*`,
		[]string{"a", "b", "ab", "bb", "c", "</s>"}, matcher.Options{})

	assert.Equal([]string{"a", "ab"}, f.admitted(t))

	assert.True(f.m.AcceptToken(f.id(t, "ab")))
	// "ab" completes the mandatory prefix; only "b" runs and the stop
	// token remain.
	assert.Equal([]string{"</s>", "b", "bb"}, f.admitted(t))

	assert.False(f.m.AcceptToken(f.id(t, "c")))
	assert.Equal([]string{"</s>", "b", "bb"}, f.admitted(t))

	assert.True(f.m.AcceptToken(f.id(t, "b")))
	assert.True(f.m.AcceptToken(f.id(t, "</s>")))
	assert.True(f.m.IsTerminated())
	assert.False(f.m.AcceptToken(f.id(t, "b")))
}

func TestAcceptStringPrefixSemantics(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	f := ebnfFixture(t, `root ::= "0" | "-"? [1-9] [0-9]*`,
		[]string{"1", "2", "3", "a", "</s>"}, matcher.Options{})

	// "12" is not itself complete junk even though "12a" would be: the
	// matcher consumes valid prefixes and rejects only at the bad byte.
	assert.True(f.m.AcceptString("12"))
	assert.False(f.m.AcceptString("a"))
	assert.True(f.m.AcceptString("3"))
	assert.Equal([]string{"1", "2", "3", "</s>"}, f.admitted(t))
}

func TestStopTokenOnlyWhenComplete(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	f := ebnfFixture(t, `root ::= "ab"`, []string{"a", "b", "</s>"}, matcher.Options{})

	assert.False(f.m.AcceptToken(f.id(t, "</s>")))
	assert.True(f.m.AcceptToken(f.id(t, "a")))
	assert.Equal([]string{"b"}, f.admitted(t))
	assert.True(f.m.AcceptToken(f.id(t, "b")))
	assert.Equal([]string{"</s>"}, f.admitted(t))
	assert.True(f.m.AcceptToken(f.id(t, "</s>")))
	assert.True(f.m.IsTerminated())
}

func TestOverrideStopTokens(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	vocab := []string{"x", "DONE", "</s>"}
	f := ebnfFixture(t, `root ::= "x"`, vocab, matcher.Options{
		OverrideStopTokens: []int32{1},
	})
	assert.Equal([]int32{1}, f.m.StopTokenIDs())

	assert.True(f.m.AcceptToken(f.id(t, "x")))
	assert.Equal([]string{"DONE"}, f.admitted(t))
	assert.False(f.m.AcceptToken(f.id(t, "</s>")))
	assert.True(f.m.AcceptToken(f.id(t, "DONE")))
	assert.True(f.m.IsTerminated())
}

func TestTerminateWithoutStopToken(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	f := ebnfFixture(t, `root ::= "ab"`, []string{"ab", "</s>"}, matcher.Options{
		TerminateWithoutStopToken: true,
	})
	assert.False(f.m.IsTerminated())
	assert.True(f.m.AcceptToken(f.id(t, "ab")))
	assert.True(f.m.IsTerminated())
}

func TestUTF8ClassMatching(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	f := ebnfFixture(t, `root ::= [あ-ん]+`,
		[]string{"あ", "き", "ん", "a", "世", "</s>"}, matcher.Options{})

	assert.Equal([]string{"あ", "き", "ん"}, f.admitted(t))
	assert.True(f.m.AcceptToken(f.id(t, "き")))
	assert.True(f.m.AcceptString("あん"))
	assert.False(f.m.AcceptString("世"))
	assert.False(f.m.AcceptString("a"))
}

func TestTokenSplitsRune(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	// "→" is e2 86 92; the vocabulary splits it across two tokens, so
	// the matcher must carry partial-rune state between tokens.
	f := ebnfFixture(t, `root ::= [→]`,
		[]string{"\xe2\x86", "\x92", "x", "</s>"}, matcher.Options{})

	assert.Equal([]string{"\xe2\x86"}, f.admitted(t))
	assert.True(f.m.AcceptToken(f.id(t, "\xe2\x86")))
	assert.Equal([]string{"\x92"}, f.admitted(t))
	assert.True(f.m.AcceptToken(f.id(t, "\x92")))
	assert.Equal([]string{"</s>"}, f.admitted(t))
}

func TestRollback(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	f := ebnfFixture(t, `root ::= "a" "b"*`,
		[]string{"a", "b", "ab", "bb", "c", "</s>"}, matcher.Options{})

	require.True(f.m.AcceptToken(f.id(t, "a")))
	afterA := f.admitted(t)
	require.True(f.m.AcceptToken(f.id(t, "b")))
	afterB := f.admitted(t)

	require.NoError(f.m.Rollback(1))
	assert.Equal(afterA, f.admitted(t))

	require.True(f.m.AcceptToken(f.id(t, "b")))
	assert.Equal(afterB, f.admitted(t))

	// Rolling back everything restores the initial state.
	require.NoError(f.m.Rollback(2))
	assert.Equal([]string{"a", "ab"}, f.admitted(t))

	assert.ErrorIs(f.m.Rollback(1), matcher.ErrRollbackDepth)
	assert.ErrorIs(f.m.Rollback(-1), matcher.ErrRollbackDepth)
	assert.NoError(f.m.Rollback(0))
}

func TestRollbackAcrossTermination(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	f := ebnfFixture(t, `root ::= "a"`, []string{"a", "</s>"}, matcher.Options{})
	require.True(f.m.AcceptToken(f.id(t, "a")))
	require.True(f.m.AcceptToken(f.id(t, "</s>")))
	require.True(f.m.IsTerminated())

	require.NoError(f.m.Rollback(1))
	assert.False(f.m.IsTerminated())
	assert.Equal([]string{"</s>"}, f.admitted(t))
}

func TestRollbackLimit(t *testing.T) {
	t.Parallel()

	f := ebnfFixture(t, `root ::= "a"+`, []string{"a", "</s>"}, matcher.Options{
		MaxRollbackTokens: 1,
	})
	require.True(t, f.m.AcceptToken(f.id(t, "a")))
	require.True(t, f.m.AcceptToken(f.id(t, "a")))
	assert.ErrorIs(t, f.m.Rollback(2), matcher.ErrRollbackDepth)
	assert.NoError(t, f.m.Rollback(1))
}

func TestAcceptStringIsOneRollbackStep(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	f := ebnfFixture(t, `root ::= [a-z]*`, []string{"a", "z", "</s>"}, matcher.Options{})
	initial := f.admitted(t)

	require.True(f.m.AcceptString("hello"))
	require.NoError(f.m.Rollback(1))
	assert.Equal(initial, f.admitted(t))
}

func TestReset(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	f := ebnfFixture(t, `root ::= "a" "b"`, []string{"a", "b", "</s>"}, matcher.Options{})
	initial := f.admitted(t)

	assert.True(f.m.AcceptToken(f.id(t, "a")))
	f.m.Reset()
	assert.Equal(initial, f.admitted(t))
	assert.ErrorIs(f.m.Rollback(1), matcher.ErrRollbackDepth)
}

func TestFindJumpForwardString(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	f := ebnfFixture(t, `root ::= "hello" [a-z]`, []string{"h", "e", "l", "o", "</s>"}, matcher.Options{})
	assert.Equal("hello", f.m.FindJumpForwardString())

	require.True(t, f.m.AcceptString("hel"))
	assert.Equal("lo", f.m.FindJumpForwardString())
}

func TestFindJumpForwardStopsAtChoice(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	// The shared prefix is forced; the optional continuation is not,
	// because stopping is already legal at "ab".
	f := ebnfFixture(t, `root ::= "ab" | "abc"`, []string{"a", "b", "c", "</s>"}, matcher.Options{})
	assert.Equal("ab", f.m.FindJumpForwardString())

	g := ebnfFixture(t, `root ::= "x" ("p" | "q")`, []string{"x", "p", "q", "</s>"}, matcher.Options{})
	assert.Equal("x", g.m.FindJumpForwardString())
}

func TestFindJumpForwardMultibyte(t *testing.T) {
	t.Parallel()

	f := ebnfFixture(t, `root ::= "→"`, []string{"x", "</s>"}, matcher.Options{})
	assert.Equal(t, "→", f.m.FindJumpForwardString())
}

func TestMaskMatchesAcceptToken(t *testing.T) {
	t.Parallel()

	// The bitmask and AcceptToken must agree on every token, including
	// ones that span grammar structure.
	f := ebnfFixture(t, `root ::= "a" ("bc" | "bd")* "e"`,
		[]string{"a", "b", "c", "d", "e", "bc", "bd", "ab", "abc", "ce", "cbde", "x", "</s>"},
		matcher.Options{})

	require.True(t, f.m.AcceptString("abc"))
	mask := bitmask.New(f.info.VocabSize())
	_, err := f.m.FillNextTokenBitmask(mask)
	require.NoError(t, err)

	for i := range f.vocab {
		id := int32(i)
		probe := matcher.NewMatcher(f.cg, matcher.Options{})
		require.True(t, probe.AcceptString("abc"))
		assert.Equal(t, mask.IsSet(id), probe.AcceptToken(id), "token %q", f.vocab[i])
	}
}

func TestBitmaskSizeMismatch(t *testing.T) {
	t.Parallel()

	f := ebnfFixture(t, `root ::= "a"`, []string{"a", "</s>"}, matcher.Options{})
	_, err := f.m.FillNextTokenBitmask(bitmask.New(3))
	assert.Error(t, err)
}

func TestPaddedVocabNeverAdmitted(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	info := tokenizer.New([]string{"a", "</s>"}, tokenizer.VocabRaw, 5, nil, false)
	g, err := parser.ParseEBNF(`root ::= "a"`, "")
	require.NoError(t, err)
	cg, err := automaton.Compile(g, info)
	require.NoError(t, err)
	m := matcher.NewMatcher(cg, matcher.Options{})

	mask := bitmask.New(5)
	need, err := m.FillNextTokenBitmask(mask)
	require.NoError(t, err)
	assert.True(need)
	for id := int32(2); id < 5; id++ {
		assert.False(mask.IsSet(id))
	}
	assert.False(m.AcceptToken(3))
}

func TestIntegerSchemaNegativeZero(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	g, err := grammar.FromJSONSchema([]byte(`{"type": "integer"}`), grammar.DefaultSchemaOptions())
	require.NoError(err)
	f := newFixture(t, g, []string{"-", "0", "1", "</s>"}, matcher.Options{})

	assert.False(f.m.AcceptString("-01"))
	require.True(f.m.AcceptString("-0"))
	// "-0" is a complete integer; only the stop token may follow.
	assert.Equal([]string{"</s>"}, f.admitted(t))
	assert.True(f.m.AcceptToken(f.id(t, "</s>")))
}
