package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramgate/gramgate/grammar"
)

func TestParseSimpleGrammar(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	g, err := ParseEBNF(`
# a then b, repeated
root ::= "b" a "b"
a ::= "a"
`, "")
	require.NoError(err)
	assert.Equal(2, g.NumRules())
	assert.Equal("root", g.Root())

	root, ok := g.Rule("root")
	require.True(ok)
	assert.Equal(grammar.KindSequence, root.Body.Kind)
}

func TestParseCustomRoot(t *testing.T) {
	t.Parallel()

	g, err := ParseEBNF(`start ::= [0-9]+`, "start")
	require.NoError(t, err)
	assert.Equal(t, "start", g.Root())
}

func TestParseMultilineRule(t *testing.T) {
	t.Parallel()

	// A rule body continues across lines until the next `name ::=`.
	g, err := ParseEBNF(`
root ::= "x"
       | "y"
       | other
other ::= "z"
`, "")
	require.NoError(t, err)
	root, ok := g.Rule("root")
	require.True(t, ok)
	assert.Equal(t, grammar.KindChoice, root.Body.Kind)
	assert.Len(t, root.Body.Items, 3)
}

func TestParseRepetition(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	g, err := ParseEBNF(`root ::= "a"{2,3} "b"{4} "c"{1,} "d"? "e"* "f"+`, "")
	require.NoError(err)
	root, _ := g.Rule("root")
	require.Equal(grammar.KindSequence, root.Body.Kind)
	require.Len(root.Body.Items, 6)

	bounds := [][2]int{{2, 3}, {4, 4}, {1, -1}, {0, 1}, {0, -1}, {1, -1}}
	for i, item := range root.Body.Items {
		require.Equal(grammar.KindRepeat, item.Kind, "item %d", i)
		assert.Equal(bounds[i][0], item.Min, "item %d min", i)
		assert.Equal(bounds[i][1], item.Max, "item %d max", i)
	}
}

func TestParseEscapes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	g, err := ParseEBNF(`root ::= "\n\t\"\\" "A" "\xff"`, "")
	require.NoError(err)
	root, _ := g.Rule("root")
	require.Equal(grammar.KindSequence, root.Body.Kind)
	assert.Equal([]byte("\n\t\"\\"), root.Body.Items[0].Bytes)
	assert.Equal([]byte("A"), root.Body.Items[1].Bytes)
	// \xNN is a raw byte, not a code point.
	assert.Equal([]byte{0xff}, root.Body.Items[2].Bytes)
}

func TestParseUTF8Literal(t *testing.T) {
	t.Parallel()

	g, err := ParseEBNF(`root ::= "款" [あ-ん]`, "")
	require.NoError(t, err)
	root, _ := g.Rule("root")
	assert.Equal(t, []byte("款"), root.Body.Items[0].Bytes)
	assert.Equal(t, grammar.KindCharClass, root.Body.Items[1].Kind)
}

func TestParseCharClass(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	g, err := ParseEBNF(`root ::= [^a-z_-]`, "")
	require.NoError(err)
	root, _ := g.Rule("root")
	require.Equal(grammar.KindCharClass, root.Body.Kind)
	assert.True(root.Body.Negated)
	assert.Equal([]grammar.RuneRange{{Lo: 'a', Hi: 'z'}, {Lo: '_', Hi: '_'}, {Lo: '-', Hi: '-'}}, root.Body.Ranges)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"unterminated string", `root ::= "abc`},
		{"unterminated class", `root ::= [a-z`},
		{"missing define", `root "a"`},
		{"undefined rule", `root ::= ghost`},
		{"bad bounds", `root ::= "a"{3,2}`},
		{"dangling pipe", `root ::= "a" |`},
		{"pipe before next rule", "root ::= \"a\" |\nnext ::= \"b\""},
		{"leading pipe", `root ::= | "a"`},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseEBNF(tc.src, "")
			assert.Error(t, err)
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	t.Parallel()

	_, err := ParseEBNF("root ::= \"ok\"\nbad ::= @", "")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Pos.Line)
}

func TestParseRegex(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	g, err := ParseRegex(`[a-c]+x?`)
	require.NoError(err)
	root, _ := g.Rule("root")
	require.Equal(grammar.KindSequence, root.Body.Kind)
	require.Len(root.Body.Items, 2)
	assert.Equal(grammar.KindRepeat, root.Body.Items[0].Kind)
	assert.Equal(1, root.Body.Items[0].Min)
	assert.Equal(-1, root.Body.Items[0].Max)
}

func TestParseRegexShorthand(t *testing.T) {
	t.Parallel()

	g, err := ParseRegex(`\d{2,4}(?:px|em)`)
	require.NoError(t, err)
	root, _ := g.Rule("root")
	require.Equal(t, grammar.KindSequence, root.Body.Kind)
	assert.Equal(t, grammar.KindRepeat, root.Body.Items[0].Kind)
	assert.Equal(t, grammar.KindChoice, root.Body.Items[1].Kind)
}

func TestParseRegexAnchorsDropped(t *testing.T) {
	t.Parallel()

	g, err := ParseRegex(`^abc$`)
	require.NoError(t, err)
	root, _ := g.Rule("root")
	require.Equal(t, grammar.KindSequence, root.Body.Kind)
	require.Len(t, root.Body.Items, 3)
	assert.Equal(t, []byte("a"), root.Body.Items[0].Bytes)
}

func TestParseRegexRejectsBackrefs(t *testing.T) {
	t.Parallel()

	_, err := ParseRegex(`(a)\1`)
	assert.Error(t, err)

	_, err = ParseRegex(`(?=x)`)
	assert.Error(t, err)
}

func TestParseEmptyAlternative(t *testing.T) {
	t.Parallel()

	g, err := ParseEBNF(`root ::= "a" | ""`, "")
	require.NoError(t, err)
	root, _ := g.Rule("root")
	assert.Equal(t, grammar.KindChoice, root.Body.Kind)
}
