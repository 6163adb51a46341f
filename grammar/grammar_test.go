package grammar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		rules []Rule
		root  string
		want  string
	}{
		{
			name:  "duplicate rule",
			rules: []Rule{{Name: "a", Body: Literal("x")}, {Name: "a", Body: Literal("y")}},
			root:  "a",
			want:  "duplicate",
		},
		{
			name:  "undefined root",
			rules: []Rule{{Name: "a", Body: Literal("x")}},
			root:  "b",
			want:  "root",
		},
		{
			name:  "undefined reference",
			rules: []Rule{{Name: "a", Body: Ref("missing")}},
			root:  "a",
			want:  "missing",
		},
		{
			name:  "inverted repetition bounds",
			rules: []Rule{{Name: "a", Body: Repeat(Literal("x"), 3, 2)}},
			root:  "a",
			want:  "repetition",
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.rules, tc.root)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRuleAccessors(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	g := MustNew([]Rule{
		{Name: "root", Body: Seq(Literal("a"), Ref("tail"))},
		{Name: "tail", Body: ZeroOrMore(Literal("b"))},
	}, "root")

	assert.Equal("root", g.Root())
	assert.Equal(2, g.NumRules())
	assert.Equal("tail", g.RuleAt(1).Name)

	r, ok := g.Rule("tail")
	assert.True(ok)
	assert.Equal("tail", r.Name)

	_, ok = g.Rule("nope")
	assert.False(ok)

	i, ok := g.RuleIndex("root")
	assert.True(ok)
	assert.Equal(0, i)
}

func TestString(t *testing.T) {
	t.Parallel()

	g := MustNew([]Rule{
		{Name: "root", Body: Seq(Literal("a"), Choice(Ref("x"), Literal("b\n")))},
		{Name: "x", Body: Repeat(Class([]RuneRange{{Lo: '0', Hi: '9'}}, false), 1, 3)},
	}, "root")

	want := "root ::= \"a\" (x | \"b\\n\")\nx ::= [0-9]{1,3}\n"
	assert.Equal(t, want, g.String())
}

func TestConcatUnion(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	a := MustNew([]Rule{{Name: "root", Body: Literal("a")}}, "root")
	b := MustNew([]Rule{{Name: "root", Body: Literal("b")}}, "root")

	cat, err := Concat(a, b)
	require.NoError(err)
	// A fresh root plus both namespaced originals.
	assert.Equal(3, cat.NumRules())
	assert.Equal("root", cat.Root())

	uni, err := Union(a, b)
	require.NoError(err)
	assert.Equal(3, uni.NumRules())

	root, ok := uni.Rule("root")
	require.True(ok)
	assert.Equal(KindChoice, root.Body.Kind)
}

func TestTagDispatchOnlyAtRoot(t *testing.T) {
	t.Parallel()

	dispatch := &Expr{
		Kind:     KindTagDispatch,
		Dispatch: []DispatchEntry{{Trigger: "<t>", Rule: "tag"}},
	}
	_, err := New([]Rule{
		{Name: "root", Body: Seq(Literal("x"), dispatch)},
		{Name: "tag", Body: Literal("y")},
	}, "root")
	require.Error(t, err)

	var re *RuleError
	assert.True(t, errors.As(err, &re))
}
