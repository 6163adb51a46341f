package grammar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const canonicalTagDoc = `{
	"type": "structural_tag",
	"format": {
		"type": "triggered_tags",
		"triggers": ["<tool>"],
		"tags": [{
			"type": "tag",
			"begin": "<tool>",
			"content": {"type": "json_schema", "json_schema": {"type": "boolean"}},
			"end": "</tool>"
		}]
	}
}`

func TestParseCanonicalTag(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	st, err := ParseStructuralTag([]byte(canonicalTagDoc))
	require.NoError(err)
	assert.Equal([]string{"<tool>"}, st.Triggers)
	require.Len(st.Tags, 1)
	assert.Equal("<tool>", st.Tags[0].Begin)
	assert.Equal("</tool>", st.Tags[0].End)
	assert.True(st.StopEOS)
	assert.True(st.LoopAfterDispatch)
}

func TestParseLegacyTag(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	doc := `{
		"tags": [{"begin": "<f1>", "schema": {"type": "null"}, "end": "</f1>"}],
		"triggers": ["<f"]
	}`
	st, err := ParseStructuralTag([]byte(doc))
	require.NoError(err)
	assert.Equal([]string{"<f"}, st.Triggers)
	require.Len(st.Tags, 1)
	assert.Equal("<f1>", st.Tags[0].Begin)
}

func TestParseTagFlags(t *testing.T) {
	t.Parallel()

	doc := `{
		"type": "structural_tag",
		"format": {
			"type": "triggered_tags",
			"triggers": ["<t>"],
			"tags": [{"type": "tag", "begin": "<t>", "content": {"type": "json_schema", "json_schema": true}, "end": "</t>"}],
			"stop_eos": false,
			"loop_after_dispatch": false
		}
	}`
	st, err := ParseStructuralTag([]byte(doc))
	require.NoError(t, err)
	assert.False(t, st.StopEOS)
	assert.False(t, st.LoopAfterDispatch)
}

func TestTagValidation(t *testing.T) {
	t.Parallel()

	schema := []byte(`{"type":"null"}`)
	testCases := []struct {
		name string
		st   StructuralTag
	}{
		{
			name: "empty trigger",
			st: StructuralTag{
				Triggers: []string{""},
				Tags:     []TagItem{{Begin: "x", Schema: schema, End: "y"}},
			},
		},
		{
			name: "prefix triggers",
			st: StructuralTag{
				Triggers: []string{"<a>", "<a"},
				Tags: []TagItem{
					{Begin: "<a>", Schema: schema, End: "</a>"},
					{Begin: "<ab>", Schema: schema, End: "</ab>"},
				},
			},
		},
		{
			name: "tag without content",
			st: StructuralTag{
				Triggers: []string{"<a>"},
				Tags:     []TagItem{{Begin: "<a>", End: "</a>"}},
			},
		},
		{
			name: "begin matches no trigger",
			st: StructuralTag{
				Triggers: []string{"<a>"},
				Tags:     []TagItem{{Begin: "<b>", Schema: schema, End: "</b>"}},
			},
		},
		{
			name: "unused trigger",
			st: StructuralTag{
				Triggers: []string{"<a>", "<b>"},
				Tags:     []TagItem{{Begin: "<a>", Schema: schema, End: "</a>"}},
			},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.st.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidStructuralTag))
		})
	}
}

func TestFromStructuralTag(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	st, err := ParseStructuralTag([]byte(canonicalTagDoc))
	require.NoError(err)

	g, err := FromStructuralTag(st)
	require.NoError(err)

	root, ok := g.Rule("root")
	require.True(ok)
	require.Equal(KindTagDispatch, root.Body.Kind)
	require.Len(root.Body.Dispatch, 1)
	assert.Equal("<tool>", root.Body.Dispatch[0].Trigger)

	// The trigger rule and the namespaced content rules exist.
	_, ok = g.Rule("trigger_rule_0")
	assert.True(ok)
}

func TestFromStructuralTagWithGrammarContent(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	inner := MustNew([]Rule{{Name: "root", Body: Literal("yes")}}, "root")
	st := &StructuralTag{
		Triggers:          []string{"<y>"},
		Tags:              []TagItem{{Begin: "<y>", Grammar: inner, End: "</y>"}},
		StopEOS:           true,
		LoopAfterDispatch: true,
	}
	g, err := FromStructuralTag(st)
	require.NoError(err)
	_, ok := g.Rule("tag_0_0_root")
	require.True(ok)
}
