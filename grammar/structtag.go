package grammar

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StructuralTag describes generation that is freeform until one of the
// trigger strings is produced, then constrained by the matching tag until
// its end string, then freeform again.
type StructuralTag struct {
	// Trigger strings scanned for in the freeform region. No trigger may
	// be a prefix of another.
	Triggers []string
	// The tagged regions. Every tag's begin string must extend exactly one
	// trigger.
	Tags []TagItem
	// Whether an end-of-sequence token is admissible in the freeform
	// region.
	StopEOS bool
	// Whether generation returns to the freeform region after a tag
	// completes.
	LoopAfterDispatch bool
}

// TagItem is one tagged region: a begin string, the constraint for the
// region's content, and a literal end string.
type TagItem struct {
	Begin string
	// Exactly one of Schema and Grammar constrains the content between the
	// begin and end strings.
	Schema  json.RawMessage
	Grammar *Grammar
	End     string
}

type structuralTagJSON struct {
	Type   string         `json:"type"`
	Format *tagFormatJSON `json:"format"`
}

type tagFormatJSON struct {
	Type     string        `json:"type"`
	Triggers []string      `json:"triggers"`
	Tags     []tagItemJSON `json:"tags"`
	StopEOS  *bool         `json:"stop_eos"`
	Loop     *bool         `json:"loop_after_dispatch"`
}

type tagItemJSON struct {
	Type    string          `json:"type"`
	Begin   string          `json:"begin"`
	Content *tagContentJSON `json:"content"`
	End     string          `json:"end"`
}

type tagContentJSON struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema"`
}

// legacyTagJSON is the deprecated two-list form: top-level "tags" and
// "triggers" arrays, each tag carrying its schema inline. It is normalized
// into the canonical StructuralTag before compilation.
type legacyTagJSON struct {
	Tags []struct {
		Begin  string          `json:"begin"`
		Schema json.RawMessage `json:"schema"`
		End    string          `json:"end"`
	} `json:"tags"`
	Triggers []string `json:"triggers"`
}

// ParseStructuralTag decodes a structural tag JSON document, accepting both
// the canonical "structural_tag" form and the legacy two-list form, and
// validates the result.
func ParseStructuralTag(data []byte) (*StructuralTag, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	var st *StructuralTag
	var err error
	if _, hasType := probe["type"]; hasType {
		st, err = parseCanonicalTag(data)
	} else {
		st, err = parseLegacyTag(data)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}

func parseCanonicalTag(data []byte) (*StructuralTag, error) {
	var doc structuralTagJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructuralTag, err)
	}
	if doc.Type != "structural_tag" {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrInvalidStructuralTag, doc.Type)
	}
	if doc.Format == nil || doc.Format.Type != "triggered_tags" {
		return nil, fmt.Errorf("%w: format must have type \"triggered_tags\"", ErrInvalidStructuralTag)
	}
	st := &StructuralTag{
		Triggers:          doc.Format.Triggers,
		StopEOS:           true,
		LoopAfterDispatch: true,
	}
	if doc.Format.StopEOS != nil {
		st.StopEOS = *doc.Format.StopEOS
	}
	if doc.Format.Loop != nil {
		st.LoopAfterDispatch = *doc.Format.Loop
	}
	for i, tag := range doc.Format.Tags {
		if tag.Type != "tag" {
			return nil, fmt.Errorf("%w: tag %d: unexpected type %q", ErrInvalidStructuralTag, i, tag.Type)
		}
		if tag.Content == nil || tag.Content.Type != "json_schema" {
			return nil, fmt.Errorf("%w: tag %d: content must have type \"json_schema\"", ErrInvalidStructuralTag, i)
		}
		st.Tags = append(st.Tags, TagItem{
			Begin:  tag.Begin,
			Schema: tag.Content.JSONSchema,
			End:    tag.End,
		})
	}
	return st, nil
}

func parseLegacyTag(data []byte) (*StructuralTag, error) {
	var doc legacyTagJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructuralTag, err)
	}
	st := &StructuralTag{
		Triggers:          doc.Triggers,
		StopEOS:           true,
		LoopAfterDispatch: true,
	}
	for _, tag := range doc.Tags {
		st.Tags = append(st.Tags, TagItem{Begin: tag.Begin, Schema: tag.Schema, End: tag.End})
	}
	return st, nil
}

// Validate checks the structural tag's invariants: non-empty, non-prefix
// triggers; every tag non-empty and reachable from exactly one trigger;
// every trigger dispatching to at least one tag.
func (st *StructuralTag) Validate() error {
	for i, t := range st.Triggers {
		if t == "" {
			return fmt.Errorf("%w: empty trigger", ErrInvalidStructuralTag)
		}
		for j, u := range st.Triggers {
			if i != j && strings.HasPrefix(u, t) {
				return fmt.Errorf("%w: trigger %q overlaps trigger %q", ErrInvalidStructuralTag, t, u)
			}
		}
	}
	used := make([]bool, len(st.Triggers))
	for _, tag := range st.Tags {
		if tag.Begin == "" {
			return fmt.Errorf("%w: tag with empty begin string", ErrInvalidStructuralTag)
		}
		if tag.Schema == nil && tag.Grammar == nil {
			return fmt.Errorf("%w: tag %q has no content constraint", ErrInvalidStructuralTag, tag.Begin)
		}
		found := false
		for i, t := range st.Triggers {
			if strings.HasPrefix(tag.Begin, t) {
				found = true
				used[i] = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: tag begin %q matches no trigger", ErrInvalidStructuralTag, tag.Begin)
		}
	}
	for i, u := range used {
		if !u && len(st.Tags) > 0 {
			return fmt.Errorf("%w: trigger %q dispatches to no tag", ErrInvalidStructuralTag, st.Triggers[i])
		}
	}
	return nil
}

// FromStructuralTag builds the dispatch grammar for a structural tag: one
// rule per trigger covering the tags it dispatches to, under a TagDispatch
// root.
func FromStructuralTag(st *StructuralTag) (*Grammar, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	var rules []Rule
	var entries []DispatchEntry
	for i, trigger := range st.Triggers {
		var alts []*Expr
		for j, tag := range st.Tags {
			if !strings.HasPrefix(tag.Begin, trigger) {
				continue
			}
			content, contentRules, err := tagContent(tag, fmt.Sprintf("tag_%d_%d", i, j))
			if err != nil {
				return nil, err
			}
			rules = append(rules, contentRules...)
			alts = append(alts, Seq(
				Literal(tag.Begin[len(trigger):]),
				content,
				Literal(tag.End),
			))
		}
		if len(alts) == 0 {
			continue
		}
		name := fmt.Sprintf("trigger_rule_%d", i)
		rules = append(rules, Rule{Name: name, Body: Choice(alts...)})
		entries = append(entries, DispatchEntry{Trigger: trigger, Rule: name})
	}
	root := Rule{Name: "root", Body: &Expr{
		Kind:              KindTagDispatch,
		Dispatch:          entries,
		StopEOS:           st.StopEOS,
		LoopAfterDispatch: st.LoopAfterDispatch,
	}}
	g, err := New(append([]Rule{root}, rules...), "root")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructuralTag, err)
	}
	return g, nil
}

// tagContent translates one tag's content constraint into an expression,
// importing the content grammar's rules under a private namespace.
func tagContent(tag TagItem, ns string) (*Expr, []Rule, error) {
	var sub *Grammar
	var err error
	switch {
	case tag.Grammar != nil:
		sub = tag.Grammar
	default:
		sub, err = FromJSONSchema(tag.Schema, DefaultSchemaOptions())
		if err != nil {
			return nil, nil, err
		}
	}
	mapping := make(map[string]string, sub.NumRules())
	for i := 0; i < sub.NumRules(); i++ {
		name := sub.RuleAt(i).Name
		mapping[name] = ns + "_" + name
	}
	rules := make([]Rule, 0, sub.NumRules())
	for i := 0; i < sub.NumRules(); i++ {
		r := sub.RuleAt(i)
		body := r.Body.rename(mapping)
		if body.Kind == KindTagDispatch {
			return nil, nil, fmt.Errorf("%w: tag content cannot itself be a tag dispatch", ErrInvalidStructuralTag)
		}
		rules = append(rules, Rule{Name: mapping[r.Name], Body: body})
	}
	return Ref(mapping[sub.Root()]), rules, nil
}
