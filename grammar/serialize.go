package grammar

import (
	"encoding/json"
	"fmt"
)

// SerializeVersion is the version tag written into every serialized grammar
// payload. Deserialization rejects payloads with any other tag.
const SerializeVersion = "v1"

type grammarJSON struct {
	Version string     `json:"__VERSION__"`
	Rules   []ruleJSON `json:"rules"`
	Root    string     `json:"root"`
}

type ruleJSON struct {
	Name string    `json:"name"`
	Body *exprJSON `json:"body"`
}

type exprJSON struct {
	Kind    string         `json:"kind"`
	Bytes   []byte         `json:"bytes,omitempty"`
	Ranges  [][2]rune      `json:"ranges,omitempty"`
	Negated bool           `json:"negated,omitempty"`
	Items   []*exprJSON    `json:"items,omitempty"`
	Inner   *exprJSON      `json:"inner,omitempty"`
	Min     int            `json:"min,omitempty"`
	Max     int            `json:"max,omitempty"`
	Ref     string         `json:"ref,omitempty"`
	Entries []dispatchJSON `json:"entries,omitempty"`
	StopEOS bool           `json:"stop_eos,omitempty"`
	Loop    bool           `json:"loop_after_dispatch,omitempty"`
}

type dispatchJSON struct {
	Trigger string `json:"trigger"`
	Rule    string `json:"rule"`
}

var kindNames = map[ExprKind]string{
	KindEmpty:       "empty",
	KindBytes:       "bytes",
	KindCharClass:   "char_class",
	KindSequence:    "sequence",
	KindChoice:      "choice",
	KindRepeat:      "repeat",
	KindRuleRef:     "rule_ref",
	KindTagDispatch: "tag_dispatch",
}

var kindValues = func() map[string]ExprKind {
	m := make(map[string]ExprKind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

// SerializeJSON renders the grammar as a versioned JSON document.
func (g *Grammar) SerializeJSON() ([]byte, error) {
	doc := grammarJSON{Version: SerializeVersion, Root: g.Root()}
	doc.Rules = make([]ruleJSON, len(g.rules))
	for i, r := range g.rules {
		doc.Rules[i] = ruleJSON{Name: r.Name, Body: exprToJSON(r.Body)}
	}
	return json.Marshal(doc)
}

// DeserializeJSON reconstructs a grammar from the output of SerializeJSON.
// The version tag is validated before the payload is interpreted.
func DeserializeJSON(data []byte) (*Grammar, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	versionRaw, ok := raw["__VERSION__"]
	if !ok {
		return nil, fmt.Errorf("%w: missing __VERSION__ field", ErrDeserializeFormat)
	}
	var version string
	if err := json.Unmarshal(versionRaw, &version); err != nil {
		return nil, fmt.Errorf("%w: malformed __VERSION__ field", ErrDeserializeFormat)
	}
	if version != SerializeVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrDeserializeVersion, version, SerializeVersion)
	}
	var doc grammarJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeFormat, err)
	}
	rules := make([]Rule, len(doc.Rules))
	for i, r := range doc.Rules {
		body, err := exprFromJSON(r.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrDeserializeFormat, r.Name, err)
		}
		rules[i] = Rule{Name: r.Name, Body: body}
	}
	g, err := New(rules, doc.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeFormat, err)
	}
	return g, nil
}

func exprToJSON(e *Expr) *exprJSON {
	if e == nil {
		return nil
	}
	out := &exprJSON{
		Kind:    kindNames[e.Kind],
		Bytes:   e.Bytes,
		Negated: e.Negated,
		Min:     e.Min,
		Max:     e.Max,
		Ref:     e.Ref,
		Inner:   exprToJSON(e.Inner),
		StopEOS: e.StopEOS,
		Loop:    e.LoopAfterDispatch,
	}
	for _, rr := range e.Ranges {
		out.Ranges = append(out.Ranges, [2]rune{rr.Lo, rr.Hi})
	}
	for _, item := range e.Items {
		out.Items = append(out.Items, exprToJSON(item))
	}
	for _, d := range e.Dispatch {
		out.Entries = append(out.Entries, dispatchJSON{Trigger: d.Trigger, Rule: d.Rule})
	}
	return out
}

func exprFromJSON(e *exprJSON) (*Expr, error) {
	if e == nil {
		return nil, fmt.Errorf("missing expression")
	}
	kind, ok := kindValues[e.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown expression kind %q", e.Kind)
	}
	out := &Expr{
		Kind:              kind,
		Bytes:             e.Bytes,
		Negated:           e.Negated,
		Min:               e.Min,
		Max:               e.Max,
		Ref:               e.Ref,
		StopEOS:           e.StopEOS,
		LoopAfterDispatch: e.Loop,
	}
	for _, rr := range e.Ranges {
		out.Ranges = append(out.Ranges, RuneRange{Lo: rr[0], Hi: rr[1]})
	}
	for _, item := range e.Items {
		sub, err := exprFromJSON(item)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, sub)
	}
	if e.Inner != nil {
		inner, err := exprFromJSON(e.Inner)
		if err != nil {
			return nil, err
		}
		out.Inner = inner
	}
	for _, d := range e.Entries {
		out.Dispatch = append(out.Dispatch, DispatchEntry{Trigger: d.Trigger, Rule: d.Rule})
	}
	return out, nil
}
