package grammar

import (
	"errors"
	"fmt"
)

// ErrInvalidJSON is returned when an input document that is expected to be
// JSON (a JSON schema, a structural tag, or a serialized grammar) cannot be
// parsed as JSON at all.
var ErrInvalidJSON = errors.New("invalid JSON")

// ErrInvalidStructuralTag is returned when a structural tag document is
// syntactically valid JSON but violates a domain invariant, such as
// overlapping triggers or a tag whose begin string matches no trigger.
var ErrInvalidStructuralTag = errors.New("invalid structural tag")

// ErrInvalidSchema is returned when a JSON schema document is syntactically
// valid JSON but cannot be translated into a grammar.
var ErrInvalidSchema = errors.New("invalid JSON schema")

// ErrDeserializeFormat is returned when a serialized grammar or compiled
// grammar payload does not have the expected shape.
var ErrDeserializeFormat = errors.New("deserialize format error")

// ErrDeserializeVersion is returned when a serialized payload carries a
// version tag that this package does not understand. It is distinct from
// ErrDeserializeFormat: the payload is likely well-formed, just produced by
// an older or newer release.
var ErrDeserializeVersion = errors.New("deserialize version error")

// RuleError is an error about a specific rule in a grammar, such as a
// reference to an undefined rule or an unsatisfiable repetition bound.
type RuleError struct {
	// The name of the offending rule.
	Rule string
	// The underlying problem.
	Err error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

func ruleErrorf(rule, format string, args ...any) *RuleError {
	return &RuleError{Rule: rule, Err: fmt.Errorf(format, args...)}
}
