package gramgate

import (
	"github.com/gramgate/gramgate/automaton"
	"github.com/gramgate/gramgate/grammar"
	"github.com/gramgate/gramgate/parser"
	"github.com/gramgate/gramgate/tokenizer"
)

// FromEBNF parses a GBNF grammar text. rootRule names the start rule;
// empty means "root".
func FromEBNF(src, rootRule string) (*grammar.Grammar, error) {
	return parser.ParseEBNF(src, rootRule)
}

// FromRegex converts a regular expression into a grammar matching it in
// full.
func FromRegex(pattern string) (*grammar.Grammar, error) {
	return parser.ParseRegex(pattern)
}

// FromJSONSchema converts a JSON Schema document into a grammar.
func FromJSONSchema(schema []byte, opts grammar.SchemaOptions) (*grammar.Grammar, error) {
	return grammar.FromJSONSchema(schema, opts)
}

// FromStructuralTag parses and converts a structural-tag document.
func FromStructuralTag(data []byte) (*grammar.Grammar, error) {
	st, err := grammar.ParseStructuralTag(data)
	if err != nil {
		return nil, err
	}
	return grammar.FromStructuralTag(st)
}

// BuiltinJSON returns the permissive grammar matching any JSON value.
func BuiltinJSON() *grammar.Grammar {
	return grammar.BuiltinJSON()
}

// DeserializeCompiledGrammar reconstructs a compiled grammar serialized
// with CompiledGrammar.SerializeJSON. tok must describe the vocabulary
// the grammar was compiled against.
func DeserializeCompiledGrammar(data []byte, tok *tokenizer.TokenizerInfo) (*automaton.CompiledGrammar, error) {
	return automaton.Deserialize(data, tok)
}
