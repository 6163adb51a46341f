package automaton

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gramgate/gramgate/grammar"
	"github.com/gramgate/gramgate/tokenizer"
)

// ErrTokenizerMismatch is returned when a serialized compiled grammar is
// deserialized against a tokenizer other than the one it was compiled
// with.
var ErrTokenizerMismatch = errors.New("compiled grammar was built for a different tokenizer")

// compiledJSON carries the grammar plus enough tokenizer metadata to
// verify the pairing on load. The vocabulary itself is not serialized; the
// caller supplies the tokenizer and the lowered form is rebuilt, which is
// deterministic.
type compiledJSON struct {
	Version              string          `json:"__VERSION__"`
	Grammar              json.RawMessage `json:"grammar"`
	TokenizerFingerprint string          `json:"tokenizer_fingerprint"`
	TokenizerMetadata    json.RawMessage `json:"tokenizer_metadata"`
}

// SerializeJSON encodes the compiled grammar without its vocabulary
// tables.
func (cg *CompiledGrammar) SerializeJSON() ([]byte, error) {
	gdoc, err := cg.grammar.SerializeJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(compiledJSON{
		Version:              grammar.SerializeVersion,
		Grammar:              gdoc,
		TokenizerFingerprint: fmt.Sprintf("%016x", cg.tok.Fingerprint()),
		TokenizerMetadata:    json.RawMessage(cg.tok.DumpMetadata()),
	})
}

// Deserialize reconstructs a compiled grammar from SerializeJSON output.
// tok must describe the same vocabulary the grammar was serialized with;
// the stored fingerprint is checked before any compilation work happens.
func Deserialize(data []byte, tok *tokenizer.TokenizerInfo) (*CompiledGrammar, error) {
	return DeserializeWithTrie(data, tok, nil)
}

// DeserializeWithTrie is Deserialize with a prebuilt token trie for tok.
func DeserializeWithTrie(data []byte, tok *tokenizer.TokenizerInfo, trie *TokenTrie) (*CompiledGrammar, error) {
	var doc compiledJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", grammar.ErrInvalidJSON, err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("%w: missing __VERSION__ field", grammar.ErrDeserializeFormat)
	}
	if doc.Version != grammar.SerializeVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", grammar.ErrDeserializeVersion, doc.Version, grammar.SerializeVersion)
	}
	if doc.Grammar == nil {
		return nil, fmt.Errorf("%w: missing grammar", grammar.ErrDeserializeFormat)
	}
	want := fmt.Sprintf("%016x", tok.Fingerprint())
	if doc.TokenizerFingerprint != want {
		return nil, fmt.Errorf("%w: fingerprint %s, tokenizer has %s",
			ErrTokenizerMismatch, doc.TokenizerFingerprint, want)
	}
	g, err := grammar.DeserializeJSON(doc.Grammar)
	if err != nil {
		return nil, err
	}
	return CompileWithTrie(g, tok, trie)
}
