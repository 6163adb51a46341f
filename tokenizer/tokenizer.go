// Package tokenizer describes the vocabulary a grammar is compiled
// against: the byte sequence behind every token id, which encoding that
// table uses, and which ids are stop or special tokens.
package tokenizer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/gramgate/gramgate/grammar"
)

// VocabType classifies how the vocabulary's token strings encode bytes.
type VocabType int

const (
	// VocabRaw tokens are raw byte strings.
	VocabRaw VocabType = iota
	// VocabByteFallback tokens use SentencePiece byte-fallback encoding:
	// "<0xNN>" byte tokens and U+2581 for space.
	VocabByteFallback
	// VocabByteLevel tokens use GPT-2 byte-level encoding.
	VocabByteLevel
)

var vocabTypeNames = map[VocabType]string{
	VocabRaw:          "RAW",
	VocabByteFallback: "BYTE_FALLBACK",
	VocabByteLevel:    "BYTE_LEVEL",
}

func (t VocabType) String() string {
	if name, ok := vocabTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("VocabType(%d)", int(t))
}

// TokenizerInfo is the read-only vocabulary description a grammar is
// compiled against. A compiled grammar is only valid for matching with the
// TokenizerInfo it was compiled with.
type TokenizerInfo struct {
	encoded        []string
	decoded        [][]byte
	vocabType      VocabType
	vocabSize      int
	stopTokens     []int32
	specialTokens  []int32
	stopSet        map[int32]bool
	specialSet     map[int32]bool
	addPrefixSpace bool
	fingerprint    uint64
}

// stopTokenTexts are the vocabulary entries recognized as end-of-sequence
// markers when no explicit stop token ids are supplied.
var stopTokenTexts = map[string]bool{
	"</s>":            true,
	"<eos>":           true,
	"<end_of_turn>":   true,
	"<|endoftext|>":   true,
	"<|eot_id|>":      true,
	"<|im_end|>":      true,
	"<|end|>":         true,
	"<|eom_id|>":      true,
	"<|end_of_text|>": true,
}

// New builds a TokenizerInfo from an encoded vocabulary.
//
// vocabSize is the size of the model's output logits, which may exceed
// len(encodedVocab) when the model pads its vocabulary; zero or negative
// means len(encodedVocab). stopTokenIDs nil means the stop tokens are
// detected from the vocabulary; an explicit empty slice means none.
func New(encodedVocab []string, vocabType VocabType, vocabSize int, stopTokenIDs []int32, addPrefixSpace bool) *TokenizerInfo {
	if vocabSize <= 0 {
		vocabSize = len(encodedVocab)
	}
	info := &TokenizerInfo{
		encoded:        encodedVocab,
		vocabType:      vocabType,
		vocabSize:      vocabSize,
		addPrefixSpace: addPrefixSpace,
	}
	info.decoded = make([][]byte, len(encodedVocab))
	for i, tok := range encodedVocab {
		info.decoded[i] = decodeToken(tok, vocabType)
		if isSpecialToken(tok) {
			info.specialTokens = append(info.specialTokens, int32(i))
		}
	}
	if stopTokenIDs != nil {
		info.stopTokens = append([]int32(nil), stopTokenIDs...)
	} else {
		for i, tok := range encodedVocab {
			if stopTokenTexts[tok] {
				info.stopTokens = append(info.stopTokens, int32(i))
			}
		}
	}
	info.stopSet = make(map[int32]bool, len(info.stopTokens))
	for _, id := range info.stopTokens {
		info.stopSet[id] = true
	}
	info.specialSet = make(map[int32]bool, len(info.specialTokens))
	for _, id := range info.specialTokens {
		info.specialSet[id] = true
	}
	info.fingerprint = info.computeFingerprint()
	return info
}

func decodeToken(tok string, vocabType VocabType) []byte {
	switch vocabType {
	case VocabByteFallback:
		return decodeByteFallback(tok)
	case VocabByteLevel:
		return decodeByteLevel(tok)
	default:
		return []byte(tok)
	}
}

// isSpecialToken reports whether a vocabulary entry is a control token
// (never produced by sampling ordinary text), such as "<s>" or
// "<|assistant|>". Byte-fallback "<0xNN>" tokens are data, not control.
func isSpecialToken(tok string) bool {
	if _, ok := parseByteToken(tok); ok {
		return false
	}
	if len(tok) < 3 {
		return false
	}
	if strings.HasPrefix(tok, "<|") && strings.HasSuffix(tok, "|>") {
		return true
	}
	if tok[0] == '<' && tok[len(tok)-1] == '>' {
		inner := tok[1 : len(tok)-1]
		for _, r := range inner {
			if !(r == '_' || r == '/' || r == '-' || r == '▁' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
		return true
	}
	if tok[0] == '[' && tok[len(tok)-1] == ']' {
		switch tok {
		case "[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]":
			return true
		}
	}
	return false
}

// VocabType returns the vocabulary encoding classification.
func (t *TokenizerInfo) VocabType() VocabType {
	return t.vocabType
}

// VocabSize returns the size of the token id space, including any padding
// ids beyond the decoded table.
func (t *TokenizerInfo) VocabSize() int {
	return t.vocabSize
}

// AddPrefixSpace reports whether the tokenizer adds a leading space when
// encoding text.
func (t *TokenizerInfo) AddPrefixSpace() bool {
	return t.addPrefixSpace
}

// TokenBytes returns the decoded byte sequence for a token id, or nil for
// padding ids outside the decoded table.
func (t *TokenizerInfo) TokenBytes(id int32) []byte {
	if id < 0 || int(id) >= len(t.decoded) {
		return nil
	}
	return t.decoded[id]
}

// DecodedVocab returns the decoded token table. The result is shared and
// must not be mutated.
func (t *TokenizerInfo) DecodedVocab() [][]byte {
	return t.decoded
}

// StopTokenIDs returns the end-of-sequence token ids.
func (t *TokenizerInfo) StopTokenIDs() []int32 {
	return t.stopTokens
}

// SpecialTokenIDs returns the ids of control tokens, which are never
// admissible under a grammar.
func (t *TokenizerInfo) SpecialTokenIDs() []int32 {
	return t.specialTokens
}

// IsStopToken reports whether id is an end-of-sequence token.
func (t *TokenizerInfo) IsStopToken(id int32) bool {
	return t.stopSet[id]
}

// IsSpecialToken reports whether id is a control token.
func (t *TokenizerInfo) IsSpecialToken(id int32) bool {
	return t.specialSet[id]
}

// Fingerprint is a stable hash of the vocabulary and metadata, used to key
// compilation caches and to pair serialized compiled grammars with the
// tokenizer they were compiled against.
func (t *TokenizerInfo) Fingerprint() uint64 {
	return t.fingerprint
}

func (t *TokenizerInfo) computeFingerprint() uint64 {
	h := xxhash.New()
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(t.vocabType))
	h.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(t.vocabSize))
	h.Write(scratch[:])
	if t.addPrefixSpace {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	for _, id := range t.stopTokens {
		binary.LittleEndian.PutUint64(scratch[:], uint64(id))
		h.Write(scratch[:])
	}
	for _, tok := range t.decoded {
		binary.LittleEndian.PutUint64(scratch[:], uint64(len(tok)))
		h.Write(scratch[:])
		h.Write(tok)
	}
	return h.Sum64()
}

type metadataJSON struct {
	VocabType      string  `json:"vocab_type"`
	VocabSize      int     `json:"vocab_size"`
	AddPrefixSpace bool    `json:"add_prefix_space"`
	StopTokenIDs   []int32 `json:"stop_token_ids"`
}

// DumpMetadata renders the tokenizer metadata (everything except the
// vocabulary itself) as a JSON document.
func (t *TokenizerInfo) DumpMetadata() string {
	out, err := json.Marshal(metadataJSON{
		VocabType:      t.vocabType.String(),
		VocabSize:      t.vocabSize,
		AddPrefixSpace: t.addPrefixSpace,
		StopTokenIDs:   t.stopTokens,
	})
	if err != nil {
		panic(err)
	}
	return string(out)
}

// MetadataEqual reports whether two TokenizerInfos agree on metadata and
// vocabulary contents.
func (t *TokenizerInfo) MetadataEqual(other *TokenizerInfo) bool {
	return t.fingerprint == other.fingerprint
}

type tokenizerJSON struct {
	Version        string   `json:"__VERSION__"`
	VocabType      string   `json:"vocab_type"`
	VocabSize      int      `json:"vocab_size"`
	AddPrefixSpace bool     `json:"add_prefix_space"`
	StopTokenIDs   []int32  `json:"stop_token_ids"`
	EncodedVocab   []string `json:"encoded_vocab"`
}

// SerializeJSON renders the full tokenizer info, vocabulary included, as a
// versioned JSON document.
func (t *TokenizerInfo) SerializeJSON() ([]byte, error) {
	return json.Marshal(tokenizerJSON{
		Version:        grammar.SerializeVersion,
		VocabType:      t.vocabType.String(),
		VocabSize:      t.vocabSize,
		AddPrefixSpace: t.addPrefixSpace,
		StopTokenIDs:   t.stopTokens,
		EncodedVocab:   t.encoded,
	})
}

// Deserialize reconstructs a TokenizerInfo from the output of
// SerializeJSON, validating the version tag first.
func Deserialize(data []byte) (*TokenizerInfo, error) {
	var doc tokenizerJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", grammar.ErrInvalidJSON, err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("%w: missing __VERSION__ field", grammar.ErrDeserializeFormat)
	}
	if doc.Version != grammar.SerializeVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", grammar.ErrDeserializeVersion, doc.Version, grammar.SerializeVersion)
	}
	var vocabType VocabType
	found := false
	for vt, name := range vocabTypeNames {
		if name == doc.VocabType {
			vocabType = vt
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: unknown vocab type %q", grammar.ErrDeserializeFormat, doc.VocabType)
	}
	stop := doc.StopTokenIDs
	if stop == nil {
		stop = []int32{}
	}
	return New(doc.EncodedVocab, vocabType, doc.VocabSize, stop, doc.AddPrefixSpace), nil
}
