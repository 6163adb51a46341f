// Package bitmask implements the per-step token bitmask: one bit per token
// id, packed into 32-bit words, with an in-place application onto a logits
// buffer.
package bitmask

import (
	"fmt"
	"math"
)

// BitsPerWord is the packing width of a bitmask word.
const BitsPerWord = 32

// WordCount returns the number of words needed to cover a vocabulary.
func WordCount(vocabSize int) int {
	return (vocabSize + BitsPerWord - 1) / BitsPerWord
}

// Bitmask marks which token ids are currently admissible. Bit i is 1 iff
// token i may be produced next.
type Bitmask struct {
	words []uint32
	size  int
}

// New returns an all-zero bitmask covering vocabSize token ids.
func New(vocabSize int) *Bitmask {
	return &Bitmask{words: make([]uint32, WordCount(vocabSize)), size: vocabSize}
}

// Size returns the number of token ids the mask covers.
func (m *Bitmask) Size() int {
	return m.size
}

// Words exposes the packed words. The slice is the mask's backing store.
func (m *Bitmask) Words() []uint32 {
	return m.words
}

// IsSet reports whether token id is admissible.
func (m *Bitmask) IsSet(id int32) bool {
	if id < 0 || int(id) >= m.size {
		return false
	}
	return m.words[id/BitsPerWord]&(1<<(uint(id)%BitsPerWord)) != 0
}

// Set marks token id admissible.
func (m *Bitmask) Set(id int32) {
	m.words[id/BitsPerWord] |= 1 << (uint(id) % BitsPerWord)
}

// Clear marks token id inadmissible.
func (m *Bitmask) Clear(id int32) {
	m.words[id/BitsPerWord] &^= 1 << (uint(id) % BitsPerWord)
}

// Reset zeroes the mask.
func (m *Bitmask) Reset() {
	for i := range m.words {
		m.words[i] = 0
	}
}

// Fill marks every token id admissible.
func (m *Bitmask) Fill() {
	for i := range m.words {
		m.words[i] = ^uint32(0)
	}
	m.clearPadding()
}

// clearPadding zeroes the bits beyond size in the last word.
func (m *Bitmask) clearPadding() {
	if rem := m.size % BitsPerWord; rem != 0 && len(m.words) > 0 {
		m.words[len(m.words)-1] &= (1 << uint(rem)) - 1
	}
}

// CountSet returns the number of admissible tokens.
func (m *Bitmask) CountSet() int {
	n := 0
	for _, w := range m.words {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}

// ApplyToLogits masks a logits buffer in place: every inadmissible token's
// logit becomes -Inf. The buffer must cover the mask's vocabulary.
func (m *Bitmask) ApplyToLogits(logits []float32) error {
	if len(logits) < m.size {
		return fmt.Errorf("bitmask: logits buffer holds %d entries, vocabulary needs %d", len(logits), m.size)
	}
	negInf := float32(math.Inf(-1))
	for i := 0; i < m.size; i++ {
		if m.words[i/BitsPerWord]&(1<<(uint(i)%BitsPerWord)) == 0 {
			logits[i] = negInf
		}
	}
	return nil
}
