package ahocorasick

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// scan feeds text through the automaton and records (end offset, pattern)
// pairs for every match.
func scan(a *Automaton, text string) map[int][]int32 {
	found := make(map[int][]int32)
	s := State(0)
	for i := 0; i < len(text); i++ {
		s = a.Step(s, text[i])
		if out := a.Outputs(s); len(out) > 0 {
			found[i+1] = append(found[i+1], out...)
		}
	}
	return found
}

func TestOverlappingPatterns(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	a := New([][]byte{[]byte("he"), []byte("she"), []byte("his"), []byte("hers")})
	found := scan(a, "ushers")

	assert.ElementsMatch([]int32{1, 0}, found[4]) // "she" and "he" end together
	assert.ElementsMatch([]int32{3}, found[6])    // "hers"
	assert.Empty(found[2])
}

func TestRestartAfterMismatch(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	a := New([][]byte{[]byte("<tool>")})
	found := scan(a, "<to<tool>")
	assert.Len(found, 1)
	assert.ElementsMatch([]int32{0}, found[9])
}

func TestSingleBytePattern(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	a := New([][]byte{[]byte("a")})
	found := scan(a, "banana")
	assert.Len(found, 3)
}
