package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArena(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var a Arena[int]
	assert.Equal(0, a.Len())

	var zero Pointer[int]
	assert.True(zero.Nil())

	// Cross several chunk boundaries and verify earlier values survive
	// later growth.
	ptrs := make([]Pointer[int], 0, 1000)
	for i := 0; i < 1000; i++ {
		ptrs = append(ptrs, a.New(i))
	}
	assert.Equal(1000, a.Len())
	for i, p := range ptrs {
		assert.False(p.Nil())
		assert.Equal(i, *a.At(p))
	}
}

func TestArenaValuesDoNotMove(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var a Arena[string]
	p := a.New("first")
	addr := a.At(p)
	for i := 0; i < 500; i++ {
		a.New("filler")
	}
	assert.Same(addr, a.At(p))
	assert.Equal("first", *a.At(p))
}

func TestArenaNilDerefPanics(t *testing.T) {
	t.Parallel()

	var a Arena[int]
	a.New(1)
	assert.Panics(t, func() {
		var nilPtr Pointer[int]
		a.At(nilPtr)
	})
}
