// Package arena provides an append-only arena with compressed pointers.
//
// The matcher's stack frames form immutable parent-linked chains that are
// shared between checkpoints; storing them in an arena keeps a frame
// reference at four bytes and guarantees stored values never move, so
// parent links stay valid as the arena grows.
package arena

import (
	"fmt"
	"math/bits"
)

// chunkMinShift is the log2 of the capacity of the arena's first chunk.
const (
	chunkMinShift = 5
	chunkMinLen   = 1 << chunkMinShift
)

// Pointer is a compressed reference to a value in an Arena[T]. The zero
// value is nil. A pointer is one plus the number of values allocated
// before it.
type Pointer[T any] uint32

// Nil reports whether the pointer is nil.
func (p Pointer[T]) Nil() bool {
	return p == 0
}

// Arena is an append-only store of Ts that never moves its values. It
// keeps a table of doubling chunks, mimicking slice growth without the
// reallocation, so lookups stay O(1) with two loads.
//
// A zero Arena[T] is empty and ready to use.
type Arena[T any] struct {
	// Invariants: cap(chunks[0]) == chunkMinLen, every chunk is twice the
	// capacity of its predecessor, and only the last chunk is not full.
	chunks [][]T
	count  int
}

// New allocates value on the arena and returns its pointer.
func (a *Arena[T]) New(value T) Pointer[T] {
	if a.chunks == nil {
		a.chunks = [][]T{make([]T, 0, chunkMinLen)}
	}
	last := &a.chunks[len(a.chunks)-1]
	if len(*last) == cap(*last) {
		a.chunks = append(a.chunks, make([]T, 0, 2*cap(*last)))
		last = &a.chunks[len(a.chunks)-1]
	}
	*last = append(*last, value)
	a.count++
	return Pointer[T](a.count)
}

// At dereferences p. The pointer must have been produced by this arena;
// dereferencing nil panics.
func (a *Arena[T]) At(p Pointer[T]) *T {
	idx := int(p) - 1
	if idx < 0 || idx >= a.count {
		panic(fmt.Sprintf("arena: pointer out of range: %d", p))
	}
	chunk, off := locate(idx)
	return &a.chunks[chunk][off]
}

// Len returns the number of allocated values.
func (a *Arena[T]) Len() int {
	return a.count
}

// locate converts a zero-based allocation index into chunk coordinates.
// Chunk capacities are chunkMinLen << n, so cumulative starting offsets
// are (2^n - 1) << chunkMinShift; the chunk index falls out of the high
// bit of idx + chunkMinLen.
func locate(idx int) (chunk, off int) {
	chunk = bits.Len(uint(idx)+chunkMinLen) - chunkMinShift - 1
	off = idx - (chunkMinLen<<chunk - chunkMinLen)
	return chunk, off
}
