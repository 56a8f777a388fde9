// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package slots defines a slot table whose occupancy is
// tracked by a bit vector.
// It is used to keep track of objects that are handed out
// by a pool and later returned to it (e.g., command
// buffers).
package slots

import (
	"iter"
	"math/bits"
)

// nbit is the number of bits in a word.
const nbit = 64

// Table is a growable table of E values.
// Each value occupies one slot, identified by a
// non-negative index that stays valid until the value is
// removed. Freed slots are reused by later insertions.
// The zero value is an empty table ready for use.
type Table[E any] struct {
	used []uint64
	rem  int
	vals []E
}

// Len returns the number of slots in the table, whether
// occupied or not.
func (t *Table[_]) Len() int { return len(t.used) * nbit }

// Count returns the number of occupied slots.
func (t *Table[_]) Count() int { return t.Len() - t.rem }

// grow appends one word worth of free slots and returns
// the index of the first one.
func (t *Table[E]) grow() int {
	index := t.Len()
	t.used = append(t.used, 0)
	t.vals = append(t.vals, make([]E, nbit)...)
	t.rem += nbit
	return index
}

// search locates a free slot.
// It fails only when t.rem == 0.
func (t *Table[_]) search() (index int, ok bool) {
	if t.rem == 0 {
		return
	}
	for i, x := range t.used {
		if x == ^uint64(0) {
			continue
		}
		return i*nbit + bits.TrailingZeros64(^x), true
	}
	return
}

// Insert stores e in a free slot, growing the table if
// needed, and returns the slot's index.
func (t *Table[E]) Insert(e E) int {
	index, ok := t.search()
	if !ok {
		index = t.grow()
	}
	t.used[index/nbit] |= 1 << (index % nbit)
	t.rem--
	t.vals[index] = e
	return index
}

// IsSet checks whether the slot at index is occupied.
// Out of bounds indices are never occupied.
func (t *Table[_]) IsSet(index int) bool {
	if index < 0 || index >= t.Len() {
		return false
	}
	return t.used[index/nbit]&(1<<(index%nbit)) != 0
}

// Get returns the value stored at index.
func (t *Table[E]) Get(index int) (e E, ok bool) {
	if !t.IsSet(index) {
		return
	}
	return t.vals[index], true
}

// Remove frees the slot at index and returns the value
// that it held.
func (t *Table[E]) Remove(index int) (e E, ok bool) {
	if !t.IsSet(index) {
		return
	}
	e = t.vals[index]
	var zero E
	t.vals[index] = zero
	t.used[index/nbit] &^= 1 << (index % nbit)
	t.rem++
	return e, true
}

// Find returns the index of the first occupied slot for
// which match returns true.
func (t *Table[E]) Find(match func(E) bool) (index int, ok bool) {
	for i, e := range t.All() {
		if match(e) {
			return i, true
		}
	}
	return -1, false
}

// Clear frees every slot. The table keeps its length.
func (t *Table[E]) Clear() {
	clear(t.used)
	clear(t.vals)
	t.rem = t.Len()
}

// All returns an iterator over the occupied slots, in
// index order.
func (t *Table[E]) All() iter.Seq2[int, E] {
	return func(yield func(int, E) bool) {
		for i, x := range t.used {
			for x != 0 {
				b := bits.TrailingZeros64(x)
				x &^= 1 << b
				if !yield(i*nbit+b, t.vals[i*nbit+b]) {
					return
				}
			}
		}
	}
}
