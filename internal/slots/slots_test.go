// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZero(t *testing.T) {
	var tab Table[string]
	assert.Nil(t, tab.used, "tab.used")
	assert.Equal(t, 0, tab.Len(), "tab.Len")
	assert.Equal(t, 0, tab.Count(), "tab.Count")
	assert.False(t, tab.IsSet(0), "tab.IsSet(0)")
	_, ok := tab.Get(0)
	assert.False(t, ok, "tab.Get(0)")
	_, ok = tab.Remove(-1)
	assert.False(t, ok, "tab.Remove(-1)")
}

func TestInsert(t *testing.T) {
	var tab Table[int]
	for i := range 200 {
		idx := tab.Insert(i * 10)
		require.Equal(t, i, idx, "tab.Insert")
		require.True(t, tab.IsSet(idx), "tab.IsSet(%d)", idx)
	}
	assert.Equal(t, 256, tab.Len(), "tab.Len")
	assert.Equal(t, 200, tab.Count(), "tab.Count")
	for i := range 200 {
		v, ok := tab.Get(i)
		require.True(t, ok, "tab.Get(%d)", i)
		require.Equal(t, i*10, v, "tab.Get(%d)", i)
	}
	assert.False(t, tab.IsSet(200), "tab.IsSet(200)")
}

func TestRemove(t *testing.T) {
	var tab Table[string]
	a := tab.Insert("a")
	b := tab.Insert("b")
	c := tab.Insert("c")

	v, ok := tab.Remove(b)
	require.True(t, ok, "tab.Remove(b)")
	assert.Equal(t, "b", v, "tab.Remove(b)")
	assert.False(t, tab.IsSet(b), "tab.IsSet(b)")
	assert.Equal(t, 2, tab.Count(), "tab.Count")
	assert.Equal(t, "", tab.vals[b], "tab.vals[b]")

	_, ok = tab.Remove(b)
	assert.False(t, ok, "tab.Remove(b) again")

	// The freed slot must be reused.
	d := tab.Insert("d")
	assert.Equal(t, b, d, "tab.Insert after Remove")

	for _, i := range [...]int{a, c, d} {
		_, ok := tab.Remove(i)
		require.True(t, ok, "tab.Remove(%d)", i)
	}
	assert.Equal(t, 0, tab.Count(), "tab.Count")
	assert.Equal(t, nbit, tab.Len(), "tab.Len")
}

func TestFind(t *testing.T) {
	var tab Table[int]
	for i := range 70 {
		tab.Insert(i)
	}
	tab.Remove(65)
	idx, ok := tab.Find(func(v int) bool { return v > 64 })
	require.True(t, ok, "tab.Find")
	assert.Equal(t, 66, idx, "tab.Find")
	idx, ok = tab.Find(func(v int) bool { return v < 0 })
	assert.False(t, ok, "tab.Find")
	assert.Equal(t, -1, idx, "tab.Find")
}

func TestAll(t *testing.T) {
	var tab Table[int]
	for i := range 130 {
		tab.Insert(i)
	}
	for i := 0; i < 130; i += 2 {
		tab.Remove(i)
	}
	want := 1
	for i, v := range tab.All() {
		require.Equal(t, want, i, "tab.All: index")
		require.Equal(t, want, v, "tab.All: value")
		want += 2
	}
	assert.Equal(t, 131, want, "tab.All: count")

	n := 0
	for range tab.All() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n, "tab.All: break")
}

func TestClear(t *testing.T) {
	var tab Table[*int]
	for range 10 {
		x := new(int)
		tab.Insert(x)
	}
	tab.Clear()
	assert.Equal(t, 0, tab.Count(), "tab.Count")
	assert.Equal(t, nbit, tab.Len(), "tab.Len")
	for i := range tab.Len() {
		require.Nil(t, tab.vals[i], "tab.vals[%d]", i)
	}
	assert.Equal(t, 0, tab.Insert(nil), "tab.Insert after Clear")
}
