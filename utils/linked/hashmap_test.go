// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package linked

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashmapInsertionOrder(t *testing.T) {
	h := NewHashmap[string, int]()
	h.Put("a", 1)
	h.Put("b", 2)
	h.Put("c", 3)
	require.Equal(t, 3, h.Len())

	k, v, ok := h.OldestEntry()
	require.True(t, ok)
	require.Equal(t, "a", k)
	require.Equal(t, 1, v)

	// Updating a key must not move it to the back.
	h.Put("a", 10)
	k, v, _ = h.OldestEntry()
	require.Equal(t, "a", k)
	require.Equal(t, 10, v)

	h.Delete("a")
	k, _, _ = h.OldestEntry()
	require.Equal(t, "b", k)
	require.Equal(t, 2, h.Len())
}

func TestHashmapGetAndMissing(t *testing.T) {
	h := NewHashmap[int, string]()
	_, ok := h.Get(7)
	require.False(t, ok)

	h.Put(7, "seven")
	v, ok := h.Get(7)
	require.True(t, ok)
	require.Equal(t, "seven", v)

	h.Delete(7)
	_, ok = h.Get(7)
	require.False(t, ok)

	_, _, ok = h.OldestEntry()
	require.False(t, ok)
}

func TestHashmapOldestFirstDrain(t *testing.T) {
	h := NewHashmap[int, int]()
	for i := 0; i < 5; i++ {
		h.Put(i, i*i)
	}
	var drained []int
	for {
		k, _, ok := h.OldestEntry()
		if !ok {
			break
		}
		drained = append(drained, k)
		h.Delete(k)
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, drained)
}
