// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package set

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOf(t *testing.T) {
	s := Of(1, 2, 3)
	require.Equal(t, 3, s.Len())
	require.True(t, s.Contains(1))
	require.True(t, s.Contains(2))
	require.True(t, s.Contains(3))
	require.False(t, s.Contains(4))

	empty := Of[int]()
	require.Equal(t, 0, empty.Len())
}

func TestAddIsIdempotent(t *testing.T) {
	s := Of[string]()
	s.Add("a", "b")
	s.Add("b", "c")
	require.Equal(t, 3, s.Len())
	require.True(t, s.Contains("a"))
	require.True(t, s.Contains("c"))
}

func TestRemove(t *testing.T) {
	s := Of(1, 2, 3)
	s.Remove(2)
	require.False(t, s.Contains(2))
	require.Equal(t, 2, s.Len())

	// Removing a missing element is a no-op.
	s.Remove(99)
	require.Equal(t, 2, s.Len())
}

func TestList(t *testing.T) {
	s := Of(3, 1, 2)
	got := s.List()
	sort.Ints(got)
	require.Equal(t, []int{1, 2, 3}, got)
}
