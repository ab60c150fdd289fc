// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package math

import (
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdd64(t *testing.T) {
	got, err := Add64(1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)

	got, err = Add64(stdmath.MaxUint64, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(stdmath.MaxUint64), got)

	_, err = Add64(stdmath.MaxUint64, 1)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestSub64(t *testing.T) {
	got, err := Sub64(5, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got)

	_, err = Sub64(3, 5)
	require.ErrorIs(t, err, ErrUnderflow)
}
