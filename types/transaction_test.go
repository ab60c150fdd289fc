// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionWellFormed(t *testing.T) {
	src := AddressFromWalletID(1)
	dst := AddressFromWalletID(2)

	t.Run("ordinary transfer is well formed", func(t *testing.T) {
		tx := NewTransaction(src, dst, Currency(0), Amount{Integer: 10}, Amount{Integer: 1}, 1)
		require.True(t, tx.WellFormed())
	})

	t.Run("source equal to target is rejected", func(t *testing.T) {
		tx := NewTransaction(src, src, Currency(0), Amount{Integer: 10}, Amount{Integer: 1}, 1)
		require.False(t, tx.WellFormed())
	})

	t.Run("negative amount is rejected", func(t *testing.T) {
		tx := NewTransaction(src, dst, Currency(0), Amount{Integer: -1}, Amount{Integer: 1}, 1)
		require.False(t, tx.WellFormed())
	})

	t.Run("new-state transaction may share source and target", func(t *testing.T) {
		contract := AddressFromWalletID(3)
		tx := NewTransaction(contract, contract, Currency(0), Zero, Zero, 1)
		tx.AddUserField(NewStateRefField(SmartContractRef{Sequence: 5, Index: 2}))
		require.True(t, tx.WellFormed())
		require.True(t, tx.IsNewState())
		ref, ok := tx.RefStart()
		require.True(t, ok)
		require.Equal(t, Sequence(5), ref.Sequence)
		require.Equal(t, uint32(2), ref.Index)
	})
}

func TestTransactionSealPreventsMutation(t *testing.T) {
	tx := NewTransaction(AddressFromWalletID(1), AddressFromWalletID(2), Currency(0), Zero, Zero, 1)
	tx.Seal()
	require.Panics(t, func() {
		tx.AddUserField(UserField{ID: 99})
	})
}

func TestTransactionIDRoundTrip(t *testing.T) {
	id := TransactionID{Index: 7}
	s := id.String()
	got, err := ParseTransactionID(s)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestIsExecutable(t *testing.T) {
	contract := AddressFromWalletID(9)
	tx := NewTransaction(AddressFromWalletID(1), contract, Currency(0), Zero, Zero, 1)
	require.False(t, tx.IsExecutable())
	tx.AddUserField(UserField{ID: FieldDeploy, Tag: UserFieldBytes, Bytes: []byte("code")})
	require.True(t, tx.IsExecutable())
	require.True(t, tx.IsDeploy())
}
