// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wallet

import (
	"testing"

	"github.com/luxfi/database/memdb"
	luxlog "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/cnode/types"
)

func newTestIndex() *Index {
	return New(memdb.New(), luxlog.NewNoOpLogger())
}

func TestGetUnknownAddressReturnsNotFound(t *testing.T) {
	idx := newTestIndex()
	addr := types.AddressFromWalletID(1)
	_, err := idx.Get(addr)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutAndGetRoundTrip(t *testing.T) {
	idx := newTestIndex()
	addr := types.AddressFromWalletID(42)
	rec := Record{Balance: types.Amount{Integer: 100, Fraction: 7}}
	require.NoError(t, idx.Put(addr, rec))

	got, err := idx.Get(addr)
	require.NoError(t, err)
	require.Equal(t, rec.Balance, got.Balance)
}

func TestRecordTransactionUpdatesBalanceAndHistory(t *testing.T) {
	idx := newTestIndex()
	addr := types.AddressFromWalletID(7)

	txID1 := types.TransactionID{Index: 0}
	require.NoError(t, idx.RecordTransaction(addr, types.Sequence(10), types.Amount{Integer: 5}, txID1, nil))

	rec, err := idx.Get(addr)
	require.NoError(t, err)
	require.Equal(t, types.Amount{Integer: 5}, rec.Balance)
	require.True(t, rec.HasLastSequence)
	require.Equal(t, types.Sequence(10), rec.LastSequence)

	txID2 := types.TransactionID{Index: 1}
	require.NoError(t, idx.RecordTransaction(addr, types.Sequence(20), types.Amount{Integer: 3}, txID2, nil))

	rec, err = idx.Get(addr)
	require.NoError(t, err)
	require.Equal(t, types.Amount{Integer: 8}, rec.Balance)

	prev, ok, err := idx.PreviousSequence(addr, types.Sequence(20))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.Sequence(10), prev)

	_, ok, err = idx.PreviousSequence(addr, types.Sequence(10))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetPublicKeyPreservesBalance(t *testing.T) {
	idx := newTestIndex()
	addr := types.AddressFromWalletID(3)
	require.NoError(t, idx.RecordTransaction(addr, types.Sequence(1), types.Amount{Integer: 50}, types.TransactionID{}, nil))

	var pk types.PublicKey
	copy(pk[:], []byte("a deterministic test public key"))
	require.NoError(t, idx.SetPublicKey(addr, pk))

	rec, err := idx.Get(addr)
	require.NoError(t, err)
	require.True(t, rec.HasPublicKey)
	require.Equal(t, pk, rec.PublicKey)
	require.Equal(t, types.Amount{Integer: 50}, rec.Balance)
}

func TestKeyAddressVsWalletIDAddressDistinctRecords(t *testing.T) {
	idx := newTestIndex()
	var pk types.PublicKey
	copy(pk[:], []byte("keyform address distinguishing"))
	keyAddr := types.AddressFromKey(pk)
	walletAddr := types.AddressFromWalletID(1)

	require.NoError(t, idx.Put(keyAddr, Record{Balance: types.Amount{Integer: 1}}))
	require.NoError(t, idx.Put(walletAddr, Record{Balance: types.Amount{Integer: 2}}))

	got, err := idx.Get(keyAddr)
	require.NoError(t, err)
	require.Equal(t, types.Amount{Integer: 1}, got.Balance)

	got, err = idx.Get(walletAddr)
	require.NoError(t, err)
	require.Equal(t, types.Amount{Integer: 2}, got.Balance)
}
