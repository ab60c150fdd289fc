// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package conveyer

import (
	"bytes"
	"testing"

	luxlog "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/cnode/types"
)

func newTestConveyer(t *testing.T) *Conveyer {
	t.Helper()
	c, err := New(DefaultConfig(), luxlog.NewNoOpLogger(), types.Round(1))
	require.NoError(t, err)
	return c
}

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestAddRejectsEmptyHash(t *testing.T) {
	c := newTestConveyer(t)
	err := c.Add(types.Hash{}, &types.TransactionsPacket{})
	require.ErrorIs(t, err, ErrEmptyHash)
}

func TestAddHaveGet(t *testing.T) {
	c := newTestConveyer(t)
	h := hashOf(1)
	packet := &types.TransactionsPacket{Hash: h}
	require.NoError(t, c.Add(h, packet))
	require.True(t, c.Have(h))

	got, ok := c.Get(h)
	require.True(t, ok)
	require.Same(t, packet, got)
}

func TestSetManifestOnceThenMissingFromManifest(t *testing.T) {
	c := newTestConveyer(t)
	h1, h2 := hashOf(1), hashOf(2)
	require.NoError(t, c.Add(h1, &types.TransactionsPacket{Hash: h1}))

	require.NoError(t, c.SetManifest([]types.Hash{h1, h2}))
	require.ErrorIs(t, c.SetManifest([]types.Hash{h1}), ErrManifestAlreadySet)

	missing := c.MissingFromManifest()
	require.Equal(t, []types.Hash{h2}, missing)
}

func TestBeginRoundArchivesAndResets(t *testing.T) {
	c := newTestConveyer(t)
	h1 := hashOf(1)
	require.NoError(t, c.SetManifest([]types.Hash{h1}))

	c.BeginRound(types.Round(2))
	require.Empty(t, c.CurrentManifest())

	manifest, ok := c.ManifestForRound(types.Round(1))
	require.True(t, ok)
	require.Equal(t, []types.Hash{h1}, manifest)

	// A fresh manifest may be set again after BeginRound.
	require.NoError(t, c.SetManifest([]types.Hash{hashOf(9)}))
}

func TestHistoryRingBoundedToMetaCapacity(t *testing.T) {
	cfg := Config{MetaCapacity: 16}
	c, err := New(cfg, luxlog.NewNoOpLogger(), types.Round(0))
	require.NoError(t, err)

	for i := types.Round(0); i < 18; i++ {
		require.NoError(t, c.SetManifest([]types.Hash{hashOf(byte(i))}))
		c.BeginRound(i + 1)
	}

	_, ok := c.ManifestForRound(types.Round(0))
	require.False(t, ok, "oldest manifests must be evicted past MetaCapacity")
	_, ok = c.ManifestForRound(types.Round(16))
	require.True(t, ok)
	_, ok = c.ManifestForRound(types.Round(17))
	require.True(t, ok)
}

func TestConfigValidateEnforcesMinimumCapacity(t *testing.T) {
	cfg := Config{MetaCapacity: 4}
	require.Error(t, cfg.Validate())
}

func TestFlushAcceptedSplitsByMask(t *testing.T) {
	c := newTestConveyer(t)
	tx1 := &types.Transaction{InnerID: 1}
	tx2 := &types.Transaction{InnerID: 2}
	h := hashOf(1)
	require.NoError(t, c.Add(h, &types.TransactionsPacket{Hash: h, Transactions: []*types.Transaction{tx1, tx2}}))
	require.NoError(t, c.SetManifest([]types.Hash{h}))

	mask := types.CharacteristicMask{types.Accepted, types.InsufficientBalance}
	result, err := c.FlushAccepted(mask)
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	require.Len(t, result.Rejected, 1)
	require.Same(t, tx1, result.Accepted[0].Tx)
	require.Same(t, tx2, result.Rejected[0].Tx)
	require.Equal(t, types.InsufficientBalance, result.Rejected[0].Reason)

	require.False(t, c.Have(h), "flushed packets must be dropped from the store")
}

func TestAddMergesSignaturesForKnownHash(t *testing.T) {
	c := newTestConveyer(t)
	h := hashOf(9)
	sigA := types.Signature{0x0A}
	sigB := types.Signature{0x0B}

	require.NoError(t, c.Add(h, &types.TransactionsPacket{Hash: h, Signatures: []types.Signature{sigA}}))
	require.NoError(t, c.Add(h, &types.TransactionsPacket{Hash: h, Signatures: []types.Signature{sigA, sigB}}))

	got, ok := c.Get(h)
	require.True(t, ok)
	require.ElementsMatch(t, []types.Signature{sigA, sigB}, got.Signatures,
		"re-adding a known packet must accumulate new committee signatures without duplicating known ones")
}

func TestPendingHashesSortedAndExcludesFlushed(t *testing.T) {
	c := newTestConveyer(t)
	h1 := hashOf(3)
	h2 := hashOf(1)
	require.NoError(t, c.Add(h1, &types.TransactionsPacket{Hash: h1}))
	require.NoError(t, c.Add(h2, &types.TransactionsPacket{Hash: h2}))

	pending := c.PendingHashes()
	require.Len(t, pending, 2)
	require.True(t, bytes.Compare(pending[0][:], pending[1][:]) < 0, "pending hashes must come back byte-sorted")

	require.NoError(t, c.SetManifest([]types.Hash{h1}))
	_, err := c.FlushAccepted(types.CharacteristicMask{})
	require.NoError(t, err)
	require.Equal(t, []types.Hash{h2}, c.PendingHashes())
}
