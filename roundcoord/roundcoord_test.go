// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package roundcoord

import (
	"testing"

	"github.com/luxfi/database/memdb"
	luxlog "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/cnode/blockstore"
	"github.com/relaynet/cnode/conveyer"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wallet"
)

type fakeAnnouncer struct {
	newCharRound  types.Round
	newCharMask   types.CharacteristicMask
	newCharHash   types.Hash
	roundTableReq []types.Round
}

func (f *fakeAnnouncer) BroadcastNewCharacteristic(round types.Round, mask types.CharacteristicMask, hash types.Hash) {
	f.newCharRound = round
	f.newCharMask = mask
	f.newCharHash = hash
}

func (f *fakeAnnouncer) BroadcastRoundTableRequest(round types.Round) {
	f.roundTableReq = append(f.roundTableReq, round)
}

type alwaysConnected struct{}

func (alwaysConnected) Connected(types.PublicKey) bool { return true }

func newTestCoordinator(t *testing.T) (*Coordinator, *conveyer.Conveyer, *fakeAnnouncer) {
	t.Helper()
	conv, err := conveyer.New(conveyer.DefaultConfig(), luxlog.NewNoOpLogger(), types.Round(1))
	require.NoError(t, err)
	store := blockstore.New(memdb.New(), luxlog.NewNoOpLogger())
	wallets := wallet.New(memdb.New(), luxlog.NewNoOpLogger())
	ann := &fakeAnnouncer{}
	coord, err := New(DefaultConfig(), conv, store, wallets, alwaysConnected{}, ann, 0, types.Hash{}, luxlog.NewNoOpLogger())
	require.NoError(t, err)
	return coord, conv, ann
}

func addr(b byte) types.Address {
	var pk types.PublicKey
	pk[0] = b
	return types.AddressFromKey(pk)
}

func TestFinalizeBlockAssemblesAppendsAndAnnounces(t *testing.T) {
	coord, conv, ann := newTestCoordinator(t)

	tx := types.NewTransaction(addr(1), addr(2), 0, types.Amount{Integer: 10}, types.Amount{}, 0)
	tx.Seal()
	packet := &types.TransactionsPacket{Transactions: []*types.Transaction{tx}}
	hash := types.Hash{0xAA}
	require.NoError(t, conv.Add(hash, packet))
	require.NoError(t, conv.SetManifest([]types.Hash{hash}))

	mask := types.NewCharacteristicMask(1)
	var writer types.PublicKey
	writer[0] = 0x01
	writerSig := types.Signature{9}
	sigs := []types.Signature{{1}, {2}, {3}}

	require.NoError(t, coord.FinalizeBlock(types.Round(1), mask, writer, writerSig, sigs))

	require.Equal(t, types.Sequence(1), coord.LastWrittenSequence())
	require.Equal(t, types.Round(1), ann.newCharRound)

	stored, err := coord.store.GetBySequence(1)
	require.NoError(t, err)
	require.Len(t, stored.Transactions, 1)
	require.Equal(t, sigs, stored.ConfidantSigs)
	require.Equal(t, writerSig, stored.WriterSignature,
		"the writer's own signature must land in the block's distinct writer-signature field")

	rec, err := coord.wallets.Get(addr(2))
	require.NoError(t, err)
	require.Equal(t, int64(10), rec.Balance.Integer)
}

func TestDropDeferredBlockIsANoOpWithoutOne(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	coord.DropDeferredBlock()
}

func TestDeriveNextRoundTableRanksByNominationCount(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	var a, b, c types.PublicKey
	a[0], b[0], c[0] = 1, 2, 3

	coord.ObserveStage1(types.Stage1{Round: 5, SenderIndex: 0, NextCandidates: []types.PublicKey{a, b}})
	coord.ObserveStage1(types.Stage1{Round: 5, SenderIndex: 1, NextCandidates: []types.PublicKey{a, c}})
	coord.ObserveStage1(types.Stage1{Round: 5, SenderIndex: 2, NextCandidates: []types.PublicKey{a}})

	table, err := coord.DeriveNextRoundTable(5)
	require.NoError(t, err)
	require.Equal(t, types.Round(6), table.Round)
	require.Equal(t, a, table.General)
	require.Len(t, table.Confidants, 3)
}

func TestDeriveNextRoundTableErrorsWithoutNominations(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	_, err := coord.DeriveNextRoundTable(99)
	require.Error(t, err)
}

func TestNeedsSyncAndApplyRequestedBlockRejectsOutOfOrder(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	require.True(t, coord.NeedsSync(types.Round(5)))

	start, count := coord.BeginSync(types.Round(5))
	require.Equal(t, types.Sequence(1), start)
	require.Equal(t, DefaultConfig().MaxPacketRequestSize, count)

	badBlock := &types.Block{Sequence: 2, PreviousHash: types.Hash{}}
	require.Error(t, coord.ApplyRequestedBlock(badBlock))

	goodBlock := &types.Block{Sequence: 1, PreviousHash: types.Hash{}, Timestamp: badBlock.Timestamp}
	require.NoError(t, coord.ApplyRequestedBlock(goodBlock))
	require.Equal(t, types.Sequence(1), coord.LastWrittenSequence())
}

func TestCheckPostConsensusTimeoutFiresOnceAfterFinalize(t *testing.T) {
	coord, conv, ann := newTestCoordinator(t)
	require.NoError(t, conv.SetManifest(nil))
	require.NoError(t, coord.FinalizeBlock(types.Round(1), types.CharacteristicMask{}, types.PublicKey{}, types.Signature{}, nil))

	coord.cfg.PostConsensusTimeout = 0
	coord.CheckPostConsensusTimeout(coord.postConsensus.finalizedAt.Add(1))
	require.Len(t, ann.roundTableReq, 1)

	coord.CheckPostConsensusTimeout(coord.postConsensus.finalizedAt.Add(2))
	require.Len(t, ann.roundTableReq, 1)

	coord.NoteRoundTable()
	coord.CheckPostConsensusTimeout(coord.postConsensus.finalizedAt.Add(3))
	require.Len(t, ann.roundTableReq, 1)
}
