// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"sync"
	"testing"
	"time"

	luxlog "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

type fakeMaskSource struct {
	mask       types.CharacteristicMask
	packetHash types.Hash
	err        error
}

func (f *fakeMaskSource) BuildStage1Mask(types.Round) (types.CharacteristicMask, types.Hash, error) {
	return f.mask, f.packetHash, f.err
}

type fakeBroadcaster struct {
	mu           sync.Mutex
	sent1        []types.Stage1
	sent2        []types.Stage2
	sent3        []types.Stage3
	stageReqs    int
	nextRoundReq int
}

func (b *fakeBroadcaster) SendStage1(s types.Stage1) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent1 = append(b.sent1, s)
}

func (b *fakeBroadcaster) SendStage2(s types.Stage2) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent2 = append(b.sent2, s)
}

func (b *fakeBroadcaster) SendStage3(s types.Stage3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent3 = append(b.sent3, s)
}

func (b *fakeBroadcaster) SendStageRequest(uint16, types.Round, []types.PublicKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stageReqs++
}

func (b *fakeBroadcaster) SendNextRoundRequest(types.Round) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextRoundReq++
}

type fakeFinalizer struct {
	mu          sync.Mutex
	lastWritten types.Sequence
	finalizeErr error

	finalizeCalls int
	lastRound     types.Round
	lastWriter    types.PublicKey
	lastWriterSig types.Signature
	lastSigCount  int

	dropCalls int
}

func (f *fakeFinalizer) FinalizeBlock(round types.Round, mask types.CharacteristicMask, writer types.PublicKey, writerSig types.Signature, sigs []types.Signature) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeCalls++
	f.lastRound = round
	f.lastWriter = writer
	f.lastWriterSig = writerSig
	f.lastSigCount = len(sigs)
	return f.finalizeErr
}

func (f *fakeFinalizer) LastWrittenSequence() types.Sequence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastWritten
}

func (f *fakeFinalizer) DropDeferredBlock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropCalls++
}

type fakeExecutorCanceller struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeExecutorCanceller) CancelRunning(keep func(types.SmartContractRef) bool) []types.SmartContractRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

type node struct {
	pk  types.PublicKey
	sk  types.PrivateKey
	m   *Machine
	mask *fakeMaskSource
	bc   *fakeBroadcaster
	fin  *fakeFinalizer
	ex   *fakeExecutorCanceller
}

func newNode(t *testing.T, authority types.PublicKey, mask types.CharacteristicMask, packetHash types.Hash) *node {
	t.Helper()
	pk, sk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	n := &node{
		pk:   pk,
		sk:   sk,
		mask: &fakeMaskSource{mask: mask, packetHash: packetHash},
		bc:   &fakeBroadcaster{},
		fin:  &fakeFinalizer{},
		ex:   &fakeExecutorCanceller{},
	}
	n.m = New(DefaultConfig(), pk, sk, types.NodeID{}, authority, n.mask, n.bc, n.fin, n.ex, luxlog.NewNoOpLogger())
	return n
}

func TestRoleForAssignsWriterTrustedNormal(t *testing.T) {
	writer, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	confidant, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	outsider, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	table := types.RoundTable{Round: 1, General: writer, Confidants: []types.PublicKey{writer, confidant}}

	require.Equal(t, StateWriter, roleFor(table, writer))
	require.Equal(t, StateTrusted, roleFor(table, confidant))
	require.Equal(t, StateNormal, roleFor(table, outsider))
}

func TestBeginRoundEntersCollectForTrustedAndWriter(t *testing.T) {
	authority, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	n := newNode(t, authority, types.CharacteristicMask{types.Accepted}, types.Hash{1})
	other, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	table := types.RoundTable{Round: 5, General: n.pk, Confidants: []types.PublicKey{n.pk, other}}
	state := n.m.BeginRound(table)
	require.Equal(t, StateCollect, state)
	require.Equal(t, types.Round(5), n.m.Round())
}

func TestHappyPathThreeStageConsensusFinalizes(t *testing.T) {
	authority, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	mask := types.CharacteristicMask{types.Accepted, types.InsufficientBalance}
	packetHash := types.Hash{9, 9, 9}

	const n = 4
	nodes := make([]*node, n)
	for i := range nodes {
		nodes[i] = newNode(t, authority, mask, packetHash)
	}

	confidants := make([]types.PublicKey, n)
	for i, nd := range nodes {
		confidants[i] = nd.pk
	}
	table := types.RoundTable{Round: 7, General: confidants[0], Confidants: confidants}

	for _, nd := range nodes {
		state := nd.m.BeginRound(table)
		require.Equal(t, StateCollect, state)
		require.NoError(t, nd.m.Handle(Event{Kind: EvTransactions, Payload: TransactionsReady{}}))
	}

	// propagate Stage1 from every sender to every other receiver.
	for _, sender := range nodes {
		require.Len(t, sender.bc.sent1, 1)
		s1 := sender.bc.sent1[0]
		for _, receiver := range nodes {
			if receiver == sender {
				continue
			}
			require.NoError(t, receiver.m.ReceiveStage1(s1))
		}
	}

	for _, nd := range nodes {
		require.NotEmpty(t, nd.bc.sent2)
	}

	for _, sender := range nodes {
		s2 := sender.bc.sent2[0]
		for _, receiver := range nodes {
			if receiver == sender {
				continue
			}
			require.NoError(t, receiver.m.ReceiveStage2(s2))
		}
	}

	for _, nd := range nodes {
		require.NotEmpty(t, nd.bc.sent3)
	}

	for _, sender := range nodes {
		s3 := sender.bc.sent3[0]
		for _, receiver := range nodes {
			if receiver == sender {
				continue
			}
			require.NoError(t, receiver.m.ReceiveStage3(s3))
		}
	}

	writer := nodes[0]
	require.Equal(t, 1, writer.fin.finalizeCalls)
	require.Equal(t, types.Round(7), writer.fin.lastRound)
	require.Equal(t, confidants[0], writer.fin.lastWriter)
	require.Equal(t, writer.bc.sent3[0].BlockSig, writer.fin.lastWriterSig,
		"the block's writer signature must be the elected writer's own Stage3 block signature")
	require.GreaterOrEqual(t, writer.fin.lastSigCount, 3)
	require.Equal(t, StateNormal, writer.m.State())

	for _, nd := range nodes[1:] {
		require.Equal(t, 0, nd.fin.finalizeCalls)
		require.Equal(t, StateTrusted, nd.m.State())
	}
}

func TestBigBangResetsRoundDropsBlockAndCancelsExecutor(t *testing.T) {
	authPk, authSk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	n := newNode(t, authPk, types.CharacteristicMask{}, types.Hash{})
	other, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	table := types.RoundTable{Round: 10, General: n.pk, Confidants: []types.PublicKey{n.pk, other, other}}
	n.m.BeginRound(table)
	n.fin.lastWritten = 5

	newTable := types.RoundTable{Round: 11, General: other, Confidants: []types.PublicKey{n.pk, other, other}}
	bb := types.BigBang{Round: 11, Table: newTable}
	bb.Signature = cryptoutil.Sign(authSk, bb.SignedBytes())

	require.NoError(t, n.m.Handle(Event{Kind: EvBigBang, Payload: bb}))
	require.Equal(t, types.Round(11), n.m.Round())
	require.Equal(t, 1, n.fin.dropCalls)
	require.Equal(t, 1, n.ex.calls)
}

func TestBigBangRejectsBadSignature(t *testing.T) {
	authPk, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	_, wrongSk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	n := newNode(t, authPk, nil, types.Hash{})
	table := types.RoundTable{Round: 1, General: n.pk, Confidants: []types.PublicKey{n.pk, n.pk, n.pk}}
	n.m.BeginRound(table)

	bb := types.BigBang{Round: 2, Table: table}
	bb.Signature = cryptoutil.Sign(wrongSk, bb.SignedBytes())

	err = n.m.Handle(Event{Kind: EvBigBang, Payload: bb})
	require.Error(t, err)
	require.Equal(t, types.Round(1), n.m.Round())
}

func TestBigBangRejectsStaleRound(t *testing.T) {
	authPk, authSk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	n := newNode(t, authPk, nil, types.Hash{})
	table := types.RoundTable{Round: 10, General: n.pk, Confidants: []types.PublicKey{n.pk, n.pk, n.pk}}
	n.m.BeginRound(table)
	n.fin.lastWritten = 9

	bb := types.BigBang{Round: 9, Table: table}
	bb.Signature = cryptoutil.Sign(authSk, bb.SignedBytes())

	err = n.m.Handle(Event{Kind: EvBigBang, Payload: bb})
	require.Error(t, err)
	require.Equal(t, types.Round(10), n.m.Round())
}

func TestCheckTimeoutsExpiresTrustedIntoNoTrusted(t *testing.T) {
	authPk, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	n := newNode(t, authPk, types.CharacteristicMask{types.Accepted}, types.Hash{1})
	other, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	n.m.cfg.StateTimeout = time.Millisecond
	n.m.cfg.StageRequestTimeout = time.Hour

	table := types.RoundTable{Round: 3, General: other, Confidants: []types.PublicKey{n.pk, other, other}}
	n.m.BeginRound(table)
	require.NoError(t, n.m.Handle(Event{Kind: EvTransactions, Payload: TransactionsReady{}}))
	require.Equal(t, StateTrusted, n.m.State())

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, n.m.CheckTimeouts(time.Now()))
	require.Equal(t, StateNoTrusted, n.m.State())
}

func TestCheckTimeoutsSendsStageRequestOnceWhenStageIncomplete(t *testing.T) {
	authPk, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	n := newNode(t, authPk, types.CharacteristicMask{types.Accepted}, types.Hash{1})
	other, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	n.m.cfg.StageRequestTimeout = time.Millisecond
	n.m.cfg.StateTimeout = time.Hour

	table := types.RoundTable{Round: 3, General: other, Confidants: []types.PublicKey{n.pk, other, other}}
	n.m.BeginRound(table)
	require.NoError(t, n.m.Handle(Event{Kind: EvTransactions, Payload: TransactionsReady{}}))

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, n.m.CheckTimeouts(time.Now()))
	require.Equal(t, 1, n.bc.stageReqs)

	require.NoError(t, n.m.CheckTimeouts(time.Now()))
	require.Equal(t, 1, n.bc.stageReqs)
}
