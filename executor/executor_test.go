// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	luxlog "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/cnode/types"
)

// fakeRemoteExecutor lets tests control exactly when and how an
// Execute call returns.
type fakeRemoteExecutor struct {
	mu      sync.Mutex
	result  ExecutionResult
	err     error
	block   chan struct{} // if non-nil, Execute waits for it to close
	calls   int
	lastCtx context.Context
}

func (f *fakeRemoteExecutor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastCtx = ctx
	block := f.block
	result, err := f.result, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ExecutionResult{}, ctx.Err()
		}
	}
	return result, err
}

func newTestExecutor(remote RemoteExecutor) *Executor {
	return New(DefaultConfig(), remote, luxlog.NewNoOpLogger())
}

func contractAddr(id byte) types.Address {
	var pk types.PublicKey
	pk[0] = id
	return types.AddressFromKey(pk)
}

func sampleInvocation(contract types.Address) *types.Transaction {
	var callerKey types.PublicKey
	callerKey[31] = 1
	caller := types.AddressFromKey(callerKey)
	tx := types.NewTransaction(caller, contract, types.Currency(0), types.Amount{}, types.Amount{}, 1)
	tx.AddUserField(types.UserField{ID: types.FieldMethodInvoke, Tag: types.UserFieldBytes, Bytes: []byte("call")})
	tx.Seal()
	return tx
}

func TestEnqueueRejectsNilInvocation(t *testing.T) {
	e := newTestExecutor(&fakeRemoteExecutor{})
	err := e.Enqueue(types.SmartContractRef{Sequence: 1}, contractAddr(1), nil, types.Round(1))
	require.ErrorIs(t, err, ErrNilInvocation)
}

func TestAdvanceQueuesRunsHeadAndFinishes(t *testing.T) {
	remote := &fakeRemoteExecutor{result: ExecutionResult{State: []byte("new-state")}}
	e := newTestExecutor(remote)

	contract := contractAddr(1)
	ref := types.SmartContractRef{Sequence: 1, Index: 0}
	require.NoError(t, e.Enqueue(ref, contract, sampleInvocation(contract), types.Round(1)))

	e.AdvanceQueues(types.Round(1))

	require.Eventually(t, func() bool {
		return len(e.Finished()) == 1
	}, time.Second, 5*time.Millisecond)

	finished := e.Finished()
	require.Len(t, finished, 1)
	require.Equal(t, ref, finished[0].Ref)
	require.NotNil(t, finished[0].NewState)
	require.True(t, finished[0].NewState.IsNewState())
}

func TestAdvanceQueuesDoesNotStartSecondRunningItemForSameContract(t *testing.T) {
	block := make(chan struct{})
	remote := &fakeRemoteExecutor{block: block}
	e := newTestExecutor(remote)

	contract := contractAddr(1)
	ref1 := types.SmartContractRef{Sequence: 1, Index: 0}
	ref2 := types.SmartContractRef{Sequence: 1, Index: 1}
	require.NoError(t, e.Enqueue(ref1, contract, sampleInvocation(contract), types.Round(1)))
	require.NoError(t, e.Enqueue(ref2, contract, sampleInvocation(contract), types.Round(1)))

	e.AdvanceQueues(types.Round(1))
	// The head's remote call runs on its own goroutine; wait for it to
	// start before checking that no second call follows.
	require.Eventually(t, func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		return remote.calls >= 1
	}, time.Second, 5*time.Millisecond)
	e.AdvanceQueues(types.Round(2)) // head still Running; must not start ref2

	remote.mu.Lock()
	calls := remote.calls
	remote.mu.Unlock()
	require.Equal(t, 1, calls, "a second queue item must not run while the head is still Running")

	close(block)
	require.Eventually(t, func() bool { return len(e.Finished()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestAdvanceQueuesTimesOutLongRunningInvocation(t *testing.T) {
	block := make(chan struct{})
	remote := &fakeRemoteExecutor{block: block}
	e := newTestExecutor(remote)
	e.cfg.RoundTimeout = 2

	contract := contractAddr(1)
	ref := types.SmartContractRef{Sequence: 1}
	require.NoError(t, e.Enqueue(ref, contract, sampleInvocation(contract), types.Round(1)))

	e.AdvanceQueues(types.Round(1)) // starts Running at round 1
	timedOut := e.AdvanceQueues(types.Round(4))
	require.Equal(t, []types.SmartContractRef{ref}, timedOut)

	finished := e.Finished()
	require.Len(t, finished, 1)
	require.Nil(t, finished[0].Emitted)
	close(block)
}

func TestMarkClosedRemovesFinishedHead(t *testing.T) {
	remote := &fakeRemoteExecutor{}
	e := newTestExecutor(remote)

	contract := contractAddr(1)
	ref := types.SmartContractRef{Sequence: 1}
	require.NoError(t, e.Enqueue(ref, contract, sampleInvocation(contract), types.Round(1)))
	e.AdvanceQueues(types.Round(1))
	require.Eventually(t, func() bool { return len(e.Finished()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.MarkClosed(ref))
	require.Empty(t, e.Finished())

	err := e.MarkClosed(ref)
	require.ErrorIs(t, err, ErrUnknownContract)
}

func TestMarkClosedRejectsNotYetFinished(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	remote := &fakeRemoteExecutor{block: block}
	e := newTestExecutor(remote)

	contract := contractAddr(1)
	ref := types.SmartContractRef{Sequence: 1}
	require.NoError(t, e.Enqueue(ref, contract, sampleInvocation(contract), types.Round(1)))
	e.AdvanceQueues(types.Round(1))

	err := e.MarkClosed(ref)
	require.ErrorIs(t, err, ErrNotFinished)
}

func TestCancelRunningRevertsOrDropsPerKeepPredicate(t *testing.T) {
	block := make(chan struct{})
	remote := &fakeRemoteExecutor{block: block, err: errors.New("unused")}
	e := newTestExecutor(remote)

	contract := contractAddr(1)
	ref := types.SmartContractRef{Sequence: 7}
	require.NoError(t, e.Enqueue(ref, contract, sampleInvocation(contract), types.Round(1)))
	e.AdvanceQueues(types.Round(1))

	canceled := e.CancelRunning(func(types.SmartContractRef) bool { return true })
	require.Equal(t, []types.SmartContractRef{ref}, canceled)

	e.mu.Lock()
	state := e.queues[contractKey(contract)][0].State
	e.mu.Unlock()
	require.Equal(t, Waiting, state, "kept items must revert to Waiting")

	close(block)
}

func TestCancelRunningDropsWhenSpawningBlockRolledBack(t *testing.T) {
	block := make(chan struct{})
	remote := &fakeRemoteExecutor{block: block}
	e := newTestExecutor(remote)

	contract := contractAddr(1)
	ref := types.SmartContractRef{Sequence: 7}
	require.NoError(t, e.Enqueue(ref, contract, sampleInvocation(contract), types.Round(1)))
	e.AdvanceQueues(types.Round(1))

	e.CancelRunning(func(types.SmartContractRef) bool { return false })

	e.mu.Lock()
	_, stillQueued := e.byRef[ref]
	remaining := len(e.queues[contractKey(contract)])
	e.mu.Unlock()
	require.False(t, stillQueued)
	require.Equal(t, 0, remaining)

	close(block)
}
