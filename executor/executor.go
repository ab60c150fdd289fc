// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package executor runs the serialized-per-contract invocation
// queue: one FIFO queue per contract address, advanced one
// head item at a time against an external, opaque remote-executor
// service.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"

	"github.com/relaynet/cnode/types"
)

// QueueState is a QueueItem's position in the Waiting -> Running ->
// Finished -> Closed lifecycle.
type QueueState uint8

const (
	Waiting QueueState = iota
	Running
	Finished
	Closed
)

// String names a QueueState for logs and test failures.
func (s QueueState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownContract is returned when a ref's contract address
	// cannot be found among the tracked queues.
	ErrUnknownContract = errors.New("executor: unknown contract address")
	// ErrNotFinished is returned by MarkClosed when the referenced
	// invocation's queue head is not in the Finished state.
	ErrNotFinished = errors.New("executor: invocation not finished")
	// ErrNilInvocation guards Enqueue against a nil transaction.
	ErrNilInvocation = errors.New("executor: nil invocation transaction")
)

// ExecutionRequest is the opaque call handed to a RemoteExecutor: the
// contract's current absolute address and the invocation (or deploy)
// transaction to run against it. The executor service's internals are
// not this package's concern; it only owns the queueing and lifecycle
// around the call.
type ExecutionRequest struct {
	Contract   types.Address
	Invocation *types.Transaction
}

// ExecutionResult is what a RemoteExecutor call produces: any
// transactions emitted during execution (captured, not gossiped
// normally) and the raw new contract state.
type ExecutionResult struct {
	Emitted []*types.Transaction
	State   []byte
}

// RemoteExecutor runs one invocation against the external
// remote-executor service. Implementations must respect ctx
// cancellation: a canceled context means the invocation was reverted
// by a big-bang reset or timed out and its result will be discarded.
type RemoteExecutor interface {
	Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// QueueItem is one contract invocation's position in its per-contract
// queue.
type QueueItem struct {
	Ref          types.SmartContractRef
	Contract     types.Address
	Invocation   *types.Transaction
	State        QueueState
	RoundEnqueue types.Round
	RoundStarted types.Round
	Emitted      []*types.Transaction
	NewState     *types.Transaction

	cancel context.CancelFunc
}

// FinishedInvocation is a read-only snapshot of a queue head that has
// reached Finished, ready for its new-state transaction and any
// emitted transactions to be bundled into a packet.
type FinishedInvocation struct {
	Ref      types.SmartContractRef
	Contract types.Address
	NewState *types.Transaction
	Emitted  []*types.Transaction
}

// Config bounds how long an invocation may stay Running before the
// timeout synthesis kicks in.
type Config struct {
	// RoundTimeout is the number of rounds an invocation may remain
	// Running before the executor synthesizes an empty new-state
	// transaction so the chain keeps progressing.
	RoundTimeout types.Round
}

// DefaultConfig returns the default RoundTimeout (20 rounds).
func DefaultConfig() Config {
	return Config{RoundTimeout: 20}
}

// Validate checks cfg's invariants.
func (c Config) Validate() error {
	if c.RoundTimeout == 0 {
		return fmt.Errorf("executor: RoundTimeout must be > 0")
	}
	return nil
}

// Executor owns one FIFO queue per contract address and advances each
// queue's head against a RemoteExecutor.
type Executor struct {
	mu     sync.Mutex
	cfg    Config
	remote RemoteExecutor
	log    log.Logger

	queues map[string][]*QueueItem
	byRef  map[types.SmartContractRef]string
}

// New builds an Executor.
func New(cfg Config, remote RemoteExecutor, logger log.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		remote: remote,
		log:    logger,
		queues: make(map[string][]*QueueItem),
		byRef:  make(map[types.SmartContractRef]string),
	}
}

// QueueDepth returns the number of not-yet-Closed invocations across
// all contracts, for the admin endpoint's queue gauge.
func (e *Executor) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	depth := 0
	for _, queue := range e.queues {
		depth += len(queue)
	}
	return depth
}

// Enqueue appends a Waiting invocation to its contract's queue.
func (e *Executor) Enqueue(ref types.SmartContractRef, contract types.Address, invocation *types.Transaction, round types.Round) error {
	if invocation == nil {
		return ErrNilInvocation
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := contractKey(contract)
	item := &QueueItem{
		Ref:          ref,
		Contract:     contract,
		Invocation:   invocation,
		State:        Waiting,
		RoundEnqueue: round,
	}
	e.queues[key] = append(e.queues[key], item)
	e.byRef[ref] = key
	return nil
}

// AdvanceQueues is test_exe_queue: for each contract whose head
// is Waiting and has no Running sibling, it transitions to Running and
// dispatches an async execute call. For each contract whose head is
// Running past cfg.RoundTimeout, it synthesizes an empty new-state
// result and reports the ref in timedOut.
func (e *Executor) AdvanceQueues(round types.Round) (timedOut []types.SmartContractRef) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, queue := range e.queues {
		if len(queue) == 0 {
			continue
		}
		head := queue[0]

		switch head.State {
		case Waiting:
			if anyRunning(queue) {
				continue
			}
			ctx, cancel := context.WithCancel(context.Background())
			head.State = Running
			head.RoundStarted = round
			head.cancel = cancel
			go e.run(head, ctx)

		case Running:
			if round > head.RoundStarted+e.cfg.RoundTimeout {
				if head.cancel != nil {
					head.cancel()
				}
				e.finishLocked(head, ExecutionResult{})
				timedOut = append(timedOut, head.Ref)
			}
		}
	}
	return timedOut
}

func anyRunning(queue []*QueueItem) bool {
	for _, it := range queue {
		if it.State == Running {
			return true
		}
	}
	return false
}

// run calls the remote executor for item and records the outcome. A
// canceled context (big-bang reset, or a timeout already handled by
// AdvanceQueues) means the result is stale and must be dropped.
func (e *Executor) run(item *QueueItem, ctx context.Context) {
	result, err := e.remote.Execute(ctx, ExecutionRequest{Contract: item.Contract, Invocation: item.Invocation})

	e.mu.Lock()
	defer e.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.log.Warn("remote executor call failed, synthesizing empty state", "ref", item.Ref, "err", err)
		result = ExecutionResult{}
	}
	e.finishLocked(item, result)
}

// finishLocked must be called with e.mu held.
func (e *Executor) finishLocked(item *QueueItem, result ExecutionResult) {
	item.State = Finished
	item.Emitted = result.Emitted
	item.NewState = buildNewState(item.Ref, item.Contract)
}

// buildNewState builds the unsigned new-state transaction an
// invocation publishes on completion, referencing it via FieldRefStart
//.
func buildNewState(ref types.SmartContractRef, contract types.Address) *types.Transaction {
	tx := types.NewTransaction(contract, contract, 0, types.Amount{}, types.Amount{}, 0)
	tx.AddUserField(types.NewStateRefField(ref))
	tx.Seal()
	return tx
}

// Finished returns a snapshot of every queue head currently in the
// Finished state, ready to be bundled into a packet and gossiped.
func (e *Executor) Finished() []FinishedInvocation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []FinishedInvocation
	for _, queue := range e.queues {
		if len(queue) == 0 {
			continue
		}
		head := queue[0]
		if head.State != Finished {
			continue
		}
		out = append(out, FinishedInvocation{
			Ref:      head.Ref,
			Contract: head.Contract,
			NewState: head.NewState,
			Emitted:  head.Emitted,
		})
	}
	return out
}

// MarkClosed transitions ref's queue head from Finished to Closed and
// removes it, once the block carrying its new-state transaction is
// finalized.
func (e *Executor) MarkClosed(ref types.SmartContractRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key, ok := e.byRef[ref]
	if !ok {
		return ErrUnknownContract
	}
	queue := e.queues[key]
	if len(queue) == 0 || queue[0].Ref != ref {
		return ErrUnknownContract
	}
	if queue[0].State != Finished {
		return ErrNotFinished
	}
	queue[0].State = Closed
	e.queues[key] = queue[1:]
	delete(e.byRef, ref)
	return nil
}

// CancelRunning implements the big-bang cancellation rule: every
// Running item is canceled and its emitted transactions discarded.
// keep reports, for a given ref, whether its spawning block
// survived the reset; items whose block did not survive are dropped
// from the queue instead of being reverted to Waiting.
func (e *Executor) CancelRunning(keep func(types.SmartContractRef) bool) []types.SmartContractRef {
	e.mu.Lock()
	defer e.mu.Unlock()

	var canceled []types.SmartContractRef
	for key, queue := range e.queues {
		if len(queue) == 0 || queue[0].State != Running {
			continue
		}
		head := queue[0]
		if head.cancel != nil {
			head.cancel()
		}
		canceled = append(canceled, head.Ref)

		if keep(head.Ref) {
			head.State = Waiting
			head.RoundStarted = 0
			head.Emitted = nil
			head.NewState = nil
			head.cancel = nil
			continue
		}
		delete(e.byRef, head.Ref)
		e.queues[key] = queue[1:]
	}
	return canceled
}

func contractKey(addr types.Address) string {
	if addr.IsWalletID() {
		var b [5]byte
		b[0] = 0
		b[1] = byte(addr.WalletID)
		b[2] = byte(addr.WalletID >> 8)
		b[3] = byte(addr.WalletID >> 16)
		b[4] = byte(addr.WalletID >> 24)
		return string(b[:])
	}
	return "k" + string(addr.Key[:])
}
