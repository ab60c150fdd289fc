// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wirecodec"
)

// MessageHandler receives fully reassembled, decoded application
// messages off the processor thread's single-writer mailbox.
// cmd/cnode wires consensus.Machine, the
// round-coordinator and the transaction conveyer behind this
// interface; Transport itself only frames, reassembles and
// routes by message type.
type MessageHandler interface {
	HandleStage1(from types.PublicKey, s types.Stage1)
	HandleStage2(from types.PublicKey, s types.Stage2)
	HandleStage3(from types.PublicKey, s types.Stage3)
	HandleBigBang(from types.PublicKey, bb types.BigBang)
	HandleRoundTable(from types.PublicKey, table types.RoundTable)
	HandleRoundTableRequest(from types.PublicKey, round types.Round)
	HandleNewCharacteristic(from types.PublicKey, nc wirecodec.NewCharacteristic)
	HandleTransactionsPacket(from types.PublicKey, pkt *types.TransactionsPacket)
	HandleTransactionsPacketRequest(from types.PublicKey, hash types.Hash)
}

// BlockSource answers BlockRequest/RequestedBlock catch-up traffic;
// roundcoord.Coordinator implements it directly.
type BlockSource interface {
	HandleBlockRequest(start types.Sequence, count int) ([]*types.Block, error)
}

// BlockSink receives a RequestedBlock reply for catch-up application;
// roundcoord.Coordinator.ApplyRequestedBlock implements it directly.
type BlockSink interface {
	ApplyRequestedBlock(block *types.Block) error
}
