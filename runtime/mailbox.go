// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wirecodec"
)

// message is one entry in the consensus thread's single-writer
// mailbox. The transport's processor goroutine enqueues; only the
// consensus loop dequeues.
type message interface{ round() types.Round }

type stage1Msg struct {
	from types.PublicKey
	s    types.Stage1
}

type stage2Msg struct {
	from types.PublicKey
	s    types.Stage2
}

type stage3Msg struct {
	from types.PublicKey
	s    types.Stage3
}

type bigBangMsg struct {
	from types.PublicKey
	bb   types.BigBang
}

type roundTableMsg struct {
	from  types.PublicKey
	table types.RoundTable
}

type roundTableRequestMsg struct {
	from types.PublicKey
	r    types.Round
}

type newCharacteristicMsg struct {
	from types.PublicKey
	nc   wirecodec.NewCharacteristic
}

type txPacketMsg struct {
	from types.PublicKey
	pkt  *types.TransactionsPacket
}

type txPacketRequestMsg struct {
	from types.PublicKey
	hash types.Hash
}

func (m stage1Msg) round() types.Round            { return m.s.Round }
func (m stage2Msg) round() types.Round            { return m.s.Round }
func (m stage3Msg) round() types.Round            { return m.s.Round }
func (m bigBangMsg) round() types.Round           { return m.bb.Round }
func (m roundTableMsg) round() types.Round        { return m.table.Round }
func (m roundTableRequestMsg) round() types.Round { return m.r }
func (m newCharacteristicMsg) round() types.Round { return m.nc.Round }
func (m txPacketMsg) round() types.Round          { return 0 }
func (m txPacketRequestMsg) round() types.Round   { return 0 }

// post enqueues without blocking: the mailbox is bounded, and a full
// mailbox sheds load onto the protocol's own recovery paths
// (stage-request, PackRequest resend) rather than stalling the
// transport's processor goroutine.
func (n *Node) post(m message) {
	select {
	case n.mailbox <- m:
	default:
		n.log.Warn("runtime: mailbox full, dropping message", "round", m.round())
	}
}

// ---- transport.MessageHandler ----

func (n *Node) HandleStage1(from types.PublicKey, s types.Stage1) {
	n.post(stage1Msg{from: from, s: s})
}

func (n *Node) HandleStage2(from types.PublicKey, s types.Stage2) {
	n.post(stage2Msg{from: from, s: s})
}

func (n *Node) HandleStage3(from types.PublicKey, s types.Stage3) {
	n.post(stage3Msg{from: from, s: s})
}

func (n *Node) HandleBigBang(from types.PublicKey, bb types.BigBang) {
	n.post(bigBangMsg{from: from, bb: bb})
}

func (n *Node) HandleRoundTable(from types.PublicKey, table types.RoundTable) {
	n.post(roundTableMsg{from: from, table: table})
}

func (n *Node) HandleRoundTableRequest(from types.PublicKey, round types.Round) {
	n.post(roundTableRequestMsg{from: from, r: round})
}

func (n *Node) HandleNewCharacteristic(from types.PublicKey, nc wirecodec.NewCharacteristic) {
	n.post(newCharacteristicMsg{from: from, nc: nc})
}

func (n *Node) HandleTransactionsPacket(from types.PublicKey, pkt *types.TransactionsPacket) {
	n.post(txPacketMsg{from: from, pkt: pkt})
}

func (n *Node) HandleTransactionsPacketRequest(from types.PublicKey, hash types.Hash) {
	n.post(txPacketRequestMsg{from: from, hash: hash})
}
