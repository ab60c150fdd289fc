// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"net"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wirecodec"
)

// send frames payload as a node packet of msgType for round and
// delivers it according to mode, fragmenting if it exceeds
// FragmentSize.
func (t *Transport) send(mode sendMode, target types.PublicKey, msgType wirecodec.MessageType, round types.Round, payload []byte) {
	var addrs []net.Addr
	switch mode {
	case modeDirect:
		n, ok := t.table.get(target)
		if !ok {
			t.log.Debug("transport: send: unknown direct target", "type", msgType)
			return
		}
		addrs = []net.Addr{n.Addr}
	case modeConfidants:
		table := t.currentTable()
		for _, pk := range table.Confidants {
			if n, ok := t.table.get(pk); ok {
				addrs = append(addrs, n.Addr)
			}
		}
	case modeBroadcast:
		for _, n := range t.table.confirmed() {
			addrs = append(addrs, n.Addr)
		}
	}
	direct := mode == modeDirect
	for _, addr := range addrs {
		t.sendTo(addr, msgType, round, payload, direct)
	}
}

// sendTo frames and, if necessary, fragments payload to a single
// address. direct marks the packet FlagDirect, telling the recipient
// not to fan out a PackInform for it.
func (t *Transport) sendTo(addr net.Addr, msgType wirecodec.MessageType, round types.Round, payload []byte, direct bool) {
	var flags uint8
	if direct {
		flags |= wirecodec.FlagDirect
	}
	if len(payload) <= t.cfg.FragmentSize {
		h := wirecodec.FrameHeader{Flags: flags, Type: msgType, Round: round, Sender: t.selfPK}
		buf := append(wirecodec.EncodeFrameHeader(h), payload...)
		t.write(addr, buf)
		return
	}

	headerHash := cryptoutil.Hash256(payload)
	total := (len(payload) + t.cfg.FragmentSize - 1) / t.cfg.FragmentSize
	if total > 1<<16 {
		t.log.Error("transport: payload too large to fragment", "type", msgType, "size", len(payload))
		return
	}
	fragments := make([][]byte, total)
	for i := 0; i < total; i++ {
		start := i * t.cfg.FragmentSize
		end := start + t.cfg.FragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		h := wirecodec.FrameHeader{
			Flags:      flags,
			Type:       msgType,
			Round:      round,
			Sender:     t.selfPK,
			Fragmented: true,
			HeaderHash: headerHash,
			FragIndex:  uint16(i),
			FragTotal:  uint16(total),
		}
		buf := append(wirecodec.EncodeFrameHeader(h), payload[start:end]...)
		fragments[i] = buf
		t.write(addr, buf)
	}
	t.out.put(headerHash, fragments)
}

func (t *Transport) write(addr net.Addr, buf []byte) {
	if _, err := t.conn.WriteTo(buf, addr); err != nil {
		t.log.Warn("transport: write failed", "addr", addr, "err", err)
		return
	}
	t.metrics.incPacketSent()
}

// sendNetworkCommand frames a network-level (FlagNetwork) packet,
// which carries no type/round/sender in its header - only the 1-byte
// command code prefixed to the payload.
func (t *Transport) sendNetworkCommand(addr net.Addr, cmd wirecodec.NetworkCommand, payload []byte) {
	h := wirecodec.FrameHeader{Flags: wirecodec.FlagNetwork}
	buf := wirecodec.EncodeFrameHeader(h)
	buf = append(buf, byte(cmd))
	buf = append(buf, payload...)
	t.write(addr, buf)
}

func (t *Transport) sendPing(n *Neighbour) {
	t.sendNetworkCommand(n.Addr, wirecodec.CmdPing, nil)
}

// ---- consensus.Broadcaster ----

// SendStage1 broadcasts s, caching it so a later StageRequest for this
// round's Stage-1 can be answered without re-involving consensus.
func (t *Transport) SendStage1(s types.Stage1) {
	enc, err := wirecodec.EncodeStage1(s)
	if err != nil {
		t.log.Error("transport: encode stage1", "err", err)
		return
	}
	t.stage.putStage1(s.Round, enc)
	t.send(modeBroadcast, types.PublicKey{}, wirecodec.MsgStage1, s.Round, enc)
}

// SendStage2 broadcasts s to the round's confidants, caching it for
// StageRequest recovery.
func (t *Transport) SendStage2(s types.Stage2) {
	enc, err := wirecodec.EncodeStage2(s)
	if err != nil {
		t.log.Error("transport: encode stage2", "err", err)
		return
	}
	t.stage.putStage2(s.Round, enc)
	t.send(modeConfidants, types.PublicKey{}, wirecodec.MsgStage2, s.Round, enc)
}

// SendStage3 broadcasts s to the round's confidants, caching it for
// StageRequest recovery.
func (t *Transport) SendStage3(s types.Stage3) {
	enc, err := wirecodec.EncodeStage3(s)
	if err != nil {
		t.log.Error("transport: encode stage3", "err", err)
		return
	}
	t.stage.putStage3(s.Round, enc)
	t.send(modeConfidants, types.PublicKey{}, wirecodec.MsgStage3, s.Round, enc)
}

// SendStageRequest asks each peer in missing to resend its cached
// stage message for round.
func (t *Transport) SendStageRequest(msgType uint16, round types.Round, missing []types.PublicKey) {
	for _, pk := range missing {
		n, ok := t.table.get(pk)
		if !ok {
			continue
		}
		sr := wirecodec.StageRequest{
			MsgType:   wirecodec.MessageType(msgType),
			Requester: t.nodeID,
			Required:  n.NodeID,
		}
		t.sendTo(n.Addr, wirecodec.MsgStageRequest, round, wirecodec.EncodeStageRequest(sr), true)
	}
}

// SendNextRoundRequest broadcasts a request for the round table
// carrying round, used by consensus when it cannot derive one itself.
func (t *Transport) SendNextRoundRequest(round types.Round) {
	t.BroadcastRoundTableRequest(round)
}

// ---- roundcoord.Announcer ----

// BroadcastNewCharacteristic advertises a freshly finalized block's
// round, mask and hash to every confirmed neighbour.
func (t *Transport) BroadcastNewCharacteristic(round types.Round, mask types.CharacteristicMask, blockHash types.Hash) {
	enc, err := wirecodec.EncodeNewCharacteristic(wirecodec.NewCharacteristic{Round: round, Mask: mask, BlockHash: blockHash})
	if err != nil {
		t.log.Error("transport: encode new-characteristic", "err", err)
		return
	}
	t.send(modeBroadcast, types.PublicKey{}, wirecodec.MsgNewCharacteristic, round, enc)
}

// BroadcastRoundTableRequest asks neighbours to reply with the round
// table they last saw.
func (t *Transport) BroadcastRoundTableRequest(round types.Round) {
	t.send(modeBroadcast, types.PublicKey{}, wirecodec.MsgRoundTableRequest, round, nil)
}

// ---- roundcoord.ConnectivityProvider ----

// Connected reports whether pk is a presently confirmed neighbour.
func (t *Transport) Connected(pk types.PublicKey) bool {
	n, ok := t.table.get(pk)
	return ok && n.State == StateConfirmed
}

// ---- catch-up sends, used by cmd/cnode's sync driver ----

// SendBlockRequest asks target for up to count sequential blocks
// starting at start.
func (t *Transport) SendBlockRequest(target types.PublicKey, start types.Sequence, count int) {
	t.send(modeDirect, target, wirecodec.MsgBlockRequest, 0, wirecodec.EncodeBlockRequest(wirecodec.BlockRequest{Start: start, Count: uint32(count)}))
}

// SendTransactionsPacketRequest asks target to resend the
// transactions packet named by hash.
func (t *Transport) SendTransactionsPacketRequest(target types.PublicKey, hash types.Hash) {
	buf := make([]byte, 32)
	copy(buf, hash[:])
	t.send(modeDirect, target, wirecodec.MsgTransactionsPacketRequest, 0, buf)
}

// SendTransactionsPacket answers a TransactionsPacketRequest with the
// packet itself, point-to-point.
func (t *Transport) SendTransactionsPacket(target types.PublicKey, pkt *types.TransactionsPacket) {
	enc, err := wirecodec.EncodeTransactionsPacket(pkt)
	if err != nil {
		t.log.Error("transport: encode transactions packet", "err", err)
		return
	}
	t.send(modeDirect, target, wirecodec.MsgTransactionsPacket, t.currentTable().Round, enc)
}

// BroadcastTransactionsPacket gossips a packet to every confirmed
// neighbour, used for freshly built new-state packets.
func (t *Transport) BroadcastTransactionsPacket(pkt *types.TransactionsPacket) {
	enc, err := wirecodec.EncodeTransactionsPacket(pkt)
	if err != nil {
		t.log.Error("transport: encode transactions packet", "err", err)
		return
	}
	t.send(modeBroadcast, types.PublicKey{}, wirecodec.MsgTransactionsPacket, t.currentTable().Round, enc)
}

// SendRoundTableReply answers a RoundTableRequest with the table this
// node currently holds.
func (t *Transport) SendRoundTableReply(target types.PublicKey, table types.RoundTable) {
	enc, err := wirecodec.EncodeRoundTable(table)
	if err != nil {
		t.log.Error("transport: encode round table", "err", err)
		return
	}
	t.send(modeDirect, target, wirecodec.MsgRoundTableReply, table.Round, enc)
}

// BroadcastRoundTable disseminates a freshly derived round table, the
// writer's follow-up to finalizing a block.
func (t *Transport) BroadcastRoundTable(table types.RoundTable) {
	enc, err := wirecodec.EncodeRoundTable(table)
	if err != nil {
		t.log.Error("transport: encode round table", "err", err)
		return
	}
	t.send(modeBroadcast, types.PublicKey{}, wirecodec.MsgRoundTable, table.Round, enc)
}
