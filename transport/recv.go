// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"net"
	"time"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/utils/version"
	"github.com/relaynet/cnode/wirecodec"
)

// handlePacket decodes and routes one inbound UDP datagram. Socket
// errors beyond transient would-block are handled by the caller;
// here, protocol errors (malformed header, unknown command) strike
// the sender when it is already a known neighbour, and the packet is
// otherwise dropped so the routine can resume on the next datagram
//.
func (t *Transport) handlePacket(addr net.Addr, raw []byte) {
	h, n, err := wirecodec.DecodeFrameHeader(raw)
	if err != nil {
		if nb, ok := t.table.getByAddr(addr); ok {
			t.strikeAndLog(nb.PublicKey, addr, "malformed frame header", err)
		}
		return
	}
	payload := raw[n:]

	if h.Flags&wirecodec.FlagNetwork != 0 {
		t.handleNetworkPacket(addr, payload)
		return
	}
	t.handleNodePacket(addr, h, payload)
}

func (t *Transport) strikeAndLog(pk types.PublicKey, addr net.Addr, reason string, err error) {
	t.metrics.incStrike()
	t.log.Warn("transport: protocol violation", "addr", addr, "reason", reason, "err", err)
	if pk == (types.PublicKey{}) {
		return
	}
	if blacklisted := t.table.strike(pk, t.cfg.MaxStrikes); blacklisted {
		t.log.Warn("transport: neighbour blacklisted", "peer", pk)
	}
}

func (t *Transport) handleNetworkPacket(addr net.Addr, payload []byte) {
	if len(payload) == 0 {
		return
	}
	if nb, ok := t.table.getByAddr(addr); ok && nb.Blacklisted {
		return
	}
	cmd := wirecodec.NetworkCommand(payload[0])
	body := payload[1:]

	switch cmd {
	case wirecodec.CmdRegistration:
		t.handleRegistration(addr, body)
	case wirecodec.CmdRegistrationConfirmed:
		t.handleRegistrationConfirmed(addr, body)
	case wirecodec.CmdRegistrationRefused:
		t.handleRegistrationRefused(addr, body)
	case wirecodec.CmdPing:
		if nb, ok := t.table.getByAddr(addr); ok {
			t.table.touch(nb.PublicKey)
		}
	case wirecodec.CmdPackInform:
		t.handlePackInform(addr, body)
	case wirecodec.CmdPackRequest:
		t.handlePackRequest(addr, body)
	case wirecodec.CmdPackRenounce:
		t.handlePackRenounce(addr, body)
	default:
		if nb, ok := t.table.getByAddr(addr); ok {
			t.strikeAndLog(nb.PublicKey, addr, "unknown network command", nil)
		}
	}
}

func (t *Transport) handleRegistration(addr net.Addr, body []byte) {
	reg, err := wirecodec.DecodeRegistration(body)
	if err != nil {
		t.log.Warn("transport: malformed registration", "addr", addr, "err", err)
		return
	}
	if t.table.len() >= t.cfg.MaxNeighbours {
		t.sendNetworkCommand(addr, wirecodec.CmdRegistrationRefused, wirecodec.EncodeRegistrationRefused(wirecodec.RegistrationRefused{Reason: wirecodec.RefuseLimitReached}))
		return
	}
	if !t.cfg.ClientVersion.Compatible(version.Unpack(reg.ClientVersion)) {
		t.sendNetworkCommand(addr, wirecodec.CmdRegistrationRefused, wirecodec.EncodeRegistrationRefused(wirecodec.RegistrationRefused{Reason: wirecodec.RefuseBadClientVersion}))
		return
	}
	if reg.BlockchainUUID != t.cfg.BlockchainUUID {
		t.sendNetworkCommand(addr, wirecodec.CmdRegistrationRefused, wirecodec.EncodeRegistrationRefused(wirecodec.RegistrationRefused{Reason: wirecodec.RefuseIncompatibleBlockchainUUID}))
		return
	}
	t.table.upsert(addr, reg.PublicKey, reg.NodeID)
	t.table.setState(reg.PublicKey, StateRegistered)
	t.sendNetworkCommand(addr, wirecodec.CmdRegistrationConfirmed, wirecodec.EncodeRegistrationConfirmed(wirecodec.RegistrationConfirmed{NodeID: t.nodeID}))
}

func (t *Transport) handleRegistrationConfirmed(addr net.Addr, body []byte) {
	if _, err := wirecodec.DecodeRegistrationConfirmed(body); err != nil {
		t.log.Warn("transport: malformed registration-confirmed", "addr", addr, "err", err)
		return
	}
	n, ok := t.table.getByAddr(addr)
	if !ok {
		return
	}
	wasInitiator := n.State == StateRegistrationRequested
	t.table.confirm(n.PublicKey)
	if wasInitiator {
		// Third step of the handshake: the initiator acks back so the
		// responder can also move to confirmed.
		t.sendNetworkCommand(addr, wirecodec.CmdRegistrationConfirmed, wirecodec.EncodeRegistrationConfirmed(wirecodec.RegistrationConfirmed{NodeID: t.nodeID}))
	}
}

func (t *Transport) handleRegistrationRefused(addr net.Addr, body []byte) {
	refused, err := wirecodec.DecodeRegistrationRefused(body)
	if err != nil {
		t.log.Warn("transport: malformed registration-refused", "addr", addr, "err", err)
		return
	}
	t.log.Warn("transport: registration refused", "addr", addr, "reason", refused.Reason)
}

func (t *Transport) handlePackInform(addr net.Addr, body []byte) {
	inform, err := wirecodec.DecodePackInform(body)
	if err != nil {
		if nb, ok := t.table.getByAddr(addr); ok {
			t.strikeAndLog(nb.PublicKey, addr, "malformed pack-inform", err)
		}
		return
	}
	nb, ok := t.table.getByAddr(addr)
	if !ok {
		return
	}
	t.table.noteAdvertised(nb.PublicKey, inform.HeaderHash)
}

func (t *Transport) handlePackRequest(addr net.Addr, body []byte) {
	req, err := wirecodec.DecodePackRequest(body)
	if err != nil {
		if nb, ok := t.table.getByAddr(addr); ok {
			t.strikeAndLog(nb.PublicKey, addr, "malformed pack-request", err)
		}
		return
	}
	indexes := t.out.fragmentsFor(req.HeaderHash, req.Start, req.Missing, t.cfg.ResendFanout)
	if len(indexes) == 0 {
		t.sendNetworkCommand(addr, wirecodec.CmdPackRenounce, wirecodec.EncodePackRenounce(wirecodec.PackRenounce{HeaderHash: req.HeaderHash}))
		return
	}
	for _, idx := range indexes {
		if buf, ok := t.out.fragment(req.HeaderHash, idx); ok {
			t.write(addr, buf)
		}
	}
}

func (t *Transport) handlePackRenounce(addr net.Addr, body []byte) {
	renounce, err := wirecodec.DecodePackRenounce(body)
	if err != nil {
		if nb, ok := t.table.getByAddr(addr); ok {
			t.strikeAndLog(nb.PublicKey, addr, "malformed pack-renounce", err)
		}
		return
	}
	nb, ok := t.table.getByAddr(addr)
	if !ok {
		return
	}
	t.table.forgetAdvertisedFrom(nb.PublicKey, renounce.HeaderHash)
}

// handleNodePacket reassembles (if fragmented) and dispatches one
// application-level packet.
func (t *Transport) handleNodePacket(addr net.Addr, h wirecodec.FrameHeader, payload []byte) {
	if t.table.isBlacklisted(h.Sender) {
		return
	}
	t.table.touch(h.Sender)

	var full []byte
	if h.Fragmented {
		out, done := t.frag.deposit(h, payload, h.Sender)
		if !done {
			return
		}
		full = out
		t.metrics.incReassembled()
		t.table.forgetAdvertised(h.HeaderHash)
	} else {
		full = payload
	}

	hash := h.HeaderHash
	if !h.Fragmented {
		hash = cryptoutil.Hash256(full)
	}
	// Dedup applies to gossiped packets only: a direct packet is a
	// point-to-point reply (stage replay, requested block) whose bytes
	// may legitimately repeat an earlier send.
	if h.Flags&wirecodec.FlagDirect == 0 {
		if !t.markSeen(hash) {
			t.metrics.incDuplicate()
			return
		}
		t.informNeighbours(addr, hash)
	}

	t.dispatch(h, full)
}

// markSeen reports whether hash has not been seen before, recording
// it either way.
func (t *Transport) markSeen(hash types.Hash) bool {
	t.dedupMu.Lock()
	defer t.dedupMu.Unlock()
	if _, ok := t.seen.Get(hash); ok {
		return false
	}
	t.seen.Put(hash, time.Now())
	return true
}

// informNeighbours broadcasts a PackInform for hash to every confirmed
// neighbour except the one the packet arrived from.
func (t *Transport) informNeighbours(from net.Addr, hash types.Hash) {
	payload := wirecodec.EncodePackInform(wirecodec.PackInform{HeaderHash: hash})
	for _, n := range t.table.confirmed() {
		if n.Addr.String() == from.String() {
			continue
		}
		t.sendNetworkCommand(n.Addr, wirecodec.CmdPackInform, payload)
	}
}

func (t *Transport) dispatch(h wirecodec.FrameHeader, payload []byte) {
	if t.handler == nil {
		return
	}
	switch h.Type {
	case wirecodec.MsgStage1:
		s, err := wirecodec.DecodeStage1(payload)
		if t.reject(h, err) {
			return
		}
		t.handler.HandleStage1(h.Sender, s)
	case wirecodec.MsgStage2:
		s, err := wirecodec.DecodeStage2(payload)
		if t.reject(h, err) {
			return
		}
		t.handler.HandleStage2(h.Sender, s)
	case wirecodec.MsgStage3:
		s, err := wirecodec.DecodeStage3(payload)
		if t.reject(h, err) {
			return
		}
		t.handler.HandleStage3(h.Sender, s)
	case wirecodec.MsgStageRequest:
		t.handleStageRequest(h, payload)
	case wirecodec.MsgTransactionsPacket:
		pkt, err := wirecodec.DecodeTransactionsPacket(payload)
		if t.reject(h, err) {
			return
		}
		t.handler.HandleTransactionsPacket(h.Sender, pkt)
	case wirecodec.MsgTransactionsPacketRequest:
		if len(payload) < 32 {
			t.strikeAndLog(h.Sender, nil, "short transactions-packet-request", nil)
			return
		}
		var hash types.Hash
		copy(hash[:], payload[:32])
		t.handler.HandleTransactionsPacketRequest(h.Sender, hash)
	case wirecodec.MsgNewCharacteristic:
		nc, err := wirecodec.DecodeNewCharacteristic(payload)
		if t.reject(h, err) {
			return
		}
		t.handler.HandleNewCharacteristic(h.Sender, nc)
	case wirecodec.MsgBigBang:
		bb, err := wirecodec.DecodeBigBang(payload)
		if t.reject(h, err) {
			return
		}
		t.handler.HandleBigBang(h.Sender, bb)
	case wirecodec.MsgRoundTable, wirecodec.MsgRoundTableReply:
		table, err := wirecodec.DecodeRoundTable(payload)
		if t.reject(h, err) {
			return
		}
		t.handler.HandleRoundTable(h.Sender, table)
	case wirecodec.MsgRoundTableRequest:
		t.handler.HandleRoundTableRequest(h.Sender, h.Round)
	case wirecodec.MsgBlockRequest:
		t.handleBlockRequest(h, payload)
	case wirecodec.MsgRequestedBlock:
		t.handleRequestedBlocks(h, payload)
	case wirecodec.MsgBlockSync:
		t.log.Debug("transport: dropping legacy block-sync packet", "sender", h.Sender)
	default:
		t.strikeAndLog(h.Sender, nil, "unknown message type", nil)
	}
}

func (t *Transport) reject(h wirecodec.FrameHeader, err error) bool {
	if err == nil {
		return false
	}
	t.strikeAndLog(h.Sender, nil, "undecodable payload", err)
	return true
}

func (t *Transport) handleStageRequest(h wirecodec.FrameHeader, payload []byte) {
	sr, err := wirecodec.DecodeStageRequest(payload)
	if t.reject(h, err) {
		return
	}
	cached, ok := t.stage.get(h.Round, sr.MsgType)
	if !ok {
		return
	}
	n, ok := t.table.get(h.Sender)
	if !ok {
		return
	}
	t.sendTo(n.Addr, sr.MsgType, h.Round, cached, true)
}

func (t *Transport) handleBlockRequest(h wirecodec.FrameHeader, payload []byte) {
	req, err := wirecodec.DecodeBlockRequest(payload)
	if t.reject(h, err) {
		return
	}
	if t.blockSource == nil {
		return
	}
	blocks, err := t.blockSource.HandleBlockRequest(req.Start, int(req.Count))
	if err != nil {
		t.log.Warn("transport: block request failed", "sender", h.Sender, "err", err)
		return
	}
	enc, err := wirecodec.EncodeRequestedBlocks(blocks)
	if err != nil {
		t.log.Error("transport: encode requested blocks", "err", err)
		return
	}
	n, ok := t.table.get(h.Sender)
	if !ok {
		return
	}
	t.sendTo(n.Addr, wirecodec.MsgRequestedBlock, h.Round, enc, true)
}

func (t *Transport) handleRequestedBlocks(h wirecodec.FrameHeader, payload []byte) {
	blocks, err := wirecodec.DecodeRequestedBlocks(payload)
	if t.reject(h, err) {
		return
	}
	if t.blockSink == nil {
		return
	}
	for _, block := range blocks {
		if err := t.blockSink.ApplyRequestedBlock(block); err != nil {
			t.log.Warn("transport: apply requested block failed", "sequence", block.Sequence, "err", err)
			return
		}
	}
}
