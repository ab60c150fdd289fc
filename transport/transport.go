// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/utils/linked"
	"github.com/relaynet/cnode/wirecodec"
)

// sendMode selects which neighbours a node-packet goes to.
type sendMode int

const (
	modeDirect sendMode = iota
	modeConfidants
	modeBroadcast
)

// Transport is one node's UDP peer-to-peer endpoint: it owns the
// socket, the neighbour table, fragment reassembly and the stage
// cache, and dispatches reassembled application messages to a
// MessageHandler. It implements consensus.Broadcaster and
// roundcoord.Announcer/ConnectivityProvider directly.
type Transport struct {
	cfg    Config
	conn   net.PacketConn
	selfPK types.PublicKey
	selfSK types.PrivateKey
	nodeID types.NodeID
	log    log.Logger

	table *Table
	frag  *reassembler
	stage *stageCache
	out   *outbox

	handler     MessageHandler
	blockSource BlockSource
	blockSink   BlockSink

	metrics *Metrics

	tableMu    sync.Mutex
	roundTable types.RoundTable

	// seen suppresses duplicate payloads by hash. Insertion
	// order is first-sight order, so the expiry sweep walks
	// oldest-first and stops at the first still-fresh entry.
	dedupMu sync.Mutex
	seen    *linked.Hashmap[types.Hash, time.Time]

	tick uint64
}

// New builds a Transport bound to conn (typically *net.UDPConn, but
// any net.PacketConn works, which keeps it testable without a real
// socket).
func New(cfg Config, conn net.PacketConn, selfPK types.PublicKey, selfSK types.PrivateKey, nodeID types.NodeID, handler MessageHandler, blockSource BlockSource, blockSink BlockSink, logger log.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("transport: logger must not be nil")
	}
	return &Transport{
		cfg:         cfg,
		conn:        conn,
		selfPK:      selfPK,
		selfSK:      selfSK,
		nodeID:      nodeID,
		log:         logger,
		table:       newTable(),
		frag:        newReassembler(4 * cfg.SilentThreshold),
		stage:       newStageCache(),
		out:         newOutbox(4 * cfg.SilentThreshold),
		handler:     handler,
		blockSource: blockSource,
		blockSink:   blockSink,
		seen:        linked.NewHashmap[types.Hash, time.Time](),
	}, nil
}

// SetMetrics attaches counters registered by NewMetrics. Without it
// the transport runs uninstrumented.
func (t *Transport) SetMetrics(m *Metrics) {
	t.metrics = m
}

// SetHandler late-binds the message handler. The consensus-side Node
// is constructed with this Transport as its network, so cmd/cnode
// builds the Transport with a nil handler first and binds the Node
// here before calling Run.
func (t *Transport) SetHandler(h MessageHandler) {
	t.handler = h
}

// SetRoundTable updates the committee used to resolve "confidants"
// sends and Connected lookups; cmd/cnode calls this whenever
// roundcoord derives a new table.
func (t *Transport) SetRoundTable(table types.RoundTable) {
	t.tableMu.Lock()
	defer t.tableMu.Unlock()
	t.roundTable = table
}

func (t *Transport) currentTable() types.RoundTable {
	t.tableMu.Lock()
	defer t.tableMu.Unlock()
	return t.roundTable
}

// Run drives the reader and ticker loops until ctx is cancelled,
// stopping cooperatively. It blocks until both
// loops have returned.
func (t *Transport) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return t.readLoop(gctx) })
	group.Go(func() error { return t.tickLoop(gctx) })
	return group.Wait()
}

// Close releases the underlying socket, unblocking the reader loop.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) readLoop(ctx context.Context) error {
	buf := make([]byte, t.cfg.MTU)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return fmt.Errorf("transport: set read deadline: %w", err)
		}
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			t.metrics.incReadError()
			t.log.Warn("transport: read error, resuming", "err", err)
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		t.handlePacket(addr, pkt)
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (t *Transport) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			t.onTick(now)
		}
	}
}

// onTick amortizes periodic duties across prime-modulus schedules so
// not every 50ms wakeup pays for every check.
func (t *Transport) onTick(now time.Time) {
	t.tick++
	if t.tick%11 == 0 {
		for _, n := range t.table.sweepLiveness(now, t.cfg.SilentThreshold, t.cfg.PingInterval) {
			t.sendPing(n)
		}
	}
	if t.tick%19 == 0 {
		t.resendMissingFragments()
	}
	if t.tick%23 == 0 {
		for _, hash := range t.frag.sweepAbandoned(now) {
			t.table.forgetAdvertised(hash)
		}
		t.out.sweep(now)
	}
	if t.tick%101 == 0 {
		t.log.Debug("transport: neighbour table", "count", t.table.len())
	}
	if t.tick%151 == 0 {
		t.dedupMu.Lock()
		for {
			hash, at, ok := t.seen.OldestEntry()
			if !ok || now.Sub(at) <= 4*t.cfg.SilentThreshold {
				break
			}
			t.seen.Delete(hash)
		}
		t.dedupMu.Unlock()
	}
}

// Dial registers addr as a neighbour with a known public key and
// starts the handshake by sending Registration. Used for configured
// bootstrap peers, whose identity is known ahead of time rather than
// learned from an inbound Registration.
func (t *Transport) Dial(addr net.Addr, peerPK types.PublicKey) {
	t.table.upsert(addr, peerPK, types.NodeID{})
	t.sendNetworkCommand(addr, wirecodec.CmdRegistration, wirecodec.EncodeRegistration(wirecodec.Registration{
		ClientVersion:  t.cfg.ClientVersion.Pack(),
		BlockchainUUID: t.cfg.BlockchainUUID,
		NodeID:         t.nodeID,
		PublicKey:      t.selfPK,
	}))
}

// Neighbours returns the public keys of every non-dropped neighbour,
// for diagnostics and cmd/cnode status reporting.
func (t *Transport) Neighbours() []types.PublicKey {
	return t.table.live()
}

// Listen opens a UDP socket on cfg.ListenAddress, the conventional way
// to build the net.PacketConn a Transport is constructed with.
func Listen(cfg Config) (net.PacketConn, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	return conn, nil
}

func (t *Transport) resendMissingFragments() {
	for _, hash := range t.frag.pendingHashes() {
		start, mask, ok := t.frag.missing(hash)
		if !ok {
			continue
		}
		for _, n := range t.table.advertisers(hash) {
			t.sendNetworkCommand(n.Addr, wirecodec.CmdPackRequest, wirecodec.EncodePackRequest(wirecodec.PackRequest{
				HeaderHash: hash,
				Start:      start,
				Missing:    mask,
			}))
		}
	}
}
