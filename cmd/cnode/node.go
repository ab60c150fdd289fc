// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/luxfi/database/pebbledb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"
	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/relaynet/cnode/api"
	"github.com/relaynet/cnode/api/health"
	apimetrics "github.com/relaynet/cnode/api/metrics"
	"github.com/relaynet/cnode/blockstore"
	"github.com/relaynet/cnode/config"
	"github.com/relaynet/cnode/consensus"
	"github.com/relaynet/cnode/conveyer"
	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/executor"
	"github.com/relaynet/cnode/roundcoord"
	"github.com/relaynet/cnode/runtime"
	"github.com/relaynet/cnode/transport"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/utils/version"
	"github.com/relaynet/cnode/utils/wrappers"
	"github.com/relaynet/cnode/validator"
	"github.com/relaynet/cnode/wallet"
	"github.com/relaynet/cnode/wirecodec"
)

var (
	chainPrefix  = []byte("chain")
	walletPrefix = []byte("wallet")
)

// noopRemote stands in for the external contract executor when none
// is configured: every invocation finishes immediately with empty
// state, so a chain without a VM deployment still progresses.
type noopRemote struct{}

func (noopRemote) Execute(context.Context, executor.ExecutionRequest) (executor.ExecutionResult, error) {
	return executor.ExecutionResult{}, nil
}

func runNode(parent context.Context, cfg config.NodeConfig) error {
	logger := log.NewLogger("cnode")
	logger.Info("cnode starting", "version", version.Current, "network", cfg.Network)

	params, err := cfg.Parameters()
	if err != nil {
		return err
	}

	// Keys: a missing pair prompts a one-time generation.
	selfPK, selfSK, err := cryptoutil.LoadKeyFiles(cfg.KeysDir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no key files found, generating", "dir", cfg.KeysDir)
		if err = os.MkdirAll(cfg.KeysDir, 0o700); err != nil {
			return fmt.Errorf("create keys dir: %w", err)
		}
		selfPK, selfSK, err = cryptoutil.GenerateAndSaveKeyFiles(cfg.KeysDir)
	}
	if err != nil {
		return fmt.Errorf("load node keys: %w", err)
	}
	keyHash := cryptoutil.Hash256(selfPK[:])
	var nodeID types.NodeID
	copy(nodeID[:], keyHash[:])

	registry := apimetrics.NewRegistry()
	gatherer := apimetrics.NewMultiGatherer()
	if err := gatherer.Register("cnode", registry); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebbledb.New(filepath.Join(cfg.DataDir, "db"), nil, logger, registry)
	if err != nil {
		return fmt.Errorf("open chain database: %w", err)
	}
	defer db.Close()

	store := blockstore.New(prefixdb.New(chainPrefix, db), logger)
	wallets := wallet.New(prefixdb.New(walletPrefix, db), logger)

	tip, tipHash, _, err := store.Tip(blockHash)
	if err != nil {
		return fmt.Errorf("read chain tip: %w", err)
	}
	logger.Info("chain tip", "sequence", tip)

	conv, err := conveyer.New(conveyer.DefaultConfig(), logger, 0)
	if err != nil {
		return err
	}
	valid := validator.New(validator.Config{}, validator.NewWalletLookup(wallets), logger)

	remote, closeRemote, err := dialRemote(parent, cfg.RemoteExecutor, logger)
	if err != nil {
		return err
	}
	defer closeRemote()
	exec := executor.New(executor.Config{RoundTimeout: params.ExecutorRoundTimeout}, remote, logger)

	coord, err := roundcoord.New(roundcoord.Config{
		MinTrustedNodes:      params.MinTrustedNodes,
		MaxTrustedNodes:      params.MaxTrustedNodes,
		MaxPacketRequestSize: params.MaxPacketRequestSize,
		PostConsensusTimeout: params.PostConsensusTimeout,
	}, conv, store, wallets, nil, nil, tip, tipHash, logger)
	if err != nil {
		return err
	}

	trCfg := transport.DefaultConfig()
	trCfg.ListenAddress = cfg.ListenAddress
	trCfg.FragmentSize = params.FragmentSize
	trCfg.MaxStrikes = params.MaxStrikes
	conn, err := transport.Listen(trCfg)
	if err != nil {
		return err
	}
	tr, err := transport.New(trCfg, conn, selfPK, selfSK, nodeID, nil, coord, coord, logger)
	if err != nil {
		return err
	}
	coord.SetNetwork(tr, tr)

	node, err := runtime.New(runtime.Config{
		TickerInterval:  params.TickerInterval,
		MailboxCapacity: 1024,
		MaxTrustedNodes: params.MaxTrustedNodes,
		TableHistory:    16,
	}, selfPK, selfSK, conv, valid, exec, coord, store, tr, logger)
	if err != nil {
		return err
	}
	tr.SetHandler(node)

	authority, err := cfg.AuthorityKey()
	if err != nil {
		return fmt.Errorf("authority key: %w", err)
	}
	machine := consensus.New(consensus.Config{
		MinTrustedNodes:      params.MinTrustedNodes,
		StageRequestTimeout:  params.StageRequestTimeout,
		StateTimeout:         params.StateTimeout,
		PostConsensusTimeout: params.PostConsensusTimeout,
	}, selfPK, selfSK, nodeID, authority, node, node, coord, exec, logger)
	node.SetMachine(machine)

	if err := registerMetrics(registry, tr, node, conv, exec, coord); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		node.Stop()
	}()

	for _, peer := range cfg.BootstrapPeers {
		pk, addr, err := parsePeer(peer)
		if err != nil {
			logger.Warn("skipping malformed bootstrap peer", "peer", peer, "err", err)
			continue
		}
		tr.Dial(addr, pk)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return tr.Run(gctx) })
	group.Go(func() error { return node.Run(gctx) })
	if cfg.AdminAddress != "" {
		admin := api.NewServer(cfg.AdminAddress, node, healthChecks(tr, coord, exec), gatherer, logger)
		group.Go(func() error { return admin.Run(gctx) })
	}

	err = group.Wait()
	_ = tr.Close()
	logger.Info("cnode stopped")
	return err
}

// blockHash computes a block's canonical hash for Tip/Rebuild.
func blockHash(b *types.Block) types.Hash {
	enc, err := wirecodec.EncodeBlock(b)
	if err != nil {
		// A block read back from our own store always re-encodes.
		panic(err)
	}
	return cryptoutil.Hash256(enc)
}

// dialRemote connects the gRPC remote executor, or installs the no-op
// stand-in when no address is configured.
func dialRemote(ctx context.Context, addr string, logger log.Logger) (executor.RemoteExecutor, func(), error) {
	if addr == "" {
		logger.Info("no remote executor configured, contracts finish with empty state")
		return noopRemote{}, func() {}, nil
	}
	client, err := executor.DialRemoteExecutor(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial remote executor %s: %w", addr, err)
	}
	return client, func() { _ = client.Close() }, nil
}

// parsePeer splits a "<base58 public key>@<host:port>" bootstrap entry.
func parsePeer(s string) (types.PublicKey, net.Addr, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return types.PublicKey{}, nil, fmt.Errorf("missing '@' separator")
	}
	raw, err := base58.Decode(s[:at])
	if err != nil {
		return types.PublicKey{}, nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 32 {
		return types.PublicKey{}, nil, fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	var pk types.PublicKey
	copy(pk[:], raw)
	addr, err := net.ResolveUDPAddr("udp", s[at+1:])
	if err != nil {
		return types.PublicKey{}, nil, fmt.Errorf("resolve address: %w", err)
	}
	return pk, addr, nil
}

// registerMetrics wires the per-component counters and gauges into the
// shared registry.
func registerMetrics(reg prometheus.Registerer, tr *transport.Transport, node *runtime.Node, conv *conveyer.Conveyer, exec *executor.Executor, coord *roundcoord.Coordinator) error {
	tm, err := transport.NewMetrics(reg)
	if err != nil {
		return err
	}
	tr.SetMetrics(tm)
	if err := node.SetMetrics(reg); err != nil {
		return err
	}

	errs := wrappers.Errs{}
	errs.Add(reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "conveyer_mempool_packets",
		Help: "Number of transaction packets currently stored in the conveyer",
	}, func() float64 { return float64(conv.Len()) })))
	errs.Add(reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "executor_queue_depth",
		Help: "Number of not-yet-closed contract invocations",
	}, func() float64 { return float64(exec.QueueDepth()) })))
	errs.Add(reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "chain_last_written_sequence",
		Help: "Sequence of the most recently finalized block",
	}, func() float64 { return float64(coord.LastWrittenSequence()) })))
	errs.Add(reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "transport_neighbours",
		Help: "Number of non-dropped neighbours",
	}, func() float64 { return float64(len(tr.Neighbours())) })))
	return errs.Err()
}

// healthChecks builds the admin endpoint's per-component checks.
func healthChecks(tr *transport.Transport, coord *roundcoord.Coordinator, exec *executor.Executor) *health.Registry {
	checks := health.NewRegistry()
	checks.Register("transport", health.CheckerFunc(func(context.Context) (interface{}, error) {
		n := len(tr.Neighbours())
		details := map[string]interface{}{"neighbours": n}
		if n == 0 {
			return details, fmt.Errorf("no live neighbours")
		}
		return details, nil
	}))
	checks.Register("chain", health.CheckerFunc(func(context.Context) (interface{}, error) {
		details := map[string]interface{}{
			"lastWrittenSequence": uint64(coord.LastWrittenSequence()),
			"syncing":             coord.Syncing(),
		}
		return details, nil
	}))
	checks.Register("executor", health.CheckerFunc(func(context.Context) (interface{}, error) {
		return map[string]interface{}{"queueDepth": exec.QueueDepth()}, nil
	}))
	return checks
}
