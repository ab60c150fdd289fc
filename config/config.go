// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config collects the tunable parameters of a node's
// consensus, round-coordination, executor and transport layers into
// one validated set, with presets for the three network sizes shipped
// with the node (mainnet, testnet, local) and a YAML-loadable
// node configuration for everything that is deployment-specific
// rather than protocol-specific (keys, listen address, bootstrap
// peers).
package config

import (
	"errors"
	"time"

	"github.com/relaynet/cnode/types"
)

// Sentinel validation errors, named individually so callers can branch
// on which invariant failed rather than parsing an error string.
var (
	ErrParametersInvalid     = errors.New("config: invalid parameters")
	ErrInvalidTrustedRange   = errors.New("config: MinTrustedNodes must be >= 3 and <= MaxTrustedNodes")
	ErrTimeoutTooLow         = errors.New("config: a timeout must be > 0")
	ErrStateTimeoutTooLow    = errors.New("config: StateTimeout must be >= StageRequestTimeout")
	ErrMaxStrikesTooLow      = errors.New("config: MaxStrikes must be >= 1")
	ErrFragmentSizeTooSmall  = errors.New("config: FragmentSize must be >= 512 bytes")
	ErrPacketRequestTooSmall = errors.New("config: MaxPacketRequestSize must be >= 1")
)

// Parameters is the full set of protocol-level knobs shared by
// consensus, roundcoord, executor and transport. It is the single
// source of truth those packages' own Config structs are built from:
// cmd/cnode wires Parameters into each package's New via its own
// Config literal.
type Parameters struct {
	// MinTrustedNodes/MaxTrustedNodes bound a round table's confidant
	// count.
	MinTrustedNodes int
	MaxTrustedNodes int

	// StageRequestTimeout is T_stage_request, the per-round wait
	// before a confidant asks a missing peer to resend its stage
	// message (default 4000 ms).
	StageRequestTimeout time.Duration
	// StateTimeout is each consensus state's expiry timer (default
	// 5000 ms).
	StateTimeout time.Duration
	// PostConsensusTimeout bounds the wait after a finalize for the
	// next round table before requesting one (default 60000 ms).
	PostConsensusTimeout time.Duration

	// MaxPacketRequestSize bounds how many sequences a single sync
	// BlockRequest, or a single PackRequest resend, may span.
	MaxPacketRequestSize int

	// ExecutorRoundTimeout is the number of rounds a smart-contract
	// invocation may remain Running before the executor synthesizes
	// an empty new-state transaction.
	ExecutorRoundTimeout types.Round

	// MaxStrikes is the number of protocol violations (malformed
	// headers, invalid commands) a neighbour may accrue before
	// transport blacklists it (default 10).
	MaxStrikes int
	// FragmentSize is the maximum payload bytes carried per wire
	// fragment before a message must be split.
	FragmentSize int
	// TickerInterval is the node's base scheduling tick (default
	// 50 ms); per-concern schedules are expressed as tick-count
	// multiples of it.
	TickerInterval time.Duration
}

// DefaultParams returns the protocol's stated defaults.
func DefaultParams() Parameters {
	return Parameters{
		MinTrustedNodes:       3,
		MaxTrustedNodes:       5,
		StageRequestTimeout:   4000 * time.Millisecond,
		StateTimeout:          5000 * time.Millisecond,
		PostConsensusTimeout:  60000 * time.Millisecond,
		MaxPacketRequestSize:  1000,
		ExecutorRoundTimeout:  20,
		MaxStrikes:            10,
		FragmentSize:          1200,
		TickerInterval:        50 * time.Millisecond,
	}
}

// MainnetParams returns DefaultParams with a wider confidant range and
// longer timeouts, sized for a large, higher-latency network.
func MainnetParams() Parameters {
	p := DefaultParams()
	p.MaxTrustedNodes = 9
	p.StageRequestTimeout = 6000 * time.Millisecond
	p.StateTimeout = 8000 * time.Millisecond
	return p
}

// TestnetParams returns DefaultParams unchanged; the protocol
// defaults already describe a moderate-size testnet deployment.
func TestnetParams() Parameters {
	return DefaultParams()
}

// LocalParams returns parameters tuned for a single-machine local
// network of a handful of nodes: the minimum legal confidant range and
// much shorter timeouts so a local cluster finalizes quickly.
func LocalParams() Parameters {
	p := DefaultParams()
	p.MaxTrustedNodes = 3
	p.StageRequestTimeout = 500 * time.Millisecond
	p.StateTimeout = 1000 * time.Millisecond
	p.PostConsensusTimeout = 5000 * time.Millisecond
	return p
}

// WithTickerInterval returns a copy of p with TickerInterval
// replaced. StageRequestTimeout and StateTimeout are rescaled
// proportionally whatever their current values, so a faster tick
// shortens those waits; PostConsensusTimeout is left unchanged.
func (p Parameters) WithTickerInterval(interval time.Duration) Parameters {
	if p.TickerInterval > 0 {
		scale := float64(interval) / float64(p.TickerInterval)
		p.StageRequestTimeout = time.Duration(float64(p.StageRequestTimeout) * scale)
		p.StateTimeout = time.Duration(float64(p.StateTimeout) * scale)
	}
	p.TickerInterval = interval
	return p
}

// Validate checks p's invariants, returning one of the sentinel errors
// above on the first violation found.
func (p Parameters) Validate() error {
	if p.MinTrustedNodes < 3 || p.MaxTrustedNodes < p.MinTrustedNodes {
		return ErrInvalidTrustedRange
	}
	if p.StageRequestTimeout <= 0 || p.PostConsensusTimeout <= 0 || p.TickerInterval <= 0 {
		return ErrTimeoutTooLow
	}
	if p.StateTimeout < p.StageRequestTimeout {
		return ErrStateTimeoutTooLow
	}
	if p.MaxStrikes < 1 {
		return ErrMaxStrikesTooLow
	}
	if p.FragmentSize < 512 {
		return ErrFragmentSizeTooSmall
	}
	if p.MaxPacketRequestSize < 1 {
		return ErrPacketRequestTooSmall
	}
	if p.ExecutorRoundTimeout == 0 {
		return ErrParametersInvalid
	}
	return nil
}
