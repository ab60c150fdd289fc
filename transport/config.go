// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport implements the UDP peer-to-peer layer: neighbour
// handshake and lifecycle, wire framing,
// fragment reassembly with PackInform/PackRequest/PackRenounce
// redirect, direct/confidants/broadcast send modes and strike-based
// blacklisting. It is the production backing for consensus.Broadcaster
// and roundcoord.Announcer/ConnectivityProvider.
package transport

import (
	"errors"
	"time"

	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/utils/version"
)

var (
	ErrConfigInvalid    = errors.New("transport: invalid config")
	ErrMaxStrikesTooLow = errors.New("transport: MaxStrikes must be >= 1")
	ErrBadFragmentSize  = errors.New("transport: FragmentSize must be >= 512 bytes")
	ErrBadMTU           = errors.New("transport: MTU must be > FragmentSize")
)

// Config bounds a Transport's neighbour bookkeeping, fragmentation and
// retry behavior. It mirrors the knobs in config.Parameters so
// cmd/cnode can build one from the other.
type Config struct {
	ListenAddress string

	// MTU bounds the size of one UDP datagram this transport will
	// send; payloads larger than FragmentSize are split across
	// multiple datagrams.
	MTU          int
	FragmentSize int

	// MaxStrikes is the number of protocol violations (malformed
	// header, unknown command, bad signature) a neighbour accumulates
	// before being blacklisted.
	MaxStrikes int

	// PingInterval is how often a confirmed neighbour is pinged.
	// SilentThreshold is how long without any traffic (including
	// pings) before a neighbour is marked silent, then dropped after
	// a further SilentThreshold elapses.
	PingInterval    time.Duration
	SilentThreshold time.Duration

	// ResendFanout bounds how many fragments one PackRequest reply
	// resends in a single burst, to avoid flooding a lossy link.
	ResendFanout int

	// MaxNeighbours bounds the neighbour table, refusing further
	// Registrations with RefuseLimitReached once reached.
	MaxNeighbours int

	// ClientVersion is announced during registration; peers with an
	// incompatible major version are refused.
	ClientVersion  version.Semantic
	BlockchainUUID types.Hash
}

// DefaultConfig returns values consistent with config.DefaultParams:
// 1200-byte fragments, 10 strikes, a 50ms-ticker-aligned ping cadence.
func DefaultConfig() Config {
	return Config{
		ListenAddress:   "0.0.0.0:9651",
		MTU:             1500,
		FragmentSize:    1200,
		MaxStrikes:      10,
		PingInterval:    2 * time.Second,
		SilentThreshold: 10 * time.Second,
		ResendFanout:    16,
		MaxNeighbours:   64,
		ClientVersion:   version.Current,
	}
}

// Validate reports whether cfg is internally consistent.
func (cfg Config) Validate() error {
	if cfg.MaxStrikes < 1 {
		return ErrMaxStrikesTooLow
	}
	if cfg.FragmentSize < 512 {
		return ErrBadFragmentSize
	}
	if cfg.MTU <= cfg.FragmentSize {
		return ErrBadMTU
	}
	if cfg.PingInterval <= 0 || cfg.SilentThreshold <= 0 {
		return ErrConfigInvalid
	}
	if cfg.ResendFanout < 1 || cfg.MaxNeighbours < 1 {
		return ErrConfigInvalid
	}
	return nil
}
