// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"time"
)

// NetworkType selects a Parameters preset.
type NetworkType string

const (
	MainnetNetwork NetworkType = "mainnet"
	TestnetNetwork NetworkType = "testnet"
	LocalNetwork   NetworkType = "local"
)

// Builder provides a fluent interface for constructing a Parameters
// value, validating each adjustment as it is applied so a caller finds
// out about a bad override immediately rather than at Build.
type Builder struct {
	params Parameters
	err    error
}

// NewBuilder starts from DefaultParams.
func NewBuilder() *Builder {
	return &Builder{params: DefaultParams()}
}

// FromPreset replaces the builder's parameters with a named preset.
func (b *Builder) FromPreset(preset NetworkType) *Builder {
	if b.err != nil {
		return b
	}
	switch preset {
	case MainnetNetwork:
		b.params = MainnetParams()
	case TestnetNetwork:
		b.params = TestnetParams()
	case LocalNetwork:
		b.params = LocalParams()
	default:
		b.err = fmt.Errorf("config: unknown network preset %q", preset)
	}
	return b
}

// WithTrustedRange sets the confidant-count bounds.
func (b *Builder) WithTrustedRange(min, max int) *Builder {
	if b.err != nil {
		return b
	}
	if min < 3 {
		b.err = fmt.Errorf("config: MinTrustedNodes must be >= 3, got %d", min)
		return b
	}
	if max < min {
		b.err = fmt.Errorf("config: MaxTrustedNodes must be >= MinTrustedNodes, got %d < %d", max, min)
		return b
	}
	b.params.MinTrustedNodes = min
	b.params.MaxTrustedNodes = max
	return b
}

// WithTimeouts sets the three consensus-facing timeouts together,
// since StateTimeout must never be shorter than StageRequestTimeout.
func (b *Builder) WithTimeouts(stageRequest, state, postConsensus time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if stageRequest <= 0 || state <= 0 || postConsensus <= 0 {
		b.err = fmt.Errorf("config: timeouts must be > 0")
		return b
	}
	if state < stageRequest {
		b.err = fmt.Errorf("config: StateTimeout must be >= StageRequestTimeout, got %s < %s", state, stageRequest)
		return b
	}
	b.params.StageRequestTimeout = stageRequest
	b.params.StateTimeout = state
	b.params.PostConsensusTimeout = postConsensus
	return b
}

// WithMaxStrikes sets the strike threshold transport blacklists a
// neighbour at.
func (b *Builder) WithMaxStrikes(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 1 {
		b.err = fmt.Errorf("config: MaxStrikes must be >= 1, got %d", n)
		return b
	}
	b.params.MaxStrikes = n
	return b
}

// WithFragmentSize sets the maximum payload bytes per wire fragment.
func (b *Builder) WithFragmentSize(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 512 {
		b.err = fmt.Errorf("config: FragmentSize must be >= 512, got %d", n)
		return b
	}
	b.params.FragmentSize = n
	return b
}

// WithTickerInterval sets the base scheduling tick, rescaling
// dependent timeouts via Parameters.WithTickerInterval.
func (b *Builder) WithTickerInterval(interval time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if interval <= 0 {
		b.err = fmt.Errorf("config: TickerInterval must be > 0")
		return b
	}
	b.params = b.params.WithTickerInterval(interval)
	return b
}

// Build validates the accumulated parameters and returns them, or the
// first error encountered by any With* call.
func (b *Builder) Build() (Parameters, error) {
	if b.err != nil {
		return Parameters{}, b.err
	}
	if err := b.params.Validate(); err != nil {
		return Parameters{}, err
	}
	return b.params, nil
}
