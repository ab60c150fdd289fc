// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultParamsValid(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.NoError(t, MainnetParams().Validate())
	require.NoError(t, TestnetParams().Validate())
	require.NoError(t, LocalParams().Validate())
}

func TestValidateCatchesInvalidTrustedRange(t *testing.T) {
	p := DefaultParams()
	p.MinTrustedNodes = 2
	require.ErrorIs(t, p.Validate(), ErrInvalidTrustedRange)

	p = DefaultParams()
	p.MaxTrustedNodes = 1
	require.ErrorIs(t, p.Validate(), ErrInvalidTrustedRange)
}

func TestValidateCatchesBadTimeouts(t *testing.T) {
	p := DefaultParams()
	p.StateTimeout = p.StageRequestTimeout - time.Millisecond
	require.ErrorIs(t, p.Validate(), ErrStateTimeoutTooLow)

	p = DefaultParams()
	p.TickerInterval = 0
	require.ErrorIs(t, p.Validate(), ErrTimeoutTooLow)
}

func TestWithTickerIntervalRescalesTimeouts(t *testing.T) {
	p := DefaultParams()
	before := p.StageRequestTimeout
	p = p.WithTickerInterval(p.TickerInterval * 2)
	require.Equal(t, before*2, p.StageRequestTimeout)
	require.NoError(t, p.Validate())
}

func TestBuilderAppliesOverridesAndValidates(t *testing.T) {
	p, err := NewBuilder().
		FromPreset(LocalNetwork).
		WithTrustedRange(3, 4).
		WithMaxStrikes(5).
		Build()
	require.NoError(t, err)
	require.Equal(t, 3, p.MinTrustedNodes)
	require.Equal(t, 4, p.MaxTrustedNodes)
	require.Equal(t, 5, p.MaxStrikes)
}

func TestBuilderRejectsBadTrustedRange(t *testing.T) {
	_, err := NewBuilder().WithTrustedRange(2, 5).Build()
	require.Error(t, err)
}

func TestBuilderRejectsUnknownPreset(t *testing.T) {
	_, err := NewBuilder().FromPreset(NetworkType("nonsense")).Build()
	require.Error(t, err)
}

func TestNodeConfigSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultNodeConfig(TestnetNetwork)
	cfg.BootstrapPeers = []string{"10.0.0.1:9651", "10.0.0.2:9651"}
	cfg.AuthorityPublicKey = "11111111111111111111111111111111"
	cfg.Overrides.MaxStrikes = 7
	cfg.Overrides.StageRequestTimeout = Duration(2 * time.Second)

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadNodeConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Network, loaded.Network)
	require.Equal(t, cfg.BootstrapPeers, loaded.BootstrapPeers)
	require.Equal(t, cfg.Overrides.StageRequestTimeout, loaded.Overrides.StageRequestTimeout)

	params, err := loaded.Parameters()
	require.NoError(t, err)
	require.Equal(t, 7, params.MaxStrikes)
	require.Equal(t, 2*time.Second, params.StageRequestTimeout)
}

func TestNodeConfigParametersRejectsUnknownNetwork(t *testing.T) {
	cfg := DefaultNodeConfig(NetworkType("bogus"))
	_, err := cfg.Parameters()
	require.Error(t, err)
}
