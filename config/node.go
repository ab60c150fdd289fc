// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"github.com/relaynet/cnode/types"
)

// NodeConfig is everything about running one node that is
// deployment-specific rather than protocol-specific: where its keys
// and chain data live, what address it listens on, who its bootstrap
// peers are, and which network preset to size its Parameters from.
// It is the shape cmd/cnode reads from a YAML file on disk.
type NodeConfig struct {
	Network NetworkType `yaml:"network"`

	ListenAddress string   `yaml:"listenAddress"`
	// AdminAddress serves the read-only HTTP surface (/health,
	// /status, /metrics); empty disables it.
	AdminAddress string `yaml:"adminAddress"`
	KeysDir      string `yaml:"keysDir"`
	DataDir      string `yaml:"dataDir"`
	// BootstrapPeers are "<base58 public key>@<host:port>" entries
	// dialed on start; peer identity must be known up front since the
	// registration handshake does not authenticate the responder.
	BootstrapPeers []string `yaml:"bootstrapPeers"`
	// RemoteExecutor is the gRPC address of the external contract
	// executor service; empty runs contracts against a no-op executor
	// that finishes every invocation with empty state.
	RemoteExecutor string `yaml:"remoteExecutor"`

	// AuthorityPublicKey is the base58-encoded public key BigBang
	// messages must be signed by to be honored; it is a network-wide
	// value, not this node's own identity.
	AuthorityPublicKey string `yaml:"authorityPublicKey"`

	// Overrides lets a deployment tune individual Parameters fields
	// without fully displacing its Network preset; zero fields are
	// left at the preset's value.
	Overrides ParameterOverrides `yaml:"overrides,omitempty"`
}

// ParameterOverrides mirrors a subset of Parameters with YAML tags and
// the Duration wrapper, letting node.yaml tune individual values.
// Fields left at their zero value don't override the preset.
type ParameterOverrides struct {
	MinTrustedNodes      int      `yaml:"minTrustedNodes,omitempty"`
	MaxTrustedNodes      int      `yaml:"maxTrustedNodes,omitempty"`
	StageRequestTimeout  Duration `yaml:"stageRequestTimeout,omitempty"`
	StateTimeout         Duration `yaml:"stateTimeout,omitempty"`
	PostConsensusTimeout Duration `yaml:"postConsensusTimeout,omitempty"`
	MaxPacketRequestSize int      `yaml:"maxPacketRequestSize,omitempty"`
	MaxStrikes           int      `yaml:"maxStrikes,omitempty"`
	FragmentSize         int      `yaml:"fragmentSize,omitempty"`
	TickerInterval       Duration `yaml:"tickerInterval,omitempty"`
}

// DefaultNodeConfig returns a NodeConfig for network with no overrides
// and conventional data/key directory names.
func DefaultNodeConfig(network NetworkType) NodeConfig {
	return NodeConfig{
		Network:       network,
		ListenAddress: "0.0.0.0:9651",
		AdminAddress:  "127.0.0.1:9650",
		KeysDir:       "./keys",
		DataDir:       "./data",
	}
}

// LoadNodeConfig reads and parses a YAML node configuration file.
func LoadNodeConfig(path string) (NodeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: read node config: %w", err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config: parse node config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func (cfg NodeConfig) Save(path string) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal node config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("config: write node config: %w", err)
	}
	return nil
}

// Parameters resolves cfg's network preset with its overrides applied
// on top, then validates the result.
func (cfg NodeConfig) Parameters() (Parameters, error) {
	var p Parameters
	switch cfg.Network {
	case MainnetNetwork:
		p = MainnetParams()
	case TestnetNetwork:
		p = TestnetParams()
	case LocalNetwork, "":
		p = LocalParams()
	default:
		return Parameters{}, fmt.Errorf("config: unknown network %q", cfg.Network)
	}

	o := cfg.Overrides
	if o.MinTrustedNodes != 0 {
		p.MinTrustedNodes = o.MinTrustedNodes
	}
	if o.MaxTrustedNodes != 0 {
		p.MaxTrustedNodes = o.MaxTrustedNodes
	}
	if o.StageRequestTimeout != 0 {
		p.StageRequestTimeout = time.Duration(o.StageRequestTimeout)
	}
	if o.StateTimeout != 0 {
		p.StateTimeout = time.Duration(o.StateTimeout)
	}
	if o.PostConsensusTimeout != 0 {
		p.PostConsensusTimeout = time.Duration(o.PostConsensusTimeout)
	}
	if o.MaxPacketRequestSize != 0 {
		p.MaxPacketRequestSize = o.MaxPacketRequestSize
	}
	if o.MaxStrikes != 0 {
		p.MaxStrikes = o.MaxStrikes
	}
	if o.FragmentSize != 0 {
		p.FragmentSize = o.FragmentSize
	}
	if o.TickerInterval != 0 {
		p = p.WithTickerInterval(time.Duration(o.TickerInterval))
	}

	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// AuthorityKey decodes AuthorityPublicKey from base58. An unset value
// yields the zero key, against which no big-bang signature verifies:
// a network without a configured authority simply never resets.
func (cfg NodeConfig) AuthorityKey() (types.PublicKey, error) {
	if cfg.AuthorityPublicKey == "" {
		return types.PublicKey{}, nil
	}
	raw, err := base58.Decode(cfg.AuthorityPublicKey)
	if err != nil {
		return types.PublicKey{}, fmt.Errorf("config: decode authority public key: %w", err)
	}
	if len(raw) != 32 {
		return types.PublicKey{}, fmt.Errorf("config: authority public key must be 32 bytes, got %d", len(raw))
	}
	var pk types.PublicKey
	copy(pk[:], raw)
	return pk, nil
}
