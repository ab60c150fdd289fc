// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// cnode is the network node binary: it loads the node configuration
// and key files, opens the chain database, wires the transport,
// conveyer, validator, executor, consensus machine and round
// coordinator together, and runs them until interrupted.
package main

import (
	"fmt"
	"os"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/relaynet/cnode/config"
	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/utils/version"
)

var rootCmd = &cobra.Command{
	Use:   "cnode",
	Short: "RelayNet consensus node",
	Long: `cnode runs one RelayNet network node: a round-based, three-stage
BFT consensus participant with its own UDP peer transport, transaction
conveyer, smart-contract execution queue and append-only block store.`,
}

func main() {
	rootCmd.AddCommand(
		runCmd(),
		genKeysCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "node.yaml", "path to the node configuration file")
	return cmd
}

// loadConfig reads the YAML node config, falling back to the local
// preset when no file exists at path.
func loadConfig(path string) (config.NodeConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultNodeConfig(config.LocalNetwork), nil
	}
	return config.LoadNodeConfig(path)
}

func genKeysCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "genkeys",
		Short: "Generate a node key pair",
		Long:  "Generate an Ed25519 key pair and write NodePublic.txt / NodePrivate.txt to the keys directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, _, err := cryptoutil.GenerateAndSaveKeyFiles(dir)
			if err != nil {
				return err
			}
			fmt.Printf("generated key pair in %s\npublic key: %s\n", dir, base58.Encode(pk[:]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "keys-dir", "k", "./keys", "directory to write the key files to")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cnode/%s\n", version.Current)
		},
	}
}
