// Copyright (c) 2025 PassChain Authors
//
// This file is part of go-passchain.
//
// go-passchain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@passchain.dev for commercial licensing options.

// Package cli wires the relay daemon's cobra command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "relayd",
	Short: "passchain relay daemon",
	Long: `relayd serves the passchain commutative key-wrap relay: it holds the
server half of the three-pass protocol and exposes the apply-server-lock,
remove-server-lock, and key-info HTTP routes consumed by wallet clients.

The relay never sees client secrets; it only applies and removes its own
exponent layer over blinded values.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is built-in defaults plus environment overrides)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

// handleError prints an error to stderr and exits with code 1.
func handleError(err error) {
	rootCmd.PrintErrln("Error:", err)
	os.Exit(1)
}
