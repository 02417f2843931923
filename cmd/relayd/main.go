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

// relayd is the passchain key-wrap relay daemon.
package main

import (
	"os"

	"github.com/passchain/go-passchain/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
