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

// Package rpc defines the chain RPC contract the engine consumes. The wire
// client itself is an external collaborator; the engine only depends on this
// interface.
package rpc

import (
	"context"

	"github.com/passchain/go-passchain/pkg/types"
)

// Finality values accepted by ViewBlock.
const (
	FinalityFinal      = "final"
	FinalityOptimistic = "optimistic"
)

// WaitPolicy values accepted by SendTransaction.
const (
	WaitNone     = "none"
	WaitIncluded = "included"
	WaitExecuted = "executed"
)

// AccessKeyView is the on-chain state of an access key.
type AccessKeyView struct {
	Nonce      uint64 `json:"nonce"`
	Permission string `json:"permission"`
}

// BlockView is the header data the engine binds transactions to.
type BlockView struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// ChainClient is the RPC surface consumed by the nonce cache and the signer.
type ChainClient interface {
	// ViewAccessKey returns the current state of an account's access key.
	ViewAccessKey(ctx context.Context, accountID, publicKey string) (*AccessKeyView, error)

	// ViewBlock returns the latest block at the given finality.
	ViewBlock(ctx context.Context, finality string) (*BlockView, error)

	// SendTransaction submits a signed transaction and returns its hash.
	SendTransaction(ctx context.Context, signed *types.SignedTransaction, waitPolicy string) (string, error)
}
