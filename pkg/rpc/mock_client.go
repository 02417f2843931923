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

package rpc

import (
	"context"
	"sync"

	"github.com/passchain/go-passchain/pkg/types"
)

// MockClient is an in-memory ChainClient for tests. Responses are mutable
// and calls are counted; error fields override the canned responses.
type MockClient struct {
	mu sync.Mutex

	AccessKey AccessKeyView
	Block     BlockView

	AccessKeyErr error
	BlockErr     error
	SendErr      error

	ViewAccessKeyCalls int
	ViewBlockCalls     int
	Sent               []*types.SignedTransaction
}

// NewMockClient returns a MockClient with a plausible starting state.
func NewMockClient() *MockClient {
	return &MockClient{
		AccessKey: AccessKeyView{Nonce: 4, Permission: "FullAccess"},
		Block:     BlockView{Height: 100, Hash: "3QrVb8GzAKGYAFYh6aD3RY"},
	}
}

// ViewAccessKey returns the canned access key view.
func (m *MockClient) ViewAccessKey(_ context.Context, _, _ string) (*AccessKeyView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ViewAccessKeyCalls++
	if m.AccessKeyErr != nil {
		return nil, m.AccessKeyErr
	}
	view := m.AccessKey
	return &view, nil
}

// ViewBlock returns the canned block view.
func (m *MockClient) ViewBlock(_ context.Context, _ string) (*BlockView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ViewBlockCalls++
	if m.BlockErr != nil {
		return nil, m.BlockErr
	}
	view := m.Block
	return &view, nil
}

// SendTransaction records the transaction and returns a synthetic hash.
func (m *MockClient) SendTransaction(_ context.Context, signed *types.SignedTransaction, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.Sent = append(m.Sent, signed)
	return "mock-tx-hash", nil
}

// SetBlock updates the canned block view.
func (m *MockClient) SetBlock(height uint64, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Block = BlockView{Height: height, Hash: hash}
}

// SetAccessKeyNonce updates the canned on-chain nonce.
func (m *MockClient) SetAccessKeyNonce(nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AccessKey.Nonce = nonce
}
