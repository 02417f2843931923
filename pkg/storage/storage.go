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

// Package storage provides the local encrypted-blob persistence contract.
// The engine treats it as a simple key-value store: one EncryptedKeyBlob per
// account, opaque to everything but the credential deriver.
package storage

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/passchain/go-passchain/pkg/types"
)

var (
	// ErrNotFound is returned when no blob exists for the account.
	ErrNotFound = errors.New("blob not found")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// BlobStore is the persistence contract for encrypted key blobs.
// All implementations must be thread-safe.
type BlobStore interface {
	// Get retrieves the blob for the given account.
	// Returns ErrNotFound if no blob exists.
	Get(accountID string) (*types.EncryptedKeyBlob, error)

	// Put stores the blob, overwriting any existing blob for its account.
	Put(blob *types.EncryptedKeyBlob) error

	// Delete removes the account's blob.
	// Returns ErrNotFound if no blob exists.
	Delete(accountID string) error

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore is an in-memory BlobStore. Used in tests and for ephemeral
// sessions where nothing may outlive the process.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves the blob for the given account.
func (m *MemoryStore) Get(accountID string) (*types.EncryptedKeyBlob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	raw, exists := m.data[accountID]
	if !exists {
		return nil, ErrNotFound
	}

	var blob types.EncryptedKeyBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, err
	}
	return &blob, nil
}

// Put stores the blob keyed by its owning account.
func (m *MemoryStore) Put(blob *types.EncryptedKeyBlob) error {
	if blob == nil || blob.AccountID == "" {
		return errors.New("blob must carry an account id")
	}

	raw, err := json.Marshal(blob)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.data[blob.AccountID] = raw
	return nil
}

// Delete removes the account's blob.
func (m *MemoryStore) Delete(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, exists := m.data[accountID]; !exists {
		return ErrNotFound
	}
	delete(m.data, accountID)
	return nil
}

// Close marks the store closed and drops all blobs.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = make(map[string][]byte)
	return nil
}
