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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passchain/go-passchain/pkg/types"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	blob := &types.EncryptedKeyBlob{
		AccountID:  "alice.testnet",
		Ciphertext: []byte{1, 2, 3},
		Nonce:      []byte{4, 5, 6},
		KeyID:      "deadbeef",
	}
	require.NoError(t, store.Put(blob))

	got, err := store.Get("alice.testnet")
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	_, err := store.Get("nobody.testnet")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete("nobody.testnet"), ErrNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.Put(&types.EncryptedKeyBlob{
		AccountID:  "bob.testnet",
		Ciphertext: []byte{9},
		Nonce:      []byte{8},
	}))
	require.NoError(t, store.Delete("bob.testnet"))

	_, err := store.Get("bob.testnet")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsAnonymousBlob(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	assert.Error(t, store.Put(&types.EncryptedKeyBlob{}))
	assert.Error(t, store.Put(nil))
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Get("alice.testnet")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Put(&types.EncryptedKeyBlob{AccountID: "a"}), ErrClosed)
	assert.ErrorIs(t, store.Delete("a"), ErrClosed)
}
