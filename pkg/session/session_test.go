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

package session

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passchain/go-passchain/pkg/rpc"
	"github.com/passchain/go-passchain/pkg/shamir"
	"github.com/passchain/go-passchain/pkg/storage"
	"github.com/passchain/go-passchain/pkg/types"
)

const (
	testAccount   = "alice.testnet"
	testPublicKey = "ed25519:6E8sCci9badyRkXb3JoRpBj5p8C6Tw41ELDZoiihKEtp"
)

func testCredential() *types.CredentialPayload {
	return &types.CredentialPayload{
		CredentialID: "cred-1",
		PRFFirst:     bytes.Repeat([]byte{0xA1}, 32),
		PRFSecond:    bytes.Repeat([]byte{0xB2}, 32),
	}
}

func newTestSession(t *testing.T, withRelay bool) (*Session, *shamir.KeyManager) {
	t.Helper()

	var (
		wrap    *shamir.Client
		manager *shamir.KeyManager
	)
	if withRelay {
		var err error
		manager, err = shamir.NewKeyManager(shamir.DefaultPrime(), 2, nil)
		require.NoError(t, err)
		wrap, err = shamir.NewClient(manager.Prime(), &shamir.LocalRelay{Manager: manager})
		require.NoError(t, err)
	}

	s := New(storage.NewMemoryStore(), rpc.NewMockClient(), wrap, Config{RPID: "wallet.example.com"}, nil)
	return s, manager
}

func TestInitAndClearLifecycle(t *testing.T) {
	s, _ := newTestSession(t, false)

	assert.False(t, s.Active())
	assert.False(t, s.Issuer().Resident())
	assert.Nil(t, s.NonceCache())

	require.NoError(t, s.Init(testAccount, testPublicKey, testCredential()))
	assert.True(t, s.Active())
	assert.Equal(t, testAccount, s.AccountID())
	assert.True(t, s.Issuer().Resident())
	assert.NotNil(t, s.NonceCache())

	s.Clear()
	assert.False(t, s.Active())
	assert.False(t, s.Issuer().Resident())
	assert.Nil(t, s.NonceCache())

	// Clear is idempotent.
	s.Clear()
}

func TestInitTwiceIsProtocolError(t *testing.T) {
	s, _ := newTestSession(t, false)
	require.NoError(t, s.Init(testAccount, testPublicKey, testCredential()))

	err := s.Init("bob.testnet", testPublicKey, testCredential())
	assert.ErrorIs(t, err, types.ErrProtocol)
	assert.Equal(t, testAccount, s.AccountID())
}

func TestInitRequiresCredential(t *testing.T) {
	s, _ := newTestSession(t, false)
	assert.ErrorIs(t, s.Init(testAccount, testPublicKey, nil), types.ErrProtocol)
	assert.ErrorIs(t, s.Init("", testPublicKey, testCredential()), types.ErrProtocol)
}

func TestRegisterLoginRoundTripWithRelay(t *testing.T) {
	s, _ := newTestSession(t, true)
	ctx := context.Background()

	blob, err := s.Register(ctx, testAccount, testCredential())
	require.NoError(t, err)
	assert.NotEmpty(t, blob.KeyID)
	assert.NotEmpty(t, blob.WrappedKEK)
	assert.NotEmpty(t, blob.Ciphertext)

	pub, err := s.Login(ctx, testAccount, testPublicKey, testCredential())
	require.NoError(t, err)
	assert.Len(t, pub, 32)
	assert.True(t, s.Active())
}

func TestRegisterLoginRoundTripWithoutRelay(t *testing.T) {
	s, _ := newTestSession(t, false)
	ctx := context.Background()

	blob, err := s.Register(ctx, testAccount, testCredential())
	require.NoError(t, err)
	assert.Empty(t, blob.KeyID)
	assert.Empty(t, blob.WrappedKEK)

	pub, err := s.Login(ctx, testAccount, testPublicKey, testCredential())
	require.NoError(t, err)
	assert.Len(t, pub, 32)
}

func TestLoginUnknownAccount(t *testing.T) {
	s, _ := newTestSession(t, true)
	_, err := s.Login(context.Background(), "nobody.testnet", testPublicKey, testCredential())
	assert.ErrorIs(t, err, types.ErrKeyUnavailable)
	assert.False(t, s.Active())
}

func TestLoginAfterRotationRewraps(t *testing.T) {
	s, manager := newTestSession(t, true)
	ctx := context.Background()

	blob, err := s.Register(ctx, testAccount, testCredential())
	require.NoError(t, err)
	oldKeyID := blob.KeyID

	require.NoError(t, manager.Rotate())

	_, err = s.Login(ctx, testAccount, testPublicKey, testCredential())
	require.NoError(t, err)

	stored, err := s.store.Get(testAccount)
	require.NoError(t, err)
	assert.Equal(t, manager.CurrentKeyID(), stored.KeyID, "blob refreshed under current key")
	assert.NotEqual(t, oldKeyID, stored.KeyID)

	// The refreshed blob survives further rotations within the grace bound.
	s.Clear()
	require.NoError(t, manager.Rotate())
	require.NoError(t, manager.Rotate())
	_, err = s.Login(ctx, testAccount, testPublicKey, testCredential())
	require.NoError(t, err)
}

func TestLoginWrongCredentialFails(t *testing.T) {
	s, _ := newTestSession(t, false)
	ctx := context.Background()

	_, err := s.Register(ctx, testAccount, testCredential())
	require.NoError(t, err)

	bad := testCredential()
	bad.PRFFirst = bytes.Repeat([]byte{0xFF}, 32)
	_, err = s.Login(ctx, testAccount, testPublicKey, bad)
	assert.ErrorIs(t, err, types.ErrKeyUnavailable)
}
