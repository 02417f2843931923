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

package shamir

import (
	"context"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passchain/go-passchain/pkg/types"
)

func newTestManager(t *testing.T, maxGrace int) *KeyManager {
	t.Helper()
	m, err := NewKeyManager(DefaultPrime(), maxGrace, nil)
	require.NoError(t, err)
	return m
}

func newTestClient(t *testing.T, m *KeyManager) *Client {
	t.Helper()
	c, err := NewClient(m.Prime(), &LocalRelay{Manager: m})
	require.NoError(t, err)
	return c
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	m := newTestManager(t, 2)
	c := newTestClient(t, m)
	ctx := context.Background()

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	wrapped, keyID, err := c.Wrap(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, m.CurrentKeyID(), keyID)
	assert.NotEqual(t, secret, wrapped)

	got, err := c.Unwrap(ctx, wrapped, keyID)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestWrapUnwrapPreservesLeadingZeros(t *testing.T) {
	m := newTestManager(t, 2)
	c := newTestClient(t, m)
	ctx := context.Background()

	// A key whose first byte is zero must come back at full width, not
	// truncated to its minimal integer encoding.
	secret := make([]byte, 32)
	_, err := rand.Read(secret[1:])
	require.NoError(t, err)
	secret[0] = 0x00

	wrapped, keyID, err := c.Wrap(ctx, secret)
	require.NoError(t, err)

	got, err := c.Unwrap(ctx, wrapped, keyID)
	require.NoError(t, err)
	require.Len(t, got, len(secret))
	assert.Equal(t, secret, got)

	// The same holds for runs of leading zeros and for short secrets.
	for _, secret := range [][]byte{
		{0x00, 0x00, 0x00, 0x07},
		{0x00},
		make([]byte, 32),
	} {
		wrapped, keyID, err := c.Wrap(ctx, secret)
		require.NoError(t, err)
		got, err := c.Unwrap(ctx, wrapped, keyID)
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	}
}

func TestWrapUnwrapScenarioAA(t *testing.T) {
	// Wire scenario: the one-byte secret "AA==" survives the round trip.
	m := newTestManager(t, 0)
	c := newTestClient(t, m)
	ctx := context.Background()

	secret, err := DecodeB64u("AA==")
	require.NoError(t, err)

	wrapped, keyID, err := c.Wrap(ctx, secret)
	require.NoError(t, err)

	got, err := c.Unwrap(ctx, wrapped, keyID)
	require.NoError(t, err)
	assert.Equal(t, "AA==", EncodeB64u(got))
}

func TestUnwrapAfterRotation(t *testing.T) {
	m := newTestManager(t, 2)
	c := newTestClient(t, m)
	ctx := context.Background()

	secret := []byte("the kek under the old key")
	wrapped, oldKeyID, err := c.Wrap(ctx, secret)
	require.NoError(t, err)

	require.NoError(t, m.Rotate())
	require.NotEqual(t, oldKeyID, m.CurrentKeyID())
	assert.Contains(t, m.GraceKeyIDs(), oldKeyID)

	// Old blobs still unwrap with their recorded keyId.
	got, err := c.Unwrap(ctx, wrapped, oldKeyID)
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	// New wraps are never tagged with the retired keyId.
	_, newKeyID, err := c.Wrap(ctx, secret)
	require.NoError(t, err)
	assert.NotEqual(t, oldKeyID, newKeyID)
	assert.Equal(t, m.CurrentKeyID(), newKeyID)
}

func TestGraceListBounded(t *testing.T) {
	m := newTestManager(t, 1)
	c := newTestClient(t, m)
	ctx := context.Background()

	wrapped, firstKeyID, err := c.Wrap(ctx, []byte("kek"))
	require.NoError(t, err)

	require.NoError(t, m.Rotate())
	require.NoError(t, m.Rotate())

	// Two rotations with a grace bound of one evict the first pair.
	assert.NotContains(t, m.GraceKeyIDs(), firstKeyID)
	assert.Len(t, m.GraceKeyIDs(), 1)

	_, err = c.Unwrap(ctx, wrapped, firstKeyID)
	assert.ErrorIs(t, err, types.ErrUnknownKeyID)
}

func TestUnwrapMissingKeyID(t *testing.T) {
	m := newTestManager(t, 0)
	c := newTestClient(t, m)

	_, err := c.Unwrap(context.Background(), []byte{1, 2, 3}, "")
	assert.ErrorIs(t, err, types.ErrMissingKeyID)

	_, err = m.RemoveServerLock(big.NewInt(7), "")
	assert.ErrorIs(t, err, types.ErrMissingKeyID)
}

func TestUnwrapUnknownKeyID(t *testing.T) {
	m := newTestManager(t, 0)
	c := newTestClient(t, m)

	_, err := c.Unwrap(context.Background(), []byte{1, 2, 3}, "no-such-key")
	assert.ErrorIs(t, err, types.ErrUnknownKeyID)
}

func TestMalformedElements(t *testing.T) {
	m := newTestManager(t, 0)
	c := newTestClient(t, m)
	ctx := context.Background()

	// Values outside [0, p) are protocol errors, not silent reductions.
	tooBig := new(big.Int).Add(m.Prime(), big.NewInt(1))
	_, _, err := c.Wrap(ctx, tooBig.Bytes())
	assert.ErrorIs(t, err, types.ErrProtocol)

	_, _, err = c.Wrap(ctx, nil)
	assert.ErrorIs(t, err, types.ErrProtocol)

	_, _, err = m.ApplyServerLock(nil)
	assert.ErrorIs(t, err, types.ErrProtocol)

	_, err = m.RemoveServerLock(tooBig, m.CurrentKeyID())
	assert.ErrorIs(t, err, types.ErrProtocol)
}

func TestKeyIDDeterministic(t *testing.T) {
	e := big.NewInt(65537)
	assert.Equal(t, KeyIDFor(e), KeyIDFor(big.NewInt(65537)))
	assert.NotEqual(t, KeyIDFor(e), KeyIDFor(big.NewInt(3)))
	assert.Len(t, KeyIDFor(e), 64) // hex sha256
}

func TestNewKeyManagerRejectsComposite(t *testing.T) {
	_, err := NewKeyManager(big.NewInt(1000), 0, nil)
	assert.ErrorIs(t, err, types.ErrProtocol)

	_, err = NewKeyManager(nil, 0, nil)
	assert.ErrorIs(t, err, types.ErrProtocol)
}

func TestLocalRelayKeyInfo(t *testing.T) {
	m := newTestManager(t, 2)
	require.NoError(t, m.Rotate())

	relay := &LocalRelay{Manager: m}
	info, err := relay.KeyInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, m.CurrentKeyID(), info.CurrentKeyID)
	assert.Equal(t, m.GraceKeyIDs(), info.GraceKeyIDs)

	p, err := DecodeB64u(info.PrimeB64u)
	require.NoError(t, err)
	assert.Equal(t, 0, new(big.Int).SetBytes(p).Cmp(m.Prime()))
}
