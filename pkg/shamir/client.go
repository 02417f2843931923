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

	"github.com/passchain/go-passchain/pkg/types"
)

// KeyInfo describes the relay's key state, as served by GET /shamir/key-info.
// Clients use it to detect rotation and refresh blobs wrapped under a grace
// key.
type KeyInfo struct {
	CurrentKeyID string   `json:"currentKeyId"`
	PrimeB64u    string   `json:"p_b64u"`
	GraceKeyIDs  []string `json:"graceKeyIds"`
}

// RelayClient is the transport contract toward the relay. Implemented over
// HTTP by HTTPRelayClient and in-process (for tests and the relay's own unit
// tests) by LocalRelay.
type RelayClient interface {
	// ApplyServerLock sends a client-blinded value and returns it with the
	// relay's current lock applied, plus the keyId identifying that lock.
	ApplyServerLock(ctx context.Context, kekC []byte) (kekCS []byte, keyID string, err error)

	// RemoveServerLock removes the lock identified by keyID from the value.
	RemoveServerLock(ctx context.Context, kekCS []byte, keyID string) ([]byte, error)

	// KeyInfo fetches the relay's current key state.
	KeyInfo(ctx context.Context) (*KeyInfo, error)
}

// Client is the local half of the three-pass protocol. A fresh ephemeral
// exponent pair is drawn for every operation, so the relay can never
// correlate, replay, or invert what it is asked to lock.
type Client struct {
	p       *big.Int
	pMinus1 *big.Int
	relay   RelayClient
}

// NewClient creates a Client over the shared prime and a relay transport.
func NewClient(p *big.Int, relay RelayClient) (*Client, error) {
	if p == nil || p.Sign() <= 0 {
		return nil, types.WrapError("new shamir client", types.ErrProtocol)
	}
	if relay == nil {
		return nil, types.WrapError("new shamir client", types.ErrProtocol)
	}
	return &Client{
		p:       p,
		pMinus1: new(big.Int).Sub(p, one),
		relay:   relay,
	}, nil
}

// Relay returns the underlying relay transport.
func (c *Client) Relay() RelayClient {
	return c.relay
}

// Wrap applies the relay's lock to the secret without revealing it: the
// secret is blinded under an ephemeral exponent before it leaves the client,
// and the blind is removed from the relay's response. The result carries only
// the relay's layer. Returns the wrapped value and the keyId to present at
// unwrap time.
func (c *Client) Wrap(ctx context.Context, secret []byte) ([]byte, string, error) {
	x, err := c.secretToElement(secret)
	if err != nil {
		return nil, "", err
	}

	e, d, err := c.ephemeralPair()
	if err != nil {
		return nil, "", err
	}

	blinded := new(big.Int).Exp(x, e, c.p)
	lockedB, keyID, err := c.relay.ApplyServerLock(ctx, intToBytes(blinded))
	if err != nil {
		return nil, "", err
	}
	locked, err := c.toElement(lockedB)
	if err != nil {
		return nil, "", err
	}

	// Removing the ephemeral blind leaves secret^e_s alone.
	wrapped := new(big.Int).Exp(locked, d, c.p)
	return intToBytes(wrapped), keyID, nil
}

// Unwrap removes the relay lock identified by keyID and returns the original
// secret. The wrapped value is blinded before it is presented to the relay,
// mirroring Wrap.
func (c *Client) Unwrap(ctx context.Context, wrapped []byte, keyID string) ([]byte, error) {
	if keyID == "" {
		return nil, types.WrapError("unwrap", types.ErrMissingKeyID)
	}
	y, err := c.toElement(wrapped)
	if err != nil {
		return nil, err
	}

	e, d, err := c.ephemeralPair()
	if err != nil {
		return nil, err
	}

	blinded := new(big.Int).Exp(y, e, c.p)
	unlockedB, err := c.relay.RemoveServerLock(ctx, intToBytes(blinded), keyID)
	if err != nil {
		return nil, err
	}
	unlocked, err := c.toElement(unlockedB)
	if err != nil {
		return nil, err
	}

	secret := new(big.Int).Exp(unlocked, d, c.p)
	return c.elementToSecret(secret)
}

// ephemeralPair draws a fresh exponent with gcd(e, p-1) == 1 and its inverse.
func (c *Client) ephemeralPair() (*big.Int, *big.Int, error) {
	for {
		e, err := rand.Int(rand.Reader, new(big.Int).Sub(c.pMinus1, two))
		if err != nil {
			return nil, nil, err
		}
		e.Add(e, two)

		if new(big.Int).GCD(nil, nil, e, c.pMinus1).Cmp(one) != 0 {
			continue
		}
		d := new(big.Int).ModInverse(e, c.pMinus1)
		if d == nil {
			continue
		}
		return e, d, nil
	}
}

// secretPadByte frames secrets before they enter the group. Minimal big.Int
// encoding drops leading zero bytes, so a bare secret would come back
// narrower than it went in; the nonzero prefix pins the exact width.
const secretPadByte = 0x01

// secretToElement frames the secret under the pad byte and parses the result
// as a group element. Secrets longer than the group width are rejected.
func (c *Client) secretToElement(secret []byte) (*big.Int, error) {
	if len(secret) == 0 {
		return nil, types.WrapError("encode secret", types.ErrProtocol)
	}
	framed := make([]byte, 0, len(secret)+1)
	framed = append(framed, secretPadByte)
	framed = append(framed, secret...)
	x := new(big.Int).SetBytes(framed)
	if x.Cmp(c.p) >= 0 {
		return nil, types.WrapError("encode secret", types.ErrProtocol)
	}
	return x, nil
}

// elementToSecret strips the pad byte, restoring the secret at its original
// width.
func (c *Client) elementToSecret(x *big.Int) ([]byte, error) {
	b := x.Bytes()
	if len(b) < 2 || b[0] != secretPadByte {
		return nil, types.WrapError("decode secret", types.ErrProtocol)
	}
	return b[1:], nil
}

// toElement parses bytes as a group element in [0, p).
func (c *Client) toElement(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return nil, types.WrapError("parse element", types.ErrProtocol)
	}
	x := new(big.Int).SetBytes(b)
	if x.Cmp(c.p) >= 0 {
		return nil, types.WrapError("parse element", types.ErrProtocol)
	}
	return x, nil
}

// intToBytes encodes a group element canonically. Zero encodes as a single
// zero byte rather than the empty string.
func intToBytes(x *big.Int) []byte {
	b := x.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	return b
}

// LocalRelay adapts a KeyManager to the RelayClient interface for in-process
// use, bypassing HTTP.
type LocalRelay struct {
	Manager *KeyManager
}

// ApplyServerLock applies the current server lock in-process.
func (l *LocalRelay) ApplyServerLock(_ context.Context, kekC []byte) ([]byte, string, error) {
	locked, keyID, err := l.Manager.ApplyServerLock(new(big.Int).SetBytes(kekC))
	if err != nil {
		return nil, "", err
	}
	return intToBytes(locked), keyID, nil
}

// RemoveServerLock removes the named server lock in-process.
func (l *LocalRelay) RemoveServerLock(_ context.Context, kekCS []byte, keyID string) ([]byte, error) {
	unlocked, err := l.Manager.RemoveServerLock(new(big.Int).SetBytes(kekCS), keyID)
	if err != nil {
		return nil, err
	}
	return intToBytes(unlocked), nil
}

// KeyInfo reports the manager's key state in-process.
func (l *LocalRelay) KeyInfo(_ context.Context) (*KeyInfo, error) {
	return &KeyInfo{
		CurrentKeyID: l.Manager.CurrentKeyID(),
		PrimeB64u:    EncodeB64u(intToBytes(l.Manager.Prime())),
		GraceKeyIDs:  l.Manager.GraceKeyIDs(),
	}, nil
}
