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

package credentials

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/passchain/go-passchain/pkg/types"
)

// Purpose salts keep the two derivations in disjoint key spaces even if the
// same PRF output were ever fed to both. They are part of the on-disk format
// and must not change.
const (
	purposeSymmetric = "passchain-hkdf:symmetric-key:v1"
	purposeSigning   = "passchain-hkdf:signing-key:v1"
	purposeVRF       = "passchain-hkdf:vrf-seed:v1"
)

// DeriveSymmetricKey expands PRF output #1 into the account's symmetric key
// used to encrypt the signing key at rest. Deterministic for a fixed output
// and account.
func DeriveSymmetricKey(prfFirst []byte, accountID string) ([]byte, error) {
	return expand(prfFirst, purposeSymmetric, accountID, chacha20poly1305.KeySize)
}

// DeriveSigningKey expands PRF output #2 into the account's Ed25519 signing
// keypair. The keypair is reconstructed on demand and never persisted
// unencrypted.
func DeriveSigningKey(prfSecond []byte, accountID string) (ed25519.PrivateKey, error) {
	seed, err := expand(prfSecond, purposeSigning, accountID, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// DeriveVRFSeed expands PRF output #1 into the seed the VRF issuer unlocks
// its keypair from.
func DeriveVRFSeed(prfFirst []byte, accountID string) ([]byte, error) {
	return expand(prfFirst, purposeVRF, accountID, 32)
}

func expand(ikm []byte, purpose, accountID string, size int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, types.WrapError("derive key", ErrMissingExtensionOutput)
	}
	if accountID == "" {
		return nil, errors.New("account id cannot be empty")
	}

	reader := hkdf.New(sha256.New, ikm, []byte(purpose), []byte(accountID))
	out := make([]byte, size)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncryptSigningKey seals the signing key under the account's symmetric key
// and returns the blob handed to the local store.
func EncryptSigningKey(symKey []byte, signingKey ed25519.PrivateKey, accountID string) (*types.EncryptedKeyBlob, error) {
	aead, err := chacha20poly1305.NewX(symKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return &types.EncryptedKeyBlob{
		AccountID:  accountID,
		Ciphertext: aead.Seal(nil, nonce, signingKey, []byte(accountID)),
		Nonce:      nonce,
	}, nil
}

// DecryptSigningKey opens a blob produced by EncryptSigningKey. Fails with
// ErrKeyUnavailable when the key or blob does not match.
func DecryptSigningKey(symKey []byte, blob *types.EncryptedKeyBlob) (ed25519.PrivateKey, error) {
	if blob == nil {
		return nil, types.WrapError("decrypt signing key", types.ErrKeyUnavailable)
	}

	aead, err := chacha20poly1305.NewX(symKey)
	if err != nil {
		return nil, err
	}

	plain, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, []byte(blob.AccountID))
	if err != nil {
		return nil, types.WrapError("decrypt signing key", types.ErrKeyUnavailable)
	}
	if len(plain) != ed25519.PrivateKeySize {
		return nil, types.WrapError("decrypt signing key", types.ErrKeyUnavailable)
	}
	return ed25519.PrivateKey(plain), nil
}
