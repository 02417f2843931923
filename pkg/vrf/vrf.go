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

// Package vrf issues verifiable-random challenges bound to an account,
// relying party, and block context. The challenge doubles as the WebAuthn
// challenge for the biometric ceremony, so freshness comes from the chain's
// block height and hash rather than a server-issued nonce.
package vrf

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/coniks-sys/coniks-go/crypto/vrf"
	"golang.org/x/crypto/hkdf"

	"github.com/passchain/go-passchain/pkg/types"
)

var (
	// ErrKeypairLocked is returned when no VRF keypair is resident.
	ErrKeypairLocked = errors.New("vrf keypair locked")

	// ErrCompute is returned when proof generation fails.
	ErrCompute = errors.New("vrf proof computation failed")
)

const keypairInfo = "passchain vrf keypair v1"

// inputDomain separates challenge inputs from any other use of the keypair.
const inputDomain = "passchain vrf challenge v1"

// BuildInput produces the canonical VRF input for a challenge. All fields are
// length- or width-prefixed so distinct tuples can never collide.
func BuildInput(userID, rpID string, blockHeight uint64, blockHash string) []byte {
	h := sha256.New()
	h.Write([]byte(inputDomain))
	for _, s := range []string{userID, rpID, blockHash} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(s)))
		h.Write(l[:])
		h.Write([]byte(s))
	}
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], blockHeight)
	h.Write(height[:])
	return h.Sum(nil)
}

// Issuer holds the resident VRF keypair for the logged-in account and issues
// challenges from it. The keypair lives only in memory; Lock drops it.
// Safe for concurrent use.
type Issuer struct {
	mu sync.RWMutex
	sk vrf.PrivateKey
	pk vrf.PublicKey
}

// NewIssuer creates an Issuer with no resident keypair. Issue fails with
// ErrKeypairLocked until Unlock or Bootstrap provides one.
func NewIssuer() *Issuer {
	return &Issuer{}
}

// Unlock derives the account's VRF keypair deterministically from the given
// seed and makes it resident. The same seed and account always produce the
// same keypair, so challenges remain verifiable across sessions without
// persisting any key material.
func (i *Issuer) Unlock(seed []byte, accountID string) error {
	if len(seed) == 0 {
		return errors.New("seed cannot be empty")
	}

	reader := hkdf.New(sha256.New, seed, []byte(keypairInfo), []byte(accountID))
	sk, err := vrf.GenerateKey(reader)
	if err != nil {
		return err
	}
	pk, ok := sk.Public()
	if !ok {
		return ErrCompute
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.sk = sk
	i.pk = pk
	return nil
}

// Bootstrap makes a throwaway random keypair resident. Used for first-time
// registration, before any biometric secret exists to derive from.
func (i *Issuer) Bootstrap() error {
	sk, err := vrf.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	pk, ok := sk.Public()
	if !ok {
		return ErrCompute
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.sk = sk
	i.pk = pk
	return nil
}

// Lock zeroes and drops the resident keypair.
func (i *Issuer) Lock() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for b := range i.sk {
		i.sk[b] = 0
	}
	i.sk = nil
	i.pk = nil
}

// Resident reports whether a keypair is currently held.
func (i *Issuer) Resident() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.sk != nil
}

// Issue produces a challenge bound to the account, relying party, and block
// context. Deterministic for a fixed keypair and input tuple; freshness is
// guaranteed by callers always passing a recent block height and hash.
func (i *Issuer) Issue(userID, rpID string, blockHeight uint64, blockHash string) (*types.VRFChallenge, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.sk == nil {
		return nil, ErrKeypairLocked
	}

	input := BuildInput(userID, rpID, blockHeight, blockHash)
	output, proof := i.sk.Prove(input)
	if len(output) < types.ChallengeSize {
		return nil, ErrCompute
	}

	return &types.VRFChallenge{
		VRFInput:     input,
		VRFOutput:    output,
		VRFProof:     proof,
		VRFPublicKey: append([]byte(nil), i.pk...),
		UserID:       userID,
		RPID:         rpID,
		BlockHeight:  blockHeight,
		BlockHash:    blockHash,
	}, nil
}

// Verify checks that a challenge's output and proof match its bound inputs
// and public key. Used relay-side to validate challenges it did not issue.
func Verify(c *types.VRFChallenge) bool {
	if c == nil || len(c.VRFPublicKey) != vrf.PublicKeySize {
		return false
	}

	input := BuildInput(c.UserID, c.RPID, c.BlockHeight, c.BlockHash)
	if !equal(input, c.VRFInput) {
		return false
	}

	pk := vrf.PublicKey(c.VRFPublicKey)
	return pk.Verify(input, c.VRFOutput, c.VRFProof)
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for n := range a {
		if a[n] != b[n] {
			return false
		}
	}
	return true
}
