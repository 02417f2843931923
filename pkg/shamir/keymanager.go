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

// Package shamir implements the commutative key-wrap protocol (Shamir
// three-pass) between a client and the relay. Both sides exponentiate over a
// shared safe prime; because modular exponentiation commutes, the relay can
// add and remove its layer without ever seeing the client's secret, and the
// client never learns the relay's exponent.
package shamir

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/types"
)

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// keyPair is one relay exponent pair: e*d == 1 (mod p-1).
type keyPair struct {
	e     *big.Int
	d     *big.Int
	keyID string
}

// KeyIDFor returns the deterministic identifier of a server exponent:
// the hex SHA-256 digest of its big-endian bytes.
func KeyIDFor(e *big.Int) string {
	sum := sha256.Sum256(e.Bytes())
	return hex.EncodeToString(sum[:])
}

// KeyManager is the relay-side half of the protocol. It holds exactly one
// current exponent pair plus a bounded list of grace pairs. Wrap always uses
// the current pair; unwrap serves whichever pair the caller names, current or
// grace, and never guesses.
type KeyManager struct {
	mu       sync.RWMutex
	p        *big.Int
	pMinus1  *big.Int
	current  *keyPair
	grace    []*keyPair
	maxGrace int
	logger   *logging.Logger
}

// NewKeyManager creates a KeyManager over the given safe prime and generates
// the initial current pair. maxGrace bounds how many retired pairs remain
// usable for unwrap.
func NewKeyManager(p *big.Int, maxGrace int, logger *logging.Logger) (*KeyManager, error) {
	if p == nil || !p.ProbablyPrime(32) {
		return nil, types.WrapError("new key manager", types.ErrProtocol)
	}
	if maxGrace < 0 {
		maxGrace = 0
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	m := &KeyManager{
		p:        p,
		pMinus1:  new(big.Int).Sub(p, one),
		maxGrace: maxGrace,
		logger:   logger.WithComponent("shamir"),
	}
	pair, err := m.generatePair()
	if err != nil {
		return nil, err
	}
	m.current = pair
	m.logger.Info("generated relay exponent pair", "keyId", pair.keyID)
	return m, nil
}

// generatePair picks e uniformly with gcd(e, p-1) == 1 and computes its
// modular inverse d.
func (m *KeyManager) generatePair() (*keyPair, error) {
	for {
		e, err := rand.Int(rand.Reader, new(big.Int).Sub(m.pMinus1, two))
		if err != nil {
			return nil, err
		}
		e.Add(e, two) // e in [2, p-2]

		if new(big.Int).GCD(nil, nil, e, m.pMinus1).Cmp(one) != 0 {
			continue
		}
		d := new(big.Int).ModInverse(e, m.pMinus1)
		if d == nil {
			continue
		}
		return &keyPair{e: e, d: d, keyID: KeyIDFor(e)}, nil
	}
}

// Prime returns the shared safe prime.
func (m *KeyManager) Prime() *big.Int {
	return new(big.Int).Set(m.p)
}

// CurrentKeyID returns the identifier of the current pair.
func (m *KeyManager) CurrentKeyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.keyID
}

// GraceKeyIDs returns the identifiers of the grace pairs, newest first.
func (m *KeyManager) GraceKeyIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.grace))
	for n, pair := range m.grace {
		ids[n] = pair.keyID
	}
	return ids
}

// Rotate retires the current pair to the head of the grace list and installs
// a fresh pair. Grace pairs beyond the configured bound are discarded and can
// never unwrap again.
func (m *KeyManager) Rotate() error {
	pair, err := m.generatePair()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.grace = append([]*keyPair{m.current}, m.grace...)
	if len(m.grace) > m.maxGrace {
		dropped := m.grace[m.maxGrace:]
		m.grace = m.grace[:m.maxGrace]
		for _, d := range dropped {
			m.logger.Warn("grace key retired permanently", "keyId", d.keyID)
		}
	}
	m.current = pair
	m.logger.Info("rotated relay exponent pair", "keyId", pair.keyID)
	return nil
}

// ApplyServerLock raises the client-blinded value to the current exponent.
// Returns the locked value and the keyId the caller must record for unwrap.
func (m *KeyManager) ApplyServerLock(kekC *big.Int) (*big.Int, string, error) {
	if err := m.checkElement(kekC); err != nil {
		return nil, "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	locked := new(big.Int).Exp(kekC, m.current.e, m.p)
	return locked, m.current.keyID, nil
}

// RemoveServerLock applies the inverse exponent of the named pair. The keyId
// is mandatory: an empty id fails with ErrMissingKeyID, an id matching
// neither the current nor any grace pair fails with ErrUnknownKeyID.
func (m *KeyManager) RemoveServerLock(kekCS *big.Int, keyID string) (*big.Int, error) {
	if keyID == "" {
		return nil, types.WrapError("remove server lock", types.ErrMissingKeyID)
	}
	if err := m.checkElement(kekCS); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	pair := m.lookup(keyID)
	if pair == nil {
		return nil, types.WrapError("remove server lock", types.ErrUnknownKeyID)
	}
	return new(big.Int).Exp(kekCS, pair.d, m.p), nil
}

// lookup finds the pair with the given id among current and grace pairs.
// Caller must hold at least a read lock.
func (m *KeyManager) lookup(keyID string) *keyPair {
	if m.current.keyID == keyID {
		return m.current
	}
	for _, pair := range m.grace {
		if pair.keyID == keyID {
			return pair
		}
	}
	return nil
}

// checkElement rejects values outside [0, p).
func (m *KeyManager) checkElement(v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.Cmp(m.p) >= 0 {
		return types.WrapError("check element", types.ErrProtocol)
	}
	return nil
}
