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

// Package session holds the per-account runtime state that would otherwise
// live in process-wide globals: the resident VRF issuer and the account's
// nonce cache. A Session is owned by the top-level orchestrator and passed
// by reference; Init and Clear bracket its lifecycle.
package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/passchain/go-passchain/pkg/credentials"
	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/noncecache"
	"github.com/passchain/go-passchain/pkg/rpc"
	"github.com/passchain/go-passchain/pkg/shamir"
	"github.com/passchain/go-passchain/pkg/storage"
	"github.com/passchain/go-passchain/pkg/types"
	"github.com/passchain/go-passchain/pkg/vrf"
)

const kekSize = 32

// Config carries the session-scoped settings.
type Config struct {
	// RPID is the WebAuthn relying-party identifier challenges are bound to.
	RPID string

	// Cache configures the nonce/block-context cache created at Init.
	Cache noncecache.Config
}

// Session is the explicit session context. All methods are safe for
// concurrent use.
type Session struct {
	mu sync.Mutex

	store  storage.BlobStore
	chain  rpc.ChainClient
	wrap   *shamir.Client
	cfg    Config
	logger *logging.Logger

	accountID string
	publicKey string
	issuer    *vrf.Issuer
	cache     *noncecache.Cache
}

// New creates an inactive session. The shamir client may be nil, in which
// case key blobs are sealed under a credential-derived key instead of a
// relay-wrapped one.
func New(store storage.BlobStore, chain rpc.ChainClient, wrap *shamir.Client, cfg Config, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Session{
		store:  store,
		chain:  chain,
		wrap:   wrap,
		cfg:    cfg,
		logger: logger.WithComponent("session"),
		issuer: vrf.NewIssuer(),
	}
}

// Active reports whether an account is initialized.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID != ""
}

// AccountID returns the active account, or empty.
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// RPID returns the relying-party identifier for the session.
func (s *Session) RPID() string {
	return s.cfg.RPID
}

// Issuer returns the session's VRF issuer. The issuer is resident only
// between Init and Clear.
func (s *Session) Issuer() *vrf.Issuer {
	return s.issuer
}

// NonceCache returns the active account's cache, or nil when inactive.
func (s *Session) NonceCache() *noncecache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

// Init activates the session for an account: it unlocks the VRF issuer from
// credential-derived seed material and builds the account's nonce cache.
// A second Init without an intervening Clear is a protocol error.
func (s *Session) Init(accountID, publicKey string, cred *types.CredentialPayload) error {
	if accountID == "" || cred == nil || len(cred.PRFFirst) == 0 {
		return types.WrapError("session init", types.ErrProtocol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accountID != "" {
		return types.WrapError(
			fmt.Sprintf("session init: %s already active", s.accountID),
			types.ErrProtocol)
	}

	seed, err := credentials.DeriveVRFSeed(cred.PRFFirst, accountID)
	if err != nil {
		return err
	}
	if err := s.issuer.Unlock(seed, accountID); err != nil {
		return err
	}

	s.accountID = accountID
	s.publicKey = publicKey
	s.cache = noncecache.New(accountID, publicKey, s.chain, s.cfg.Cache, s.logger)

	s.logger.Info("session initialized", "accountId", accountID)
	return nil
}

// Clear tears the session down: the VRF keypair is zeroed and the nonce
// cache dropped. Idempotent.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accountID == "" {
		return
	}

	s.issuer.Lock()
	if s.cache != nil {
		s.cache.Clear()
	}

	s.logger.Info("session cleared", "accountId", s.accountID)
	s.accountID = ""
	s.publicKey = ""
	s.cache = nil
}

// Register derives the account's signing key from the credential, seals it
// at rest, and stores the blob. With a relay available the seal key is a
// random KEK wrapped through the three-pass protocol; without one it falls
// back to a credential-derived key.
func (s *Session) Register(ctx context.Context, accountID string, cred *types.CredentialPayload) (*types.EncryptedKeyBlob, error) {
	if accountID == "" || cred == nil || len(cred.PRFSecond) == 0 {
		return nil, types.WrapError("register", types.ErrProtocol)
	}

	signingKey, err := credentials.DeriveSigningKey(cred.PRFSecond, accountID)
	if err != nil {
		return nil, err
	}

	var blob *types.EncryptedKeyBlob
	if s.wrap != nil {
		kek := make([]byte, kekSize)
		if _, err := rand.Read(kek); err != nil {
			return nil, types.WrapError("register: kek", err)
		}
		blob, err = credentials.EncryptSigningKey(kek, signingKey, accountID)
		if err != nil {
			return nil, err
		}
		wrapped, keyID, err := s.wrap.Wrap(ctx, kek)
		if err != nil {
			return nil, err
		}
		blob.KeyID = keyID
		blob.WrappedKEK = wrapped
	} else {
		kek, err := credentials.DeriveSymmetricKey(cred.PRFFirst, accountID)
		if err != nil {
			return nil, err
		}
		blob, err = credentials.EncryptSigningKey(kek, signingKey, accountID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.Put(blob); err != nil {
		return nil, err
	}

	s.logger.Info("account registered", "accountId", accountID, "keyId", blob.KeyID)
	return blob, nil
}

// Login recovers the stored signing key for the account, activates the
// session, and returns the recovered public key. Blobs wrapped under a
// grace key are transparently re-wrapped under the relay's current key.
func (s *Session) Login(ctx context.Context, accountID, publicKey string, cred *types.CredentialPayload) (ed25519.PublicKey, error) {
	if accountID == "" || cred == nil {
		return nil, types.WrapError("login", types.ErrProtocol)
	}

	blob, err := s.store.Get(accountID)
	if err != nil {
		return nil, types.WrapError("login", types.ErrKeyUnavailable)
	}

	kek, err := s.recoverKEK(ctx, blob, cred)
	if err != nil {
		return nil, err
	}

	signingKey, err := credentials.DecryptSigningKey(kek, blob)
	if err != nil {
		return nil, err
	}

	if err := s.Init(accountID, publicKey, cred); err != nil {
		return nil, err
	}
	return signingKey.Public().(ed25519.PublicKey), nil
}

// recoverKEK obtains the blob's seal key, via the relay when the blob was
// wrapped and from the credential otherwise.
func (s *Session) recoverKEK(ctx context.Context, blob *types.EncryptedKeyBlob, cred *types.CredentialPayload) ([]byte, error) {
	if blob.KeyID == "" {
		return credentials.DeriveSymmetricKey(cred.PRFFirst, blob.AccountID)
	}
	if s.wrap == nil {
		return nil, types.WrapError("login: blob requires relay", types.ErrKeyUnavailable)
	}

	kek, err := s.wrap.Unwrap(ctx, blob.WrappedKEK, blob.KeyID)
	if err != nil {
		return nil, err
	}
	s.maybeRewrap(ctx, blob, kek)
	return kek, nil
}

// maybeRewrap refreshes a blob whose KEK is still under a rotated-out grace
// key. Failures are logged, not surfaced: the login already succeeded and
// the grace key remains valid until evicted.
func (s *Session) maybeRewrap(ctx context.Context, blob *types.EncryptedKeyBlob, kek []byte) {
	info, err := s.wrap.Relay().KeyInfo(ctx)
	if err != nil {
		s.logger.MaybeError(err)
		return
	}
	if info.CurrentKeyID == blob.KeyID {
		return
	}

	wrapped, keyID, err := s.wrap.Wrap(ctx, kek)
	if err != nil {
		s.logger.MaybeError(err)
		return
	}
	blob.KeyID = keyID
	blob.WrappedKEK = wrapped
	if err := s.store.Put(blob); err != nil {
		s.logger.MaybeError(err)
		return
	}
	s.logger.Info("blob re-wrapped under current relay key",
		"accountId", blob.AccountID, "keyId", keyID)
}
