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

// Package types defines the shared data model of the passkey signing engine:
// VRF challenges, encrypted key blobs, transaction contexts, and the
// confirmation handshake payloads exchanged between a signing worker and the
// UI thread.
package types

// ChallengeSize is the number of bytes of VRF output used as the external
// WebAuthn challenge.
const ChallengeSize = 32

// VRFChallenge is a verifiable-random challenge bound to an account, relying
// party, and block context. Immutable once issued; never persisted beyond the
// authentication or signing attempt it was issued for.
type VRFChallenge struct {
	VRFInput     []byte `json:"vrfInput"`
	VRFOutput    []byte `json:"vrfOutput"`
	VRFProof     []byte `json:"vrfProof"`
	VRFPublicKey []byte `json:"vrfPublicKey"`
	UserID       string `json:"userId"`
	RPID         string `json:"rpId"`
	BlockHeight  uint64 `json:"blockHeight"`
	BlockHash    string `json:"blockHash"`
}

// Challenge returns the first ChallengeSize bytes of the VRF output, used as
// the WebAuthn challenge. Returns nil if the output is too short.
func (c *VRFChallenge) Challenge() []byte {
	if len(c.VRFOutput) < ChallengeSize {
		return nil
	}
	return c.VRFOutput[:ChallengeSize]
}

// EncryptedKeyBlob holds key material encrypted at rest. The engine never
// holds the decrypted private key outside a single synchronous operation.
type EncryptedKeyBlob struct {
	// AccountID is the owning account.
	AccountID string `json:"accountId"`

	// Ciphertext is the AEAD-sealed key material.
	Ciphertext []byte `json:"ciphertext"`

	// Nonce is the AEAD nonce used to seal the ciphertext.
	Nonce []byte `json:"nonce"`

	// KeyID identifies the relay keypair that wrapped the key-encryption
	// key, when the blob was produced through the commutative key-wrap
	// protocol. Empty for blobs sealed locally only.
	KeyID string `json:"keyId,omitempty"`

	// WrappedKEK is the key-encryption key under the relay's server lock,
	// stored alongside the ciphertext it seals. Empty for blobs whose KEK
	// is derived rather than wrapped.
	WrappedKEK []byte `json:"wrappedKek,omitempty"`
}

// Action is one normalized element of a transaction's action list. Field
// order and JSON tags are part of the canonical form hashed into the intent
// digest, so they must not change between releases.
type Action struct {
	Type       string `json:"type"`
	Receiver   string `json:"receiver"`
	MethodName string `json:"methodName,omitempty"`
	Args       []byte `json:"args,omitempty"`
	Deposit    string `json:"deposit,omitempty"`
	Gas        uint64 `json:"gas,omitempty"`
}

// TransactionRequest is a caller's request to sign a list of actions on
// behalf of an account.
type TransactionRequest struct {
	AccountID string   `json:"accountId"`
	Actions   []Action `json:"actions"`
}

// AccessKeyInfo describes the on-chain access key used for signing.
type AccessKeyInfo struct {
	PublicKey  string `json:"publicKey"`
	Nonce      uint64 `json:"nonce"`
	Permission string `json:"permission"`
}

// TransactionContext carries the chain state a transaction is built against.
// Cached per account with independent freshness windows for the nonce and
// the block data.
type TransactionContext struct {
	NextNonce     uint64        `json:"nextNonce"`
	TxBlockHeight uint64        `json:"txBlockHeight"`
	TxBlockHash   string        `json:"txBlockHash"`
	AccessKeyInfo AccessKeyInfo `json:"accessKeyInfo"`
}

// CredentialPayload is the biometric credential material returned from a
// ceremony: the credential id plus the two independent PRF extension outputs.
type CredentialPayload struct {
	CredentialID string `json:"credentialId"`
	PRFFirst     []byte `json:"prfFirst"`
	PRFSecond    []byte `json:"prfSecond,omitempty"`
}

// ConfirmationRequest is emitted by a signing worker toward the UI thread.
// The UI must independently recompute the digest of the actions it renders
// and compare it against IntentDigest before any ceremony runs.
type ConfirmationRequest struct {
	CorrelationID string        `json:"correlationId"`
	IntentDigest  string        `json:"intentDigest"`
	Summary       string        `json:"summary"`
	Actions       []Action      `json:"actions"`
	Challenge     *VRFChallenge `json:"challenge"`
}

// ConfirmationDecision carries the UI thread's answer back to the worker.
// Single-use; discarded after the worker consumes it.
type ConfirmationDecision struct {
	Confirmed        bool               `json:"confirmed"`
	RecomputedDigest string             `json:"recomputedDigest,omitempty"`
	Credential       *CredentialPayload `json:"credential,omitempty"`
}

// SignedTransaction is the terminal output of a signing operation.
type SignedTransaction struct {
	AccountID string   `json:"accountId"`
	PublicKey []byte   `json:"publicKey"`
	Nonce     uint64   `json:"nonce"`
	BlockHash string   `json:"blockHash"`
	Actions   []Action `json:"actions"`
	Hash      []byte   `json:"hash"`
	Signature []byte   `json:"signature"`
}
