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

package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/passchain/go-passchain/pkg/confirm"
	"github.com/passchain/go-passchain/pkg/credentials"
	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/session"
	"github.com/passchain/go-passchain/pkg/types"
	"github.com/passchain/go-passchain/pkg/vrf"
	"github.com/passchain/go-passchain/pkg/workerpool"
)

// Request is the payload of a signTransaction envelope.
type Request struct {
	CorrelationID string         `json:"correlationId"`
	AccountID     string         `json:"accountId"`
	RPID          string         `json:"rpId"`
	Summary       string         `json:"summary"`
	Actions       []types.Action `json:"actions"`
}

// Runtime is the worker-side half of the signer: it executes one signing
// operation per dispatched envelope, pausing mid-flight for the UI thread's
// confirmation decision. The resident VRF keypair and the nonce cache are
// reached through the session, never owned by the worker.
type Runtime struct {
	session         *session.Session
	decisionTimeout time.Duration
	contextTimeout  time.Duration
	logger          *logging.Logger
}

// NewRuntime builds the worker runtime. The decision timeout bounds the wait
// for the UI's confirmation reply; it includes human interaction and is
// deliberately much longer than RPC timeouts.
func NewRuntime(sess *session.Session, decisionTimeout, contextTimeout time.Duration, logger *logging.Logger) *Runtime {
	if decisionTimeout <= 0 {
		decisionTimeout = 2 * time.Minute
	}
	if contextTimeout <= 0 {
		contextTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Runtime{
		session:         sess,
		decisionTimeout: decisionTimeout,
		contextTimeout:  contextTimeout,
		logger:          logger.WithComponent("signer-runtime"),
	}
}

// Factory returns the worker factory the pool uses to create slots.
func (r *Runtime) Factory() workerpool.Factory {
	handler := r.Handler()
	return func() (workerpool.Worker, error) {
		return workerpool.NewChannelWorker(handler), nil
	}
}

// Handler returns the envelope handler hosted on each worker.
func (r *Runtime) Handler() workerpool.Handler {
	return func(env workerpool.Envelope, conn *workerpool.Conn) {
		if env.Type != workerpool.TypeSignTransaction {
			r.fail(conn, workerpool.CodeProtocol,
				fmt.Sprintf("unexpected request type %q", env.Type))
			return
		}

		var req Request
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			r.fail(conn, workerpool.CodeProtocol, "malformed sign request")
			return
		}
		r.sign(&req, conn)
	}
}

// sign runs one complete signing operation: context, nonce reservation, VRF
// challenge, confirmation handshake, key derivation, signature. Ordering is
// enforced by the handshake state machine. The reserved nonce is released on
// every non-success path.
func (r *Runtime) sign(req *Request, conn *workerpool.Conn) {
	if len(req.Actions) == 0 || req.AccountID == "" {
		r.fail(conn, workerpool.CodeProtocol, "empty sign request")
		return
	}

	cache := r.session.NonceCache()
	if cache == nil || !r.session.Issuer().Resident() {
		r.fail(conn, workerpool.CodeKeyUnavailable, "no active session")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.contextTimeout)
	defer cancel()

	tc, err := cache.GetContext(ctx)
	if err != nil {
		r.failErr(conn, err)
		return
	}
	nonces, err := cache.ReserveNonces(ctx, 1)
	if err != nil {
		r.failErr(conn, err)
		return
	}
	nonce := nonces[0]

	signed, err := r.signWithContext(req, conn, tc, nonce)
	if err != nil {
		cache.Release(nonce)
		r.failErr(conn, err)
		return
	}

	payload, err := workerpool.NewEnvelope(workerpool.TypeSuccess, signed)
	if err != nil {
		cache.Release(nonce)
		r.fail(conn, workerpool.CodeProtocol, "marshal signed transaction")
		return
	}
	conn.Emit(payload)
}

func (r *Runtime) signWithContext(req *Request, conn *workerpool.Conn, tc *types.TransactionContext, nonce uint64) (*types.SignedTransaction, error) {
	h, err := confirm.NewHandshake(req.Actions, req.Summary)
	if err != nil {
		return nil, err
	}
	if err := h.ProvideContext(tc); err != nil {
		return nil, err
	}

	challenge, err := r.session.Issuer().Issue(req.AccountID, req.RPID, tc.TxBlockHeight, tc.TxBlockHash)
	if err != nil {
		return nil, err
	}
	if err := h.ProvideChallenge(challenge); err != nil {
		return nil, err
	}

	confReq, err := h.Request(req.CorrelationID)
	if err != nil {
		return nil, err
	}
	env, err := workerpool.NewEnvelope(workerpool.TypeRequestConfirmation, confReq)
	if err != nil {
		return nil, err
	}
	conn.Emit(env)

	reply, err := conn.Next(r.decisionTimeout)
	if err != nil {
		return nil, err
	}
	if reply.Type != workerpool.TypeConfirmationDecision {
		return nil, types.WrapError(
			fmt.Sprintf("unexpected reply type %q", reply.Type), types.ErrProtocol)
	}
	var decision types.ConfirmationDecision
	if err := json.Unmarshal(reply.Payload, &decision); err != nil {
		return nil, types.WrapError("malformed confirmation decision", types.ErrProtocol)
	}

	if err := h.ApplyDecision(&decision); err != nil {
		return nil, err
	}
	cred, err := h.Credential()
	if err != nil {
		return nil, err
	}

	signingKey, err := credentials.DeriveSigningKey(cred.PRFSecond, req.AccountID)
	if err != nil {
		return nil, err
	}
	return buildSigned(req.AccountID, req.Actions, tc, nonce, signingKey)
}

// buildSigned assembles and signs the transaction. The signed hash commits
// to the account, public key, nonce, block hash, and the same canonical
// action encoding the intent digest was computed over.
func buildSigned(accountID string, actions []types.Action, tc *types.TransactionContext, nonce uint64, key ed25519.PrivateKey) (*types.SignedTransaction, error) {
	canonical, err := confirm.CanonicalActions(actions)
	if err != nil {
		return nil, err
	}
	publicKey := key.Public().(ed25519.PublicKey)

	hasher := sha256.New()
	writeField := func(b []byte) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(b)))
		hasher.Write(n[:])
		hasher.Write(b)
	}
	writeField([]byte(accountID))
	writeField(publicKey)
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	writeField(nb[:])
	writeField([]byte(tc.TxBlockHash))
	writeField(canonical)
	hash := hasher.Sum(nil)

	return &types.SignedTransaction{
		AccountID: accountID,
		PublicKey: publicKey,
		Nonce:     nonce,
		BlockHash: tc.TxBlockHash,
		Actions:   actions,
		Hash:      hash,
		Signature: ed25519.Sign(key, hash),
	}, nil
}

// failErr emits a terminal failure with the code matching the error's
// sentinel.
func (r *Runtime) failErr(conn *workerpool.Conn, err error) {
	r.fail(conn, codeFor(err), err.Error())
}

func (r *Runtime) fail(conn *workerpool.Conn, code, message string) {
	r.logger.Warn("signing operation failed", "code", code, "detail", message)
	payload, err := workerpool.NewEnvelope(workerpool.TypeFailure,
		workerpool.FailurePayload{Code: code, Message: message})
	if err != nil {
		return
	}
	conn.Emit(payload)
}

// codeFor maps a sentinel error to its wire failure code.
func codeFor(err error) string {
	switch {
	case errors.Is(err, types.ErrTimeout):
		return workerpool.CodeTimeout
	case errors.Is(err, types.ErrDigestMismatch):
		return workerpool.CodeDigestMismatch
	case errors.Is(err, types.ErrUserRejected):
		return workerpool.CodeUserRejected
	case errors.Is(err, types.ErrKeyUnavailable), errors.Is(err, vrf.ErrKeypairLocked):
		return workerpool.CodeKeyUnavailable
	case errors.Is(err, types.ErrRPCFailure):
		return workerpool.CodeRPCFailure
	default:
		return workerpool.CodeProtocol
	}
}

// errFor maps a wire failure code back to its sentinel.
func errFor(code, message string) error {
	var sentinel error
	switch code {
	case workerpool.CodeTimeout:
		sentinel = types.ErrTimeout
	case workerpool.CodeDigestMismatch:
		sentinel = types.ErrDigestMismatch
	case workerpool.CodeUserRejected:
		sentinel = types.ErrUserRejected
	case workerpool.CodeKeyUnavailable:
		sentinel = types.ErrKeyUnavailable
	case workerpool.CodeRPCFailure:
		sentinel = types.ErrRPCFailure
	default:
		sentinel = types.ErrProtocol
	}
	if message == "" {
		return sentinel
	}
	return types.WrapError(message, sentinel)
}
