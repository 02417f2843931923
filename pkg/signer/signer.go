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

// Package signer orchestrates end-to-end transaction signing: it dispatches
// requests into the isolated worker pool, bridges the worker's confirmation
// handshake to the configured UI confirmer, and maps terminal envelopes back
// onto the shared error taxonomy.
package signer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/passchain/go-passchain/pkg/confirm"
	"github.com/passchain/go-passchain/pkg/correlation"
	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/metrics"
	"github.com/passchain/go-passchain/pkg/rpc"
	"github.com/passchain/go-passchain/pkg/session"
	"github.com/passchain/go-passchain/pkg/types"
	"github.com/passchain/go-passchain/pkg/workerpool"
)

// Config carries the orchestrator settings.
type Config struct {
	// Pool configures the worker pool.
	Pool workerpool.Config

	// DecisionTimeout bounds the worker's wait for the UI decision.
	DecisionTimeout time.Duration

	// ContextTimeout bounds nonce/block-context fetches inside the worker.
	ContextTimeout time.Duration

	// Prewarm is the number of ready spares created up front.
	Prewarm int
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	c.Pool.SetDefaults()
	if c.DecisionTimeout == 0 {
		c.DecisionTimeout = 2 * time.Minute
	}
	if c.ContextTimeout == 0 {
		c.ContextTimeout = 10 * time.Second
	}
	if c.Prewarm == 0 {
		c.Prewarm = 1
	}
}

// Signer is the top-level orchestrator. It owns the worker pool and holds
// the session by reference.
type Signer struct {
	session   *session.Session
	confirmer confirm.Confirmer
	chain     rpc.ChainClient
	pool      *workerpool.Pool
	cfg       Config
	logger    *logging.Logger
}

// New builds the signer and pre-warms its pool.
func New(sess *session.Session, confirmer confirm.Confirmer, chain rpc.ChainClient, cfg Config, logger *logging.Logger) *Signer {
	cfg.SetDefaults()
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	logger = logger.WithComponent("signer")

	runtime := NewRuntime(sess, cfg.DecisionTimeout, cfg.ContextTimeout, logger)
	pool := workerpool.New(runtime.Factory(), cfg.Pool, logger)
	pool.Prewarm(cfg.Prewarm)

	return &Signer{
		session:   sess,
		confirmer: confirmer,
		chain:     chain,
		pool:      pool,
		cfg:       cfg,
		logger:    logger,
	}
}

// Close shuts the worker pool down.
func (s *Signer) Close() {
	s.pool.Close()
}

// Pool exposes the worker pool, mainly for health reporting.
func (s *Signer) Pool() *workerpool.Pool {
	return s.pool
}

// SignTransaction runs one signing operation through a fresh worker slot.
// The worker pauses at the confirmation handshake and this method resolves
// it via the configured confirmer on the calling goroutine. Confirmer
// failures (digest mismatch above all) are surfaced verbatim, never retried.
func (s *Signer) SignTransaction(ctx context.Context, req *types.TransactionRequest, summary string) (*types.SignedTransaction, error) {
	if req == nil || len(req.Actions) == 0 {
		return nil, types.WrapError("sign transaction: empty request", types.ErrProtocol)
	}
	started := time.Now()
	correlationID := correlation.GetOrGenerate(ctx)

	env, err := workerpool.NewEnvelope(workerpool.TypeSignTransaction, &Request{
		CorrelationID: correlationID,
		AccountID:     req.AccountID,
		RPID:          s.session.RPID(),
		Summary:       summary,
		Actions:       req.Actions,
	})
	if err != nil {
		return nil, types.WrapError("sign transaction", types.ErrProtocol)
	}

	var confirmErr error
	reply, dispatchErr := s.pool.Dispatch(ctx, env, func(msg workerpool.Envelope) *workerpool.Envelope {
		if msg.Type != workerpool.TypeRequestConfirmation {
			return nil
		}
		decision := s.resolveConfirmation(ctx, msg, &confirmErr)
		replyEnv, err := workerpool.NewEnvelope(workerpool.TypeConfirmationDecision, decision)
		if err != nil {
			return nil
		}
		return &replyEnv
	})

	// The confirmer's own verdict outranks the worker's rejection echo.
	if confirmErr != nil {
		metrics.RecordOperation(metrics.OpSign, metrics.StatusError)
		return nil, confirmErr
	}
	if dispatchErr != nil {
		metrics.RecordOperation(metrics.OpSign, s.statusFor(dispatchErr))
		return nil, dispatchErr
	}
	if reply.Type == workerpool.TypeFailure {
		var failure workerpool.FailurePayload
		if err := json.Unmarshal(reply.Payload, &failure); err != nil {
			metrics.RecordOperation(metrics.OpSign, metrics.StatusError)
			return nil, types.WrapError("malformed failure payload", types.ErrProtocol)
		}
		metrics.RecordOperation(metrics.OpSign, metrics.StatusError)
		return nil, errFor(failure.Code, failure.Message)
	}

	var signed types.SignedTransaction
	if err := json.Unmarshal(reply.Payload, &signed); err != nil {
		metrics.RecordOperation(metrics.OpSign, metrics.StatusError)
		return nil, types.WrapError("malformed signed transaction", types.ErrProtocol)
	}

	metrics.RecordOperation(metrics.OpSign, metrics.StatusSuccess)
	metrics.ObserveOperation(metrics.OpSign, started)
	s.logger.Info("transaction signed",
		"correlationId", correlationID,
		"accountId", signed.AccountID,
		"nonce", signed.Nonce)
	return &signed, nil
}

// SignAndSend signs, submits through the chain client, and reconciles the
// nonce reservation: confirmed on acceptance, released on submission failure.
func (s *Signer) SignAndSend(ctx context.Context, req *types.TransactionRequest, summary, waitPolicy string) (string, error) {
	signed, err := s.SignTransaction(ctx, req, summary)
	if err != nil {
		return "", err
	}

	cache := s.session.NonceCache()
	txID, err := s.chain.SendTransaction(ctx, signed, waitPolicy)
	if err != nil {
		if cache != nil {
			cache.Release(signed.Nonce)
		}
		return "", types.WrapError("send transaction", types.ErrRPCFailure)
	}
	if cache != nil {
		cache.Confirm(signed.Nonce)
	}
	return txID, nil
}

// resolveConfirmation bridges the worker's confirmation request to the UI
// confirmer. Any confirmer error becomes a rejection toward the worker so
// the operation resolves and its nonce is released; the original error is
// captured and returned to the caller.
func (s *Signer) resolveConfirmation(ctx context.Context, msg workerpool.Envelope, confirmErr *error) *types.ConfirmationDecision {
	var confReq types.ConfirmationRequest
	if err := json.Unmarshal(msg.Payload, &confReq); err != nil {
		*confirmErr = types.WrapError("malformed confirmation request", types.ErrProtocol)
		return &types.ConfirmationDecision{Confirmed: false}
	}

	decision, err := s.confirmer.Confirm(ctx, &confReq)
	if err != nil {
		*confirmErr = err
		return &types.ConfirmationDecision{Confirmed: false}
	}
	return decision
}

func (s *Signer) statusFor(err error) string {
	if codeFor(err) == workerpool.CodeTimeout {
		return metrics.StatusTimeout
	}
	return metrics.StatusError
}
