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

package confirm

import (
	"github.com/passchain/go-passchain/pkg/metrics"
	"github.com/passchain/go-passchain/pkg/types"
)

// State is a handshake phase. Transitions are strictly forward; any call out
// of order is a protocol error, which is how challenge-before-confirmation-
// before-credential ordering is enforced rather than left to caller
// discipline.
type State string

const (
	StateAwaitingContext      State = "AWAITING_CONTEXT"
	StateAwaitingChallenge    State = "AWAITING_CHALLENGE"
	StateAwaitingUserDecision State = "AWAITING_USER_DECISION"
	StateAwaitingCredential   State = "AWAITING_CREDENTIAL"
	StateResolved             State = "RESOLVED"
)

// Handshake is the worker-side state machine for one confirmation exchange.
// Not safe for concurrent use; a handshake belongs to exactly one operation
// on one worker goroutine.
type Handshake struct {
	state     State
	actions   []types.Action
	summary   string
	digest    string
	context   *types.TransactionContext
	challenge *types.VRFChallenge
	decision  *types.ConfirmationDecision
	confirmed bool
}

// NewHandshake starts a handshake over the normalized action list, computing
// the intent digest up front.
func NewHandshake(actions []types.Action, summary string) (*Handshake, error) {
	digest, err := IntentDigest(actions)
	if err != nil {
		return nil, err
	}
	return &Handshake{
		state:   StateAwaitingContext,
		actions: actions,
		summary: summary,
		digest:  digest,
	}, nil
}

// State returns the current phase.
func (h *Handshake) State() State {
	return h.state
}

// IntentDigest returns the worker-computed digest.
func (h *Handshake) IntentDigest() string {
	return h.digest
}

// ProvideContext records the transaction context. First step.
func (h *Handshake) ProvideContext(tc *types.TransactionContext) error {
	if h.state != StateAwaitingContext || tc == nil {
		return types.WrapError("provide context", types.ErrProtocol)
	}
	h.context = tc
	h.state = StateAwaitingChallenge
	return nil
}

// ProvideChallenge records the VRF challenge issued for this operation. The
// challenge must be bound to the same block as the context.
func (h *Handshake) ProvideChallenge(challenge *types.VRFChallenge) error {
	if h.state != StateAwaitingChallenge || challenge == nil {
		return types.WrapError("provide challenge", types.ErrProtocol)
	}
	if challenge.BlockHash != h.context.TxBlockHash {
		return types.WrapError("provide challenge: block mismatch", types.ErrProtocol)
	}
	h.challenge = challenge
	h.state = StateAwaitingUserDecision
	return nil
}

// Request builds the confirmation request to emit toward the UI thread.
// Valid only while awaiting the user decision.
func (h *Handshake) Request(correlationID string) (*types.ConfirmationRequest, error) {
	if h.state != StateAwaitingUserDecision {
		return nil, types.WrapError("build request", types.ErrProtocol)
	}
	return &types.ConfirmationRequest{
		CorrelationID: correlationID,
		IntentDigest:  h.digest,
		Summary:       h.summary,
		Actions:       h.actions,
		Challenge:     h.challenge,
	}, nil
}

// ApplyDecision consumes the UI thread's single-use decision and resolves
// the handshake. It verifies the UI's recomputed digest when present and
// that usable credential material accompanies a confirmation.
func (h *Handshake) ApplyDecision(decision *types.ConfirmationDecision) error {
	if h.state != StateAwaitingUserDecision || decision == nil {
		return types.WrapError("apply decision", types.ErrProtocol)
	}
	h.state = StateAwaitingCredential

	if !decision.Confirmed {
		h.resolve(false)
		metrics.RecordConfirmation(metrics.OutcomeRejected)
		return types.WrapError("apply decision", types.ErrUserRejected)
	}
	if decision.RecomputedDigest != "" && decision.RecomputedDigest != h.digest {
		h.resolve(false)
		metrics.RecordConfirmation(metrics.OutcomeDigestMismatch)
		return types.WrapError("apply decision", types.ErrDigestMismatch)
	}
	if decision.Credential == nil || len(decision.Credential.PRFSecond) == 0 {
		h.resolve(false)
		return types.WrapError("apply decision: unusable credential", types.ErrProtocol)
	}

	h.decision = decision
	h.resolve(true)
	metrics.RecordConfirmation(metrics.OutcomeConfirmed)
	return nil
}

// Credential returns the credential material of a confirmed handshake.
func (h *Handshake) Credential() (*types.CredentialPayload, error) {
	if h.state != StateResolved || !h.confirmed || h.decision == nil {
		return nil, types.WrapError("credential", types.ErrProtocol)
	}
	return h.decision.Credential, nil
}

// Confirmed reports whether the handshake resolved with approval.
func (h *Handshake) Confirmed() bool {
	return h.state == StateResolved && h.confirmed
}

func (h *Handshake) resolve(confirmed bool) {
	h.state = StateResolved
	h.confirmed = confirmed
}
