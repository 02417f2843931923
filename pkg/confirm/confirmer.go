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
	"context"
	"fmt"

	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/metrics"
	"github.com/passchain/go-passchain/pkg/types"
)

// Mode selects the UI confirmation strategy. The set is closed; selection
// happens once at configuration time.
type Mode string

const (
	// ModeSkip auto-proceeds without an explicit decision. The digest check
	// still runs; skip is about the prompt, never about integrity.
	ModeSkip Mode = "skip"

	// ModeModal prompts through a blocking dialog.
	ModeModal Mode = "modal"

	// ModeEmbedded prompts through an always-visible embedded confirmer.
	ModeEmbedded Mode = "embedded"
)

// Prompter resolves an explicit user decision for a rendered request.
type Prompter interface {
	Prompt(ctx context.Context, req *types.ConfirmationRequest) (bool, error)
}

// CeremonyRunner executes the biometric ceremony with the given WebAuthn
// challenge and returns the extracted credential material.
type CeremonyRunner interface {
	RunCeremony(ctx context.Context, challenge []byte) (*types.CredentialPayload, error)
}

// Confirmer is the UI-thread half of the handshake: it re-renders the action
// list, independently recomputes the digest, collects the user decision per
// its mode, and runs the ceremony.
type Confirmer interface {
	Confirm(ctx context.Context, req *types.ConfirmationRequest) (*types.ConfirmationDecision, error)
}

// New builds the confirmer for a mode. Skip needs no prompter; modal and
// embedded require one.
func New(mode Mode, prompter Prompter, ceremony CeremonyRunner, logger *logging.Logger) (Confirmer, error) {
	if ceremony == nil {
		return nil, fmt.Errorf("ceremony runner is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	base := base{ceremony: ceremony, logger: logger.WithComponent("confirm")}

	switch mode {
	case ModeSkip:
		return &skipConfirmer{base: base}, nil
	case ModeModal, ModeEmbedded:
		if prompter == nil {
			return nil, fmt.Errorf("mode %q requires a prompter", mode)
		}
		return &promptConfirmer{base: base, prompter: prompter, mode: mode}, nil
	default:
		return nil, fmt.Errorf("unknown confirmation mode %q", mode)
	}
}

type base struct {
	ceremony CeremonyRunner
	logger   *logging.Logger
}

// check recomputes the digest over the actions the UI is about to display
// and compares it to the worker's. A mismatch is a hard rejection: it means
// the worker's signing input and the rendered input diverged.
func (b *base) check(req *types.ConfirmationRequest) (string, error) {
	recomputed, err := IntentDigest(req.Actions)
	if err != nil {
		return "", err
	}
	if recomputed != req.IntentDigest {
		b.logger.Warn("intent digest mismatch",
			"correlationId", req.CorrelationID,
			"worker", req.IntentDigest,
			"ui", recomputed)
		metrics.RecordConfirmation(metrics.OutcomeDigestMismatch)
		return "", types.WrapError("confirm", types.ErrDigestMismatch)
	}
	return recomputed, nil
}

// collect runs the ceremony and assembles the confirmed decision.
func (b *base) collect(ctx context.Context, req *types.ConfirmationRequest, digest string) (*types.ConfirmationDecision, error) {
	if req.Challenge == nil {
		return nil, types.WrapError("confirm: no challenge", types.ErrProtocol)
	}
	credential, err := b.ceremony.RunCeremony(ctx, req.Challenge.Challenge())
	if err != nil {
		return nil, err
	}
	return &types.ConfirmationDecision{
		Confirmed:        true,
		RecomputedDigest: digest,
		Credential:       credential,
	}, nil
}

// skipConfirmer auto-proceeds after the digest check.
type skipConfirmer struct {
	base
}

func (c *skipConfirmer) Confirm(ctx context.Context, req *types.ConfirmationRequest) (*types.ConfirmationDecision, error) {
	digest, err := c.check(req)
	if err != nil {
		return nil, err
	}
	return c.collect(ctx, req, digest)
}

// promptConfirmer requires an explicit user decision (modal or embedded;
// the rendering difference lives in the Prompter, the protocol is shared).
type promptConfirmer struct {
	base
	prompter Prompter
	mode     Mode
}

func (c *promptConfirmer) Confirm(ctx context.Context, req *types.ConfirmationRequest) (*types.ConfirmationDecision, error) {
	digest, err := c.check(req)
	if err != nil {
		return nil, err
	}

	confirmed, err := c.prompter.Prompt(ctx, req)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		c.logger.Info("user rejected confirmation", "correlationId", req.CorrelationID)
		return &types.ConfirmationDecision{Confirmed: false, RecomputedDigest: digest}, nil
	}
	return c.collect(ctx, req, digest)
}
