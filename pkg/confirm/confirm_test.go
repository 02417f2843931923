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
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passchain/go-passchain/pkg/types"
)

var testActions = []types.Action{
	{Type: "transfer", Receiver: "bob.testnet", Deposit: "1000000"},
	{Type: "functionCall", Receiver: "dex.testnet", MethodName: "swap", Args: []byte(`{"in":"usdc"}`), Gas: 30000000},
}

func testChallenge() *types.VRFChallenge {
	return &types.VRFChallenge{
		VRFOutput:   bytes.Repeat([]byte{0xC7}, 64),
		BlockHeight: 100,
		BlockHash:   "2fVb",
	}
}

func testContext() *types.TransactionContext {
	return &types.TransactionContext{NextNonce: 5, TxBlockHeight: 100, TxBlockHash: "2fVb"}
}

func TestIntentDigestDeterministic(t *testing.T) {
	d1, err := IntentDigest(testActions)
	require.NoError(t, err)
	d2, err := IntentDigest(testActions)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestIntentDigestOrderNormalized(t *testing.T) {
	reversed := []types.Action{testActions[1], testActions[0]}

	d1, err := IntentDigest(testActions)
	require.NoError(t, err)
	d2, err := IntentDigest(reversed)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestIntentDigestSensitiveToContent(t *testing.T) {
	d1, err := IntentDigest(testActions)
	require.NoError(t, err)

	tampered := make([]types.Action, len(testActions))
	copy(tampered, testActions)
	tampered[0].Deposit = "1000001"

	d2, err := IntentDigest(tampered)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestCanonicalActionsFraming(t *testing.T) {
	a, err := CanonicalActions([]types.Action{{Type: "x", Receiver: "ab"}})
	require.NoError(t, err)
	b, err := CanonicalActions([]types.Action{{Type: "x", Receiver: "a"}, {Type: "x", Receiver: "b"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHandshakeHappyPath(t *testing.T) {
	h, err := NewHandshake(testActions, "send 1 NEAR to bob")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingContext, h.State())

	require.NoError(t, h.ProvideContext(testContext()))
	assert.Equal(t, StateAwaitingChallenge, h.State())

	require.NoError(t, h.ProvideChallenge(testChallenge()))
	assert.Equal(t, StateAwaitingUserDecision, h.State())

	req, err := h.Request("op-1")
	require.NoError(t, err)
	assert.Equal(t, h.IntentDigest(), req.IntentDigest)
	assert.Equal(t, "send 1 NEAR to bob", req.Summary)
	assert.NotNil(t, req.Challenge)

	err = h.ApplyDecision(&types.ConfirmationDecision{
		Confirmed:        true,
		RecomputedDigest: h.IntentDigest(),
		Credential: &types.CredentialPayload{
			CredentialID: "cred",
			PRFFirst:     bytes.Repeat([]byte{1}, 32),
			PRFSecond:    bytes.Repeat([]byte{2}, 32),
		},
	})
	require.NoError(t, err)
	assert.True(t, h.Confirmed())

	cred, err := h.Credential()
	require.NoError(t, err)
	assert.Equal(t, "cred", cred.CredentialID)
}

func TestHandshakeEnforcesOrdering(t *testing.T) {
	h, err := NewHandshake(testActions, "s")
	require.NoError(t, err)

	// Challenge before context is a protocol error.
	assert.ErrorIs(t, h.ProvideChallenge(testChallenge()), types.ErrProtocol)

	// Decision before the request phase is a protocol error.
	assert.ErrorIs(t, h.ApplyDecision(&types.ConfirmationDecision{Confirmed: true}), types.ErrProtocol)

	_, err = h.Request("op-1")
	assert.ErrorIs(t, err, types.ErrProtocol)
}

func TestHandshakeChallengeBlockMismatch(t *testing.T) {
	h, err := NewHandshake(testActions, "s")
	require.NoError(t, err)
	require.NoError(t, h.ProvideContext(testContext()))

	challenge := testChallenge()
	challenge.BlockHash = "other-block"
	assert.ErrorIs(t, h.ProvideChallenge(challenge), types.ErrProtocol)
}

func TestHandshakeRejection(t *testing.T) {
	h, err := NewHandshake(testActions, "s")
	require.NoError(t, err)
	require.NoError(t, h.ProvideContext(testContext()))
	require.NoError(t, h.ProvideChallenge(testChallenge()))

	err = h.ApplyDecision(&types.ConfirmationDecision{Confirmed: false})
	assert.ErrorIs(t, err, types.ErrUserRejected)
	assert.False(t, h.Confirmed())

	_, err = h.Credential()
	assert.ErrorIs(t, err, types.ErrProtocol)
}

func TestHandshakeDigestMismatchFromUI(t *testing.T) {
	h, err := NewHandshake(testActions, "s")
	require.NoError(t, err)
	require.NoError(t, h.ProvideContext(testContext()))
	require.NoError(t, h.ProvideChallenge(testChallenge()))

	err = h.ApplyDecision(&types.ConfirmationDecision{
		Confirmed:        true,
		RecomputedDigest: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	assert.ErrorIs(t, err, types.ErrDigestMismatch)
	assert.False(t, h.Confirmed())
}

func TestHandshakeDecisionSingleUse(t *testing.T) {
	h, err := NewHandshake(testActions, "s")
	require.NoError(t, err)
	require.NoError(t, h.ProvideContext(testContext()))
	require.NoError(t, h.ProvideChallenge(testChallenge()))

	decision := &types.ConfirmationDecision{Confirmed: false}
	_ = h.ApplyDecision(decision)
	assert.ErrorIs(t, h.ApplyDecision(decision), types.ErrProtocol)
}

// stubCeremony records whether the ceremony ran.
type stubCeremony struct {
	ran       bool
	challenge []byte
	payload   *types.CredentialPayload
	err       error
}

func (s *stubCeremony) RunCeremony(_ context.Context, challenge []byte) (*types.CredentialPayload, error) {
	s.ran = true
	s.challenge = challenge
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

type stubPrompter struct {
	answer bool
	asked  bool
}

func (s *stubPrompter) Prompt(_ context.Context, _ *types.ConfirmationRequest) (bool, error) {
	s.asked = true
	return s.answer, nil
}

func confirmationRequest(t *testing.T) *types.ConfirmationRequest {
	t.Helper()
	digest, err := IntentDigest(testActions)
	require.NoError(t, err)
	return &types.ConfirmationRequest{
		CorrelationID: "op-1",
		IntentDigest:  digest,
		Summary:       "s",
		Actions:       testActions,
		Challenge:     testChallenge(),
	}
}

func TestSkipConfirmerRunsCeremony(t *testing.T) {
	ceremony := &stubCeremony{payload: &types.CredentialPayload{CredentialID: "c"}}
	confirmer, err := New(ModeSkip, nil, ceremony, nil)
	require.NoError(t, err)

	decision, err := confirmer.Confirm(context.Background(), confirmationRequest(t))
	require.NoError(t, err)
	assert.True(t, decision.Confirmed)
	assert.True(t, ceremony.ran)
	assert.Len(t, ceremony.challenge, types.ChallengeSize)
}

func TestDigestMismatchRejectsBeforeCeremony(t *testing.T) {
	ceremony := &stubCeremony{payload: &types.CredentialPayload{}}

	for _, mode := range []Mode{ModeSkip, ModeModal, ModeEmbedded} {
		prompter := &stubPrompter{answer: true}
		confirmer, err := New(mode, prompter, ceremony, nil)
		require.NoError(t, err)

		req := confirmationRequest(t)
		req.IntentDigest = "ff" + req.IntentDigest[2:] // one byte off

		_, err = confirmer.Confirm(context.Background(), req)
		assert.ErrorIs(t, err, types.ErrDigestMismatch, "mode %s", mode)
		assert.False(t, ceremony.ran, "ceremony must not run on mismatch (mode %s)", mode)
		assert.False(t, prompter.asked, "user must not be prompted on mismatch (mode %s)", mode)
	}
}

func TestModalConfirmerRejection(t *testing.T) {
	ceremony := &stubCeremony{payload: &types.CredentialPayload{}}
	prompter := &stubPrompter{answer: false}
	confirmer, err := New(ModeModal, prompter, ceremony, nil)
	require.NoError(t, err)

	decision, err := confirmer.Confirm(context.Background(), confirmationRequest(t))
	require.NoError(t, err)
	assert.False(t, decision.Confirmed)
	assert.True(t, prompter.asked)
	assert.False(t, ceremony.ran, "rejection must not trigger the ceremony")
}

func TestNewConfirmerValidation(t *testing.T) {
	ceremony := &stubCeremony{}

	_, err := New(ModeModal, nil, ceremony, nil)
	assert.Error(t, err, "modal requires a prompter")

	_, err = New("mystery", nil, ceremony, nil)
	assert.Error(t, err)

	_, err = New(ModeSkip, nil, nil, nil)
	assert.Error(t, err, "ceremony runner required")
}
