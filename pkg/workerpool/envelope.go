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

package workerpool

import "encoding/json"

// Envelope is the worker message frame. Every request and response crossing
// a worker boundary is exactly {type, payload}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message types. Success and Failure are terminal; RequestConfirmation and
// Progress are transient; ConfirmationDecision is the UI thread's reply to a
// RequestConfirmation.
const (
	TypePing                 = "ping"
	TypePong                 = "pong"
	TypeSignTransaction      = "signTransaction"
	TypeProgress             = "progress"
	TypeRequestConfirmation  = "requestConfirmation"
	TypeConfirmationDecision = "confirmationDecision"
	TypeSuccess              = "success"
	TypeFailure              = "failure"
)

// IsTerminal reports whether the message type ends an operation.
func IsTerminal(t string) bool {
	return t == TypeSuccess || t == TypeFailure
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// FailurePayload is the payload of a terminal failure envelope. Code selects
// a sentinel from the shared taxonomy; Message is operator detail, never
// shown to users verbatim.
type FailurePayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Failure codes mapped back onto the shared error taxonomy by the caller.
const (
	CodeProtocol       = "protocol_error"
	CodeTimeout        = "timeout"
	CodeDigestMismatch = "digest_mismatch"
	CodeKeyUnavailable = "key_unavailable"
	CodeUserRejected   = "user_rejected"
	CodeRPCFailure     = "rpc_failure"
)
