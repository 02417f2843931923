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

// Package credentials extracts the dual PRF extension outputs of a WebAuthn
// ceremony and derives deterministic key material from them. The two outputs
// are independent: the first yields the symmetric key protecting blobs at
// rest, the second yields the signing keypair. Determinism is the core
// invariant; the same output and account always produce the same key, so no
// secret ever has to be persisted.
package credentials

import (
	"encoding/base64"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/passchain/go-passchain/pkg/types"
)

var (
	// ErrMissingExtensionOutput is returned when a required PRF output is
	// absent from the ceremony result.
	ErrMissingExtensionOutput = errors.New("missing prf extension output")
)

// Output selects one of the two PRF extension outputs.
type Output int

const (
	// OutputFirst is the symmetric-key derivation input.
	OutputFirst Output = iota
	// OutputSecond is the signing-key derivation input.
	OutputSecond
)

// ExtractPRF pulls the requested PRF outputs from the client extension
// results of a ceremony. Outputs not listed in required may be absent; a
// required output that is missing fails with ErrMissingExtensionOutput.
func ExtractPRF(ext protocol.AuthenticationExtensionsClientOutputs, required ...Output) (first, second []byte, err error) {
	first, second = prfOutputs(ext)

	for _, r := range required {
		switch r {
		case OutputFirst:
			if len(first) == 0 {
				return nil, nil, types.WrapError("extract prf first", ErrMissingExtensionOutput)
			}
		case OutputSecond:
			if len(second) == 0 {
				return nil, nil, types.WrapError("extract prf second", ErrMissingExtensionOutput)
			}
		}
	}
	return first, second, nil
}

// ExtractFromAssertion builds a CredentialPayload from a parsed assertion.
// The first output is always required; the second only when requireSecond is
// set (signing operations need it, unlock-only operations do not).
func ExtractFromAssertion(assertion *protocol.ParsedCredentialAssertionData, requireSecond bool) (*types.CredentialPayload, error) {
	if assertion == nil {
		return nil, types.WrapError("extract credential", types.ErrProtocol)
	}

	required := []Output{OutputFirst}
	if requireSecond {
		required = append(required, OutputSecond)
	}
	first, second, err := ExtractPRF(assertion.ClientExtensionResults, required...)
	if err != nil {
		return nil, err
	}

	return &types.CredentialPayload{
		CredentialID: base64.RawURLEncoding.EncodeToString(assertion.RawID),
		PRFFirst:     first,
		PRFSecond:    second,
	}, nil
}

// prfOutputs digs the two outputs out of the extension result map. The wire
// shape is {"prf": {"results": {"first": ..., "second": ...}}} with values as
// base64url strings or raw bytes depending on the transport.
func prfOutputs(ext protocol.AuthenticationExtensionsClientOutputs) (first, second []byte) {
	prf, ok := ext["prf"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	results, ok := prf["results"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return coerceBytes(results["first"]), coerceBytes(results["second"])
}

func coerceBytes(v interface{}) []byte {
	switch val := v.(type) {
	case []byte:
		return val
	case string:
		if raw, err := base64.RawURLEncoding.DecodeString(val); err == nil {
			return raw
		}
		if raw, err := base64.URLEncoding.DecodeString(val); err == nil {
			return raw
		}
		return nil
	default:
		return nil
	}
}
