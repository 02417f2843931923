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

// Package confirm implements the secure confirmation handshake between an
// isolated signing worker and the untrusted UI thread. The worker and the UI
// each hash the action list independently; any byte of divergence aborts the
// operation before a biometric ceremony ever runs.
package confirm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/passchain/go-passchain/pkg/types"
)

// CanonicalActions produces the order-normalized canonical encoding of an
// action list. Each action is marshaled with its fixed field order, the
// encodings are sorted, and the result is framed so list boundaries are
// unambiguous.
func CanonicalActions(actions []types.Action) ([]byte, error) {
	encoded := make([][]byte, len(actions))
	for i, action := range actions {
		raw, err := json.Marshal(action)
		if err != nil {
			return nil, err
		}
		encoded[i] = raw
	}
	sort.Slice(encoded, func(i, j int) bool {
		return string(encoded[i]) < string(encoded[j])
	})

	// Joining with a length prefix keeps ["ab","c"] distinct from ["a","bc"].
	var out []byte
	for _, raw := range encoded {
		var prefix [4]byte
		prefix[0] = byte(len(raw) >> 24)
		prefix[1] = byte(len(raw) >> 16)
		prefix[2] = byte(len(raw) >> 8)
		prefix[3] = byte(len(raw))
		out = append(out, prefix[:]...)
		out = append(out, raw...)
	}
	return out, nil
}

// IntentDigest hashes the canonical action list. Both the worker and the UI
// compute this over their own view; the results must match byte for byte.
func IntentDigest(actions []types.Action) (string, error) {
	canonical, err := CanonicalActions(actions)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
