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

package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the signing engine. Components wrap these
// with operation context; callers match them with errors.Is.
var (
	// ErrProtocol is returned when a message is malformed or arrives in an
	// unexpected shape or order.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout is returned when any suspension point exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrDigestMismatch is returned when the UI-recomputed intent digest does
	// not match the worker-issued digest. Always fatal, never retried.
	ErrDigestMismatch = errors.New("intent digest mismatch")

	// ErrKeyUnavailable is returned when no resident or wrapped key exists
	// for the requested account.
	ErrKeyUnavailable = errors.New("key unavailable")

	// ErrUnknownKeyID is returned when an unwrap request names a key the
	// relay does not hold, current or grace.
	ErrUnknownKeyID = errors.New("unknown key id")

	// ErrMissingKeyID is returned when an unwrap request omits the key id.
	// The protocol never guesses which key wrapped a blob.
	ErrMissingKeyID = errors.New("missing key id")

	// ErrUserRejected is returned when the user explicitly declines a
	// confirmation prompt.
	ErrUserRejected = errors.New("user rejected")

	// ErrRPCFailure is returned when a nonce or block fetch against the
	// chain RPC fails.
	ErrRPCFailure = errors.New("rpc failure")
)

// Error wraps a sentinel error with the operation that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
