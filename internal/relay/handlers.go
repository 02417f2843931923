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

package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/passchain/go-passchain/pkg/health"
	"github.com/passchain/go-passchain/pkg/shamir"
	"github.com/passchain/go-passchain/pkg/types"
)

const maxBodyBytes = 16 * 1024

// healthResponse is the body of the health probe endpoints.
type healthResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// applyServerLockHandler handles POST /vrf/apply-server-lock: it raises the
// client-blinded value to the current server exponent and tags the result
// with the current keyId.
func (s *Server) applyServerLockHandler(w http.ResponseWriter, r *http.Request) {
	var req shamir.ApplyLockRequest
	if !s.decode(w, r, &req) {
		return
	}
	kekC, err := shamir.DecodeB64u(req.KekCB64u)
	if err != nil {
		s.writeError(w, types.WrapError("apply server lock: bad kek_c_b64u", types.ErrProtocol))
		return
	}

	local := shamir.LocalRelay{Manager: s.manager}
	kekCS, keyID, err := local.ApplyServerLock(r.Context(), kekC)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &shamir.ApplyLockResponse{
		KekCSB64u: shamir.EncodeB64u(kekCS),
		KeyID:     keyID,
	})
}

// removeServerLockHandler handles POST /vrf/remove-server-lock. The keyId is
// mandatory: the relay never guesses which pair wrapped a value.
func (s *Server) removeServerLockHandler(w http.ResponseWriter, r *http.Request) {
	var req shamir.RemoveLockRequest
	if !s.decode(w, r, &req) {
		return
	}
	kekCS, err := shamir.DecodeB64u(req.KekCSB64u)
	if err != nil {
		s.writeError(w, types.WrapError("remove server lock: bad kek_cs_b64u", types.ErrProtocol))
		return
	}

	local := shamir.LocalRelay{Manager: s.manager}
	kekC, err := local.RemoveServerLock(r.Context(), kekCS, req.KeyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &shamir.RemoveLockResponse{
		KekCB64u: shamir.EncodeB64u(kekC),
	})
}

// keyInfoHandler handles GET /shamir/key-info, which clients poll to detect
// rotation and refresh grace-wrapped blobs proactively.
func (s *Server) keyInfoHandler(w http.ResponseWriter, r *http.Request) {
	local := shamir.LocalRelay{Manager: s.manager}
	info, err := local.KeyInfo(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Live(r.Context())
	s.writeJSON(w, http.StatusOK, &healthResponse{
		Status:  result.Status,
		Message: result.Message,
	})
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Ready(r.Context())
	status := health.AggregateStatus(results)

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, &healthResponse{Status: status, Checks: results})
}

func (s *Server) startupHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Startup(r.Context())

	code := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, &healthResponse{
		Status:  result.Status,
		Message: result.Message,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.writeError(w, types.WrapError("malformed request body", types.ErrProtocol))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.MaybeError(err)
	}
}

// writeError maps a sentinel onto the wire error code and HTTP status. The
// body carries only the code: protocol details are logged, never exposed.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Warn("relay request failed", "error", err.Error())

	code := shamir.CodeProtocol
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, types.ErrMissingKeyID):
		code = shamir.CodeMissingKeyID
	case errors.Is(err, types.ErrUnknownKeyID):
		code = shamir.CodeUnknownKeyID
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, &shamir.ErrorResponse{Error: code})
}
