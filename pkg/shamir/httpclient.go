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

package shamir

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/passchain/go-passchain/pkg/correlation"
	"github.com/passchain/go-passchain/pkg/types"
)

// Error codes carried in relay error bodies, shared by the HTTP client and
// the relay handlers.
const (
	CodeMissingKeyID = "missing_key_id"
	CodeUnknownKeyID = "unknown_key_id"
	CodeProtocol     = "protocol_error"
)

// EncodeB64u encodes bytes as padded base64url, the wire encoding of all
// group elements.
func EncodeB64u(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeB64u decodes padded base64url.
func DecodeB64u(s string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(s)
}

// ApplyLockRequest is the body of POST /vrf/apply-server-lock.
type ApplyLockRequest struct {
	KekCB64u string `json:"kek_c_b64u"`
}

// ApplyLockResponse is the success body of POST /vrf/apply-server-lock.
type ApplyLockResponse struct {
	KekCSB64u string `json:"kek_cs_b64u"`
	KeyID     string `json:"keyId"`
}

// RemoveLockRequest is the body of POST /vrf/remove-server-lock.
type RemoveLockRequest struct {
	KekCSB64u string `json:"kek_cs_b64u"`
	KeyID     string `json:"keyId"`
}

// RemoveLockResponse is the success body of POST /vrf/remove-server-lock.
type RemoveLockResponse struct {
	KekCB64u string `json:"kek_c_b64u"`
}

// ErrorResponse is the error body returned by all relay routes.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPRelayClient talks to the relay's HTTP surface.
type HTTPRelayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRelayClient creates a relay client for the given base URL. A nil
// httpClient gets a default with a 30 second timeout.
func NewHTTPRelayClient(baseURL string, httpClient *http.Client) *HTTPRelayClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRelayClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// ApplyServerLock calls POST /vrf/apply-server-lock.
func (c *HTTPRelayClient) ApplyServerLock(ctx context.Context, kekC []byte) ([]byte, string, error) {
	var resp ApplyLockResponse
	err := c.post(ctx, "/vrf/apply-server-lock", &ApplyLockRequest{
		KekCB64u: EncodeB64u(kekC),
	}, &resp)
	if err != nil {
		return nil, "", err
	}
	raw, err := DecodeB64u(resp.KekCSB64u)
	if err != nil {
		return nil, "", types.WrapError("apply server lock", types.ErrProtocol)
	}
	return raw, resp.KeyID, nil
}

// RemoveServerLock calls POST /vrf/remove-server-lock.
func (c *HTTPRelayClient) RemoveServerLock(ctx context.Context, kekCS []byte, keyID string) ([]byte, error) {
	var resp RemoveLockResponse
	err := c.post(ctx, "/vrf/remove-server-lock", &RemoveLockRequest{
		KekCSB64u: EncodeB64u(kekCS),
		KeyID:     keyID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	raw, err := DecodeB64u(resp.KekCB64u)
	if err != nil {
		return nil, types.WrapError("remove server lock", types.ErrProtocol)
	}
	return raw, nil
}

// KeyInfo calls GET /shamir/key-info.
func (c *HTTPRelayClient) KeyInfo(ctx context.Context) (*KeyInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/shamir/key-info", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(correlation.CorrelationIDHeader, correlation.GetOrGenerate(ctx))

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeError(httpResp)
	}

	var info KeyInfo
	if err := json.NewDecoder(httpResp.Body).Decode(&info); err != nil {
		return nil, types.WrapError("key info", types.ErrProtocol)
	}
	return &info, nil
}

func (c *HTTPRelayClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(correlation.CorrelationIDHeader, correlation.GetOrGenerate(ctx))

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return decodeError(httpResp)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return types.WrapError("relay response", types.ErrProtocol)
	}
	return nil
}

// decodeError maps a relay error body back onto the shared sentinels.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		switch body.Error {
		case CodeMissingKeyID:
			return types.WrapError("relay", types.ErrMissingKeyID)
		case CodeUnknownKeyID:
			return types.WrapError("relay", types.ErrUnknownKeyID)
		case CodeProtocol:
			return types.WrapError("relay", types.ErrProtocol)
		}
	}
	return types.WrapError(fmt.Sprintf("relay status %d", resp.StatusCode), types.ErrProtocol)
}
