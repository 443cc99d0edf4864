// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"liveack/pkg/ack"
)

// DefaultAckEndpoint is the platform's ack API.
const DefaultAckEndpoint = "https://webcast.bytedance.com/api/live_data/ack"

// Header names sent with every ack request.
const (
	HeaderToken     = "token"
	HeaderSessionID = "X-Session-Id"
	HeaderBatchID   = "X-Batch-Id"
)

// AckResponse is the body returned by the ack endpoint. A non-zero ErrNo is a
// failure even on HTTP 200.
type AckResponse struct {
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
	LogID  string `json:"logid"`
}

// AckError reports a rejected ack request.
type AckError struct {
	Status int
	ErrNo  int
	ErrMsg string
	LogID  string
}

func (e *AckError) Error() string {
	if e.ErrNo != 0 {
		return fmt.Sprintf("ack rejected: status=%d err_no=%d err_msg=%q logid=%s", e.Status, e.ErrNo, e.ErrMsg, e.LogID)
	}
	return fmt.Sprintf("ack rejected: status=%d", e.Status)
}

// HTTPTransport POSTs each request as JSON to the ack endpoint.
type HTTPTransport struct {
	client    *http.Client
	endpoint  string
	token     string
	sessionID string
	limiter   *rate.Limiter
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	Endpoint  string
	Token     string
	SessionID string
	Client    *http.Client
	// RatePerSec caps outbound requests; 0 disables the limiter.
	RatePerSec float64
	Burst      int
}

// NewHTTPTransport creates an HTTP transport. An empty endpoint selects DefaultAckEndpoint.
func NewHTTPTransport(opts HTTPOptions) *HTTPTransport {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultAckEndpoint
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	t := &HTTPTransport{client: client, endpoint: endpoint, token: opts.Token, sessionID: opts.SessionID}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return t
}

// Send implements ack.Transport.
func (t *HTTPTransport) Send(ctx context.Context, req ack.Request) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ack rate limit: %w", err)
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal ack request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ack request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderToken, t.token)
	if t.sessionID != "" {
		httpReq.Header.Set(HeaderSessionID, t.sessionID)
	}
	if req.BatchID != "" {
		httpReq.Header.Set(HeaderBatchID, req.BatchID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post ack room=%s batch=%s: %w", req.RoomID, req.BatchID, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	is2xx := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if err != nil && is2xx {
		// a cut reply may hide a non-zero err_no
		return fmt.Errorf("read ack response room=%s batch=%s status=%d: %w", req.RoomID, req.BatchID, resp.StatusCode, err)
	}

	var ar AckResponse
	_ = json.Unmarshal(raw, &ar)
	if !is2xx || ar.ErrNo != 0 {
		return &AckError{Status: resp.StatusCode, ErrNo: ar.ErrNo, ErrMsg: ar.ErrMsg, LogID: ar.LogID}
	}
	return nil
}
