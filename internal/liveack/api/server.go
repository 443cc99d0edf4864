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


// Package api is the local HTTP surface a co-located game process uses to
// report consumed messages and inspect the ack pipeline.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"liveack/pkg/ack"
)

// Acker is the part of the session service the API needs.
type Acker interface {
	ReportAck(msgID, msgType string)
	Snapshot() []ack.StateSnapshot
}

// Options configures a Server.
type Options struct {
	// APIKey, when set, is required in the X-Api-Key header of POST /ack.
	APIKey string
	// RatePerSec and Burst bound POST /ack; RatePerSec 0 disables the limit.
	RatePerSec float64
	Burst      int
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server handles the local API.
type Server struct {
	acker   Acker
	apiKey  []byte
	limiter *rate.Limiter
	metrics http.Handler
	logger  *slog.Logger

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates a server over acker.
func NewServer(acker Acker, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{acker: acker, metrics: opts.Metrics, logger: logger}
	if opts.APIKey != "" {
		s.apiKey = []byte(opts.APIKey)
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RatePerSec)
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return s
}

// RegisterRoutes sets up the HTTP routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /ack", s.handleAck)
	mux.HandleFunc("GET /states", s.handleStates)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(mux)
}

type ackRequest struct {
	MsgID   string `json:"msg_id"`
	MsgType string `json:"msg_type"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != nil && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Api-Key")), s.apiKey) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	var reqs []ackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	raw := json.RawMessage{}
	if err := dec.Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	// accept a single object or an array of them
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &reqs); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	} else {
		var one ackRequest
		if err := json.Unmarshal(raw, &one); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		reqs = []ackRequest{one}
	}
	// entries are validated one by one; a bad entry does not sink the others
	accepted, rejected := 0, 0
	for _, a := range reqs {
		if a.MsgID == "" || a.MsgType == "" {
			rejected++
			continue
		}
		s.acker.ReportAck(a.MsgID, a.MsgType)
		accepted++
	}
	if accepted == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "msg_id and msg_type are required", "rejected": rejected})
		return
	}
	if rejected > 0 {
		s.logger.Debug("ack request had invalid entries", "accepted", accepted, "rejected", rejected)
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted, "rejected": rejected})
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.acker.Snapshot())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http", "method", r.Method, "path", r.URL.Path, "status", sw.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// ListenAndServe serves the API on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()
	s.logger.Info("ack api listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started with ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
