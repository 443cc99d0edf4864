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


package ack

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrSubmitterClosed is delivered for batches submitted after Close.
var ErrSubmitterClosed = errors.New("ack: submitter closed")

// DefaultSubmitTimeout bounds a single remote call.
const DefaultSubmitTimeout = 10 * time.Second

// SubmitterOptions configures a Submitter.
type SubmitterOptions struct {
	AppID    string
	Timeout  time.Duration // per request; 0 selects DefaultSubmitTimeout
	Logger   *slog.Logger
	Observer Observer
}

// Submitter turns drained batches into Requests and hands them to the
// Transport without blocking the caller. Failures are logged and reported to
// the observer; they are not retried.
//
// Every submission runs in a tracked goroutine so Close can wait for
// in-flight work and cancel what outlives the caller's deadline.
type Submitter struct {
	transport Transport
	appID     string
	timeout   time.Duration
	logger    *slog.Logger
	observer  Observer

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	// closeMu orders wg.Add against wg.Wait in Close.
	closeMu sync.RWMutex

	idMu    sync.Mutex
	entropy io.Reader

	inflight atomic.Int64
}

// NewSubmitter creates a Submitter over transport.
func NewSubmitter(transport Transport, opts SubmitterOptions) *Submitter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Submitter{
		transport: transport,
		appID:     opts.AppID,
		timeout:   timeout,
		logger:    logger,
		observer:  observerOrNop(opts.Observer),
		baseCtx:   ctx,
		cancel:    cancel,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// newBatchID returns a fresh, lexically sortable id.
func (s *Submitter) newBatchID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	id, err := ulid.New(ulid.Now(), s.entropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// Submit starts delivering b in the background and returns immediately. The
// returned channel receives exactly one value (nil on success) and is then
// closed; callers that do not care may ignore it.
func (s *Submitter) Submit(b Batch) <-chan error {
	done := make(chan error, 1)

	s.closeMu.RLock()
	if s.closed.Load() {
		s.closeMu.RUnlock()
		s.logger.Warn("ack batch discarded, submitter closed", "key", b.Key.String(), "count", len(b.Items))
		s.observer.OnSubmitted(b, 0, ErrSubmitterClosed)
		done <- ErrSubmitterClosed
		close(done)
		return done
	}
	s.wg.Add(1)
	s.closeMu.RUnlock()

	s.inflight.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Add(-1)
		err := s.send(b)
		done <- err
		close(done)
	}()
	return done
}

func (s *Submitter) send(b Batch) error {
	start := time.Now()
	batchID := s.newBatchID()
	req, err := BuildRequest(s.appID, batchID, b)
	if err == nil {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
		err = s.transport.Send(ctx, req)
		cancel()
	}
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("ack submit failed",
			"batch_id", batchID, "room_id", b.RoomID, "key", b.Key.String(),
			"count", len(b.Items), "err", err)
	} else {
		s.logger.Debug("ack submitted",
			"batch_id", batchID, "room_id", b.RoomID, "key", b.Key.String(),
			"count", len(b.Items), "took", elapsed)
	}
	s.observer.OnSubmitted(b, elapsed, err)
	return err
}

// InFlight returns the number of submissions not yet finished.
func (s *Submitter) InFlight() int64 { return s.inflight.Load() }

// Close stops accepting batches and waits for in-flight submissions. If ctx
// ends first the remaining requests are cancelled and ctx's error is returned
// after they unwind.
func (s *Submitter) Close(ctx context.Context) error {
	s.closeMu.Lock()
	already := s.closed.Swap(true)
	s.closeMu.Unlock()
	if already {
		return nil
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.logger.Warn("ack submitter grace expired, cancelling in-flight requests", "in_flight", s.InFlight())
		s.cancel()
		<-finished
		return ctx.Err()
	}
}
