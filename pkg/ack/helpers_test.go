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
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// testBaseMs is a realistic non-zero epoch for manual clocks.
const testBaseMs int64 = 1_700_000_000_000

// manualClock is a Clock advanced explicitly by tests.
type manualClock struct{ ms atomic.Int64 }

func newManualClock() *manualClock { return newManualClockAt(testBaseMs) }

// newManualClockAt starts the clock at startMs, which may be 0.
func newManualClockAt(startMs int64) *manualClock {
	c := &manualClock{}
	c.ms.Store(startMs)
	return c
}

func (c *manualClock) Now() int64 { return c.ms.Load() }
func (c *manualClock) Advance(deltaMs int64) { c.ms.Add(deltaMs) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// batchRecorder is a Dispatcher that keeps every batch it receives.
type batchRecorder struct {
	mu      sync.Mutex
	batches []Batch
}

func (r *batchRecorder) Dispatch(b Batch) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
}

func (r *batchRecorder) all() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Batch, len(r.batches))
	copy(out, r.batches)
	return out
}

// fakeTransport records requests and can be toggled to fail.
type fakeTransport struct {
	returnErr atomic.Bool
	mu        sync.Mutex
	requests  []Request
}

func (f *fakeTransport) Send(ctx context.Context, req Request) error {
	if f.returnErr.Load() {
		return errors.New("forced transport error")
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) all() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// countingObserver tallies observer callbacks.
type countingObserver struct {
	ingested  atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64
	flushed   atomic.Int64
	submitted atomic.Int64
	failed    atomic.Int64
}

func (o *countingObserver) OnIngested(Key) { o.ingested.Add(1) }
func (o *countingObserver) OnRejected(error) { o.rejected.Add(1) }
func (o *countingObserver) OnDropped(Key) { o.dropped.Add(1) }
func (o *countingObserver) OnFlushed(Batch) { o.flushed.Add(1) }
func (o *countingObserver) OnSubmitted(_ Batch, _ time.Duration, err error) {
	o.submitted.Add(1)
	if err != nil {
		o.failed.Add(1)
	}
}

func rec(id, typ string) MessageRecord { return MessageRecord{MessageID: id, MessageType: typ} }

func ids(items []MessageRecord) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.MessageID
	}
	return out
}
