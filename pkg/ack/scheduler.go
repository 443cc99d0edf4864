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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickInterval is how often the scheduler scans the table.
const DefaultTickInterval = 100 * time.Millisecond

// Dispatcher receives drained batches. Dispatch must not block on I/O.
type Dispatcher interface {
	Dispatch(b Batch)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(b Batch)

// Dispatch calls f.
func (f DispatchFunc) Dispatch(b Batch) { f(b) }

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	TickInterval time.Duration
	// SkipFinalFlush disables draining every eligible queue on Stop.
	SkipFinalFlush bool
	Logger         *slog.Logger
	Observer       Observer
}

// Scheduler drives the flush decisions. On every tick it scans the table,
// drains each state whose count or time threshold is met, and hands the
// batches to the dispatcher after the scan has released the table.
type Scheduler struct {
	table          *Table
	dispatcher     Dispatcher
	interval       time.Duration
	skipFinalFlush bool
	logger         *slog.Logger
	observer       Observer

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
	stopped  atomic.Bool
}

// NewScheduler creates a scheduler over table that dispatches to d.
func NewScheduler(table *Table, d Dispatcher, opts SchedulerOptions) *Scheduler {
	interval := opts.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		table:          table,
		dispatcher:     d,
		interval:       interval,
		skipFinalFlush: opts.SkipFinalFlush,
		logger:         logger,
		observer:       observerOrNop(opts.Observer),
		stopChan:       make(chan struct{}),
	}
}

// Start launches the tick loop. Calling it more than once is a no-op.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("ack scheduler started", "tick", s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

// Stop ends the tick loop and, unless disabled, performs a final flush of
// every eligible queue before returning. Safe to call more than once.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
	if !s.skipFinalFlush {
		s.runFinalFlush()
	}
	s.logger.Info("ack scheduler stopped")
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runFlushCycle()
		case <-s.stopChan:
			return
		}
	}
}

// Tick runs one flush cycle synchronously and returns the number of batches
// dispatched. Intended for tests and manual drives with a fake clock.
func (s *Scheduler) Tick() int {
	return s.runFlushCycle()
}

// runFlushCycle collects every ready batch, then dispatches them.
func (s *Scheduler) runFlushCycle() int {
	now := s.table.clock()
	var batches []Batch
	s.table.scan(func(st *TypeState) {
		if b, ok := st.drainIfReady(now, s.table.policy); ok {
			batches = append(batches, b)
		}
	})
	s.dispatch(batches)
	return len(batches)
}

// runFinalFlush drains every eligible non-empty queue regardless of thresholds.
func (s *Scheduler) runFinalFlush() int {
	now := s.table.clock()
	var batches []Batch
	s.table.scan(func(st *TypeState) {
		if b, ok := st.drainEligible(now); ok {
			batches = append(batches, b)
		}
	})
	if len(batches) > 0 {
		s.logger.Info("ack final flush", "batches", len(batches))
	}
	s.dispatch(batches)
	return len(batches)
}

func (s *Scheduler) dispatch(batches []Batch) {
	for _, b := range batches {
		s.logger.Info("ack flush",
			"key", b.Key.String(),
			"room_id", b.RoomID,
			"trigger", b.Trigger.String(),
			"count", len(b.Items),
			"waited_sec", float64(b.WaitedMs)/1000)
		s.observer.OnFlushed(b)
		s.dispatcher.Dispatch(b)
	}
}
