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
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrPipelineStopped is returned by Start after Shutdown.
var ErrPipelineStopped = errors.New("ack: pipeline stopped")

// Options configures a Pipeline. Zero values select the defaults documented
// on TableOptions, SchedulerOptions and SubmitterOptions.
type Options struct {
	AppID          string
	TickInterval   time.Duration
	ProtectedTypes []string
	Fallback       TypeConfig
	FallbackAfter  time.Duration
	SubmitTimeout  time.Duration
	SkipFinalFlush bool
	Clock          Clock
	Logger         *slog.Logger
	Observer       Observer
}

// Pipeline wires the table, ingest gate, scheduler and submitter into one
// unit with a single lifecycle.
type Pipeline struct {
	table     *Table
	gate      *IngestGate
	scheduler *Scheduler
	submitter *Submitter
	logger    *slog.Logger

	stopped atomic.Bool
}

// NewPipeline builds a pipeline that submits through transport. Call Start
// to begin flushing.
func NewPipeline(transport Transport, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	table := NewTable(TableOptions{
		ProtectedTypes: opts.ProtectedTypes,
		Fallback:       opts.Fallback,
		FallbackAfter:  opts.FallbackAfter,
		Clock:          opts.Clock,
		Logger:         logger,
	})
	submitter := NewSubmitter(transport, SubmitterOptions{
		AppID:    opts.AppID,
		Timeout:  opts.SubmitTimeout,
		Logger:   logger,
		Observer: opts.Observer,
	})
	scheduler := NewScheduler(table, DispatchFunc(func(b Batch) { submitter.Submit(b) }), SchedulerOptions{
		TickInterval:   opts.TickInterval,
		SkipFinalFlush: opts.SkipFinalFlush,
		Logger:         logger,
		Observer:       opts.Observer,
	})
	return &Pipeline{
		table:     table,
		gate:      NewIngestGate(table, logger, opts.Observer),
		scheduler: scheduler,
		submitter: submitter,
		logger:    logger,
	}
}

// Start launches the scheduler.
func (p *Pipeline) Start() error {
	if p.stopped.Load() {
		return ErrPipelineStopped
	}
	p.scheduler.Start()
	return nil
}

// Ingest queues records observed in roomID under phase.
func (p *Pipeline) Ingest(roomID string, phase Phase, records ...MessageRecord) {
	p.gate.Ingest(roomID, phase, records)
}

// Reconfigure applies a pushed config list atomically with respect to flush scans.
func (p *Pipeline) Reconfigure(entries []TypeConfig) error {
	return p.table.Reconfigure(entries)
}

// Snapshot returns the current state of every (type, phase).
func (p *Pipeline) Snapshot() []StateSnapshot { return p.table.Snapshot() }

// Tick runs one flush cycle synchronously.
func (p *Pipeline) Tick() int { return p.scheduler.Tick() }

// Table exposes the underlying table.
func (p *Pipeline) Table() *Table { return p.table }

// Shutdown stops the scheduler (running the final flush unless disabled)
// and waits for in-flight submissions until ctx ends.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	p.scheduler.Stop()
	err := p.submitter.Close(ctx)
	if err != nil {
		p.logger.Warn("ack pipeline shutdown incomplete", "err", err)
	} else {
		p.logger.Info("ack pipeline shut down")
	}
	return err
}
