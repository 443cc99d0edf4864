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

import "log/slog"

// IngestGate is the entry point for observed messages. It validates records
// and routes them into the queue of their (type, phase). It never blocks on
// I/O and never fails the whole call because of one bad record.
type IngestGate struct {
	table    *Table
	logger   *slog.Logger
	observer Observer
}

// NewIngestGate creates a gate that routes into table.
func NewIngestGate(table *Table, logger *slog.Logger, observer Observer) *IngestGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestGate{table: table, logger: logger, observer: observerOrNop(observer)}
}

// Ingest queues records for roomID under phase. Records with an empty id or
// type are dropped individually. Records of an unconfigured, unprotected type
// are dropped silently (debug log only). A zero ObservedAtMs is set to now.
func (g *IngestGate) Ingest(roomID string, phase Phase, records []MessageRecord) {
	if len(records) == 0 {
		return
	}
	if !phase.Valid() {
		g.logger.Warn("ack ingest dropped, invalid phase", "phase", int(phase), "records", len(records))
		for range records {
			g.observer.OnRejected(ErrInvalidPhase)
		}
		return
	}
	if roomID == "" {
		g.logger.Warn("ack ingest with empty room id", "phase", phase.String())
	}

	now := g.table.clock()
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			g.logger.Warn("ack record rejected", "err", err, "msg_id", rec.MessageID, "msg_type", rec.MessageType)
			g.observer.OnRejected(err)
			continue
		}
		if rec.ObservedAtMs == 0 {
			rec.ObservedAtMs = now
		}
		state, ok := g.table.GetOrCreate(rec.MessageType, phase)
		if !ok {
			key := Key{MessageType: rec.MessageType, Phase: phase}
			g.logger.Debug("ack record dropped, type not configured", "key", key.String(), "msg_id", rec.MessageID)
			g.observer.OnDropped(key)
			continue
		}
		state.push(roomID, rec, now)
		g.observer.OnIngested(state.Key())
	}
}
