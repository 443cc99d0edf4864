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

import "sync"

// TypeState is the batching state of one (message type, ack phase): a FIFO
// queue of pending records, the time the oldest of them arrived, and the
// server config that decides when the queue is flushed.
//
// All fields behind mu are mutated by three parties: ingestion (append),
// reconfiguration (enabled/config) and the scheduler (drain). The mutex makes
// the three mutually exclusive per state; different states never contend.
//
// A state is never removed once created. Disabling keeps the queue so that a
// type re-enabled later flushes what it buffered in the meantime.
type TypeState struct {
	key       Key
	protected bool

	mu        sync.Mutex
	enabled   bool
	hasConfig bool
	config    TypeConfig
	pending   []MessageRecord
	// firstPendingAtMs is the push time of the oldest pending record. It is
	// meaningful only while pending is non-empty; 0 is a valid clock value.
	firstPendingAtMs int64
	roomID           string
	// unconfiguredSinceMs is when the state last lost (or never had) an active config.
	// Protected states fall back to the default policy once this is old enough.
	unconfiguredSinceMs int64
}

// flushPolicy carries the table-wide fallback settings into a drain decision.
type flushPolicy struct {
	fallback        TypeConfig
	fallbackAfterMs int64
}

func newPlaceholderState(key Key, protected bool, nowMs int64) *TypeState {
	return &TypeState{key: key, protected: protected, unconfiguredSinceMs: nowMs}
}

func newConfiguredState(cfg TypeConfig, protected bool) *TypeState {
	return &TypeState{key: cfg.Key(), protected: protected, enabled: true, hasConfig: true, config: cfg}
}

// Key returns the (message type, phase) the state batches.
func (s *TypeState) Key() Key { return s.key }

// push appends rec and arms the time trigger when the queue goes from empty to non-empty.
func (s *TypeState) push(roomID string, rec MessageRecord, nowMs int64) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.firstPendingAtMs = nowMs
	}
	s.pending = append(s.pending, rec)
	if roomID != "" {
		s.roomID = roomID
	}
	s.mu.Unlock()
}

// applyConfig installs cfg and enables the state. The queue is untouched.
func (s *TypeState) applyConfig(cfg TypeConfig) {
	s.mu.Lock()
	s.config = cfg
	s.hasConfig = true
	s.enabled = true
	s.unconfiguredSinceMs = 0
	s.mu.Unlock()
}

// disable retires the state's config. Pending records stay queued.
func (s *TypeState) disable(nowMs int64) {
	s.mu.Lock()
	if s.enabled {
		s.unconfiguredSinceMs = nowMs
	}
	s.enabled = false
	s.mu.Unlock()
}

// effectiveConfigLocked returns the config that governs flushing right now.
// usingFallback is true when a protected state flushes under the default policy.
func (s *TypeState) effectiveConfigLocked(nowMs int64, p flushPolicy) (cfg TypeConfig, usingFallback, ok bool) {
	if s.enabled {
		return s.config, false, true
	}
	if s.protected && nowMs-s.unconfiguredSinceMs >= p.fallbackAfterMs {
		return p.fallback, true, true
	}
	return TypeConfig{}, false, false
}

// drainIfReady empties the queue into a Batch when the state is eligible and
// either threshold is reached. The check and the drain happen under one lock,
// so a record pushed concurrently lands either in this batch or in the next.
func (s *TypeState) drainIfReady(nowMs int64, p flushPolicy) (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending)
	if n == 0 {
		return Batch{}, false
	}
	cfg, _, ok := s.effectiveConfigLocked(nowMs, p)
	if !ok {
		return Batch{}, false
	}

	waited := nowMs - s.firstPendingAtMs
	reachedCount := cfg.reachedCount(n)
	reachedTime := waited >= cfg.intervalMs()

	var trigger Trigger
	switch {
	case reachedCount:
		trigger = TriggerCount
	case reachedTime:
		trigger = TriggerTime
	default:
		return Batch{}, false
	}
	return s.drainLocked(nowMs, trigger), true
}

// drainEligible empties the queue regardless of thresholds as long as the
// state may flush at all. Used for the final flush on shutdown, where a
// protected state is always treated as eligible.
func (s *TypeState) drainEligible(nowMs int64) (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 || (!s.enabled && !s.protected) {
		return Batch{}, false
	}
	return s.drainLocked(nowMs, TriggerFinal), true
}

func (s *TypeState) drainLocked(nowMs int64, trigger Trigger) Batch {
	b := Batch{
		Key:      s.key,
		RoomID:   s.roomID,
		Items:    s.pending,
		Trigger:  trigger,
		WaitedMs: nowMs - s.firstPendingAtMs,
	}
	s.pending = nil
	s.firstPendingAtMs = 0
	return b
}

// Pending returns a copy of the queued records in insertion order.
func (s *TypeState) Pending() []MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MessageRecord, len(s.pending))
	copy(out, s.pending)
	return out
}

// StateSnapshot is a point-in-time, read-only view of a TypeState.
type StateSnapshot struct {
	Key              Key        `json:"-"`
	MessageType      string     `json:"msg_type"`
	AckType          int        `json:"ack_type"`
	Enabled          bool       `json:"enabled"`
	Protected        bool       `json:"protected"`
	HasConfig        bool       `json:"has_config"`
	Config           TypeConfig `json:"config"`
	FallbackActive   bool       `json:"fallback_active"`
	PendingCount     int        `json:"pending"`
	FirstPendingAtMs int64      `json:"first_pending_at_ms"`
	RoomID           string     `json:"room_id"`
}

func (s *TypeState) snapshot(nowMs int64, p flushPolicy) StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, usingFallback, _ := s.effectiveConfigLocked(nowMs, p)
	return StateSnapshot{
		Key:              s.key,
		MessageType:      s.key.MessageType,
		AckType:          int(s.key.Phase),
		Enabled:          s.enabled,
		Protected:        s.protected,
		HasConfig:        s.hasConfig,
		Config:           s.config,
		FallbackActive:   usingFallback,
		PendingCount:     len(s.pending),
		FirstPendingAtMs: s.firstPendingAtMs,
		RoomID:           s.roomID,
	}
}
