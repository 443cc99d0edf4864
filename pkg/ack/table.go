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
	"time"
)

// DefaultFallbackAfter is how long a protected type may go without server
// config before it flushes under the fallback thresholds.
const DefaultFallbackAfter = 10 * time.Second

// TableOptions configures a Table. Zero values select the defaults.
type TableOptions struct {
	// ProtectedTypes are message types that must never be dropped for lack of
	// config. Nil selects {live_gift}; an empty non-nil slice protects nothing.
	ProtectedTypes []string
	// Fallback supplies the thresholds used by protected types without config.
	// MessageType and AckType are ignored. Zero selects 10s / 3 items.
	Fallback TypeConfig
	// FallbackAfter is the grace period before the fallback applies. Zero
	// selects DefaultFallbackAfter; a negative value applies it immediately.
	FallbackAfter time.Duration
	Clock         Clock
	Logger        *slog.Logger
}

// Table is the live set of TypeStates keyed by (message type, phase).
//
// mu guards the map only. Reconfigure holds it exclusively for the whole
// update, and the scheduler holds it shared for the whole scan, so a scan
// never sees some states under the old config and others under the new one.
// Per-state data is guarded by each state's own mutex.
type Table struct {
	mu     sync.RWMutex
	states map[Key]*TypeState
	order  []Key // creation order, keeps scans and snapshots deterministic

	protected map[string]struct{}
	policy    flushPolicy
	clock     Clock
	logger    *slog.Logger
}

// NewTable creates an empty table.
func NewTable(opts TableOptions) *Table {
	protectedTypes := opts.ProtectedTypes
	if protectedTypes == nil {
		protectedTypes = []string{MsgTypeGift}
	}
	protected := make(map[string]struct{}, len(protectedTypes))
	for _, t := range protectedTypes {
		protected[t] = struct{}{}
	}

	fallback := opts.Fallback
	if fallback.BatchIntervalSec <= 0 && fallback.BatchMaxCount <= 0 {
		fallback = TypeConfig{BatchIntervalSec: DefaultFallbackIntervalSec, BatchMaxCount: DefaultFallbackMaxCount}
	}
	after := opts.FallbackAfter
	switch {
	case after == 0:
		after = DefaultFallbackAfter
	case after < 0:
		after = 0
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		states:    make(map[Key]*TypeState),
		protected: protected,
		policy:    flushPolicy{fallback: fallback, fallbackAfterMs: after.Milliseconds()},
		clock:     clock,
		logger:    logger,
	}
}

// IsProtected reports whether messageType is in the protected set.
func (t *Table) IsProtected(messageType string) bool {
	_, ok := t.protected[messageType]
	return ok
}

// Get returns the state for key, if one exists.
func (t *Table) Get(key Key) (*TypeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[key]
	return s, ok
}

// GetOrCreate returns the state that should receive a record of the given
// type and phase. Unknown types return (nil, false) unless protected, in
// which case a disabled placeholder is created on first sight.
func (t *Table) GetOrCreate(messageType string, phase Phase) (*TypeState, bool) {
	key := Key{MessageType: messageType, Phase: phase}

	t.mu.RLock()
	s, ok := t.states[key]
	t.mu.RUnlock()
	if ok {
		return s, true
	}
	if !t.IsProtected(messageType) {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[key]; ok {
		return s, true
	}
	s = newPlaceholderState(key, true, t.clock())
	t.states[key] = s
	t.order = append(t.order, key)
	t.logger.Info("ack placeholder created for protected type", "key", key.String())
	return s, true
}

// Reconfigure applies a full pushed config list. Entries are applied in
// order (duplicates: last wins); existing keys missing from the list are
// disabled but keep their queues. A malformed entry rejects the whole list and
// leaves the table unchanged.
func (t *Table) Reconfigure(entries []TypeConfig) error {
	if err := ValidateConfigs(entries); err != nil {
		t.logger.Warn("ack config rejected, keeping previous config", "err", err)
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	seen := make(map[Key]struct{}, len(entries))
	created := 0
	for _, cfg := range entries {
		key := cfg.Key()
		seen[key] = struct{}{}
		if s, ok := t.states[key]; ok {
			s.applyConfig(cfg)
			continue
		}
		t.states[key] = newConfiguredState(cfg, t.IsProtected(cfg.MessageType))
		t.order = append(t.order, key)
		created++
	}

	disabled := 0
	for _, key := range t.order {
		if _, ok := seen[key]; ok {
			continue
		}
		t.states[key].disable(now)
		disabled++
	}
	t.logger.Info("ack config applied", "entries", len(entries), "created", created, "disabled", disabled)
	return nil
}

// scan calls fn for every state in creation order while holding the table
// lock shared. fn must not call back into methods that lock the table
// exclusively.
func (t *Table) scan(fn func(s *TypeState)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, key := range t.order {
		fn(t.states[key])
	}
}

// Snapshot returns a view of every state in creation order.
func (t *Table) Snapshot() []StateSnapshot {
	now := t.clock()
	out := make([]StateSnapshot, 0, t.Len())
	t.scan(func(s *TypeState) {
		out = append(out, s.snapshot(now, t.policy))
	})
	return out
}

// Len returns the number of states.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}
