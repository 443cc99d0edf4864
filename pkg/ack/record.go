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

// Package ack implements the interaction-message acknowledgment pipeline: a
// thread-safe batching engine that groups observed live events (likes,
// comments, gifts) by message type and ack phase and flushes them to a remote
// endpoint when either a count or a time threshold is reached.
//
// The hot path (Ingest) only appends to an in-memory queue. A single background
// Scheduler scans the queues on a fixed tick and hands ready batches to the
// Submitter, which dispatches them without blocking the scan.
package ack

import (
	"errors"
	"fmt"
)

// Well-known message types pushed by the live platform.
const (
	MsgTypeComment = "live_comment"
	MsgTypeGift    = "live_gift"
	MsgTypeLike    = "live_like"
)

var (
	ErrEmptyMessageID   = errors.New("ack: message id is empty")
	ErrEmptyMessageType = errors.New("ack: message type is empty")
	ErrInvalidPhase     = errors.New("ack: invalid ack phase")
)

// Phase is the lifecycle point of a message being acknowledged. The numeric
// values are the wire values of the ack_type field.
type Phase int

const (
	// PhaseReceived acks a message as soon as it arrives on the push channel.
	PhaseReceived Phase = 1
	// PhaseConsumed acks a message after the game has rendered or handled it.
	PhaseConsumed Phase = 2
)

// ParsePhase maps a wire ack_type to a Phase.
func ParsePhase(v int) (Phase, error) {
	p := Phase(v)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPhase, v)
	}
	return p, nil
}

// Valid reports whether p is one of the two known phases.
func (p Phase) Valid() bool { return p == PhaseReceived || p == PhaseConsumed }

func (p Phase) String() string {
	switch p {
	case PhaseReceived:
		return "received"
	case PhaseConsumed:
		return "consumed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MessageRecord is one observed interaction event. It is an immutable value;
// the pipeline copies it into queues and batches.
type MessageRecord struct {
	MessageID    string
	MessageType  string
	ObservedAtMs int64
}

// NewRecord builds a record observed at the current process time.
func NewRecord(messageID, messageType string) MessageRecord {
	return MessageRecord{MessageID: messageID, MessageType: messageType, ObservedAtMs: nowMs()}
}

// Validate returns the first missing required field, if any.
func (r MessageRecord) Validate() error {
	if r.MessageID == "" {
		return ErrEmptyMessageID
	}
	if r.MessageType == "" {
		return ErrEmptyMessageType
	}
	return nil
}

// Key identifies a TypeState: one message type under one ack phase.
type Key struct {
	MessageType string
	Phase       Phase
}

// String renders the key as "{msg_type}_{ack_type}", the form used in logs.
func (k Key) String() string { return fmt.Sprintf("%s_%d", k.MessageType, int(k.Phase)) }

// Trigger records why a batch was flushed.
type Trigger int

const (
	TriggerCount Trigger = iota + 1
	TriggerTime
	TriggerFinal
)

func (t Trigger) String() string {
	switch t {
	case TriggerCount:
		return "count"
	case TriggerTime:
		return "time"
	case TriggerFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Batch is a drained queue ready for submission. Items keep insertion order.
type Batch struct {
	Key     Key
	RoomID  string
	Items   []MessageRecord
	Trigger Trigger
	// WaitedMs is how long the oldest item sat in the queue before the drain.
	WaitedMs int64
}
