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


// Package transport provides the delivery adapters behind ack.Transport: the
// remote ack HTTP endpoint, plus idempotent relays (Redis, Kafka) and a local
// bbolt journal for offline runs.
//
// Every submission carries a unique BatchID. Relays use it as an idempotency
// key so that a redelivered batch is applied at most once downstream.
package transport

import (
	"errors"
	"time"

	"liveack/pkg/ack"
)

// ErrBatchIDRequired is returned by relays that key on the batch id.
var ErrBatchIDRequired = errors.New("transport: request batch id must be set")

// Envelope is the relay-facing shape of one ack submission. Redis, Kafka and
// the journal all store this JSON document.
type Envelope struct {
	BatchID     string `json:"batch_id"`
	RoomID      string `json:"room_id"`
	AppID       string `json:"app_id"`
	AckType     int    `json:"ack_type"`
	MessageType string `json:"msg_type"`
	Count       int    `json:"count"`
	Data        string `json:"data"`
	TsUnixMs    int64  `json:"ts_unix_ms"`
}

func newEnvelope(req ack.Request, now time.Time) Envelope {
	return Envelope{
		BatchID:     req.BatchID,
		RoomID:      req.RoomID,
		AppID:       req.AppID,
		AckType:     req.AckType,
		MessageType: req.MessageType,
		Count:       req.Count,
		Data:        req.Data,
		TsUnixMs:    now.UnixMilli(),
	}
}

// Request rebuilds the ack request the envelope was made from.
func (e Envelope) Request() ack.Request {
	return ack.Request{
		RoomID:      e.RoomID,
		AppID:       e.AppID,
		AckType:     e.AckType,
		Data:        e.Data,
		BatchID:     e.BatchID,
		MessageType: e.MessageType,
		Count:       e.Count,
	}
}
