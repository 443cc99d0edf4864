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


// Package service is the session-scoped facade that connects the push
// channel, the room info source and the ack pipeline. One Service is built
// per session; it owns no global state.
package service

import (
	"context"
	"log/slog"

	"liveack/internal/liveack/push"
	"liveack/internal/liveack/room"
	"liveack/pkg/ack"
)

// RoomSource supplies the current room and config refreshes.
type RoomSource interface {
	RoomID() string
	OnChange(l room.Listener)
}

// PushSource is a push channel that accepts listeners.
type PushSource interface {
	Subscribe(l push.Listener) (unsubscribe func())
}

// Service acknowledges interaction messages for the current room.
type Service struct {
	pipeline *ack.Pipeline
	rooms    RoomSource
	logger   *slog.Logger
}

// New builds a Service. Every room refresh reconfigures the pipeline.
func New(pipeline *ack.Pipeline, rooms RoomSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{pipeline: pipeline, rooms: rooms, logger: logger}
	rooms.OnChange(s.applyRoom)
	return s
}

func (s *Service) applyRoom(info room.Info, configs []ack.TypeConfig) {
	if err := s.pipeline.Reconfigure(configs); err != nil {
		s.logger.Warn("room ack config rejected", "room_id", info.RoomID, "err", err)
	}
}

// Start launches the pipeline.
func (s *Service) Start() error { return s.pipeline.Start() }

// Shutdown stops the pipeline, waiting for in-flight acks until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error { return s.pipeline.Shutdown(ctx) }

// ReportAck records that the game consumed a message.
func (s *Service) ReportAck(msgID, msgType string) {
	s.logger.Debug("report ack", "phase", ack.PhaseConsumed.String(), "msg_id", msgID, "msg_type", msgType)
	s.pipeline.Ingest(s.rooms.RoomID(), ack.PhaseConsumed, ack.NewRecord(msgID, msgType))
}

// HandlePushFrame acknowledges receipt of one raw push frame. Frames without
// an id or type are logged and skipped.
func (s *Service) HandlePushFrame(raw []byte) {
	m, err := push.Decode(raw)
	if err != nil {
		s.logger.Debug("push frame not acked", "err", err)
		return
	}
	s.pipeline.Ingest(s.rooms.RoomID(), ack.PhaseReceived, ack.NewRecord(m.MsgID, m.MsgType))
}

// AttachPush subscribes the receipt ack to src.
func (s *Service) AttachPush(src PushSource) (detach func()) {
	return src.Subscribe(push.ListenerFuncs{Message: s.HandlePushFrame})
}

// Snapshot exposes the pipeline state for diagnostics.
func (s *Service) Snapshot() []ack.StateSnapshot { return s.pipeline.Snapshot() }
