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
	"encoding/json"
	"fmt"
)

// Request is the body POSTed to the remote ack endpoint.
//
// Data is itself a JSON string holding the item list:
//
//	[{"msg_id":"xxx","msg_type":"live_gift","client_time":1705989099973}]
//
// BatchID, MessageType and Count are not part of the body. BatchID is a
// unique id per submission that transports may use as an idempotency key.
type Request struct {
	RoomID  string `json:"room_id"`
	AppID   string `json:"app_id"`
	AckType int    `json:"ack_type"`
	Data    string `json:"data"`

	BatchID     string `json:"-"`
	MessageType string `json:"-"`
	Count       int    `json:"-"`
}

// RequestItem is one entry of Request.Data.
type RequestItem struct {
	MsgID      string `json:"msg_id"`
	MsgType    string `json:"msg_type"`
	ClientTime int64  `json:"client_time"`
}

// BuildRequest serializes a batch into a Request, preserving item order.
func BuildRequest(appID, batchID string, b Batch) (Request, error) {
	items := make([]RequestItem, len(b.Items))
	for i, rec := range b.Items {
		items[i] = RequestItem{MsgID: rec.MessageID, MsgType: rec.MessageType, ClientTime: rec.ObservedAtMs}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return Request{}, fmt.Errorf("marshal ack items: %w", err)
	}
	return Request{
		RoomID:      b.RoomID,
		AppID:       appID,
		AckType:     int(b.Key.Phase),
		Data:        string(data),
		BatchID:     batchID,
		MessageType: b.Key.MessageType,
		Count:       len(items),
	}, nil
}

// Items decodes Data back into the item list.
func (r Request) Items() ([]RequestItem, error) {
	var items []RequestItem
	if err := json.Unmarshal([]byte(r.Data), &items); err != nil {
		return nil, fmt.Errorf("unmarshal ack items: %w", err)
	}
	return items, nil
}

// Transport delivers one Request to the ack endpoint (or a relay standing in
// for it). It must honour ctx cancellation. Implementations live outside this
// package; see internal/liveack/transport.
type Transport interface {
	Send(ctx context.Context, req Request) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req Request) error { return f(ctx, req) }
