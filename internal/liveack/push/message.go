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


// Package push consumes the live platform's message push channel over a
// websocket and fans decoded frames out to registered listeners.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned for frames that cannot be acknowledged.
var ErrInvalidMessage = errors.New("push: invalid message")

// Message is one frame of the push channel.
type Message struct {
	MsgID     string `json:"msg_id"`
	MsgType   string `json:"msg_type"`
	Data      string `json:"data"`
	ExtraData string `json:"extra_data"`
}

// Decode parses a frame and checks that it carries an id and a type.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.MsgID == "" || m.MsgType == "" {
		return m, fmt.Errorf("%w: msg_id=%q msg_type=%q", ErrInvalidMessage, m.MsgID, m.MsgType)
	}
	return m, nil
}
