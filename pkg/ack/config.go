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
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when a pushed config list contains a malformed entry.
var ErrInvalidConfig = errors.New("ack: invalid ack config")

// TypeConfig is the server-pushed batching policy for one (message type, phase).
// Field tags follow the ack_cfg wire format.
//
// The two thresholds are OR-ed: a queue flushes once it has waited
// BatchIntervalSec seconds, or once it holds BatchMaxCount items.
type TypeConfig struct {
	MessageType      string `json:"msg_type" yaml:"msg_type"`
	AckType          int    `json:"ack_type" yaml:"ack_type"`
	BatchIntervalSec int64  `json:"batch_interval" yaml:"batch_interval"`
	BatchMaxCount    int64  `json:"batch_max_num" yaml:"batch_max_num"`
}

// Key returns the table key for the config. It assumes Validate passed.
func (c TypeConfig) Key() Key { return Key{MessageType: c.MessageType, Phase: Phase(c.AckType)} }

// Validate checks a single entry.
func (c TypeConfig) Validate() error {
	if c.MessageType == "" {
		return fmt.Errorf("%w: msg_type is empty", ErrInvalidConfig)
	}
	if !Phase(c.AckType).Valid() {
		return fmt.Errorf("%w: %s ack_type=%d", ErrInvalidConfig, c.MessageType, c.AckType)
	}
	if c.BatchIntervalSec < 0 {
		return fmt.Errorf("%w: %s batch_interval=%d", ErrInvalidConfig, c.MessageType, c.BatchIntervalSec)
	}
	if c.BatchMaxCount < 0 {
		return fmt.Errorf("%w: %s batch_max_num=%d", ErrInvalidConfig, c.MessageType, c.BatchMaxCount)
	}
	return nil
}

// intervalMs is the time threshold in milliseconds.
func (c TypeConfig) intervalMs() int64 { return c.BatchIntervalSec * 1000 }

// reachedCount treats a non-positive max count as "flush whenever anything is pending".
func (c TypeConfig) reachedCount(n int) bool {
	if c.BatchMaxCount <= 0 {
		return n > 0
	}
	return int64(n) >= c.BatchMaxCount
}

// Default fallback thresholds for protected message types.
const (
	DefaultFallbackIntervalSec = 10
	DefaultFallbackMaxCount    = 3
)

// FallbackConfigs returns the config list used before the first server config
// arrives: gifts under both phases, 10s or 3 items.
func FallbackConfigs() []TypeConfig {
	return []TypeConfig{
		{MessageType: MsgTypeGift, AckType: int(PhaseReceived), BatchIntervalSec: DefaultFallbackIntervalSec, BatchMaxCount: DefaultFallbackMaxCount},
		{MessageType: MsgTypeGift, AckType: int(PhaseConsumed), BatchIntervalSec: DefaultFallbackIntervalSec, BatchMaxCount: DefaultFallbackMaxCount},
	}
}

// ValidateConfigs checks a whole pushed list; the first malformed entry rejects it.
func ValidateConfigs(entries []TypeConfig) error {
	for i, c := range entries {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("entry #%d: %w", i+1, err)
		}
	}
	return nil
}
