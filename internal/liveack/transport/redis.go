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


package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"liveack/pkg/ack"
)

// RedisEvaler abstracts the minimal surface we need from a Redis client.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// DefaultRedisList is the relay list ack envelopes are pushed onto.
const DefaultRedisList = "ack:batches"

// RedisTransport relays ack batches to a Redis list for a downstream sender.
// Each push is guarded by a marker keyed on the batch id:
//  1. SETNX ack:batch:<batch_id> 1
//  2. if set, RPUSH <list> <envelope json> and EXPIRE the marker
//
// A redelivered batch finds the marker and is a no-op.
type RedisTransport struct {
	client    RedisEvaler
	list      string
	markerTTL time.Duration
}

// NewRedisTransport returns a relay over client. markerTTL should exceed the
// longest window in which a batch may be redelivered; 0 selects 24h.
func NewRedisTransport(client RedisEvaler, list string, markerTTL time.Duration) *RedisTransport {
	if list == "" {
		list = DefaultRedisList
	}
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisTransport{client: client, list: list, markerTTL: markerTTL}
}

// redisRelayScript returns 1 if the envelope was pushed, 0 if already relayed.
const redisRelayScript = `
local listKey = KEYS[1]
local markerKey = KEYS[2]
local payload = ARGV[1]
local ttlSeconds = tonumber(ARGV[2])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('RPUSH', listKey, payload)
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

// RedisBatchMarkerKey is the idempotency marker for one batch id.
func RedisBatchMarkerKey(batchID string) string { return fmt.Sprintf("ack:batch:%s", batchID) }

// Send implements ack.Transport.
func (r *RedisTransport) Send(ctx context.Context, req ack.Request) error {
	if req.BatchID == "" {
		return ErrBatchIDRequired
	}
	payload, err := json.Marshal(newEnvelope(req, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal redis envelope: %w", err)
	}
	keys := []string{r.list, RedisBatchMarkerKey(req.BatchID)}
	args := []interface{}{string(payload), int(r.markerTTL.Seconds())}
	if _, err := r.client.Eval(ctx, redisRelayScript, keys, args...); err != nil {
		return fmt.Errorf("redis eval room=%s batch=%s: %w", req.RoomID, req.BatchID, err)
	}
	return nil
}
