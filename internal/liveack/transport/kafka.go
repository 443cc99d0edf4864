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
	"strconv"
	"time"

	"liveack/pkg/ack"
)

// KafkaProducer is the minimal surface needed from a Kafka client. The batch
// id is used as the message key, so redelivered batches land in the same
// partition and consumers can dedupe on it.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// DefaultKafkaTopic is where ack envelopes are published.
const DefaultKafkaTopic = "liveack-batches"

// KafkaTransport publishes ack envelopes for a downstream sender.
type KafkaTransport struct {
	producer KafkaProducer
	topic    string
}

// NewKafkaTransport returns a publisher on topic ("" selects DefaultKafkaTopic).
func NewKafkaTransport(p KafkaProducer, topic string) *KafkaTransport {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaTransport{producer: p, topic: topic}
}

// Send implements ack.Transport.
func (k *KafkaTransport) Send(ctx context.Context, req ack.Request) error {
	if req.BatchID == "" {
		return ErrBatchIDRequired
	}
	b, err := json.Marshal(newEnvelope(req, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal kafka envelope: %w", err)
	}
	headers := map[string]string{
		"content-type": "application/json",
		"ack-type":     strconv.Itoa(req.AckType),
		"room-id":      req.RoomID,
	}
	if err := k.producer.Produce(ctx, k.topic, []byte(req.BatchID), b, headers); err != nil {
		return fmt.Errorf("kafka produce room=%s batch=%s: %w", req.RoomID, req.BatchID, err)
	}
	return nil
}
