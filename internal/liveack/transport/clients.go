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
	"log/slog"

	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"liveack/pkg/ack"
)

// LoggingRedisEvaler logs the Lua evaluation instead of running it, so the
// redis relay can be selected without a Redis server. Not for production use.
type LoggingRedisEvaler struct{ Logger *slog.Logger }

func (l LoggingRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loggerOrDefault(l.Logger).Info("redis-demo EVAL", "script_len", len(script), "keys", keys, "args", len(args))
	return int64(1), nil
}

// GoRedisEvaler implements RedisEvaler with github.com/redis/go-redis/v9.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler connects lazily to addr, e.g. "127.0.0.1:6379".
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// Close releases the connection pool.
func (g *GoRedisEvaler) Close() error { return g.c.Close() }

// LoggingKafkaProducer logs produced messages instead of publishing them.
// Not for production use.
type LoggingKafkaProducer struct{ Logger *slog.Logger }

func (l LoggingKafkaProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loggerOrDefault(l.Logger).Info("kafka-demo produce",
		"topic", topic, "key", string(key), "value", truncate(string(value), 256), "headers", headers)
	return nil
}

// KafkaGoProducer implements KafkaProducer with a segmentio/kafka-go Writer.
// Messages are hashed by key so every retry of a batch hits the same partition.
type KafkaGoProducer struct{ w *kafka.Writer }

// NewKafkaGoProducer creates a writer for brokers. The topic is set per message.
func NewKafkaGoProducer(brokers []string) *KafkaGoProducer {
	return &KafkaGoProducer{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaGoProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	msg := kafka.Message{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, msg)
}

// Close flushes and closes the writer.
func (p *KafkaGoProducer) Close() error { return p.w.Close() }

// LogTransport is a dry-run ack.Transport that only logs each request.
type LogTransport struct{ Logger *slog.Logger }

// Send implements ack.Transport.
func (l LogTransport) Send(ctx context.Context, req ack.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loggerOrDefault(l.Logger).Info("ack dry-run",
		"batch_id", req.BatchID, "room_id", req.RoomID, "ack_type", req.AckType,
		"msg_type", req.MessageType, "count", req.Count, "data", truncate(req.Data, 256))
	return nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
