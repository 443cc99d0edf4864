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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"liveack/pkg/ack"
)

// Options holds the knobs for every adapter BuildTransport can produce.
type Options struct {
	// http
	Endpoint   string
	Token      string
	SessionID  string
	HTTPClient *http.Client
	RatePerSec float64
	RateBurst  int

	// redis; an empty address selects the logging client
	RedisAddr      string
	RedisList      string
	RedisMarkerTTL time.Duration

	// kafka; no brokers selects the logging producer
	KafkaBrokers []string
	KafkaTopic   string

	// journal
	JournalPath string

	Logger *slog.Logger
}

// Names accepted by BuildTransport.
const (
	NameHTTP    = "http"
	NameRedis   = "redis"
	NameKafka   = "kafka"
	NameJournal = "journal"
	NameLog     = "log"
)

// BuildTransport constructs an ack.Transport from a name:
//   - "http" (default): the remote ack endpoint
//   - "redis": idempotent relay list, real client when RedisAddr is set
//   - "kafka": idempotent relay topic, real writer when KafkaBrokers is set
//   - "journal": local bbolt file at JournalPath
//   - "log": dry-run, logs each request
//
// The returned io.Closer releases clients and files; it is never nil.
func BuildTransport(name string, opts Options) (ack.Transport, io.Closer, error) {
	logger := loggerOrDefault(opts.Logger)
	switch name {
	case "", NameHTTP:
		if opts.Token == "" {
			return nil, nopCloser{}, errors.New("http transport requires a token")
		}
		return NewHTTPTransport(HTTPOptions{
			Endpoint:   opts.Endpoint,
			Token:      opts.Token,
			SessionID:  opts.SessionID,
			Client:     opts.HTTPClient,
			RatePerSec: opts.RatePerSec,
			Burst:      opts.RateBurst,
		}), nopCloser{}, nil
	case NameRedis:
		if opts.RedisAddr != "" {
			c := NewGoRedisEvaler(opts.RedisAddr)
			return NewRedisTransport(c, opts.RedisList, opts.RedisMarkerTTL), c, nil
		}
		return NewRedisTransport(LoggingRedisEvaler{Logger: logger}, opts.RedisList, opts.RedisMarkerTTL), nopCloser{}, nil
	case NameKafka:
		if len(opts.KafkaBrokers) > 0 {
			p := NewKafkaGoProducer(opts.KafkaBrokers)
			return NewKafkaTransport(p, opts.KafkaTopic), p, nil
		}
		return NewKafkaTransport(LoggingKafkaProducer{Logger: logger}, opts.KafkaTopic), nopCloser{}, nil
	case NameJournal:
		if opts.JournalPath == "" {
			return nil, nopCloser{}, errors.New("journal transport requires a path")
		}
		j, err := OpenJournal(opts.JournalPath)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return j, j, nil
	case NameLog:
		return LogTransport{Logger: logger}, nopCloser{}, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown ack transport: %s", name)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
