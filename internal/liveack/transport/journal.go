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

	"go.etcd.io/bbolt"

	"liveack/pkg/ack"
)

var bucketBatches = []byte("batches")

// JournalTransport records every ack batch in a local bbolt file instead of
// sending it. Keys are batch ids (ULIDs sort by time), values are Envelope
// JSON. Re-recording an existing batch id is a no-op.
type JournalTransport struct {
	db *bbolt.DB
}

// OpenJournal opens (or creates) the journal at path.
func OpenJournal(path string) (*JournalTransport, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBatches)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init bucket: %w", err)
	}
	return &JournalTransport{db: db}, nil
}

// Send implements ack.Transport.
func (j *JournalTransport) Send(ctx context.Context, req ack.Request) error {
	if req.BatchID == "" {
		return ErrBatchIDRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(newEnvelope(req, time.Now()))
	if err != nil {
		return fmt.Errorf("journal: marshal %s: %w", req.BatchID, err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBatches)
		if b.Get([]byte(req.BatchID)) != nil {
			return nil
		}
		return b.Put([]byte(req.BatchID), val)
	})
}

// ForEach visits recorded envelopes in batch id order. Iteration stops at the
// first error returned by fn.
func (j *JournalTransport) ForEach(fn func(env Envelope) error) error {
	return j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBatches).ForEach(func(k, v []byte) error {
			var env Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("journal: decode %s: %w", k, err)
			}
			return fn(env)
		})
	})
}

// Len returns the number of recorded batches.
func (j *JournalTransport) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketBatches).Stats().KeyN
		return nil
	})
	return n, err
}

// Replay sends every recorded envelope through next, e.g. to drain an
// offline journal into the live endpoint. It stops at the first failure.
func (j *JournalTransport) Replay(ctx context.Context, next ack.Transport) (int, error) {
	sent := 0
	err := j.ForEach(func(env Envelope) error {
		if err := next.Send(ctx, env.Request()); err != nil {
			return fmt.Errorf("journal: replay %s: %w", env.BatchID, err)
		}
		sent++
		return nil
	})
	return sent, err
}

// Close closes the underlying bbolt file.
func (j *JournalTransport) Close() error { return j.db.Close() }
