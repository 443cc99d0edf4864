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
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"liveack/pkg/ack"
)

type fakeRedisEvaler struct {
	calls []struct {
		script string
		keys   []string
		args   []interface{}
	}
	returnErr error
}

func (f *fakeRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if f.returnErr != nil {
		return nil, f.returnErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, struct {
		script string
		keys   []string
		args   []interface{}
	}{script: script, keys: append([]string{}, keys...), args: append([]interface{}{}, args...)})
	return int64(1), nil
}

func TestRedisTransport_Defaults(t *testing.T) {
	r := NewRedisTransport(&fakeRedisEvaler{}, "", 0)
	if r.markerTTL != 24*time.Hour || r.list != DefaultRedisList {
		t.Fatalf("unexpected defaults ttl=%v list=%q", r.markerTTL, r.list)
	}
	if got, want := RedisBatchMarkerKey("b1"), "ack:batch:b1"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRedisTransport_Send(t *testing.T) {
	fake := &fakeRedisEvaler{}
	r := NewRedisTransport(fake, "relay", time.Hour)
	req := sampleRequest()
	if err := r.Send(context.Background(), req); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 eval, got %d", len(fake.calls))
	}
	c := fake.calls[0]
	if want := []string{"relay", RedisBatchMarkerKey(req.BatchID)}; !reflect.DeepEqual(c.keys, want) {
		t.Fatalf("keys mismatch: got %v want %v", c.keys, want)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(c.args[0].(string)), &env); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if env.BatchID != req.BatchID || env.Data != req.Data || env.Count != 1 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if c.args[1].(int) != 3600 {
		t.Fatalf("ttl seconds mismatch: %v", c.args[1])
	}
}

func TestRedisTransport_Errors(t *testing.T) {
	r := NewRedisTransport(&fakeRedisEvaler{}, "", 0)
	req := sampleRequest()
	req.BatchID = ""
	if err := r.Send(context.Background(), req); !errors.Is(err, ErrBatchIDRequired) {
		t.Fatalf("expected ErrBatchIDRequired, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Send(ctx, sampleRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	boom := NewRedisTransport(&fakeRedisEvaler{returnErr: errors.New("boom")}, "", 0)
	err := boom.Send(context.Background(), sampleRequest())
	want := "redis eval room=7300000000000000001 batch=01HZX3V5E6K3Q9C2V8Y1T4N7PA: boom"
	if err == nil || err.Error() != want {
		t.Fatalf("unexpected error: %v", err)
	}
}

type fakeProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
	err     error
}

func (f *fakeProducer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.topic, f.key, f.value, f.headers = topic, key, value, headers
	return nil
}

func TestKafkaTransport_Send(t *testing.T) {
	p := &fakeProducer{}
	k := NewKafkaTransport(p, "")
	req := sampleRequest()
	if err := k.Send(context.Background(), req); err != nil {
		t.Fatalf("send: %v", err)
	}
	if p.topic != DefaultKafkaTopic || string(p.key) != req.BatchID {
		t.Fatalf("unexpected topic/key %q/%q", p.topic, p.key)
	}
	if p.headers["ack-type"] != "1" || p.headers["room-id"] != req.RoomID {
		t.Fatalf("unexpected headers %v", p.headers)
	}
	var env Envelope
	if err := json.Unmarshal(p.value, &env); err != nil || env.Request().Data != req.Data {
		t.Fatalf("bad envelope: %v %+v", err, env)
	}
}

func TestKafkaTransport_ProducerError(t *testing.T) {
	k := NewKafkaTransport(&fakeProducer{err: errors.New("down")}, "t")
	if err := k.Send(context.Background(), sampleRequest()); err == nil {
		t.Fatalf("expected producer error")
	}
}

func TestJournalTransport_RecordsAndReplays(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "acks.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	first := sampleRequest()
	second := sampleRequest()
	second.BatchID = "01HZX3V5E6K3Q9C2V8Y1T4N7PB"
	for _, r := range []ack.Request{first, second, first} {
		if err := j.Send(context.Background(), r); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if n, _ := j.Len(); n != 2 {
		t.Fatalf("duplicate batch id should be recorded once, got %d", n)
	}

	var replayed []string
	sent, err := j.Replay(context.Background(), ack.TransportFunc(func(_ context.Context, r ack.Request) error {
		replayed = append(replayed, r.BatchID)
		return nil
	}))
	if err != nil || sent != 2 {
		t.Fatalf("replay: sent=%d err=%v", sent, err)
	}
	if !reflect.DeepEqual(replayed, []string{first.BatchID, second.BatchID}) {
		t.Fatalf("replay order %v", replayed)
	}
}

func TestBuildTransport(t *testing.T) {
	cases := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "", opts: Options{Token: "t"}},
		{name: NameHTTP, opts: Options{}, wantErr: true},
		{name: NameRedis},
		{name: NameKafka},
		{name: NameLog},
		{name: NameJournal, wantErr: true},
		{name: NameJournal, opts: Options{JournalPath: filepath.Join(t.TempDir(), "j.db")}},
		{name: "carrier-pigeon", wantErr: true},
	}
	for _, tc := range cases {
		tr, closer, err := BuildTransport(tc.name, tc.opts)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.name)
			}
			continue
		}
		if err != nil || tr == nil {
			t.Fatalf("%q: unexpected error %v", tc.name, err)
		}
		if _, isHTTP := tr.(*HTTPTransport); !isHTTP {
			if err := tr.Send(context.Background(), sampleRequest()); err != nil {
				t.Fatalf("%q: send: %v", tc.name, err)
			}
		}
		if err := closer.Close(); err != nil {
			t.Fatalf("%q: close: %v", tc.name, err)
		}
	}
}
