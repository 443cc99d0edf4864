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

//go:build e2e

// Package e2e contains end-to-end tests that build and launch the real agent
// binary against a local ack endpoint: request reduction for gifts, the time
// trigger, the final flush on interrupt and the diagnostic endpoints.
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"liveack/pkg/ack"
)

// ackEndpoint is a stand-in for the remote ack API. It records every request
// body it receives.
type ackEndpoint struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []ack.Request
	items    map[string]int // msg_id -> times delivered
}

func newAckEndpoint(t *testing.T) *ackEndpoint {
	t.Helper()
	e := &ackEndpoint{items: make(map[string]int)}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ack.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		items, err := req.Items()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		e.mu.Lock()
		e.requests = append(e.requests, req)
		for _, it := range items {
			e.items[it.MsgID]++
		}
		e.mu.Unlock()
		_, _ = io.WriteString(w, `{"err_no":0,"err_msg":"","logid":"e2e"}`)
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *ackEndpoint) snapshot() (requests []ack.Request, items map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	requests = append([]ack.Request(nil), e.requests...)
	items = make(map[string]int, len(e.items))
	for k, v := range e.items {
		items[k] = v
	}
	return requests, items
}

// waitItems polls until at least n distinct items arrived or the timeout ends.
func (e *ackEndpoint) waitItems(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, items := e.snapshot(); len(items) >= n {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

type runningAgent struct {
	cmd       *exec.Cmd
	baseURL   string
	logLinesC chan string
	exited    chan struct{}
}

// buildAndStartAgent builds cmd/liveack-agent into a temp dir, writes a config
// pointing the http transport at endpoint, launches the agent on a free port
// and returns once the local API answers /healthz.
func buildAndStartAgent(t *testing.T, endpoint string, extraArgs ...string) *runningAgent {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	tmpDir := t.TempDir()
	exe := filepath.Join(tmpDir, exeName("liveack-agent"))
	build := exec.Command("go", "build", "-o", exe, "liveack/cmd/liveack-agent")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		t.Fatalf("failed to build agent: %v", err)
	}

	cfgPath := filepath.Join(tmpDir, "liveack.yaml")
	cfgBody := fmt.Sprintf(`
app:
  app_id: e2e
  token: e2e-token
pipeline:
  tick_interval: 20ms
  shutdown_grace: 3s
  initial_configs:
    - {msg_type: live_gift, ack_type: 1, batch_interval: 10, batch_max_num: 3}
    - {msg_type: live_gift, ack_type: 2, batch_interval: 10, batch_max_num: 3}
    - {msg_type: live_comment, ack_type: 2, batch_interval: 1, batch_max_num: 1000}
transport:
  name: http
  endpoint: %q
room:
  disabled: true
api:
  addr: %q
telemetry:
  log_interval: 0s
`, endpoint, addr)
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	args := append([]string{"-config=" + cfgPath}, extraArgs...)
	cmd := exec.Command(exe, args...)
	cmd.Dir = tmpDir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("StderrPipe: %v", err)
	}
	logC := make(chan string, 4096)
	go scanLines(stdout, logC)
	go scanLines(stderr, logC)

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start agent: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	_ = waitForLog(logC, "local ack API listening", 3*time.Second)
	base := "http://" + addr
	client := &http.Client{Timeout: 500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok := false
	for ctx.Err() == nil {
		resp, err := client.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			ok = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !ok {
		_ = cmd.Process.Kill()
		t.Fatalf("agent did not become ready")
	}

	ra := &runningAgent{cmd: cmd, baseURL: base, logLinesC: logC, exited: exited}
	t.Cleanup(func() {
		select {
		case <-exited:
		default:
			_ = cmd.Process.Kill()
			<-exited
		}
	})
	return ra
}

// postAcks reports msgType messages ids[i] as consumed through the local API.
func postAcks(t *testing.T, base, msgType string, ids []string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	for _, id := range ids {
		body := fmt.Sprintf(`{"msg_id":%q,"msg_type":%q}`, id, msgType)
		resp, err := client.Post(base+"/ack", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post ack: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("post ack %s: status %d", id, resp.StatusCode)
		}
	}
}

func makeIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%03d", prefix, i)
	}
	return ids
}

func scanLines(r io.ReadCloser, out chan<- string) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		select {
		case out <- s.Text():
		default:
		}
	}
}

func waitForLog(logC <-chan string, needle string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case line := <-logC:
			if strings.Contains(line, needle) {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// exeName adds .exe on Windows.
func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

// --- Tests ---

// TestE2E_GiftCountTrigger reports 30 gifts; with batch_max_num=3 they must
// reach the endpoint as 10 requests of 3 items, each item exactly once.
func TestE2E_GiftCountTrigger(t *testing.T) {
	ep := newAckEndpoint(t)
	ra := buildAndStartAgent(t, ep.srv.URL)

	ids := makeIDs("gift", 30)
	// groups of three, each flushed before the next, so every request is a
	// count-triggered batch of exactly three
	for i := 0; i < len(ids); i += 3 {
		postAcks(t, ra.baseURL, ack.MsgTypeGift, ids[i:i+3])
		if !ep.waitItems(i+3, 5*time.Second) {
			_, items := ep.snapshot()
			t.Fatalf("only %d/%d gifts acked", len(items), i+3)
		}
	}
	requests, items := ep.snapshot()
	for _, id := range ids {
		if items[id] != 1 {
			t.Fatalf("gift %s delivered %d times", id, items[id])
		}
	}
	if len(requests) != 10 {
		t.Fatalf("expected 10 requests, got %d", len(requests))
	}
	for _, r := range requests {
		if r.AckType != int(ack.PhaseConsumed) || r.AppID != "e2e" {
			t.Fatalf("unexpected request header fields: %+v", r)
		}
		got, _ := r.Items()
		if len(got) != 3 {
			t.Fatalf("expected 3 items per request, got %d", len(got))
		}
	}
}

// TestE2E_TimeTrigger reports a few comments under a 1s interval and a high
// count threshold; they must arrive together as one request after about 1s.
func TestE2E_TimeTrigger(t *testing.T) {
	ep := newAckEndpoint(t)
	ra := buildAndStartAgent(t, ep.srv.URL)

	start := time.Now()
	ids := makeIDs("comment", 5)
	postAcks(t, ra.baseURL, "live_comment", ids)

	if !ep.waitItems(len(ids), 5*time.Second) {
		t.Fatal("comments were not flushed by the time trigger")
	}
	if took := time.Since(start); took < 900*time.Millisecond {
		t.Fatalf("flushed too early: %v", took)
	}
	requests, _ := ep.snapshot()
	if len(requests) != 1 {
		t.Fatalf("expected one request, got %d", len(requests))
	}
}

// TestE2E_FinalFlushOnInterrupt leaves two gifts below every threshold and
// interrupts the agent; the final flush must deliver them before exit.
func TestE2E_FinalFlushOnInterrupt(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("os.Interrupt cannot be delivered to a child process on windows")
	}
	ep := newAckEndpoint(t)
	ra := buildAndStartAgent(t, ep.srv.URL)

	ids := makeIDs("late", 2)
	postAcks(t, ra.baseURL, ack.MsgTypeGift, ids)
	time.Sleep(100 * time.Millisecond)
	if _, items := ep.snapshot(); len(items) != 0 {
		t.Fatalf("gifts flushed before shutdown: %v", items)
	}

	if err := ra.cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case <-ra.exited:
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not exit after interrupt")
	}
	_, items := ep.snapshot()
	for _, id := range ids {
		if items[id] != 1 {
			t.Fatalf("gift %s delivered %d times by the final flush", id, items[id])
		}
	}
}

// TestE2E_StatesAndMetrics checks the diagnostic endpoints of the local API.
func TestE2E_StatesAndMetrics(t *testing.T) {
	ep := newAckEndpoint(t)
	ra := buildAndStartAgent(t, ep.srv.URL)
	postAcks(t, ra.baseURL, ack.MsgTypeGift, makeIDs("diag", 1))

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(ra.baseURL + "/states")
	if err != nil {
		t.Fatalf("GET /states: %v", err)
	}
	var states []ack.StateSnapshot
	err = json.NewDecoder(resp.Body).Decode(&states)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode /states: %v", err)
	}
	found := false
	for _, s := range states {
		if s.MessageType == ack.MsgTypeGift && s.AckType == int(ack.PhaseConsumed) {
			found = true
			if s.PendingCount != 1 {
				t.Fatalf("expected 1 pending gift, got %d", s.PendingCount)
			}
		}
	}
	if !found {
		t.Fatalf("gift state missing from /states: %+v", states)
	}

	resp, err = client.Get(ra.baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "liveack_records_ingested_total") {
		t.Fatalf("metrics missing ingest counter")
	}
}
