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

// ack-loadgen is a small HTTP load generator for the liveack agent's local
// API. It reuses connections and runs concurrent workers, each POSTing
// consumed-message reports to /ack.
//
// Modes:
//   - single: every report uses one message type
//   - skew:   4 of every -hot_every reports use the hot type, the rest
//     round-robin over -cold_types cold types
//
// Usage examples:
//
//	ack-loadgen -base=http://127.0.0.1:8087 -mode=single -type=live_gift -n=3000 -c=8
//	ack-loadgen -base=http://127.0.0.1:8087 -mode=skew -hot_type=live_like -cold_types=5 -n=8000 -batch=20
//
// Message ids are random UUIDs, so repeated runs never collide. The summary
// line reports reports/s; compare it with the agent's request count in the
// logs or on /metrics to see the request reduction.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type modeType string

const (
	modeSingle modeType = "single"
	modeSkew   modeType = "skew"
)

type report struct {
	MsgID   string `json:"msg_id"`
	MsgType string `json:"msg_type"`
}

func main() {
	var (
		base      = flag.String("base", "http://127.0.0.1:8087", "Agent API base URL")
		apiKey    = flag.String("api_key", "", "Value for the X-Api-Key header, if the agent requires one")
		modeS     = flag.String("mode", string(modeSingle), "Mode: single|skew")
		msgType   = flag.String("type", "live_gift", "Message type for single mode")
		hotType   = flag.String("hot_type", "live_like", "Hot message type for skew mode")
		coldTypes = flag.Int("cold_types", 5, "Number of cold types (cold_1..cold_N) in skew mode")
		hotEvery  = flag.Int("hot_every", 5, "Skew period: all but one report of each period use the hot type (minimum 2)")
		N         = flag.Int("n", 3000, "Total reports to send")
		conc      = flag.Int("c", 8, "Number of concurrent workers")
		batch     = flag.Int("batch", 1, "Reports per POST (sent as a JSON array when > 1)")
		timeout   = flag.Duration("timeout", 30*time.Second, "Overall timeout for the run")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSingle && m != modeSkew {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want single|skew)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 || *batch <= 0 {
		fmt.Fprintln(os.Stderr, "-n, -c and -batch must be > 0")
		os.Exit(2)
	}
	if m == modeSkew {
		if *coldTypes <= 0 {
			fmt.Fprintln(os.Stderr, "-cold_types must be > 0 in skew mode")
			os.Exit(2)
		}
		if *hotEvery < 2 {
			*hotEvery = 2
		}
	}

	url := strings.TrimRight(*base, "/") + "/ack"
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     30 * time.Second,
		},
		Timeout: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	typeFor := func(i int) string {
		switch {
		case m == modeSingle:
			return *msgType
		case i%*hotEvery != 0:
			return *hotType
		default:
			return fmt.Sprintf("cold_%d", i%*coldTypes+1)
		}
	}

	var sent, rejected atomic.Int64
	post := func(reports []report) {
		var body []byte
		if len(reports) == 1 {
			body, _ = json.Marshal(reports[0])
		} else {
			body, _ = json.Marshal(reports)
		}
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if *apiKey != "" {
			req.Header.Set("X-Api-Key", *apiKey)
		}
		resp, err := client.Do(req)
		if err != nil {
			rejected.Add(int64(len(reports)))
			time.Sleep(200 * time.Microsecond)
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusAccepted {
			sent.Add(int64(len(reports)))
		} else {
			rejected.Add(int64(len(reports)))
		}
	}

	worker := func(id, count int) {
		buf := make([]report, 0, *batch)
		for i := 0; i < count; i++ {
			if ctx.Err() != nil {
				return
			}
			buf = append(buf, report{MsgID: uuid.NewString(), MsgType: typeFor(i + id)})
			if len(buf) == *batch {
				post(buf)
				buf = buf[:0]
			}
		}
		if len(buf) > 0 && ctx.Err() == nil {
			post(buf)
		}
	}

	start := time.Now()
	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	fmt.Printf("AckLoadGen: mode=%s N=%d c=%d batch=%d go=%d accepted=%d rejected=%d Duration=%s Throughput=%.0f reports/s\n",
		m, *N, *conc, *batch, runtime.GOMAXPROCS(0), sent.Load(), rejected.Load(),
		elapsed.Truncate(time.Millisecond), float64(sent.Load())/elapsed.Seconds())
}
