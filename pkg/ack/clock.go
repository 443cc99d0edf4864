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
	"sync/atomic"
	"time"
)

// Clock returns the current time in Unix milliseconds. Tests inject a manual
// clock to drive the time trigger deterministically.
type Clock func() int64

// lastNowMs clamps the process clock so observed timestamps never go backwards
// when the wall clock is adjusted.
var lastNowMs atomic.Int64

// nowMs is the default Clock: wall-clock milliseconds, non-decreasing per process.
func nowMs() int64 {
	now := time.Now().UnixMilli()
	for {
		last := lastNowMs.Load()
		if now <= last {
			return last
		}
		if lastNowMs.CompareAndSwap(last, now) {
			return now
		}
	}
}

// SystemClock is the process clock used when no Clock is configured.
var SystemClock Clock = nowMs
