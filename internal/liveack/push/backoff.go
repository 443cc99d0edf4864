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


package push

import (
	"math/rand"
	"time"
)

// backoff is a jittered exponential delay between reconnect attempts.
type backoff struct {
	current time.Duration
	min     time.Duration
	max     time.Duration
	factor  float64
}

func newBackoff(min, max time.Duration) *backoff {
	if max < min {
		max = min
	}
	return &backoff{current: min, min: min, max: max, factor: 2.0}
}

// duration returns the next delay (plus up to 10% jitter) and grows the base.
func (b *backoff) duration() time.Duration {
	jitter := time.Duration(0)
	if b.current >= 10 {
		jitter = time.Duration(rand.Int63n(int64(b.current) / 10))
	}
	d := b.current + jitter

	b.current = time.Duration(float64(b.current) * b.factor)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.min
}
