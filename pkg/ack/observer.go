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

import "time"

// Observer receives pipeline events for metrics. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	// OnIngested is called for every record accepted into a queue.
	OnIngested(key Key)
	// OnRejected is called for every record dropped by validation.
	OnRejected(reason error)
	// OnDropped is called for a valid record whose type has no state and is not protected.
	OnDropped(key Key)
	// OnFlushed is called when the scheduler drains a queue.
	OnFlushed(b Batch)
	// OnSubmitted is called when a submission finishes, err is nil on success.
	OnSubmitted(b Batch, elapsed time.Duration, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnIngested(Key) {}
func (NopObserver) OnRejected(error) {}
func (NopObserver) OnDropped(Key) {}
func (NopObserver) OnFlushed(Batch) {}
func (NopObserver) OnSubmitted(Batch, time.Duration, error) {}

// MultiObserver fans events out to each observer in registration order.
type MultiObserver []Observer

func (m MultiObserver) OnIngested(k Key) {
	for _, o := range m {
		o.OnIngested(k)
	}
}

func (m MultiObserver) OnRejected(reason error) {
	for _, o := range m {
		o.OnRejected(reason)
	}
}

func (m MultiObserver) OnDropped(k Key) {
	for _, o := range m {
		o.OnDropped(k)
	}
}

func (m MultiObserver) OnFlushed(b Batch) {
	for _, o := range m {
		o.OnFlushed(b)
	}
}

func (m MultiObserver) OnSubmitted(b Batch, elapsed time.Duration, err error) {
	for _, o := range m {
		o.OnSubmitted(b, elapsed, err)
	}
}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}
