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

import "sync"

// Listener receives connection events. Callbacks run on the client's read
// goroutine in registration order and must not block for long.
type Listener interface {
	OnOpen()
	OnClose()
	OnMessage(raw []byte)
	OnError(err error)
}

// ListenerFuncs adapts optional functions to Listener; nil fields are skipped.
type ListenerFuncs struct {
	Open    func()
	Close   func()
	Message func(raw []byte)
	Error   func(err error)
}

func (f ListenerFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f ListenerFuncs) OnClose() {
	if f.Close != nil {
		f.Close()
	}
}

func (f ListenerFuncs) OnMessage(raw []byte) {
	if f.Message != nil {
		f.Message(raw)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// listeners is a copy-on-write registration list. Late subscribers see only
// events emitted after Subscribe returns.
type listeners struct {
	mu     sync.Mutex
	nextID int
	list   []registration
}

type registration struct {
	id int
	l  Listener
}

func (ls *listeners) subscribe(l Listener) (unsubscribe func()) {
	ls.mu.Lock()
	ls.nextID++
	id := ls.nextID
	next := make([]registration, len(ls.list), len(ls.list)+1)
	copy(next, ls.list)
	ls.list = append(next, registration{id: id, l: l})
	ls.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			next := make([]registration, 0, len(ls.list))
			for _, r := range ls.list {
				if r.id != id {
					next = append(next, r)
				}
			}
			ls.list = next
		})
	}
}

func (ls *listeners) snapshot() []registration {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.list
}

func (ls *listeners) open() {
	for _, r := range ls.snapshot() {
		r.l.OnOpen()
	}
}

func (ls *listeners) close() {
	for _, r := range ls.snapshot() {
		r.l.OnClose()
	}
}

func (ls *listeners) message(raw []byte) {
	for _, r := range ls.snapshot() {
		r.l.OnMessage(raw)
	}
}

func (ls *listeners) error(err error) {
	for _, r := range ls.snapshot() {
		r.l.OnError(err)
	}
}
