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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"
)

// CloseCodeClosedByUser marks a close the user initiated. It is never
// reported to listeners as an error.
const CloseCodeClosedByUser = 4998

// ErrClientClosed is returned by Run after Close.
var ErrClientClosed = errors.New("push: client closed")

// State is the connection state of a Client.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "closed"
	}
}

// Options configures a Client.
type Options struct {
	URL        string
	Header     http.Header
	Dialer     *gorillaws.Dialer
	MinBackoff time.Duration // default 500ms
	MaxBackoff time.Duration // default 30s
	Logger     *slog.Logger
}

// Client keeps a websocket to the push channel open, reconnecting with
// backoff, and delivers every text frame to its listeners.
type Client struct {
	url        string
	header     http.Header
	dialer     *gorillaws.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	listeners listeners
	state     atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewClient creates a client. Nothing is dialed until Run.
func NewClient(opts Options) *Client {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &gorillaws.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	minB, maxB := opts.MinBackoff, opts.MaxBackoff
	if minB <= 0 {
		minB = 500 * time.Millisecond
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        opts.URL,
		header:     opts.Header,
		dialer:     dialer,
		minBackoff: minB,
		maxBackoff: maxB,
		logger:     logger,
	}
}

// Subscribe registers l and returns a function that removes it.
func (c *Client) Subscribe(l Listener) (unsubscribe func()) { return c.listeners.subscribe(l) }

// State reports the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Run connects and reads until ctx ends or Close is called, reconnecting
// after every disconnect. It returns nil on a clean stop.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	bo := newBackoff(c.minBackoff, c.maxBackoff)
	for {
		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			bo.reset()
		}
		if err != nil && !isClosedByUser(err) {
			c.logger.Warn("push connection lost", "url", c.url, "err", err)
			c.listeners.error(err)
		}
		wait := bo.duration()
		c.logger.Info("push reconnecting", "in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// runOnce dials, then reads frames until the connection fails. connected
// reports whether the handshake succeeded.
func (c *Client) runOnce(ctx context.Context) (connected bool, err error) {
	c.state.Store(int32(StateConnecting))
	defer c.state.Store(int32(StateClosed))

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("push dial %s: %w", c.url, err)
	}
	c.state.Store(int32(StateConnected))
	c.logger.Info("push connected", "url", c.url)
	c.listeners.open()

	readDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			msg := gorillaws.FormatCloseMessage(CloseCodeClosedByUser, "closed by user")
			_ = conn.WriteControl(gorillaws.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		case <-readDone:
		}
	}()

	for {
		mt, raw, rerr := conn.ReadMessage()
		if rerr != nil {
			err = rerr
			break
		}
		if mt != gorillaws.TextMessage && mt != gorillaws.BinaryMessage {
			continue
		}
		c.listeners.message(raw)
	}
	close(readDone)
	_ = conn.Close()
	c.state.Store(int32(StateClosed))
	c.listeners.close()
	if ctx.Err() != nil {
		return true, nil
	}
	return true, err
}

func isClosedByUser(err error) bool {
	return gorillaws.IsCloseError(err, CloseCodeClosedByUser)
}

// Close stops Run and closes the current connection with code 4998.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
}
