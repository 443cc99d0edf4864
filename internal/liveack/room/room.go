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


// Package room fetches the current live room and its server-pushed ack
// configuration, and notifies listeners whenever either is refreshed.
package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"liveack/pkg/ack"
)

// DefaultInfoEndpoint is the room info API.
const DefaultInfoEndpoint = "https://webcast.bytedance.com/api/webcastmate/info"

// ErrMissingInfo is returned when a successful response carries no room info.
var ErrMissingInfo = errors.New("room: missing webcast info payload")

// APIError is a non-zero errcode returned by the room info API.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string { return fmt.Sprintf("room: errcode=%d errmsg=%q", e.Code, e.Msg) }

// UserInfo describes the anchor of a room.
type UserInfo struct {
	OpenID    string `json:"open_id"`
	AvatarURL string `json:"avatar_url"`
	NickName  string `json:"nick_name"`
}

// Info is the room the session is attached to.
type Info struct {
	RoomID string   `json:"room_id"`
	Anchor UserInfo `json:"anchor"`
}

type webcastInfo struct {
	RoomID       int64  `json:"room_id"`
	AnchorOpenID string `json:"anchor_open_id"`
	AvatarURL    string `json:"avatar_url"`
	NickName     string `json:"nick_name"`
}

type infoResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	Data    *struct {
		Info   *webcastInfo     `json:"info"`
		AckCfg []ack.TypeConfig `json:"ack_cfg"`
	} `json:"data"`
}

// Listener is told about every successful refresh.
type Listener func(info Info, configs []ack.TypeConfig)

// Options configures a Service.
type Options struct {
	Endpoint   string
	AppID      string
	Token      string
	HTTPClient *http.Client
	// RequestTimeout bounds one fetch; default 10s.
	RequestTimeout time.Duration
	// RetryIntervals are the waits between start-up attempts; default 1s..11s.
	RetryIntervals []time.Duration
	Logger         *slog.Logger
}

// DefaultRetryIntervals waits 1s, 2s, ... 11s between start-up attempts.
func DefaultRetryIntervals() []time.Duration {
	out := make([]time.Duration, 0, 11)
	for sec := 1; sec <= 11; sec++ {
		out = append(out, time.Duration(sec)*time.Second)
	}
	return out
}

// Service holds the latest room info and ack config list.
type Service struct {
	endpoint string
	appID    string
	token    string
	client   *http.Client
	timeout  time.Duration
	retries  []time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	info      Info
	configs   []ack.TypeConfig
	fallback  bool
	listeners []Listener
}

// NewService creates a service whose initial config list is ack.FallbackConfigs.
func NewService(opts Options) *Service {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultInfoEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := opts.RetryIntervals
	if retries == nil {
		retries = DefaultRetryIntervals()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		endpoint: endpoint,
		appID:    opts.AppID,
		token:    opts.Token,
		client:   client,
		timeout:  timeout,
		retries:  retries,
		logger:   logger,
		configs:  ack.FallbackConfigs(),
		fallback: true,
	}
}

// Info returns the latest room info (zero before the first refresh).
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// RoomID is a shortcut for Info().RoomID.
func (s *Service) RoomID() string { return s.Info().RoomID }

// AckConfigs returns a copy of the current config list.
func (s *Service) AckConfigs() []ack.TypeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ack.TypeConfig, len(s.configs))
	copy(out, s.configs)
	return out
}

// OnChange registers l. Listeners run in registration order after each
// refresh; there is no replay of earlier refreshes.
func (s *Service) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Refresh fetches the room info once. A response without ack_cfg keeps the
// previous config list.
func (s *Service) Refresh(ctx context.Context) (Info, error) {
	resp, err := s.fetch(ctx)
	if err != nil {
		return Info{}, err
	}
	if resp.Data == nil || resp.Data.Info == nil {
		return Info{}, ErrMissingInfo
	}
	w := resp.Data.Info
	info := Info{
		RoomID: strconv.FormatInt(w.RoomID, 10),
		Anchor: UserInfo{OpenID: w.AnchorOpenID, AvatarURL: w.AvatarURL, NickName: w.NickName},
	}

	s.mu.Lock()
	s.info = info
	if resp.Data.AckCfg != nil {
		s.configs = resp.Data.AckCfg
		s.fallback = false
	} else if s.fallback {
		s.logger.Warn("no ack config in room info, using fallback config")
	} else {
		s.logger.Warn("no ack config in room info, keeping previous config")
	}
	configs := make([]ack.TypeConfig, len(s.configs))
	copy(configs, s.configs)
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Info("room info refreshed", "room_id", info.RoomID, "anchor", info.Anchor.NickName, "ack_configs", len(configs))
	for _, l := range listeners {
		l(info, configs)
	}
	return info, nil
}

// FetchOnStart calls Refresh until it succeeds, waiting the configured
// intervals between attempts. The last error is returned when they run out.
func (s *Service) FetchOnStart(ctx context.Context) (Info, error) {
	info, err := s.Refresh(ctx)
	for attempt := 0; err != nil && attempt < len(s.retries); attempt++ {
		s.logger.Warn("room info fetch failed, retrying", "attempt", attempt+1, "in", s.retries[attempt], "err", err)
		select {
		case <-ctx.Done():
			return Info{}, ctx.Err()
		case <-time.After(s.retries[attempt]):
		}
		info, err = s.Refresh(ctx)
	}
	if err != nil {
		s.logger.Error("room info fetch gave up", "err", err)
	}
	return info, err
}

func (s *Service) fetch(ctx context.Context) (*infoResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"token": s.token, "appid": s.appID})
	if err != nil {
		return nil, err
	}
	u := s.endpoint + "?appid=" + url.QueryEscape(s.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("room: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", s.token)
	req.Header.Set("appid", s.appID)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("room: post info: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("room: read info: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("room: info status %d", resp.StatusCode)
	}
	var out infoResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("room: decode info: %w", err)
	}
	if out.ErrCode != 0 {
		return nil, &APIError{Code: out.ErrCode, Msg: out.ErrMsg}
	}
	return &out, nil
}
