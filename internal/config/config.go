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

// Package config holds the configuration of the liveack agent and its
// loading logic: a YAML file overlaid on Default, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"liveack/internal/liveack/transport"
	"liveack/pkg/ack"
)

// Config is the root configuration of a liveack agent.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Transport TransportConfig `yaml:"transport"`
	Push      PushConfig      `yaml:"push"`
	Room      RoomConfig      `yaml:"room"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// AppConfig identifies the app and session towards the cloud side.
type AppConfig struct {
	AppID string `yaml:"app_id"`
	// Token is the launch token; the -token= flag overrides it.
	Token string `yaml:"token"`
}

// PipelineConfig tunes batching and shutdown.
type PipelineConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	SkipFinalFlush bool          `yaml:"skip_final_flush"`
	ProtectedTypes []string      `yaml:"protected_types"`
	// FallbackAfter: 0 selects the default, negative applies the fallback immediately.
	FallbackAfter       time.Duration `yaml:"fallback_after"`
	FallbackIntervalSec int64         `yaml:"fallback_interval_sec"`
	FallbackMaxCount    int64         `yaml:"fallback_max_count"`
	// InitialConfigs, when set, is applied before the first room fetch.
	InitialConfigs []ack.TypeConfig `yaml:"initial_configs"`
}

// TransportConfig selects and configures where batches go.
type TransportConfig struct {
	// Name is one of http, redis, kafka, journal, log.
	Name       string        `yaml:"name"`
	Endpoint   string        `yaml:"endpoint"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	RateBurst  int           `yaml:"rate_burst"`
	Redis      RedisConfig   `yaml:"redis"`
	Kafka      KafkaConfig   `yaml:"kafka"`
	Journal    JournalConfig `yaml:"journal"`
}

// RedisConfig configures the redis relay. An empty Addr logs instead of connecting.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	List      string        `yaml:"list"`
	MarkerTTL time.Duration `yaml:"marker_ttl"`
}

// KafkaConfig configures the kafka relay. No brokers logs instead of producing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// JournalConfig configures the local bbolt journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// PushConfig configures the push channel. An empty URL disables it.
type PushConfig struct {
	URL        string        `yaml:"url"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// RoomConfig configures the room info fetch.
type RoomConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// Disabled skips the fetch; the pipeline then runs on InitialConfigs only.
	Disabled bool `yaml:"disabled"`
}

// APIConfig controls the local HTTP API. An empty Addr disables it.
type APIConfig struct {
	Addr       string  `yaml:"addr"`
	APIKey     string  `yaml:"api_key"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// TelemetryConfig controls metrics. When MetricsAddr is empty and the API is
// enabled, /metrics is served by the API instead.
type TelemetryConfig struct {
	MetricsAddr string        `yaml:"metrics_addr"`
	LogInterval time.Duration `yaml:"log_interval"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a Config populated with the defaults.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			TickInterval:        ack.DefaultTickInterval,
			SubmitTimeout:       ack.DefaultSubmitTimeout,
			ShutdownGrace:       5 * time.Second,
			ProtectedTypes:      []string{ack.MsgTypeGift},
			FallbackIntervalSec: ack.DefaultFallbackIntervalSec,
			FallbackMaxCount:    ack.DefaultFallbackMaxCount,
			InitialConfigs:      ack.FallbackConfigs(),
		},
		Transport: TransportConfig{
			Name:     transport.NameHTTP,
			Endpoint: transport.DefaultAckEndpoint,
			Redis: RedisConfig{
				List:      transport.DefaultRedisList,
				MarkerTTL: 24 * time.Hour,
			},
			Kafka: KafkaConfig{
				Topic: transport.DefaultKafkaTopic,
			},
			Journal: JournalConfig{
				Path: "./liveack-journal.db",
			},
		},
		Push: PushConfig{
			MinBackoff: 500 * time.Millisecond,
			MaxBackoff: 30 * time.Second,
		},
		Room: RoomConfig{
			RequestTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Addr:       "127.0.0.1:8087",
			RatePerSec: 200,
			Burst:      400,
		},
		Telemetry: TelemetryConfig{
			LogInterval: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// A missing file yields the defaults. Environment overrides are applied last:
//
//	LIVEACK_APP_ID        app.app_id
//	LIVEACK_TOKEN         app.token
//	LIVEACK_TRANSPORT     transport.name
//	LIVEACK_METRICS_ADDR  telemetry.metrics_addr
//	LIVEACK_HTTP_ADDR     api.addr
//	LIVEACK_LOG_LEVEL     log.level
//	LIVEACK_KAFKA_BROKERS transport.kafka.brokers (comma separated)
//	LIVEACK_REDIS_ADDR    transport.redis.addr
//	LIVEACK_API_RATE      api.rate_per_sec
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LIVEACK_APP_ID"); v != "" {
		cfg.App.AppID = v
	}
	if v := os.Getenv("LIVEACK_TOKEN"); v != "" {
		cfg.App.Token = v
	}
	if v := os.Getenv("LIVEACK_TRANSPORT"); v != "" {
		cfg.Transport.Name = v
	}
	if v := os.Getenv("LIVEACK_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if v := os.Getenv("LIVEACK_HTTP_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("LIVEACK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LIVEACK_KAFKA_BROKERS"); v != "" {
		cfg.Transport.Kafka.Brokers = SplitList(v)
	}
	if v := os.Getenv("LIVEACK_REDIS_ADDR"); v != "" {
		cfg.Transport.Redis.Addr = v
	}
	if v := os.Getenv("LIVEACK_API_RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 {
			cfg.API.RatePerSec = r
		}
	}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the config values are consistent. It returns the first
// error found.
func (c *Config) Validate() error {
	switch c.Transport.Name {
	case transport.NameHTTP, transport.NameRedis, transport.NameKafka, transport.NameLog:
	case transport.NameJournal:
		if c.Transport.Journal.Path == "" {
			return errors.New("transport.journal.path must not be empty")
		}
	default:
		return fmt.Errorf(`transport.name must be one of "http", "redis", "kafka", "journal", "log", got %q`, c.Transport.Name)
	}
	if c.Transport.Name == transport.NameHTTP && c.App.Token == "" {
		return errors.New("app.token is required by the http transport")
	}
	if c.App.AppID == "" && !c.Room.Disabled {
		return errors.New("app.app_id is required to fetch room info")
	}
	if c.Pipeline.TickInterval <= 0 {
		return errors.New("pipeline.tick_interval must be positive")
	}
	if c.Pipeline.SubmitTimeout <= 0 {
		return errors.New("pipeline.submit_timeout must be positive")
	}
	if c.Pipeline.ShutdownGrace < 0 {
		return errors.New("pipeline.shutdown_grace must be >= 0")
	}
	if c.Pipeline.FallbackIntervalSec < 0 || c.Pipeline.FallbackMaxCount < 0 {
		return errors.New("pipeline fallback thresholds must be >= 0")
	}
	if err := ack.ValidateConfigs(c.Pipeline.InitialConfigs); err != nil {
		return fmt.Errorf("pipeline.initial_configs: %w", err)
	}
	if c.Transport.RatePerSec < 0 || c.API.RatePerSec < 0 {
		return errors.New("rate_per_sec must be >= 0")
	}
	if c.Push.MinBackoff < 0 || c.Push.MaxBackoff < 0 || (c.Push.MaxBackoff > 0 && c.Push.MinBackoff > c.Push.MaxBackoff) {
		return errors.New("push backoff must satisfy 0 <= min_backoff <= max_backoff")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf(`log.format must be "text" or "json", got %q`, c.Log.Format)
	}
	return nil
}

// PipelineOptions maps the pipeline section onto ack.Options. Clock, Logger
// and Observer are left for the caller.
func (c *Config) PipelineOptions() ack.Options {
	return ack.Options{
		AppID:          c.App.AppID,
		TickInterval:   c.Pipeline.TickInterval,
		ProtectedTypes: c.Pipeline.ProtectedTypes,
		Fallback: ack.TypeConfig{
			BatchIntervalSec: c.Pipeline.FallbackIntervalSec,
			BatchMaxCount:    c.Pipeline.FallbackMaxCount,
		},
		FallbackAfter:  c.Pipeline.FallbackAfter,
		SubmitTimeout:  c.Pipeline.SubmitTimeout,
		SkipFinalFlush: c.Pipeline.SkipFinalFlush,
	}
}

// TransportOptions maps the transport section onto transport.Options.
func (c *Config) TransportOptions(sessionID string) transport.Options {
	return transport.Options{
		Endpoint:       c.Transport.Endpoint,
		Token:          c.App.Token,
		SessionID:      sessionID,
		RatePerSec:     c.Transport.RatePerSec,
		RateBurst:      c.Transport.RateBurst,
		RedisAddr:      c.Transport.Redis.Addr,
		RedisList:      c.Transport.Redis.List,
		RedisMarkerTTL: c.Transport.Redis.MarkerTTL,
		KafkaBrokers:   c.Transport.Kafka.Brokers,
		KafkaTopic:     c.Transport.Kafka.Topic,
		JournalPath:    c.Transport.Journal.Path,
	}
}
