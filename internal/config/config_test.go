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

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"liveack/internal/config"
	"liveack/internal/liveack/transport"
	"liveack/pkg/ack"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "liveack.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_HasSensibleValues(t *testing.T) {
	cfg := config.Default()
	if cfg.Pipeline.TickInterval != 100*time.Millisecond {
		t.Fatalf("tick interval: got %v", cfg.Pipeline.TickInterval)
	}
	if cfg.Pipeline.SubmitTimeout != 10*time.Second {
		t.Fatalf("submit timeout: got %v", cfg.Pipeline.SubmitTimeout)
	}
	if cfg.Transport.Name != transport.NameHTTP {
		t.Fatalf("transport: got %q", cfg.Transport.Name)
	}
	if len(cfg.Pipeline.ProtectedTypes) != 1 || cfg.Pipeline.ProtectedTypes[0] != ack.MsgTypeGift {
		t.Fatalf("protected types: got %v", cfg.Pipeline.ProtectedTypes)
	}
	if len(cfg.Pipeline.InitialConfigs) != 2 {
		t.Fatalf("initial configs: got %d entries", len(cfg.Pipeline.InitialConfigs))
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("log: got %+v", cfg.Log)
	}
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.API.Addr != config.Default().API.Addr {
		t.Fatalf("api addr: got %q", cfg.API.Addr)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  app_id: "tt123"
  token: "tok"
pipeline:
  tick_interval: 250ms
  fallback_after: -1s
  initial_configs:
    - msg_type: live_like
      ack_type: 1
      batch_interval: 2
      batch_max_num: 50
transport:
  name: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
log:
  format: json
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.AppID != "tt123" || cfg.App.Token != "tok" {
		t.Fatalf("app: got %+v", cfg.App)
	}
	if cfg.Pipeline.TickInterval != 250*time.Millisecond {
		t.Fatalf("tick interval: got %v", cfg.Pipeline.TickInterval)
	}
	if cfg.Pipeline.FallbackAfter != -time.Second {
		t.Fatalf("fallback after: got %v", cfg.Pipeline.FallbackAfter)
	}
	if len(cfg.Pipeline.InitialConfigs) != 1 || cfg.Pipeline.InitialConfigs[0].BatchMaxCount != 50 {
		t.Fatalf("initial configs: got %+v", cfg.Pipeline.InitialConfigs)
	}
	if cfg.Transport.Name != transport.NameKafka || len(cfg.Transport.Kafka.Brokers) != 2 {
		t.Fatalf("transport: got %+v", cfg.Transport)
	}
	// untouched sections keep their defaults
	if cfg.Transport.Kafka.Topic != transport.DefaultKafkaTopic {
		t.Fatalf("kafka topic: got %q", cfg.Transport.Kafka.Topic)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Fatalf("log: got %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "pipeline: [unclosed")
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LIVEACK_APP_ID", "env-app")
	t.Setenv("LIVEACK_TOKEN", "env-token")
	t.Setenv("LIVEACK_TRANSPORT", "log")
	t.Setenv("LIVEACK_METRICS_ADDR", ":9300")
	t.Setenv("LIVEACK_HTTP_ADDR", ":8099")
	t.Setenv("LIVEACK_KAFKA_BROKERS", " a:1 , ,b:2")

	path := writeConfig(t, "app:\n  app_id: file-app\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.AppID != "env-app" || cfg.App.Token != "env-token" {
		t.Fatalf("env must win over the file: %+v", cfg.App)
	}
	if cfg.Transport.Name != "log" || cfg.Telemetry.MetricsAddr != ":9300" || cfg.API.Addr != ":8099" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if got := cfg.Transport.Kafka.Brokers; len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Fatalf("brokers: got %v", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.Default()
		cfg.App.AppID = "app"
		cfg.App.Token = "tok"
		return cfg
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"unknown transport", func(c *config.Config) { c.Transport.Name = "carrier-pigeon" }},
		{"http without token", func(c *config.Config) { c.App.Token = "" }},
		{"missing app id", func(c *config.Config) { c.App.AppID = "" }},
		{"zero tick", func(c *config.Config) { c.Pipeline.TickInterval = 0 }},
		{"zero submit timeout", func(c *config.Config) { c.Pipeline.SubmitTimeout = 0 }},
		{"negative fallback", func(c *config.Config) { c.Pipeline.FallbackMaxCount = -1 }},
		{"journal without path", func(c *config.Config) {
			c.Transport.Name = transport.NameJournal
			c.Transport.Journal.Path = ""
		}},
		{"backoff inverted", func(c *config.Config) {
			c.Push.MinBackoff = time.Minute
			c.Push.MaxBackoff = time.Second
		}},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	t.Run("malformed initial config", func(t *testing.T) {
		cfg := valid()
		cfg.Pipeline.InitialConfigs = []ack.TypeConfig{{MessageType: "live_like", AckType: 3}}
		if err := cfg.Validate(); !errors.Is(err, ack.ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("room disabled needs no app id", func(t *testing.T) {
		cfg := valid()
		cfg.App.AppID = ""
		cfg.Room.Disabled = true
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestOptionsMapping(t *testing.T) {
	cfg := config.Default()
	cfg.App.AppID = "app"
	cfg.App.Token = "tok"
	cfg.Pipeline.FallbackMaxCount = 7

	po := cfg.PipelineOptions()
	if po.AppID != "app" || po.Fallback.BatchMaxCount != 7 || po.TickInterval != cfg.Pipeline.TickInterval {
		t.Fatalf("pipeline options: %+v", po)
	}
	to := cfg.TransportOptions("sess-1")
	if to.Token != "tok" || to.SessionID != "sess-1" || to.RedisList != transport.DefaultRedisList {
		t.Fatalf("transport options: %+v", to)
	}
}
