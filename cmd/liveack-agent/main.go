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

// Package main runs the liveack agent: it listens to the live-room push
// channel, acknowledges every interaction message it sees (and every message
// the game reports as consumed through the local API), and batches those acks
// to the ack endpoint according to the per-type config of the room.
//
// Quick start against the dry-run transport:
//
//	go run ./cmd/liveack-agent -transport=log -app_id=demo -no_room
//	curl -XPOST localhost:8087/ack -d '{"msg_id":"m1","msg_type":"live_gift"}'
//
// Gifts flush after 3 items or 10 seconds; Ctrl+C flushes what is left.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"liveack/internal/config"
	"liveack/internal/liveack/api"
	"liveack/internal/liveack/push"
	"liveack/internal/liveack/room"
	"liveack/internal/liveack/service"
	"liveack/internal/liveack/telemetry"
	"liveack/internal/liveack/transport"
	"liveack/pkg/ack"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env not loaded: %v\n", err)
	}

	configPath := flag.String("config", "liveack.yaml", "Path to the YAML config file (missing file = defaults)")
	token := flag.String("token", "", "Launch token; overrides app.token")
	appID := flag.String("app_id", "", "App id; overrides app.app_id")
	transportName := flag.String("transport", "", "Ack transport: http, redis, kafka, journal, log")
	httpAddr := flag.String("http_addr", "", "Local API listen address; overrides api.addr")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address")
	pushURL := flag.String("push_url", "", "Push channel websocket URL; overrides push.url")
	noRoom := flag.Bool("no_room", false, "Skip the room info fetch and run on the initial configs only")
	logLevel := flag.String("log_level", "", "debug, info, warn or error")
	replayJournal := flag.String("replay_journal", "", "Send every batch recorded in this journal file through the configured transport, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	overrideString(&cfg.App.Token, *token)
	overrideString(&cfg.App.AppID, *appID)
	overrideString(&cfg.Transport.Name, *transportName)
	overrideString(&cfg.API.Addr, *httpAddr)
	overrideString(&cfg.Telemetry.MetricsAddr, *metricsAddr)
	overrideString(&cfg.Push.URL, *pushURL)
	overrideString(&cfg.Log.Level, *logLevel)
	if *noRoom {
		cfg.Room.Disabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if *replayJournal != "" {
		if err := replay(cfg, logger, *replayJournal); err != nil {
			logger.Error("journal replay failed", "path", *replayJournal, "err", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("liveack agent failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	sessionID := uuid.NewString()
	logger.Info("liveack agent starting", "session_id", sessionID, "app_id", cfg.App.AppID, "transport", cfg.Transport.Name)

	topts := cfg.TransportOptions(sessionID)
	topts.Logger = logger
	tr, closer, err := transport.BuildTransport(cfg.Transport.Name, topts)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("transport close failed", "err", err)
		}
	}()

	// metrics only reads the snapshot once Start has run, after pipeline is set.
	var pipeline *ack.Pipeline
	metrics := telemetry.New(telemetry.Config{
		MetricsAddr: cfg.Telemetry.MetricsAddr,
		LogInterval: cfg.Telemetry.LogInterval,
		Snapshot:    func() []ack.StateSnapshot { return pipeline.Snapshot() },
		Logger:      logger,
	})
	popts := cfg.PipelineOptions()
	popts.Logger = logger
	popts.Observer = metrics
	pipeline = ack.NewPipeline(tr, popts)

	if len(cfg.Pipeline.InitialConfigs) > 0 {
		if err := pipeline.Reconfigure(cfg.Pipeline.InitialConfigs); err != nil {
			return fmt.Errorf("initial ack configs: %w", err)
		}
	}

	rooms := room.NewService(room.Options{
		Endpoint:       cfg.Room.Endpoint,
		AppID:          cfg.App.AppID,
		Token:          cfg.App.Token,
		RequestTimeout: cfg.Room.RequestTimeout,
		Logger:         logger,
	})
	svc := service.New(pipeline, rooms, logger)
	if err := svc.Start(); err != nil {
		return err
	}
	metrics.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Room.Disabled {
		go func() {
			if _, err := rooms.FetchOnStart(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("running without room info", "err", err)
			}
		}()
	}

	var wg sync.WaitGroup
	var pushClient *push.Client
	if cfg.Push.URL != "" {
		header := http.Header{}
		header.Set(transport.HeaderToken, cfg.App.Token)
		header.Set(transport.HeaderSessionID, sessionID)
		pushClient = push.NewClient(push.Options{
			URL:        cfg.Push.URL,
			Header:     header,
			MinBackoff: cfg.Push.MinBackoff,
			MaxBackoff: cfg.Push.MaxBackoff,
			Logger:     logger,
		})
		svc.AttachPush(pushClient)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pushClient.Run(ctx); err != nil {
				logger.Warn("push client stopped", "err", err)
			}
		}()
	}

	var server *api.Server
	if cfg.API.Addr != "" {
		apiOpts := api.Options{
			APIKey:     cfg.API.APIKey,
			RatePerSec: cfg.API.RatePerSec,
			Burst:      cfg.API.Burst,
			Logger:     logger,
		}
		if cfg.Telemetry.MetricsAddr == "" {
			apiOpts.Metrics = metrics.Handler()
		}
		server = api.NewServer(svc, apiOpts)
		go func() {
			logger.Info("local ack API listening", "addr", cfg.API.Addr)
			if err := server.ListenAndServe(cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("local ack API stopped", "addr", cfg.API.Addr, "err", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down liveack agent")

	// push first so nothing new arrives, then the API, then the pipeline
	// flushes what is left within the grace period.
	if pushClient != nil {
		pushClient.Close()
		wg.Wait()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownGrace+time.Second)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("local ack API shutdown failed", "err", err)
		}
	}
	graceCtx, cancelGrace := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownGrace)
	defer cancelGrace()
	_ = svc.Shutdown(graceCtx) // the pipeline logs the outcome

	metrics.Stop()
	metrics.PublishSummary()
	logger.Info("liveack agent stopped")
	return nil
}

// replay drains a journal recorded by the journal transport into the
// configured transport. The journal is left intact; relays dedupe on batch id.
func replay(cfg *config.Config, logger *slog.Logger, path string) error {
	if cfg.Transport.Name == transport.NameJournal && cfg.Transport.Journal.Path == path {
		return errors.New("cannot replay a journal into itself")
	}
	journal, err := transport.OpenJournal(path)
	if err != nil {
		return err
	}
	defer journal.Close()

	topts := cfg.TransportOptions(uuid.NewString())
	topts.Logger = logger
	tr, closer, err := transport.BuildTransport(cfg.Transport.Name, topts)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer closer.Close()

	total, err := journal.Len()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sent, err := journal.Replay(ctx, tr)
	logger.Info("journal replayed", "path", path, "transport", cfg.Transport.Name, "sent", sent, "recorded", total)
	return err
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
