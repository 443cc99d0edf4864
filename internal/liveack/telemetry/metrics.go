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


// Package telemetry exports pipeline activity as Prometheus metrics and a
// periodic log summary. Metrics implements ack.Observer.
package telemetry

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveack/pkg/ack"
)

// Config controls the telemetry module.
//
//   - MetricsAddr, when non-empty, starts a dedicated HTTP server for /metrics.
//     Leave it empty when /metrics is mounted on another mux via Handler.
//   - LogInterval > 0 starts the summary loop, which also refreshes the
//     pending gauge from Snapshot.
type Config struct {
	MetricsAddr string
	LogInterval time.Duration
	Registry    *prometheus.Registry // nil creates a private registry
	Snapshot    func() []ack.StateSnapshot
	Logger      *slog.Logger
}

// Metrics is the Prometheus-backed ack.Observer.
type Metrics struct {
	cfg      Config
	registry *prometheus.Registry
	logger   *slog.Logger

	ingestedTotal  *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	flushesTotal   *prometheus.CounterVec
	batchItems     prometheus.Histogram
	batchWait      prometheus.Histogram
	submitsTotal   *prometheus.CounterVec
	submitDuration prometheus.Histogram
	pending        *prometheus.GaugeVec
	reductionRatio prometheus.Gauge

	// raw tallies for the summary loop
	itemsSubmitted atomic.Int64
	requestsSent   atomic.Int64
	submitErrors   atomic.Int64

	loopMu   sync.Mutex
	loopStop chan struct{}
	loopDone chan struct{}
	server   *http.Server
}

// New creates and registers the metrics. Call Start to launch the optional
// endpoint and summary loop.
func New(cfg Config) *Metrics {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Metrics{
		cfg:      cfg,
		registry: reg,
		logger:   logger,
		ingestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveack_records_ingested_total",
			Help: "Records queued for acknowledgment",
		}, []string{"msg_type", "ack_type"}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveack_records_rejected_total",
			Help: "Records rejected by validation",
		}, []string{"reason"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveack_records_dropped_total",
			Help: "Records dropped because their type has no ack config",
		}, []string{"msg_type", "ack_type"}),
		flushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveack_flushes_total",
			Help: "Batches drained, by trigger",
		}, []string{"trigger"}),
		batchItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveack_batch_items",
			Help:    "Distribution of items per flushed batch",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100, 200, 500},
		}),
		batchWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveack_batch_wait_seconds",
			Help:    "How long the oldest item of a batch waited before the flush",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		submitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveack_submits_total",
			Help: "Ack submissions by result",
		}, []string{"result"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveack_submit_duration_seconds",
			Help:    "Latency of ack submissions",
			Buckets: prometheus.DefBuckets,
		}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveack_pending_records",
			Help: "Records currently queued, per type and phase",
		}, []string{"msg_type", "ack_type"}),
		reductionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liveack_request_reduction_ratio",
			Help: "Fraction of per-message requests avoided by batching (1 - requests/items)",
		}),
	}
	reg.MustRegister(m.ingestedTotal, m.rejectedTotal, m.droppedTotal, m.flushesTotal, m.batchItems,
		m.batchWait, m.submitsTotal, m.submitDuration, m.pending, m.reductionRatio)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func phaseLabel(k ack.Key) string { return strconv.Itoa(int(k.Phase)) }

// OnIngested implements ack.Observer.
func (m *Metrics) OnIngested(k ack.Key) {
	m.ingestedTotal.WithLabelValues(k.MessageType, phaseLabel(k)).Inc()
}

// OnRejected implements ack.Observer.
func (m *Metrics) OnRejected(err error) {
	m.rejectedTotal.WithLabelValues(rejectReason(err)).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ack.ErrEmptyMessageID):
		return "empty_msg_id"
	case errors.Is(err, ack.ErrEmptyMessageType):
		return "empty_msg_type"
	case errors.Is(err, ack.ErrInvalidPhase):
		return "invalid_phase"
	default:
		return "other"
	}
}

// OnDropped implements ack.Observer.
func (m *Metrics) OnDropped(k ack.Key) {
	m.droppedTotal.WithLabelValues(k.MessageType, phaseLabel(k)).Inc()
}

// OnFlushed implements ack.Observer.
func (m *Metrics) OnFlushed(b ack.Batch) {
	m.flushesTotal.WithLabelValues(b.Trigger.String()).Inc()
	m.batchItems.Observe(float64(len(b.Items)))
	m.batchWait.Observe(float64(b.WaitedMs) / 1000)
}

// OnSubmitted implements ack.Observer.
func (m *Metrics) OnSubmitted(b ack.Batch, took time.Duration, err error) {
	if err != nil {
		m.submitsTotal.WithLabelValues("error").Inc()
		m.submitErrors.Add(1)
		return
	}
	m.submitsTotal.WithLabelValues("ok").Inc()
	m.submitDuration.Observe(took.Seconds())
	items := m.itemsSubmitted.Add(int64(len(b.Items)))
	reqs := m.requestsSent.Add(1)
	m.reductionRatio.Set(reductionRatio(items, reqs))
}

func reductionRatio(items, requests int64) float64 {
	if items <= 0 {
		return 0
	}
	return 1 - float64(requests)/float64(items)
}

// Start launches the metrics endpoint and the summary loop as configured.
func (m *Metrics) Start() {
	if m.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		m.server = &http.Server{Addr: m.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("metrics endpoint stopped", "addr", m.cfg.MetricsAddr, "err", err)
			}
		}()
	}
	if m.cfg.LogInterval <= 0 {
		return
	}
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopStop != nil {
		return
	}
	m.loopStop = make(chan struct{})
	m.loopDone = make(chan struct{})
	go m.summaryLoop(m.loopStop, m.loopDone)
}

// Stop ends the summary loop and closes the endpoint.
func (m *Metrics) Stop() {
	m.loopMu.Lock()
	if m.loopStop != nil {
		close(m.loopStop)
		<-m.loopDone
		m.loopStop, m.loopDone = nil, nil
	}
	m.loopMu.Unlock()
	if m.server != nil {
		_ = m.server.Close()
	}
}

func (m *Metrics) summaryLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.PublishSummary()
		case <-stop:
			return
		}
	}
}

// Summary is the point-in-time totals logged by the summary loop.
type Summary struct {
	Pending        int
	ItemsSubmitted int64
	RequestsSent   int64
	SubmitErrors   int64
	ReductionRatio float64
}

// PublishSummary refreshes the pending gauge and logs the running totals.
func (m *Metrics) PublishSummary() Summary {
	s := Summary{
		ItemsSubmitted: m.itemsSubmitted.Load(),
		RequestsSent:   m.requestsSent.Load(),
		SubmitErrors:   m.submitErrors.Load(),
	}
	s.ReductionRatio = reductionRatio(s.ItemsSubmitted, s.RequestsSent)
	if m.cfg.Snapshot != nil {
		for _, st := range m.cfg.Snapshot() {
			m.pending.WithLabelValues(st.MessageType, strconv.Itoa(st.AckType)).Set(float64(st.PendingCount))
			s.Pending += st.PendingCount
		}
	}
	m.logger.Info("ack summary",
		"pending", s.Pending,
		"items_submitted", s.ItemsSubmitted,
		"requests", s.RequestsSent,
		"submit_errors", s.SubmitErrors,
		"request_reduction", strconv.FormatFloat(s.ReductionRatio*100, 'f', 1, 64)+"%")
	return s
}
