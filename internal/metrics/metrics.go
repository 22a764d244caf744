// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes client-side Prometheus metrics.
//
// Collectors live on a private registry so tests and multiple clients in one
// process never collide on the default registerer.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons for SendsRejected.
const (
	ReasonEmpty    = "empty"
	ReasonBusy     = "busy"
	ReasonMaxTurns = "max_turns"
)

// Outcomes for SendsCompleted.
const (
	OutcomeStreamed  = "streamed"
	OutcomeFallback  = "fallback"
	OutcomeErrored   = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the client's collectors.
type Metrics struct {
	registry *prometheus.Registry

	SendsAccepted     prometheus.Counter
	SendsRejected     *prometheus.CounterVec
	SendsCompleted    *prometheus.CounterVec
	StreamErrors      prometheus.Counter
	FirstTokenSeconds prometheus.Histogram
	SendSeconds       *prometheus.HistogramVec
	FeedbackSubmitted *prometheus.CounterVec
	BackendUp         prometheus.Gauge
	HealthProbes      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SendsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "uoechat_sends_accepted_total",
			Help: "Total number of queries accepted for sending",
		}),
		SendsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uoechat_sends_rejected_total",
			Help: "Total number of queries rejected before any request",
		}, []string{"reason"}),
		SendsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uoechat_sends_completed_total",
			Help: "Total number of sends by terminal outcome",
		}, []string{"outcome"}),
		StreamErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "uoechat_stream_errors_total",
			Help: "Total number of streams that failed and triggered the fallback",
		}),
		FirstTokenSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "uoechat_first_token_seconds",
			Help:    "Time from request to first streamed token",
			Buckets: prometheus.DefBuckets,
		}),
		SendSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uoechat_send_duration_seconds",
			Help:    "Duration of a send from acceptance to terminal state",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"outcome"}),
		FeedbackSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uoechat_feedback_submitted_total",
			Help: "Total number of feedback submissions by vote and result",
		}, []string{"vote", "result"}),
		BackendUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "uoechat_backend_up",
			Help: "1 if the last health probe succeeded, 0 otherwise",
		}),
		HealthProbes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uoechat_health_probes_total",
			Help: "Total number of health probes by result",
		}, []string{"result"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
