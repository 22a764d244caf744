// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package health polls backend liveness and publishes the result.
//
// A Monitor probes once immediately and then on a fixed interval. Each
// result overwrites the previous one; after Stop returns no further result
// is published, even from a probe that was already in flight.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/uoe-chat/internal/metrics"
)

// DefaultInterval is the time between probes.
const DefaultInterval = 30 * time.Second

// Prober reports whether the backend is reachable. It must not panic and
// must return within a bounded time.
type Prober interface {
	CheckHealth(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// CheckHealth implements Prober.
func (f ProberFunc) CheckHealth(ctx context.Context) bool {
	return f(ctx)
}

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Monitor periodically probes the backend.
type Monitor struct {
	prober   Prober
	sink     func(online bool)
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
	last    *bool
}

// NewMonitor creates a monitor that reports each probe result to sink.
func NewMonitor(prober Prober, sink func(online bool), opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Monitor{
		prober:   prober,
		sink:     sink,
		interval: opts.Interval,
		logger:   opts.Logger.Named("health"),
		metrics:  opts.Metrics,
	}
}

// Start launches the polling loop in the background. It is a no-op if the
// monitor is already running or has been stopped.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil || m.stopped {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		m.loop(ctx)
	}(m.done)
}

// Run polls until ctx is cancelled, then stops the monitor. It suits
// errgroup-style supervision; use Start/Stop otherwise.
func (m *Monitor) Run(ctx context.Context) error {
	m.Start(ctx)
	<-ctx.Done()
	m.Stop()
	return nil
}

// Stop ends polling and waits for the loop to exit. Results of a probe still
// in flight are discarded.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// CheckNow runs one probe and publishes its result.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	ok := m.prober.CheckHealth(ctx)
	m.publish(ctx, ok)
	return ok
}

func (m *Monitor) loop(ctx context.Context) {
	m.CheckNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// publish hands ok to the sink unless the monitor was torn down meanwhile.
func (m *Monitor) publish(ctx context.Context, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || ctx.Err() != nil {
		return
	}

	if m.metrics != nil {
		result := "down"
		if ok {
			result = "up"
			m.metrics.BackendUp.Set(1)
		} else {
			m.metrics.BackendUp.Set(0)
		}
		m.metrics.HealthProbes.WithLabelValues(result).Inc()
	}

	if m.last == nil || *m.last != ok {
		if ok {
			m.logger.Info("backend online")
		} else {
			m.logger.Warn("backend offline")
		}
	}
	m.last = &ok
	m.sink(ok)
}
