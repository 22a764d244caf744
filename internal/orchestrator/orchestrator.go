// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator drives a query from acceptance to a final assistant
// message.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/metrics"
	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/store"
)

// =============================================================================
// ERRORS & CONSTANTS
// =============================================================================

// ErrorReply is recorded as the answer when both the stream and the
// non-streaming fallback fail.
const ErrorReply = "Sorry, I encountered an error processing your request. Please try again."

// errorReplyMarker identifies an ErrorReply message for the retry affordance.
const errorReplyMarker = "Sorry, I encountered an error"

// DefaultMaxQueryLength is the longest query the front ends accept, in characters.
const DefaultMaxQueryLength = 2000

var (
	// ErrEmptyQuery rejects a query that is blank after trimming.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrBusy rejects a send while another is outstanding.
	ErrBusy = errors.New("a response is still in progress")

	// ErrMaxTurns rejects a send once the conversation hit its turn cap.
	ErrMaxTurns = errors.New("conversation reached the maximum number of turns")

	// ErrQueryTooLong rejects an over-long query at the input gate.
	ErrQueryTooLong = errors.New("query is too long")

	// ErrOffline rejects input while the backend is known to be down.
	ErrOffline = errors.New("backend is offline")

	// ErrNothingToRetry is returned by Retry before any query was sent.
	ErrNothingToRetry = errors.New("no previous query to retry")
)

// IsErrorReply returns true if content is the fallback apology.
func IsErrorReply(content string) bool {
	return strings.Contains(content, errorReplyMarker)
}

// Outcome is how an accepted send ended.
type Outcome int

const (
	// OutcomeStreamed means the answer arrived over the stream.
	OutcomeStreamed Outcome = iota
	// OutcomeFallback means the stream failed and the non-streaming request answered.
	OutcomeFallback
	// OutcomeErrored means both requests failed and ErrorReply was recorded.
	OutcomeErrored
	// OutcomeCancelled means the send was stopped or superseded.
	OutcomeCancelled
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeStreamed:
		return metrics.OutcomeStreamed
	case OutcomeFallback:
		return metrics.OutcomeFallback
	case OutcomeErrored:
		return metrics.OutcomeErrored
	default:
		return metrics.OutcomeCancelled
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// ChatClient is the subset of the backend client the orchestrator needs.
type ChatClient interface {
	Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	ChatStream(ctx context.Context, req api.ChatRequest, h api.StreamHandlers)
	SubmitFeedback(ctx context.Context, req api.FeedbackRequest) (*api.FeedbackResponse, error)
}

// Options configures an Orchestrator.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Orchestrator serializes sends against one store.
type Orchestrator struct {
	store   *store.Store
	client  ChatClient
	logger  *zap.Logger
	metrics *metrics.Metrics

	// mu guards the generation bookkeeping and orders guarded store writes
	// against Stop.
	mu     sync.Mutex
	gen    uint64
	active uint64 // generation of the outstanding send, 0 when idle
	cancel context.CancelFunc
}

// New creates an orchestrator for s using client.
func New(s *store.Store, client ChatClient, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Orchestrator{
		store:   s,
		client:  client,
		logger:  opts.Logger.Named("orchestrator"),
		metrics: opts.Metrics,
	}
}

// Store returns the store this orchestrator writes to.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Busy reports whether a send is outstanding.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != 0
}

// =============================================================================
// SEND
// =============================================================================

// Send submits query and blocks until the send reaches a terminal state.
// A rejected query returns ErrEmptyQuery, ErrBusy or ErrMaxTurns and changes
// nothing. An accepted send returns a nil error; failures of the request
// itself are recorded in the conversation, not returned.
func (o *Orchestrator) Send(ctx context.Context, query string) (Outcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		o.metrics.SendsRejected.WithLabelValues(metrics.ReasonEmpty).Inc()
		return OutcomeCancelled, ErrEmptyQuery
	}

	o.mu.Lock()
	if o.active != 0 || o.store.IsStreaming() {
		o.mu.Unlock()
		o.metrics.SendsRejected.WithLabelValues(metrics.ReasonBusy).Inc()
		return OutcomeCancelled, ErrBusy
	}
	if o.store.IsMaxTurns() {
		o.mu.Unlock()
		o.metrics.SendsRejected.WithLabelValues(metrics.ReasonMaxTurns).Inc()
		return OutcomeCancelled, ErrMaxTurns
	}

	if o.cancel != nil {
		o.cancel()
	}
	o.gen++
	gen := o.gen
	o.active = gen
	sendCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.store.AddUserMessage(query)
	req := api.NewChatRequest(query, o.store.Namespace(), o.store.SessionID(), o.store.Settings())
	o.store.StartStreaming()
	o.mu.Unlock()

	o.metrics.SendsAccepted.Inc()
	start := time.Now()
	log := o.logger.With(zap.Uint64("send", gen), zap.String("namespace", req.Namespace.String()))
	log.Info("send accepted", zap.Int("query_len", len(query)), zap.Bool("has_session", req.SessionID != ""))

	outcome := o.run(sendCtx, gen, req, log)

	o.finish(gen, cancel)
	o.metrics.SendsCompleted.WithLabelValues(outcome.String()).Inc()
	o.metrics.SendSeconds.WithLabelValues(outcome.String()).Observe(time.Since(start).Seconds())
	log.Info("send finished", zap.Stringer("outcome", outcome), zap.Duration("elapsed", time.Since(start)))
	return outcome, nil
}

// run streams the answer and falls back on failure.
func (o *Orchestrator) run(ctx context.Context, gen uint64, req api.ChatRequest, log *zap.Logger) Outcome {
	var (
		meta      model.Meta
		streamErr error
		finished  bool
		gotToken  bool
		start     = time.Now()
	)

	o.client.ChatStream(ctx, req, api.StreamHandlers{
		OnToken: func(token string) {
			if !gotToken {
				gotToken = true
				o.metrics.FirstTokenSeconds.Observe(time.Since(start).Seconds())
			}
			o.apply(gen, func() { o.store.AppendStreamToken(token) })
		},
		OnMetadata: func(md api.Metadata) {
			mergeMeta(&meta, md)
			if md.SessionID != "" {
				o.apply(gen, func() { o.store.SetSessionID(md.SessionID) })
			}
		},
		OnDone: func() {
			finished = o.apply(gen, func() { o.store.FinishStreaming(meta) })
		},
		OnError: func(err error) {
			streamErr = err
		},
	})

	if streamErr == nil {
		if finished {
			return OutcomeStreamed
		}
		// Cancelled, or the stream ended with no terminal callback.
		o.apply(gen, o.store.CancelStreaming)
		return OutcomeCancelled
	}

	o.metrics.StreamErrors.Inc()
	log.Warn("stream failed, falling back to non-streaming", zap.Error(streamErr))
	if !o.apply(gen, o.store.CancelStreaming) {
		return OutcomeCancelled
	}

	resp, err := o.client.Chat(ctx, req)
	if err != nil {
		if api.IsCanceled(err) || ctx.Err() != nil {
			return OutcomeCancelled
		}
		log.Error("fallback request failed", zap.Error(err))
		if !o.apply(gen, func() { o.store.AddAssistantMessage(ErrorReply, model.Meta{}) }) {
			return OutcomeCancelled
		}
		return OutcomeErrored
	}

	applied := o.apply(gen, func() {
		if resp.SessionID != "" {
			o.store.SetSessionID(resp.SessionID)
		}
		o.store.AddAssistantMessage(resp.Answer, resp.Meta())
	})
	if !applied {
		return OutcomeCancelled
	}
	return OutcomeFallback
}

// mergeMeta folds a metadata frame into the buffered finalize metadata.
func mergeMeta(meta *model.Meta, md api.Metadata) {
	if md.Sources != nil {
		meta.Sources = md.Sources
	}
	if md.SmartInfo != nil {
		meta.SmartInfo = md.SmartInfo
	}
	if md.EnhancedQuery != "" {
		meta.EnhancedQuery = md.EnhancedQuery
	}
	if md.RunID != "" {
		meta.RunID = md.RunID
	}
}

// apply runs fn only if gen is still the current send. It reports whether fn ran.
func (o *Orchestrator) apply(gen uint64, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return false
	}
	fn()
	return true
}

// finish marks gen idle and releases its context.
func (o *Orchestrator) finish(gen uint64, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == gen {
		o.active = 0
	}
	if o.gen == gen {
		o.cancel = nil
	}
	cancel()
}

// =============================================================================
// STOP / RETRY / RESET
// =============================================================================

// Stop aborts the in-flight request, streaming or fallback, and removes any
// partially streamed message. It is safe to call when idle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

// stopLocked invalidates the current generation. o.mu must be held.
func (o *Orchestrator) stopLocked() {
	if o.active != 0 {
		o.logger.Info("send stopped", zap.Uint64("send", o.active))
	}
	o.gen++
	o.active = 0
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.store.CancelStreaming()
}

// Retry resends the most recent user query.
func (o *Orchestrator) Retry(ctx context.Context) (Outcome, error) {
	q := o.store.LastUserQuery()
	if q == "" {
		return OutcomeCancelled, ErrNothingToRetry
	}
	return o.Send(ctx, q)
}

// NewChat stops any send and clears the conversation. No send can be
// accepted between the stop and the reset.
func (o *Orchestrator) NewChat() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	o.store.NewChat()
}

// SwitchNamespace stops any send and moves the conversation to ns.
func (o *Orchestrator) SwitchNamespace(ns model.Namespace) error {
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", store.ErrUnknownNamespace, ns)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	return o.store.SetNamespace(ns)
}

// =============================================================================
// INPUT GATE
// =============================================================================

// CanSend applies the input box rules on top of Send's own: the query must
// fit in maxLen characters and the backend must not be known to be offline.
// A maxLen of zero uses DefaultMaxQueryLength.
func (o *Orchestrator) CanSend(query string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxQueryLength
	}
	trimmed := strings.TrimSpace(query)
	switch {
	case trimmed == "":
		return ErrEmptyQuery
	case QueryLength(query) > maxLen:
		return fmt.Errorf("%w: %d of %d characters", ErrQueryTooLong, QueryLength(query), maxLen)
	case o.Busy() || o.store.IsStreaming():
		return ErrBusy
	case o.store.IsMaxTurns():
		return ErrMaxTurns
	case o.store.Online() == model.OnlineNo:
		return ErrOffline
	}
	return nil
}

// QueryLength counts characters of the NFC-normalized query.
func QueryLength(query string) int {
	return len([]rune(norm.NFC.String(query)))
}
