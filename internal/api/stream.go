// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// =============================================================================
// FRAME DECODING
// =============================================================================

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"

	// defaultStreamError is reported when an error frame carries no text.
	defaultStreamError = "Stream error"
)

// FrameKind tags a decoded stream frame.
type FrameKind int

const (
	// FrameSkip is a line that carries nothing for the client.
	FrameSkip FrameKind = iota
	// FrameDone terminates the stream.
	FrameDone
	// FrameToken carries answer text.
	FrameToken
	// FrameMetadata carries sources, Smart-RAG info and ids.
	FrameMetadata
	// FrameError reports a server-side failure.
	FrameError
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameDone:
		return "done"
	case FrameToken:
		return "token"
	case FrameMetadata:
		return "metadata"
	case FrameError:
		return "error"
	default:
		return "skip"
	}
}

// Frame is one decoded "data: " line. Exactly the fields matching Kind are set.
type Frame struct {
	Kind     FrameKind
	Token    string    // FrameToken
	Raw      bool      // FrameToken: payload was not JSON and is passed through verbatim
	Metadata *Metadata // FrameMetadata
	Message  string    // FrameError
}

// DecodeFrame decodes a single line of the event stream, without its newline.
// Lines not starting with "data: " are skipped. A payload that is not JSON is
// delivered as a literal token.
func DecodeFrame(line string) Frame {
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{Kind: FrameSkip}
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return Frame{Kind: FrameSkip}
	}
	if payload == doneMarker {
		return Frame{Kind: FrameDone}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		if json.Valid([]byte(payload)) {
			// JSON, but not an object: nothing to dispatch on.
			return Frame{Kind: FrameSkip}
		}
		return Frame{Kind: FrameToken, Token: payload, Raw: true}
	}

	switch stringField(obj, "type") {
	case "token":
		content := stringField(obj, "content")
		if content == "" {
			return Frame{Kind: FrameSkip}
		}
		return Frame{Kind: FrameToken, Token: content}

	case "metadata":
		md := &Metadata{Raw: json.RawMessage(payload)}
		// Mistyped fields are left zero; the rest still decode.
		_ = json.Unmarshal([]byte(payload), md)
		return Frame{Kind: FrameMetadata, Metadata: md}

	case "error":
		msg := stringField(obj, "message")
		if msg == "" {
			msg = stringField(obj, "content")
		}
		if msg == "" {
			msg = defaultStreamError
		}
		return Frame{Kind: FrameError, Message: msg}
	}
	return Frame{Kind: FrameSkip}
}

// stringField returns obj[key] if it is a JSON string.
func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamHandlers receive the events of one streamed answer.
// Nil handlers are ignored. OnDone and OnError are mutually exclusive and
// fire at most once; neither fires after the context is cancelled.
type StreamHandlers struct {
	OnToken    func(token string)
	OnMetadata func(md Metadata)
	OnDone     func()
	OnError    func(err error)
}

func (h StreamHandlers) token(s string) {
	if h.OnToken != nil {
		h.OnToken(s)
	}
}

func (h StreamHandlers) metadata(md Metadata) {
	if h.OnMetadata != nil {
		h.OnMetadata(md)
	}
}

func (h StreamHandlers) done() {
	if h.OnDone != nil {
		h.OnDone()
	}
}

func (h StreamHandlers) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// StreamStats summarizes one stream for logging.
type StreamStats struct {
	FirstTokenTime time.Duration
	TotalTime      time.Duration
	TokenCount     int
}

// ChatStream posts req to {api}/chat/stream and dispatches frames to h as
// they arrive. It returns when the stream terminates. Every outcome is
// reported through h; cancellation of ctx ends the stream with no callback.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, h StreamHandlers) {
	ctx, span := tracer.Start(ctx, "api.chat_stream", trace.WithAttributes(chatAttributes(req)...))
	defer span.End()

	stats, err := c.stream(ctx, req, h)
	span.SetAttributes(
		attribute.Int("stream.tokens", stats.TokenCount),
		attribute.Int64("stream.ttft_ms", stats.FirstTokenTime.Milliseconds()),
	)

	switch {
	case ctx.Err() != nil:
		span.SetStatus(codes.Unset, "canceled")
		c.logger.Debug("stream canceled", zap.Int("tokens", stats.TokenCount))
	case err != nil:
		endSpan(span, err)
		c.logger.Warn("stream failed", zap.Error(err), zap.Int("tokens", stats.TokenCount))
		h.fail(err)
	default:
		span.SetStatus(codes.Ok, "")
		c.logger.Debug("stream complete",
			zap.Int("tokens", stats.TokenCount),
			zap.Duration("ttft", stats.FirstTokenTime),
			zap.Duration("total", stats.TotalTime))
	}
}

// stream runs the request and the read loop. It calls OnToken, OnMetadata
// and OnDone itself; a non-nil error is left for the caller to report.
func (c *Client) stream(ctx context.Context, req ChatRequest, h StreamHandlers) (StreamStats, error) {
	var stats StreamStats
	start := time.Now()
	defer func() { stats.TotalTime = time.Since(start) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return stats, err
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return stats, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(bodyBytes))
	if err != nil {
		return stats, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return stats, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return stats, newRequestError("Stream request", resp.StatusCode, body)
	}

	// bufio keeps a partial line across network reads, so a frame split
	// between chunks is decoded only once its newline arrives.
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream ended without [DONE]; an unterminated tail is dropped.
				if ctx.Err() == nil {
					h.done()
				}
				return stats, nil
			}
			return stats, fmt.Errorf("read error: %w", err)
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		frame := DecodeFrame(strings.TrimRight(line, "\r\n"))
		switch frame.Kind {
		case FrameDone:
			h.done()
			return stats, nil
		case FrameToken:
			if stats.TokenCount == 0 {
				stats.FirstTokenTime = time.Since(start)
			}
			stats.TokenCount++
			h.token(frame.Token)
		case FrameMetadata:
			h.metadata(*frame.Metadata)
		case FrameError:
			return stats, &StreamError{Message: frame.Message}
		}
	}
}
