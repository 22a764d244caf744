// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the UOE Q&A backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the API root of a locally running backend.
	DefaultBaseURL = "http://localhost:8000/api"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultHealthTimeout bounds a single liveness probe.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultNamespacesTTL is how long a namespaces listing is reused.
	DefaultNamespacesTTL = 10 * time.Minute

	// DefaultRequestsPerSecond and DefaultBurst shape the outbound throttle.
	DefaultRequestsPerSecond = 5.0
	DefaultBurst             = 5

	// MaxResponseSize caps non-streaming response bodies.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024

	namespacesCacheKey = "namespaces"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	// sharedStreamingClient has no timeout; streams are bounded by context.
	sharedStreamingClient = &http.Client{Transport: sharedTransport}

	tracer = otel.Tracer("github.com/jeranaias/uoe-chat/internal/api")
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. "https://uoe.example.edu/api".
	BaseURL string

	// HealthURL is the backend root used for /health.
	// Derived from BaseURL when empty.
	HealthURL string

	// Timeout bounds non-streaming requests.
	Timeout time.Duration

	// HealthTimeout bounds a liveness probe.
	HealthTimeout time.Duration

	// RequestsPerSecond and Burst throttle chat and feedback requests.
	// A negative RequestsPerSecond disables the throttle.
	RequestsPerSecond float64
	Burst             int

	// NamespacesTTL is how long a namespaces listing is cached.
	NamespacesTTL time.Duration

	// Logger receives request diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// HTTPClient overrides the pooled clients (tests).
	HTTPClient *http.Client
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           DefaultBaseURL,
		Timeout:           DefaultTimeout,
		HealthTimeout:     DefaultHealthTimeout,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		NamespacesTTL:     DefaultNamespacesTTL,
	}
}

// HealthURLFromBase derives the backend root from the API root by
// stripping a trailing "/api".
func HealthURLFromBase(base string) string {
	base = strings.TrimSuffix(base, "/")
	return strings.TrimSuffix(base, "/api")
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the Q&A backend.
type Client struct {
	baseURL       string
	healthURL     string
	timeout       time.Duration
	healthTimeout time.Duration

	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	cache        *gocache.Cache
	cacheTTL     time.Duration
	logger       *zap.Logger
}

// NewClient creates a client, filling zero fields of cfg from DefaultClientConfig.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.HealthURL == "" {
		cfg.HealthURL = HealthURLFromBase(cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.NamespacesTTL <= 0 {
		cfg.NamespacesTTL = def.NamespacesTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond < 0 {
		limit = rate.Inf
	}

	c := &Client{
		baseURL:       cfg.BaseURL,
		healthURL:     strings.TrimSuffix(cfg.HealthURL, "/"),
		timeout:       cfg.Timeout,
		healthTimeout: cfg.HealthTimeout,
		httpClient:    &http.Client{Transport: sharedTransport, Timeout: cfg.Timeout},
		streamClient:  sharedStreamingClient,
		limiter:       rate.NewLimiter(limit, cfg.Burst),
		cache:         gocache.New(cfg.NamespacesTTL, 2*cfg.NamespacesTTL),
		cacheTTL:      cfg.NamespacesTTL,
		logger:        cfg.Logger.Named("api"),
	}
	if cfg.HTTPClient != nil {
		c.httpClient = cfg.HTTPClient
		c.streamClient = cfg.HTTPClient
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthURL returns the backend root probed by CheckHealth.
func (c *Client) HealthURL() string {
	return c.healthURL
}

// =============================================================================
// HEALTH
// =============================================================================

// CheckHealth probes {backend}/health. It returns true only for a 2xx reply
// and false on any failure, including timeout and cancellation.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "api.health")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL+"/health", nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		c.logger.Debug("health probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// =============================================================================
// NON-STREAMING CHAT
// =============================================================================

// Chat sends a query to {api}/chat and waits for the full answer.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "api.chat", trace.WithAttributes(chatAttributes(req)...))
	defer span.End()

	var out ChatResponse
	if err := c.postJSON(ctx, "/chat", "Request", req, &out); err != nil {
		endSpan(span, err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return &out, nil
}

// =============================================================================
// FEEDBACK
// =============================================================================

// SubmitFeedback rates an answer. Score is 1 for thumbs-up and 0 for thumbs-down.
func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) (*FeedbackResponse, error) {
	ctx, span := tracer.Start(ctx, "api.feedback", trace.WithAttributes(
		attribute.String("feedback.run_id", req.RunID),
		attribute.Int("feedback.score", req.Score),
	))
	defer span.End()

	var out FeedbackResponse
	if err := c.postJSON(ctx, "/feedback", "Feedback request", req, &out); err != nil {
		endSpan(span, err)
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// NAMESPACES
// =============================================================================

// Namespaces lists the knowledge bases the backend serves.
// Results are cached for the configured TTL.
func (c *Client) Namespaces(ctx context.Context) ([]string, error) {
	if cached, ok := c.cache.Get(namespacesCacheKey); ok {
		return append([]string(nil), cached.([]string)...), nil
	}

	ctx, span := tracer.Start(ctx, "api.namespaces")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/namespaces", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		endSpan(span, err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := newRequestError("Namespaces request", resp.StatusCode, body)
		endSpan(span, err)
		return nil, err
	}

	namespaces, err := decodeNamespaces(body)
	if err != nil {
		return nil, err
	}
	c.cache.Set(namespacesCacheKey, namespaces, c.cacheTTL)
	return append([]string(nil), namespaces...), nil
}

// decodeNamespaces accepts {"namespaces": [...]} or a bare list.
func decodeNamespaces(body []byte) ([]string, error) {
	var wrapped struct {
		Namespaces []string `json:"namespaces"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Namespaces != nil {
		return wrapped.Namespaces, nil
	}
	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	return nil, ErrInvalidNamespaces
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// postJSON posts in as JSON to path and decodes a 2xx reply into out.
func (c *Client) postJSON(ctx context.Context, path, what string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	bodyBytes, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("api response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newRequestError(what, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func chatAttributes(req ChatRequest) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("chat.namespace", req.Namespace.String()),
		attribute.Bool("chat.has_session", req.SessionID != ""),
		attribute.Bool("chat.enable_smart", req.EnableSmart),
		attribute.Int("chat.top_k", req.TopKRetrieve),
	}
}

func endSpan(span trace.Span, err error) {
	if IsCanceled(err) {
		span.SetStatus(codes.Unset, "canceled")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
