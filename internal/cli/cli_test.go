// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/config"
	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
	"github.com/jeranaias/uoe-chat/internal/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// isolate points the config directory at a temp home and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"UOE_API_URL", "VITE_API_URL", "UOE_NAMESPACE",
		"UOE_LOG_LEVEL", "UOE_LOG_FILE", "UOE_METRICS_ADDR",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
	return home
}

// backend fakes the chat API. A nil stream answers 500 on /chat/stream.
type backend struct {
	healthy bool
	stream  []string
	answer  string
	hits    map[string]int
	mu      sync.Mutex
}

func (b *backend) start(t *testing.T) *httptest.Server {
	t.Helper()
	b.hits = map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[r.URL.Path]++
		b.mu.Unlock()

		switch r.URL.Path {
		case "/health":
			if !b.healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, `{"status":"ok"}`)
		case "/api/namespaces":
			fmt.Fprint(w, `{"namespaces":["bs-adp","ms-phd","rules","archive"]}`)
		case "/api/chat/stream":
			if b.stream == nil {
				http.Error(w, `{"detail":"stream unavailable"}`, http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, line := range b.stream {
				fmt.Fprint(w, line)
				flusher.Flush()
			}
		case "/api/chat":
			if b.answer == "" {
				http.Error(w, `{"detail":"down"}`, http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"answer":%q,"session_id":"sess-9","run_id":"run-9","sources":[{"file":"rules.pdf","score":0.8,"page":4}]}`, b.answer)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

var helloStream = []string{
	"data: {\"type\":\"token\",\"content\":\"Hello \"}\n",
	"data: {\"type\":\"token\",\"content\":\"world\"}\n",
	"data: {\"type\":\"metadata\",\"session_id\":\"sess-1\",\"run_id\":\"run-1\",\"sources\":[{\"file\":\"a.pdf\",\"score\":0.9}],\"smart_info\":{\"used_fallback\":false}}\n",
	"data: [DONE]\n",
}

// run executes the command line and returns the exit code and both outputs.
func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), BuildInfo{Version: "1.2.3"}, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

type askEnvelope struct {
	Success   bool    `json:"success"`
	Data      AskData `json:"data"`
	Error     *string `json:"error"`
	ErrorType string  `json:"error_type"`
}

// =============================================================================
// ASK
// =============================================================================

func TestAskStreamingJSON(t *testing.T) {
	isolate(t)
	b := &backend{healthy: true, stream: helloStream}
	srv := b.start(t)

	code, out, errOut := run(t, "--api-url", srv.URL+"/api", "ask", "--json", "what", "is", "CS?")
	require.Equal(t, ExitSuccess, code, errOut)

	var env askEnvelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	assert.True(t, env.Success)
	assert.Equal(t, "what is CS?", env.Data.Query)
	assert.Equal(t, "bs-adp", env.Data.Namespace)
	assert.Equal(t, "Hello world", env.Data.Answer)
	assert.Equal(t, "streamed", env.Data.Outcome)
	assert.Equal(t, "run-1", env.Data.RunID)
	assert.Equal(t, "sess-1", env.Data.SessionID)
	assert.Equal(t, string(model.SmartStatePass), env.Data.SmartState)
	require.Len(t, env.Data.Sources, 1)
	assert.Equal(t, "a.pdf", env.Data.Sources[0].File)
	assert.Zero(t, b.count("/api/chat"))
}

func TestAskStreamingPrintsAnswer(t *testing.T) {
	isolate(t)
	b := &backend{healthy: true, stream: helloStream}
	srv := b.start(t)

	code, out, _ := run(t, "--api-url", srv.URL+"/api", "--namespace", "rules", "ask", "hostel?")
	require.Equal(t, ExitSuccess, code)
	assert.True(t, strings.HasPrefix(out, "Hello world\n"), out)
	assert.Contains(t, out, "Sources (1)")
	assert.Contains(t, out, "[1] a.pdf")
	assert.Contains(t, out, "90%")
}

func TestAskFallsBackWhenStreamFails(t *testing.T) {
	isolate(t)
	b := &backend{healthy: true, answer: "Fees are refundable within 7 days."}
	srv := b.start(t)

	code, out, _ := run(t, "--api-url", srv.URL+"/api", "ask", "--json", "refund?")
	require.Equal(t, ExitSuccess, code)

	var env askEnvelope
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, "fallback", env.Data.Outcome)
	assert.Equal(t, "Fees are refundable within 7 days.", env.Data.Answer)
	assert.Equal(t, "sess-9", env.Data.SessionID)
	assert.Equal(t, 1, b.count("/api/chat/stream"))
	assert.Equal(t, 1, b.count("/api/chat"))
}

func TestAskNoStream(t *testing.T) {
	isolate(t)
	b := &backend{healthy: true, answer: "Plain answer"}
	srv := b.start(t)

	code, out, _ := run(t, "--api-url", srv.URL+"/api", "ask", "--no-stream", "q")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Plain answer")
	assert.Contains(t, out, "[1] rules.pdf p.4")
	assert.Zero(t, b.count("/api/chat/stream"))
}

func TestAskBackendDown(t *testing.T) {
	isolate(t)
	b := &backend{}
	srv := b.start(t)

	code, out, _ := run(t, "--api-url", srv.URL+"/api", "ask", "--json", "q")
	assert.Equal(t, ExitNetworkError, code)

	var env askEnvelope
	require.NoError(t, json.Unmarshal([]byte(out[strings.LastIndex(out, "{\n"):]), &env), out)
	assert.False(t, env.Success)
	assert.Equal(t, "network_error", env.ErrorType)
}

func TestAskRejectsOverlongQuestion(t *testing.T) {
	isolate(t)
	b := &backend{healthy: true, stream: helloStream}
	srv := b.start(t)

	code, _, errOut := run(t, "--api-url", srv.URL+"/api", "ask", strings.Repeat("x", orchestrator.DefaultMaxQueryLength+1))
	assert.Equal(t, ExitUsageError, code)
	assert.Contains(t, errOut, "too long")
	assert.Zero(t, b.count("/api/chat/stream"))
}

func TestInvalidNamespaceFlagIsConfigError(t *testing.T) {
	isolate(t)
	code, _, errOut := run(t, "--namespace", "physics", "ask", "q")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "chat.namespace")
}

// =============================================================================
// HEALTH AND NAMESPACES
// =============================================================================

func TestHealth(t *testing.T) {
	isolate(t)
	b := &backend{healthy: true}
	srv := b.start(t)

	code, out, _ := run(t, "--api-url", srv.URL+"/api", "health", "--json")
	require.Equal(t, ExitSuccess, code)

	var env struct {
		Data HealthData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.True(t, env.Data.Online)
	assert.Equal(t, srv.URL, env.Data.URL)
	assert.Equal(t, 1, b.count("/health"))
}

func TestHealthOffline(t *testing.T) {
	isolate(t)
	b := &backend{healthy: false}
	srv := b.start(t)

	code, out, errOut := run(t, "--api-url", srv.URL+"/api", "health")
	assert.Equal(t, ExitNetworkError, code)
	assert.Contains(t, out, "offline")
	assert.Empty(t, errOut, "the status line already explains the failure")
}

func TestNamespaces(t *testing.T) {
	isolate(t)
	b := &backend{healthy: true}
	srv := b.start(t)

	code, out, _ := run(t, "--api-url", srv.URL+"/api", "namespaces")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Rules & Regulations")
	assert.Contains(t, out, "archive")
	assert.Contains(t, out, "not supported")

	code, out, _ = run(t, "--api-url", srv.URL+"/api", "namespaces", "--json")
	require.Equal(t, ExitSuccess, code)
	var env struct {
		Data NamespacesData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, []string{"bs-adp", "ms-phd", "rules", "archive"}, env.Data.Namespaces)
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfigInitSetGet(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	code, out, _ := run(t, "--config", path, "config", "init")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, path)

	code, _, _ = run(t, "--config", path, "config", "init")
	assert.Equal(t, ExitUsageError, code, "init must not overwrite")

	code, _, _ = run(t, "--config", path, "config", "set", "chat.top_k_retrieve", "8")
	require.Equal(t, ExitSuccess, code)

	code, out, _ = run(t, "--config", path, "config", "get", "chat.top_k_retrieve")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "8\n", out)

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Chat.TopKRetrieve)
}

func TestConfigSetRejectsInvalidValues(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	code, _, errOut := run(t, "--config", path, "config", "set", "chat.top_k_retrieve", "50")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "chat.top_k_retrieve")
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "invalid value must not be saved")

	code, _, _ = run(t, "--config", path, "config", "set", "chat.nope", "1")
	assert.Equal(t, ExitUsageError, code)
}

func TestConfigSetDoesNotPersistEnvironment(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("UOE_API_URL", "http://env.example/api")

	code, _, _ := run(t, "--config", path, "config", "set", "chat.namespace", "rules")
	require.Equal(t, ExitSuccess, code)

	raw, err := config.LoadTOML(path)
	require.NoError(t, err)
	assert.Equal(t, api.DefaultBaseURL, raw.API.BaseURL)
	assert.Equal(t, "rules", raw.Chat.Namespace)

	code, out, _ := run(t, "--config", path, "config", "get", "api.base_url")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "http://env.example/api\n", out)
}

func TestVersion(t *testing.T) {
	isolate(t)
	code, out, _ := run(t, "version")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "uoechat 1.2.3")
}

// =============================================================================
// EXIT CODES
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &UsageError{Field: "x", Reason: "y"}, ExitUsageError},
		{"config", &ConfigError{Err: errors.New("bad")}, ExitConfigError},
		{"validation", config.ValidateErrors{{Field: "chat.namespace", Message: "bad"}}, ExitConfigError},
		{"canceled", fmt.Errorf("send: %w", context.Canceled), ExitInterrupted},
		{"timeout", context.DeadlineExceeded, ExitTimeoutError},
		{"backend down", ErrBackendDown, ExitNetworkError},
		{"offline", orchestrator.ErrOffline, ExitNetworkError},
		{"request", &api.RequestError{Status: 502}, ExitNetworkError},
		{"silent keeps code", silent(ErrBackendDown), ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// fakeClient streams a canned answer.
type fakeClient struct {
	mu        sync.Mutex
	queries   []string
	feedbacks []api.FeedbackRequest
	fail      bool
}

func (c *fakeClient) ChatStream(_ context.Context, req api.ChatRequest, h api.StreamHandlers) {
	c.mu.Lock()
	c.queries = append(c.queries, req.Query)
	fail := c.fail
	c.mu.Unlock()
	if fail {
		h.OnError(errors.New("stream down"))
		return
	}
	h.OnToken("Answer to ")
	h.OnToken(req.Query)
	h.OnMetadata(api.Metadata{
		RunID:     "run-" + req.Query,
		SessionID: "sess-1",
		Sources:   []model.Source{{File: "handbook.pdf", Score: 0.75, CourseCode: "CS-401", Text: "Compiler\nConstruction"}},
		SmartInfo: &model.SmartInfo{QueryRewrites: []string{"compiler prerequisites"}},
	})
	h.OnDone()
}

func (c *fakeClient) Chat(context.Context, api.ChatRequest) (*api.ChatResponse, error) {
	return nil, errors.New("down")
}

func (c *fakeClient) SubmitFeedback(_ context.Context, req api.FeedbackRequest) (*api.FeedbackResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedbacks = append(c.feedbacks, req)
	return &api.FeedbackResponse{Status: "ok"}, nil
}

func newTestSession(t *testing.T) (*ChatSession, *fakeClient, *bytes.Buffer) {
	t.Helper()
	client := &fakeClient{}
	st := store.New(store.Options{MaxTurns: 3})
	orch := orchestrator.New(st, client, orchestrator.Options{})
	out := &bytes.Buffer{}
	s := NewChatSession(orch, out, 100, nil)
	s.copyFn = func(string) error { return nil }
	return s, client, out
}

func TestChatSessionAskStreamsAnswer(t *testing.T) {
	s, client, out := newTestSession(t)
	ctx := context.Background()

	cont, err := s.Handle(ctx, "  prerequisites?  ")
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Contains(t, out.String(), "Answer to prerequisites?\n")
	assert.Contains(t, out.String(), "[Retry]")
	assert.Contains(t, out.String(), "1 sources")
	assert.Equal(t, []string{"prerequisites?"}, client.queries)
	assert.Equal(t, "sess-1", s.store.SessionID())
}

func TestChatSessionCommands(t *testing.T) {
	s, client, out := newTestSession(t)
	ctx := context.Background()

	_, err := s.Handle(ctx, "/ns rules")
	require.NoError(t, err)
	assert.Equal(t, model.NamespaceRules, s.store.Namespace())

	_, err = s.Handle(ctx, "/ns physics")
	var usageErr *UsageError
	assert.ErrorAs(t, err, &usageErr)

	_, err = s.Handle(ctx, "/topk 7")
	require.NoError(t, err)
	assert.Equal(t, 7, s.store.Settings().TopKRetrieve)

	_, err = s.Handle(ctx, "/topk 99")
	assert.Error(t, err)
	assert.Equal(t, 7, s.store.Settings().TopKRetrieve)

	smart := s.store.Settings().EnableSmart
	_, err = s.Handle(ctx, "/smart")
	require.NoError(t, err)
	assert.Equal(t, !smart, s.store.Settings().EnableSmart)

	_, err = s.Handle(ctx, "/retry")
	assert.ErrorIs(t, err, orchestrator.ErrNothingToRetry)

	_, err = s.Handle(ctx, "q1")
	require.NoError(t, err)
	_, err = s.Handle(ctx, "/up")
	require.NoError(t, err)
	require.Len(t, client.feedbacks, 1)
	assert.Equal(t, "run-q1", client.feedbacks[0].RunID)
	assert.Equal(t, 1, client.feedbacks[0].Score)

	out.Reset()
	_, err = s.Handle(ctx, "/sources")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[1] handbook.pdf CS-401")
	assert.Contains(t, out.String(), "75%")
	assert.Contains(t, out.String(), "Compiler Construction")

	out.Reset()
	_, err = s.Handle(ctx, "/status")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "1/3")
	assert.Contains(t, out.String(), "sess-1")

	_, err = s.Handle(ctx, "/bogus")
	assert.ErrorContains(t, err, "unknown command")

	cont, err := s.Handle(ctx, "/quit")
	require.NoError(t, err)
	assert.False(t, cont)
}

func TestChatSessionRetryAfterError(t *testing.T) {
	s, client, out := newTestSession(t)
	ctx := context.Background()

	client.fail = true
	_, err := s.Handle(ctx, "q")
	require.NoError(t, err)
	assert.Contains(t, out.String(), orchestrator.ErrorReply)
	assert.Contains(t, out.String(), "/retry")

	client.fail = false
	out.Reset()
	_, err = s.Handle(ctx, "/retry")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Answer to q")
	assert.Equal(t, []string{"q", "q"}, client.queries)
}

func TestChatSessionMaxTurnsAndNew(t *testing.T) {
	s, _, out := newTestSession(t)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		_, err := s.Handle(ctx, q)
		require.NoError(t, err)
	}
	assert.Contains(t, out.String(), "Conversation limit reached (3 turns)")

	_, err := s.Handle(ctx, "d")
	assert.ErrorIs(t, err, orchestrator.ErrMaxTurns)

	_, err = s.Handle(ctx, "/new")
	require.NoError(t, err)
	_, err = s.Handle(ctx, "d")
	require.NoError(t, err)
}

func TestChatSessionSuggest(t *testing.T) {
	s, client, out := newTestSession(t)
	ctx := context.Background()
	suggestions := model.NamespaceBSADP.Suggestions()

	_, err := s.Handle(ctx, "/suggest")
	require.NoError(t, err)
	assert.Contains(t, out.String(), suggestions[0])

	_, err = s.Handle(ctx, "/suggest 2")
	require.NoError(t, err)
	assert.Equal(t, []string{suggestions[1]}, client.queries)

	_, err = s.Handle(ctx, "/suggest 0")
	assert.Error(t, err)
}

func TestChatSessionOfflineGate(t *testing.T) {
	s, client, _ := newTestSession(t)
	s.store.SetOnline(false)

	_, err := s.Handle(context.Background(), "q")
	assert.ErrorIs(t, err, orchestrator.ErrOffline)
	assert.Empty(t, client.queries)
	assert.Contains(t, describeChatError(err), "offline")
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

func TestStreamPrinterReconcilesFallback(t *testing.T) {
	st := store.New(store.Options{})
	var out bytes.Buffer
	p := newStreamPrinter(&out, st)

	st.AddUserMessage("q")
	st.StartStreaming()
	st.AppendStreamToken("partial")
	st.CancelStreaming()
	p.finish("Complete answer")

	got := out.String()
	assert.True(t, strings.HasSuffix(got, "Complete answer\n"), got)
}

func TestStreamPrinterPrintsRemainder(t *testing.T) {
	st := store.New(store.Options{})
	var out bytes.Buffer
	p := newStreamPrinter(&out, st)

	st.AddUserMessage("q")
	st.StartStreaming()
	st.AppendStreamToken("Hello ")
	p.finish("Hello world")

	assert.Equal(t, "Hello world\n", out.String())
}
