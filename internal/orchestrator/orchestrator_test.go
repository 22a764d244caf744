// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/metrics"
	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/store"
)

// =============================================================================
// FAKE CLIENT
// =============================================================================

type fakeClient struct {
	mu           sync.Mutex
	streamReqs   []api.ChatRequest
	chatReqs     []api.ChatRequest
	feedbackReqs []api.FeedbackRequest

	stream   func(ctx context.Context, req api.ChatRequest, h api.StreamHandlers)
	chat     func(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	feedback func(ctx context.Context, req api.FeedbackRequest) (*api.FeedbackResponse, error)
}

func (f *fakeClient) ChatStream(ctx context.Context, req api.ChatRequest, h api.StreamHandlers) {
	f.mu.Lock()
	f.streamReqs = append(f.streamReqs, req)
	fn := f.stream
	f.mu.Unlock()
	if fn != nil {
		fn(ctx, req, h)
		return
	}
	h.OnDone()
}

func (f *fakeClient) Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	f.mu.Lock()
	f.chatReqs = append(f.chatReqs, req)
	fn := f.chat
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &api.ChatResponse{Answer: "fallback answer"}, nil
}

func (f *fakeClient) SubmitFeedback(ctx context.Context, req api.FeedbackRequest) (*api.FeedbackResponse, error) {
	f.mu.Lock()
	f.feedbackReqs = append(f.feedbackReqs, req)
	fn := f.feedback
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &api.FeedbackResponse{Status: "ok"}, nil
}

func (f *fakeClient) counts() (stream, chat, feedback int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streamReqs), len(f.chatReqs), len(f.feedbackReqs)
}

// streamTokens replies with tokens, optional metadata, then [DONE].
func streamTokens(md *api.Metadata, tokens ...string) func(context.Context, api.ChatRequest, api.StreamHandlers) {
	return func(_ context.Context, _ api.ChatRequest, h api.StreamHandlers) {
		for _, tok := range tokens {
			h.OnToken(tok)
		}
		if md != nil {
			h.OnMetadata(*md)
		}
		h.OnDone()
	}
}

// blockingStream emits tokens, signals started, then waits for cancellation.
func blockingStream(started chan<- struct{}, tokens ...string) func(context.Context, api.ChatRequest, api.StreamHandlers) {
	return func(ctx context.Context, _ api.ChatRequest, h api.StreamHandlers) {
		for _, tok := range tokens {
			h.OnToken(tok)
		}
		close(started)
		<-ctx.Done()
	}
}

func failingStream(err error, tokens ...string) func(context.Context, api.ChatRequest, api.StreamHandlers) {
	return func(_ context.Context, _ api.ChatRequest, h api.StreamHandlers) {
		for _, tok := range tokens {
			h.OnToken(tok)
		}
		h.OnError(err)
	}
}

type harness struct {
	store   *store.Store
	client  *fakeClient
	orch    *Orchestrator
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, opts store.Options) *harness {
	t.Helper()
	s := store.New(opts)
	c := &fakeClient{}
	m := metrics.New()
	return &harness{
		store:   s,
		client:  c,
		metrics: m,
		orch:    New(s, c, Options{Logger: zaptest.NewLogger(t), Metrics: m}),
	}
}

// sendAsync runs Send in a goroutine and returns a channel with its result.
func (h *harness) sendAsync(q string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		out, _ := h.orch.Send(context.Background(), q)
		ch <- out
	}()
	return ch
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("send did not finish")
		return OutcomeCancelled
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream to start")
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestSendStreamsAnswer(t *testing.T) {
	h := newHarness(t, store.Options{})
	h.client.stream = streamTokens(&api.Metadata{
		Sources:   []model.Source{{File: "a.pdf", Score: 0.9}},
		SmartInfo: &model.SmartInfo{QueryRewrites: []string{"rewritten"}},
		RunID:     "run-1",
	}, "Hel", "lo")

	out, err := h.orch.Send(context.Background(), "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStreamed, out)

	st := h.store.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "hi", st.Messages[0].Content)
	assert.Equal(t, "Hello", st.Messages[1].Content)
	assert.Len(t, st.Messages[1].Sources, 1)
	assert.Equal(t, "run-1", st.Messages[1].RunID)
	assert.Equal(t, model.SmartStateRetry, st.Messages[1].SmartInfo.Classify())
	assert.False(t, st.IsStreaming)
	assert.False(t, h.orch.Busy())

	require.Len(t, h.client.streamReqs, 1)
	assert.Equal(t, "hi", h.client.streamReqs[0].Query)
	assert.Equal(t, model.DefaultNamespace, h.client.streamReqs[0].Namespace)
	assert.Equal(t, 5, h.client.streamReqs[0].TopKRetrieve)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SendsAccepted))
}

func TestSendUsesStoreSessionAndSettings(t *testing.T) {
	h := newHarness(t, store.Options{Namespace: model.NamespaceRules})
	h.store.SetSessionID("sess-1")
	smart := true
	require.NoError(t, h.store.UpdateSettings(model.SettingsPatch{EnableSmart: &smart}))

	_, err := h.orch.Send(context.Background(), "q")
	require.NoError(t, err)

	req := h.client.streamReqs[0]
	assert.Equal(t, model.NamespaceRules, req.Namespace)
	assert.Equal(t, "sess-1", req.SessionID)
	assert.True(t, req.EnableSmart)
}

func TestMetadataSessionCommittedImmediately(t *testing.T) {
	h := newHarness(t, store.Options{})
	seen := make(chan string, 1)
	h.client.stream = func(_ context.Context, _ api.ChatRequest, hs api.StreamHandlers) {
		hs.OnMetadata(api.Metadata{SessionID: "sess-new"})
		seen <- h.store.SessionID()
		hs.OnDone()
	}

	_, err := h.orch.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "sess-new", <-seen)
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestSendRejectsEmptyQuery(t *testing.T) {
	h := newHarness(t, store.Options{})
	_, err := h.orch.Send(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	s, c, _ := h.client.counts()
	assert.Zero(t, s+c)
	assert.Empty(t, h.store.Snapshot().Messages)
}

func TestSendRejectedWhileStreaming(t *testing.T) {
	h := newHarness(t, store.Options{})
	started := make(chan struct{})
	h.client.stream = blockingStream(started, "partial")

	first := h.sendAsync("first")
	waitClosed(t, started)

	before := h.store.Snapshot()
	_, err := h.orch.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	after := h.store.Snapshot()
	assert.Equal(t, len(before.Messages), len(after.Messages))
	assert.Equal(t, before.TurnCount, after.TurnCount)
	s, _, _ := h.client.counts()
	assert.Equal(t, 1, s)

	h.orch.Stop()
	assert.Equal(t, OutcomeCancelled, waitOutcome(t, first))
}

func TestSendRejectedAtMaxTurns(t *testing.T) {
	h := newHarness(t, store.Options{MaxTurns: 2})
	for i := 0; i < 2; i++ {
		_, err := h.orch.Send(context.Background(), "q")
		require.NoError(t, err)
	}

	_, err := h.orch.Send(context.Background(), "one more")
	assert.ErrorIs(t, err, ErrMaxTurns)
	s, _, _ := h.client.counts()
	assert.Equal(t, 2, s)
	assert.Len(t, h.store.Snapshot().Messages, 4)
}

// =============================================================================
// FALLBACK
// =============================================================================

func TestStreamFailureFallsBackWithIdenticalRequest(t *testing.T) {
	h := newHarness(t, store.Options{})
	h.client.stream = failingStream(errors.New("connection reset"), "par", "tial")
	h.client.chat = func(_ context.Context, _ api.ChatRequest) (*api.ChatResponse, error) {
		return &api.ChatResponse{
			Answer:    "full answer",
			Sources:   []model.Source{{File: "b.pdf"}},
			SessionID: "sess-fb",
			RunID:     "run-fb",
		}, nil
	}

	out, err := h.orch.Send(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, out)

	require.Len(t, h.client.chatReqs, 1)
	assert.Equal(t, h.client.streamReqs[0], h.client.chatReqs[0])

	st := h.store.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "full answer", st.Messages[1].Content)
	assert.Equal(t, "run-fb", st.Messages[1].RunID)
	assert.Equal(t, "sess-fb", st.SessionID)
	assert.False(t, st.IsStreaming)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StreamErrors))
}

func TestBothFailRecordsErrorReply(t *testing.T) {
	h := newHarness(t, store.Options{})
	h.client.stream = failingStream(errors.New("stream down"))
	h.client.chat = func(context.Context, api.ChatRequest) (*api.ChatResponse, error) {
		return nil, errors.New("chat down")
	}

	out, err := h.orch.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, OutcomeErrored, out)

	st := h.store.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, ErrorReply, st.Messages[1].Content)
	assert.True(t, IsErrorReply(st.Messages[1].Content))
	assert.Empty(t, st.Messages[1].Sources)
	assert.Nil(t, st.Messages[1].SmartInfo)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestStopDuringStream(t *testing.T) {
	h := newHarness(t, store.Options{})
	started := make(chan struct{})
	h.client.stream = blockingStream(started, "partial")

	result := h.sendAsync("q")
	waitClosed(t, started)
	assert.True(t, h.store.IsStreaming())

	h.orch.Stop()
	assert.Equal(t, OutcomeCancelled, waitOutcome(t, result))

	st := h.store.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.True(t, st.Messages[0].IsUser())
	assert.False(t, st.IsStreaming)
	_, c, _ := h.client.counts()
	assert.Zero(t, c)
	assert.False(t, h.orch.Busy())
}

func TestStopDuringFallback(t *testing.T) {
	h := newHarness(t, store.Options{})
	inFallback := make(chan struct{})
	h.client.stream = failingStream(errors.New("boom"))
	h.client.chat = func(ctx context.Context, _ api.ChatRequest) (*api.ChatResponse, error) {
		close(inFallback)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	result := h.sendAsync("q")
	waitClosed(t, inFallback)
	h.orch.Stop()

	assert.Equal(t, OutcomeCancelled, waitOutcome(t, result))
	st := h.store.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.False(t, st.IsStreaming)
}

func TestStoppedSendCannotWrite(t *testing.T) {
	h := newHarness(t, store.Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	h.client.stream = func(_ context.Context, _ api.ChatRequest, hs api.StreamHandlers) {
		close(started)
		<-release
		// A misbehaving transport keeps delivering after cancellation.
		hs.OnToken("late")
		hs.OnMetadata(api.Metadata{SessionID: "late-session"})
		hs.OnDone()
	}

	result := h.sendAsync("q")
	waitClosed(t, started)
	h.orch.Stop()
	close(release)
	waitOutcome(t, result)

	st := h.store.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Empty(t, st.SessionID)
	assert.False(t, st.IsStreaming)
}

func TestSendAfterStopIsAccepted(t *testing.T) {
	h := newHarness(t, store.Options{})
	started := make(chan struct{})
	h.client.stream = blockingStream(started)

	first := h.sendAsync("first")
	waitClosed(t, started)
	h.orch.Stop()
	waitOutcome(t, first)

	h.client.mu.Lock()
	h.client.stream = streamTokens(nil, "second answer")
	h.client.mu.Unlock()

	out, err := h.orch.Send(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStreamed, out)
	st := h.store.Snapshot()
	assert.Equal(t, "second answer", st.Messages[len(st.Messages)-1].Content)
}

func TestParentContextCancelRemovesStreamingMessage(t *testing.T) {
	h := newHarness(t, store.Options{})
	h.client.stream = func(ctx context.Context, _ api.ChatRequest, hs api.StreamHandlers) {
		hs.OnToken("x")
		<-ctx.Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := h.orch.Send(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out)

	st := h.store.Snapshot()
	assert.False(t, st.IsStreaming)
	assert.Len(t, st.Messages, 1)
}

func TestSwitchNamespaceStopsSend(t *testing.T) {
	h := newHarness(t, store.Options{})
	started := make(chan struct{})
	h.client.stream = blockingStream(started, "tok")

	result := h.sendAsync("q")
	waitClosed(t, started)
	require.NoError(t, h.orch.SwitchNamespace(model.NamespaceMSPhD))
	waitOutcome(t, result)

	st := h.store.Snapshot()
	assert.Equal(t, model.NamespaceMSPhD, st.Namespace)
	assert.Empty(t, st.Messages)
	assert.Zero(t, st.TurnCount)

	assert.ErrorIs(t, h.orch.SwitchNamespace("nope"), store.ErrUnknownNamespace)
}

func TestNewChat(t *testing.T) {
	h := newHarness(t, store.Options{})
	_, err := h.orch.Send(context.Background(), "q")
	require.NoError(t, err)

	h.orch.NewChat()
	st := h.store.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Zero(t, st.TurnCount)
}

func TestNewChatRacingSendLeavesConsistentState(t *testing.T) {
	for i := 0; i < 200; i++ {
		h := newHarness(t, store.Options{})
		h.client.stream = func(_ context.Context, _ api.ChatRequest, hs api.StreamHandlers) {
			runtime.Gosched()
			hs.OnMetadata(api.Metadata{SessionID: "old-session"})
			hs.OnToken("answer")
			hs.OnDone()
		}

		result := h.sendAsync("q")
		h.orch.NewChat()
		outcome := waitOutcome(t, result)

		st := h.store.Snapshot()
		switch outcome {
		case OutcomeCancelled:
			assert.Empty(t, st.Messages, "iteration %d", i)
			assert.Empty(t, st.SessionID, "iteration %d", i)
			assert.Zero(t, st.TurnCount, "iteration %d", i)
		case OutcomeStreamed:
			require.Len(t, st.Messages, 2, "iteration %d", i)
			assert.Equal(t, "old-session", st.SessionID, "iteration %d", i)
			assert.Equal(t, 1, st.TurnCount, "iteration %d", i)
		default:
			t.Fatalf("iteration %d: unexpected outcome %s", i, outcome)
		}
	}
}

// =============================================================================
// RETRY
// =============================================================================

func TestRetry(t *testing.T) {
	h := newHarness(t, store.Options{})
	_, err := h.orch.Retry(context.Background())
	assert.ErrorIs(t, err, ErrNothingToRetry)

	h.client.stream = failingStream(errors.New("down"))
	h.client.chat = func(context.Context, api.ChatRequest) (*api.ChatResponse, error) {
		return nil, errors.New("down")
	}
	out, err := h.orch.Send(context.Background(), "what is the fee?")
	require.NoError(t, err)
	require.Equal(t, OutcomeErrored, out)

	h.client.mu.Lock()
	h.client.stream = streamTokens(nil, "fee is listed")
	h.client.mu.Unlock()

	out, err = h.orch.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeStreamed, out)

	st := h.store.Snapshot()
	assert.Equal(t, 2, st.TurnCount)
	assert.Equal(t, "what is the fee?", h.client.streamReqs[1].Query)
	assert.Equal(t, "fee is listed", st.Messages[len(st.Messages)-1].Content)
}

// =============================================================================
// FEEDBACK
// =============================================================================

func TestFeedback(t *testing.T) {
	h := newHarness(t, store.Options{})
	withRun := h.store.AddAssistantMessage("a", model.Meta{RunID: "run-1"})
	noRun := h.store.AddAssistantMessage("b", model.Meta{})

	vote, err := h.orch.Feedback(context.Background(), withRun.ID, model.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, model.VoteUp, vote)
	require.Len(t, h.client.feedbackReqs, 1)
	assert.Equal(t, api.FeedbackRequest{RunID: "run-1", Score: 1}, h.client.feedbackReqs[0])

	vote, err = h.orch.Feedback(context.Background(), withRun.ID, model.VoteDown)
	require.NoError(t, err)
	assert.Equal(t, model.VoteDown, vote)
	assert.Equal(t, 0, h.client.feedbackReqs[1].Score)

	// Removing a vote is local only.
	vote, err = h.orch.Feedback(context.Background(), withRun.ID, model.VoteDown)
	require.NoError(t, err)
	assert.Equal(t, model.VoteNone, vote)
	_, _, f := h.client.counts()
	assert.Equal(t, 2, f)

	// No run id: recorded locally, never submitted.
	vote, err = h.orch.Feedback(context.Background(), noRun.ID, model.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, model.VoteUp, vote)
	_, _, f = h.client.counts()
	assert.Equal(t, 2, f)
}

func TestFeedbackSubmissionFailureKeepsVote(t *testing.T) {
	h := newHarness(t, store.Options{})
	msg := h.store.AddAssistantMessage("a", model.Meta{RunID: "run-1"})
	h.client.feedback = func(context.Context, api.FeedbackRequest) (*api.FeedbackResponse, error) {
		return nil, errors.New("unavailable")
	}

	vote, err := h.orch.Feedback(context.Background(), msg.ID, model.VoteUp)
	assert.Error(t, err)
	assert.Equal(t, model.VoteUp, vote)
	assert.Equal(t, model.VoteUp, h.store.Feedback(msg.ID))
}

func TestFeedbackUnknownMessage(t *testing.T) {
	h := newHarness(t, store.Options{})
	user := h.store.AddUserMessage("q")

	_, err := h.orch.Feedback(context.Background(), "missing", model.VoteUp)
	assert.ErrorIs(t, err, ErrUnknownMessage)
	_, err = h.orch.Feedback(context.Background(), user.ID, model.VoteUp)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

// =============================================================================
// INPUT GATE
// =============================================================================

func TestCanSend(t *testing.T) {
	h := newHarness(t, store.Options{})

	assert.NoError(t, h.orch.CanSend("hello", 0))
	assert.ErrorIs(t, h.orch.CanSend("  ", 0), ErrEmptyQuery)
	assert.ErrorIs(t, h.orch.CanSend(strings.Repeat("a", DefaultMaxQueryLength+1), 0), ErrQueryTooLong)
	assert.NoError(t, h.orch.CanSend(strings.Repeat("a", DefaultMaxQueryLength), 0))
	assert.ErrorIs(t, h.orch.CanSend("abcdef", 5), ErrQueryTooLong)

	h.store.SetOnline(false)
	assert.ErrorIs(t, h.orch.CanSend("hello", 0), ErrOffline)
	h.store.SetOnline(true)
	assert.NoError(t, h.orch.CanSend("hello", 0))
}

func TestQueryLengthNormalizes(t *testing.T) {
	assert.Equal(t, 1, QueryLength("e\u0301"))
	assert.Equal(t, 5, QueryLength("he\u0301llo"))
	assert.Equal(t, 2, len([]rune("e\u0301")))
}

func TestIsErrorReply(t *testing.T) {
	assert.True(t, IsErrorReply(ErrorReply))
	assert.False(t, IsErrorReply("Sorry, no results."))
}
