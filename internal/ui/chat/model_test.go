// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
	"github.com/jeranaias/uoe-chat/internal/store"
	"github.com/jeranaias/uoe-chat/internal/ui/markdown"
	"github.com/jeranaias/uoe-chat/internal/ui/styles"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// scriptedClient answers every stream with a fixed token and run id.
type scriptedClient struct {
	mu        sync.Mutex
	feedbacks []api.FeedbackRequest
	streamErr error
}

func (c *scriptedClient) ChatStream(_ context.Context, _ api.ChatRequest, h api.StreamHandlers) {
	if c.streamErr != nil {
		h.OnError(c.streamErr)
		return
	}
	h.OnToken("The fee is refundable.")
	h.OnMetadata(api.Metadata{
		RunID:     "run-1",
		SessionID: "sess-1",
		Sources:   []model.Source{{File: "rules.pdf", Score: 0.91, Text: "Refunds are issued..."}},
	})
	h.OnDone()
}

func (c *scriptedClient) Chat(context.Context, api.ChatRequest) (*api.ChatResponse, error) {
	return nil, errors.New("down")
}

func (c *scriptedClient) SubmitFeedback(_ context.Context, req api.FeedbackRequest) (*api.FeedbackResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedbacks = append(c.feedbacks, req)
	return &api.FeedbackResponse{Status: "ok"}, nil
}

type harness struct {
	m      Model
	store  *store.Store
	client *scriptedClient
	copied []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{client: &scriptedClient{}}
	h.store = store.New(store.Options{})
	orch := orchestrator.New(h.store, h.client, orchestrator.Options{})
	h.m = New(Options{
		Orchestrator: orch,
		Theme:        styles.NewTheme("dark"),
		Markdown:     markdown.New(false, "dark"),
		Clipboard: func(s string) error {
			h.copied = append(h.copied, s)
			return nil
		},
	})
	t.Cleanup(h.m.Close)
	h.update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return h
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	next, cmd := h.m.Update(msg)
	h.m = next.(Model)
	return cmd
}

func (h *harness) typeText(s string) {
	h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func (h *harness) press(k tea.KeyType) tea.Cmd {
	return h.update(tea.KeyMsg{Type: k})
}

// run executes a command and feeds its message back.
func (h *harness) run(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if msg := cmd(); msg != nil {
		h.update(msg)
	}
}

// =============================================================================
// SENDING
// =============================================================================

func TestEnterSendsAndClearsInput(t *testing.T) {
	h := newHarness(t)
	h.typeText("What are fee refund rules?")

	cmd := h.press(tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.Empty(t, h.m.input.Value())

	h.run(cmd)
	st := h.store.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "What are fee refund rules?", st.Messages[0].Content)
	assert.Equal(t, "The fee is refundable.", st.Messages[1].Content)
	assert.Equal(t, "sess-1", st.SessionID)
	assert.Empty(t, h.m.notice)
}

func TestEnterOnEmptyInputDoesNothing(t *testing.T) {
	h := newHarness(t)
	assert.Nil(t, h.press(tea.KeyEnter))
	assert.Empty(t, h.m.notice)
}

func TestOfflineBlocksSendAndKeepsInput(t *testing.T) {
	h := newHarness(t)
	h.store.SetOnline(false)
	h.typeText("hello")

	assert.Nil(t, h.press(tea.KeyEnter))
	assert.Equal(t, "hello", h.m.input.Value())
	assert.True(t, h.m.noticeErr)
	assert.Contains(t, h.m.notice, "offline")
}

func TestErroredSendShowsRetryHint(t *testing.T) {
	h := newHarness(t)
	h.client.streamErr = errors.New("boom")
	h.typeText("hello")
	h.run(h.press(tea.KeyEnter))

	assert.True(t, h.m.noticeErr)
	assert.Contains(t, h.m.notice, "Ctrl+R")

	h.m.refresh()
	assert.Contains(t, h.m.viewport.View(), "Press Ctrl+R to retry")
}

// =============================================================================
// SHORTCUTS
// =============================================================================

func TestTabCyclesNamespace(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, model.NamespaceBSADP, h.store.Namespace())

	h.press(tea.KeyTab)
	assert.Equal(t, model.NamespaceMSPhD, h.store.Namespace())
	assert.Contains(t, h.m.notice, "MS / PhD Programs")
}

func TestToggles(t *testing.T) {
	h := newHarness(t)
	before := h.store.Settings()

	h.press(tea.KeyCtrlT)
	h.press(tea.KeyCtrlE)
	after := h.store.Settings()
	assert.Equal(t, !before.EnableSmart, after.EnableSmart)
	assert.Equal(t, !before.EnhanceQuery, after.EnhanceQuery)
}

func TestVoteAndCopyLastAnswer(t *testing.T) {
	h := newHarness(t)

	h.press(tea.KeyCtrlY)
	assert.True(t, h.m.noticeErr, "nothing to copy yet")

	h.typeText("q")
	h.run(h.press(tea.KeyEnter))

	h.run(h.press(tea.KeyCtrlU))
	last, ok := h.store.Snapshot().LastAssistant()
	require.True(t, ok)
	assert.Equal(t, model.VoteUp, h.store.Feedback(last.ID))
	require.Len(t, h.client.feedbacks, 1)
	assert.Equal(t, "run-1", h.client.feedbacks[0].RunID)

	h.press(tea.KeyCtrlY)
	assert.Equal(t, []string{"The fee is refundable."}, h.copied)
}

func TestSuggestFillsEmptyConversation(t *testing.T) {
	h := newHarness(t)
	suggestions := model.NamespaceBSADP.Suggestions()

	h.press(tea.KeyCtrlG)
	assert.Equal(t, suggestions[0], h.m.input.Value())
	h.press(tea.KeyCtrlG)
	assert.Equal(t, suggestions[1], h.m.input.Value())
}

func TestNewChatClears(t *testing.T) {
	h := newHarness(t)
	h.typeText("q")
	h.run(h.press(tea.KeyEnter))
	require.NotEmpty(t, h.store.Snapshot().Messages)

	h.press(tea.KeyCtrlN)
	st := h.store.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.SessionID)
	assert.Zero(t, st.TurnCount)
}

func TestSettingsMsgAppliesReload(t *testing.T) {
	h := newHarness(t)
	h.update(SettingsMsg{Settings: model.Settings{EnableSmart: true, TopKRetrieve: 9}})
	assert.Equal(t, model.Settings{EnableSmart: true, TopKRetrieve: 9}, h.store.Settings())

	h.update(SettingsMsg{Settings: model.Settings{TopKRetrieve: 99}})
	assert.True(t, h.m.noticeErr)
	assert.Equal(t, 9, h.store.Settings().TopKRetrieve)
}

// =============================================================================
// RENDERING
// =============================================================================

func TestStoreChangesCoalesceIntoOneFrame(t *testing.T) {
	h := newHarness(t)

	h.update(storeChangedMsg{})
	assert.True(t, h.m.frameScheduled)
	assert.True(t, h.m.dirty)

	h.update(storeChangedMsg{})
	assert.True(t, h.m.frameScheduled)

	h.store.AddUserMessage("rendered on frame")
	h.update(frameMsg{})
	assert.False(t, h.m.frameScheduled)
	assert.False(t, h.m.dirty)
	assert.Contains(t, h.m.viewport.View(), "rendered on frame")
}

func TestWelcomeShowsSuggestions(t *testing.T) {
	h := newHarness(t)
	view := h.m.View()
	assert.Contains(t, view, "Ask about BS / ADP Programs")
	assert.Contains(t, view, "turns 0/10")
}

func TestRenderAssistantDetails(t *testing.T) {
	r := &renderer{theme: styles.NewTheme("dark"), md: markdown.New(false, "dark"), cache: newRenderCache()}
	page := 3
	st := store.State{
		MaxTurns: 10,
		Messages: []model.Message{
			{ID: "user-1", Role: model.RoleUser, Content: "hostel policy?"},
			model.NewAssistantMessage("Guests must leave by 9pm.", model.Meta{
				EnhancedQuery: "hostel guest policy",
				SmartInfo:     &model.SmartInfo{UsedFallback: true},
				Sources: []model.Source{{
					File: "hostel.pdf", Score: 0.5, Page: &page, CourseCode: "HST-1",
					Text: "Guests\nmust leave",
				}},
			}),
		},
	}
	out := r.conversation(st, 80, "")

	for _, want := range []string{
		"You", "Assistant", "[Fallback]", "Searched for: hostel guest policy",
		"Sources (1)", "hostel.pdf", "p.3", "HST-1", "50%", "Guests must leave",
		model.SmartStateFallback.Description(),
	} {
		assert.Contains(t, out, want)
	}
	assert.False(t, strings.Contains(out, "Conversation limit reached"))
}

func TestRenderMaxTurnsNotice(t *testing.T) {
	r := &renderer{theme: styles.NewTheme("dark"), md: markdown.New(false, "dark"), cache: newRenderCache()}
	st := store.State{
		TurnCount: 2,
		MaxTurns:  2,
		Messages:  []model.Message{{ID: "user-1", Role: model.RoleUser, Content: "a"}},
	}
	assert.Contains(t, r.conversation(st, 80, ""), "Conversation limit reached (2 turns)")
}
