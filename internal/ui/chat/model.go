// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat screen for uoechat.
package chat

import (
	"context"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
	"github.com/jeranaias/uoe-chat/internal/store"
	"github.com/jeranaias/uoe-chat/internal/ui/markdown"
	"github.com/jeranaias/uoe-chat/internal/ui/styles"
)

// frameInterval caps re-rendering at roughly 30fps while tokens stream.
const frameInterval = 33 * time.Millisecond

// =============================================================================
// MESSAGES
// =============================================================================

// storeChangedMsg reports that the store mutated since the last wake-up.
type storeChangedMsg struct{}

// frameMsg triggers a coalesced re-render.
type frameMsg struct{}

// sendDoneMsg carries the result of a send or retry.
type sendDoneMsg struct {
	outcome orchestrator.Outcome
	err     error
}

// feedbackDoneMsg carries the result of a vote.
type feedbackDoneMsg struct {
	vote model.Vote
	err  error
}

// SettingsMsg replaces the retrieval settings, e.g. after a config reload.
type SettingsMsg struct {
	Settings model.Settings
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Options configures the chat screen.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Theme        *styles.Theme
	Markdown     *markdown.Renderer

	// MaxQueryLength is the input limit in characters.
	MaxQueryLength int

	// Context bounds every send; cancelling it aborts in-flight requests.
	Context context.Context

	Logger *zap.Logger

	// Clipboard writes the copied answer. Defaults to the system clipboard.
	Clipboard func(string) error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx    context.Context
	orch   *orchestrator.Orchestrator
	store  *store.Store
	theme  *styles.Theme
	render *renderer
	logger *zap.Logger
	copyFn func(string) error
	maxLen int

	// UI Components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model
	keyMap   KeyMap

	// Dimensions
	width  int
	height int
	ready  bool

	// Snapshot rendered last frame
	state store.State

	// Store subscription
	changes     chan struct{}
	unsubscribe func()

	// Frame coalescing
	dirty          bool
	frameScheduled bool

	// Status
	notice    string
	noticeErr bool
	showHelp  bool
	suggested int
}

// New creates the chat screen and subscribes it to the orchestrator's store.
// Call Close when the program exits.
func New(opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme("auto")
	}
	if opts.Markdown == nil {
		opts.Markdown = markdown.New(true, "auto")
	}
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = orchestrator.DefaultMaxQueryLength
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.WriteAll
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question..."
	// Let over-long input through so the counter can flag it.
	ti.CharLimit = opts.MaxQueryLength * 2
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	st := opts.Orchestrator.Store()

	// The subscriber runs on whichever goroutine mutated the store, sometimes
	// under the orchestrator's lock, so it only drops a wake-up into a
	// one-slot channel and never blocks.
	changes := make(chan struct{}, 1)
	unsubscribe := st.Subscribe(func(store.State) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	return Model{
		ctx:         opts.Context,
		orch:        opts.Orchestrator,
		store:       st,
		theme:       opts.Theme,
		render:      &renderer{theme: opts.Theme, md: opts.Markdown, cache: newRenderCache()},
		logger:      opts.Logger.Named("tui"),
		copyFn:      opts.Clipboard,
		maxLen:      opts.MaxQueryLength,
		viewport:    vp,
		input:       ti,
		spinner:     sp,
		help:        help.New(),
		keyMap:      DefaultKeyMap(),
		state:       st.Snapshot(),
		changes:     changes,
		unsubscribe: unsubscribe,
	}
}

// Close detaches the screen from the store.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Init starts the cursor blink, the spinner and the store listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForChange(m.changes))
}

// waitForChange blocks until the store signals a mutation.
func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func sendCmd(ctx context.Context, o *orchestrator.Orchestrator, query string) tea.Cmd {
	return func() tea.Msg {
		outcome, err := o.Send(ctx, query)
		return sendDoneMsg{outcome: outcome, err: err}
	}
}

func retryCmd(ctx context.Context, o *orchestrator.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		outcome, err := o.Retry(ctx)
		return sendDoneMsg{outcome: outcome, err: err}
	}
}

func feedbackCmd(ctx context.Context, o *orchestrator.Orchestrator, id string, vote model.Vote) tea.Cmd {
	return func() tea.Msg {
		got, err := o.Feedback(ctx, id, vote)
		return feedbackDoneMsg{vote: got, err: err}
	}
}

func frameCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg { return frameMsg{} })
}
