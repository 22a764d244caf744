// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
)

// Update handles all Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.theme.SetSize(msg.Width, msg.Height)
		m.layout()
		m.ready = true
		m.refresh()
		return m, nil

	case storeChangedMsg:
		m.dirty = true
		cmds := []tea.Cmd{waitForChange(m.changes)}
		if !m.frameScheduled {
			m.frameScheduled = true
			cmds = append(cmds, frameCmd())
		}
		return m, tea.Batch(cmds...)

	case frameMsg:
		m.frameScheduled = false
		if m.dirty {
			m.refresh()
		}
		return m, nil

	case sendDoneMsg:
		m.handleSendDone(msg)
		return m, nil

	case feedbackDoneMsg:
		if msg.err != nil {
			// The vote stays recorded locally.
			m.setError("Feedback not delivered: " + msg.err.Error())
		} else if msg.vote != model.VoteNone {
			m.setNotice("Thanks for the feedback")
		}
		return m, nil

	case SettingsMsg:
		s := msg.Settings
		if err := m.store.UpdateSettings(model.SettingsPatch{
			EnhanceQuery: &s.EnhanceQuery,
			EnableSmart:  &s.EnableSmart,
			TopKRetrieve: &s.TopKRetrieve,
		}); err != nil {
			m.setError("Settings not applied: " + err.Error())
		} else {
			m.setNotice("Settings reloaded")
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state.IsStreaming {
			m.refresh()
		}
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey dispatches a key press.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := m.keyMap
	switch {
	case key.Matches(msg, k.Quit):
		m.orch.Stop()
		return m, tea.Quit

	case key.Matches(msg, k.Stop):
		if m.showHelp {
			m.showHelp = false
			m.layout()
			return m, nil
		}
		if m.orch.Busy() {
			m.orch.Stop()
			m.setNotice("Stopped")
		}
		return m, nil

	case key.Matches(msg, k.Send):
		query := m.input.Value()
		if err := m.orch.CanSend(query, m.maxLen); err != nil {
			if !errors.Is(err, orchestrator.ErrEmptyQuery) {
				m.setError(gateMessage(err))
			}
			return m, nil
		}
		m.input.Reset()
		m.clearNotice()
		m.viewport.GotoBottom()
		return m, sendCmd(m.ctx, m.orch, query)

	case key.Matches(msg, k.NewChat):
		m.orch.NewChat()
		m.suggested = 0
		m.setNotice("New conversation")
		return m, nil

	case key.Matches(msg, k.NextNamespace):
		next := m.store.Namespace().Next()
		if err := m.orch.SwitchNamespace(next); err != nil {
			m.setError(err.Error())
			return m, nil
		}
		m.suggested = 0
		m.setNotice("Switched to " + next.Label())
		return m, nil

	case key.Matches(msg, k.Retry):
		if m.store.LastUserQuery() == "" {
			m.setError("Nothing to retry yet")
			return m, nil
		}
		if m.orch.Busy() {
			m.setError(gateMessage(orchestrator.ErrBusy))
			return m, nil
		}
		m.clearNotice()
		return m, retryCmd(m.ctx, m.orch)

	case key.Matches(msg, k.ToggleSmart):
		v := !m.store.Settings().EnableSmart
		m.applySetting(model.SettingsPatch{EnableSmart: &v}, "Smart-RAG", v)
		return m, nil

	case key.Matches(msg, k.ToggleEnhance):
		v := !m.store.Settings().EnhanceQuery
		m.applySetting(model.SettingsPatch{EnhanceQuery: &v}, "Query enhancement", v)
		return m, nil

	case key.Matches(msg, k.VoteUp), key.Matches(msg, k.VoteDown):
		last, ok := m.store.Snapshot().LastAssistant()
		if !ok {
			m.setError("No answer to rate yet")
			return m, nil
		}
		vote := model.VoteUp
		if key.Matches(msg, k.VoteDown) {
			vote = model.VoteDown
		}
		return m, feedbackCmd(m.ctx, m.orch, last.ID, vote)

	case key.Matches(msg, k.Copy):
		last, ok := m.store.Snapshot().LastAssistant()
		if !ok {
			m.setError("No answer to copy yet")
			return m, nil
		}
		if err := m.copyFn(last.Content); err != nil {
			m.logger.Warn("clipboard write failed", zap.Error(err))
			m.setError("Copy failed: " + err.Error())
			return m, nil
		}
		m.setNotice("Answer copied to clipboard")
		return m, nil

	case key.Matches(msg, k.Suggest):
		if len(m.state.Messages) > 0 {
			return m, nil
		}
		suggestions := m.store.Namespace().Suggestions()
		if len(suggestions) == 0 {
			return m, nil
		}
		m.input.SetValue(suggestions[m.suggested%len(suggestions)])
		m.input.CursorEnd()
		m.suggested++
		return m, nil

	case key.Matches(msg, k.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, k.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, k.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		m.layout()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleSendDone(msg sendDoneMsg) {
	if msg.err != nil {
		if !errors.Is(msg.err, orchestrator.ErrEmptyQuery) {
			m.setError(gateMessage(msg.err))
		}
		return
	}
	switch msg.outcome {
	case orchestrator.OutcomeFallback:
		m.setNotice("Streaming failed; answer fetched in one piece")
	case orchestrator.OutcomeErrored:
		m.setError("The request failed. Press Ctrl+R to retry.")
	}
}

func (m *Model) applySetting(patch model.SettingsPatch, name string, on bool) {
	if err := m.store.UpdateSettings(patch); err != nil {
		m.setError(err.Error())
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	m.setNotice(fmt.Sprintf("%s %s", name, state))
}

// gateMessage turns a rejection into a status line.
func gateMessage(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		return "Wait for the current answer or press Esc to stop it"
	case errors.Is(err, orchestrator.ErrMaxTurns):
		return "Conversation limit reached. Press Ctrl+N to start a new chat."
	case errors.Is(err, orchestrator.ErrOffline):
		return "The server is offline. Try again once it reconnects."
	case errors.Is(err, orchestrator.ErrQueryTooLong):
		return "Question too long: " + err.Error()
	case errors.Is(err, orchestrator.ErrNothingToRetry):
		return "Nothing to retry yet"
	default:
		return err.Error()
	}
}

// =============================================================================
// STATE HELPERS
// =============================================================================

// refresh re-renders the viewport from a fresh snapshot, following the
// bottom when the user hadn't scrolled away.
func (m *Model) refresh() {
	m.state = m.store.Snapshot()
	m.dirty = false
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	cursor := ""
	if m.state.IsStreaming {
		cursor = " " + m.spinner.View()
	}
	m.viewport.SetContent(m.render.conversation(m.state, m.viewport.Width, cursor))
	if follow {
		m.viewport.GotoBottom()
	}
}

// layout sizes the viewport to the space left by the header, input and status lines.
func (m *Model) layout() {
	chrome := headerHeight + inputHeight + statusHeight
	if m.showHelp {
		chrome += helpHeight
	}
	h := m.height - chrome
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.input.Width = m.width - 4 - len(m.input.Prompt)
	m.help.Width = m.width
}

func (m *Model) setNotice(s string) {
	m.notice, m.noticeErr = s, false
}

func (m *Model) setError(s string) {
	m.notice, m.noticeErr = s, true
}

func (m *Model) clearNotice() {
	m.notice, m.noticeErr = "", false
}
