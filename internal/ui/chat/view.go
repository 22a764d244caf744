// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/uoe-chat/internal/orchestrator"
	"github.com/jeranaias/uoe-chat/internal/util"
)

// Fixed line counts of the screen chrome.
const (
	headerHeight = 1
	inputHeight  = 3 // border, input, counter/notice
	statusHeight = 1
	helpHeight   = 5
)

// View renders the complete chat screen.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	parts := []string{
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatus(),
	}
	if m.showHelp {
		parts = append(parts, m.help.View(m.keyMap))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderHeader shows the brand, namespace, turn counter and retrieval flags.
func (m Model) renderHeader() string {
	t := m.theme
	st := m.state

	left := t.HeaderBrand.Render("UoE Academic Q&A") + "  " + t.NamespaceChip(st.Namespace)

	flags := []string{fmt.Sprintf("turns %d/%d", st.TurnCount, st.MaxTurns)}
	if st.Settings.EnableSmart {
		flags = append(flags, "smart")
	}
	if st.Settings.EnhanceQuery {
		flags = append(flags, "enhance")
	}
	flags = append(flags, fmt.Sprintf("k=%d", st.Settings.TopKRetrieve))
	right := t.Muted.Render(strings.Join(flags, " | "))

	gap := m.width - 2 - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return t.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// renderInput shows the input line with the character counter or the current notice.
func (m Model) renderInput() string {
	t := m.theme

	n := orchestrator.QueryLength(m.input.Value())
	counter := t.CharCount.Render(fmt.Sprintf("%d/%d", n, m.maxLen))
	if n > m.maxLen {
		counter = t.CharCountDanger.Render(fmt.Sprintf("%d/%d too long", n, m.maxLen))
	}

	notice := ""
	if m.notice != "" {
		text := util.TruncateWidth(m.notice, m.width-lipgloss.Width(counter)-6)
		if m.noticeErr {
			notice = t.Offline.Render(text)
		} else {
			notice = t.Notice.Render(text)
		}
	}

	gap := m.width - 2 - lipgloss.Width(notice) - lipgloss.Width(counter)
	if gap < 1 {
		gap = 1
	}
	line := notice + strings.Repeat(" ", gap) + counter
	return t.InputContainer.Width(m.width).Render(m.input.View() + "\n" + line)
}

// renderStatus shows the backend state, streaming spinner and short help.
func (m Model) renderStatus() string {
	t := m.theme
	left := t.OnlineIndicator(m.state.Online)
	if m.state.IsStreaming {
		left += "  " + m.spinner.View() + " " + t.Muted.Render("answering...")
	}
	if m.state.SessionID != "" {
		left += "  " + t.Muted.Render("session "+util.TruncateWidth(m.state.SessionID, 10))
	}

	right := ""
	if !m.showHelp {
		right = m.help.ShortHelpView(m.keyMap.ShortHelp())
	}
	gap := m.width - 2 - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		right = ""
		gap = 1
	}
	return t.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
