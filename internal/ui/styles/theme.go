// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the uoechat TUI.
package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/uoe-chat/internal/model"
)

// Theme holds all the styled components for the application.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderBrand lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserLabel      lipgloss.Style
	UserText       lipgloss.Style
	AssistantLabel lipgloss.Style
	AssistantText  lipgloss.Style
	Timestamp      lipgloss.Style
	ErrorReply     lipgloss.Style
	EnhancedQuery  lipgloss.Style

	// ==========================================================================
	// SOURCES
	// ==========================================================================

	SourceHeader  lipgloss.Style
	SourceFile    lipgloss.Style
	SourceScore   lipgloss.Style
	SourceCourse  lipgloss.Style
	SourceExcerpt lipgloss.Style

	// ==========================================================================
	// SMART-RAG BADGES
	// ==========================================================================

	BadgePass       lipgloss.Style
	BadgeRetry      lipgloss.Style
	BadgeBestEffort lipgloss.Style
	BadgeFallback   lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS BAR
	// ==========================================================================

	InputContainer   lipgloss.Style
	InputPrompt      lipgloss.Style
	CharCount        lipgloss.Style
	CharCountDanger  lipgloss.Style
	StatusBar        lipgloss.Style
	Online           lipgloss.Style
	Offline          lipgloss.Style
	Checking         lipgloss.Style
	ShortcutKey      lipgloss.Style
	ShortcutDesc     lipgloss.Style
	VoteUp           lipgloss.Style
	VoteDown         lipgloss.Style
	Suggestion       lipgloss.Style
	SuggestionNumber lipgloss.Style
	Notice           lipgloss.Style
	Muted            lipgloss.Style
}

// NewTheme creates a theme. mode is "dark", "light" or "auto"; auto asks
// the terminal for its background.
func NewTheme(mode string) *Theme {
	profile := termenv.ColorProfile()
	var isDark bool
	switch strings.ToLower(mode) {
	case "dark":
		isDark = true
	case "light":
		isDark = false
	default:
		isDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{
		IsDark:       isDark,
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

// initStyles initializes all the lip gloss styles.
func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.HeaderBrand = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	// Messages
	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(UserBubbleBorder)

	t.UserText = lipgloss.NewStyle().
		Foreground(UserBubbleFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(UserBubbleBorder).
		BorderLeft(true).
		PaddingLeft(1)

	t.AssistantLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(AssistantBubbleBorder)

	t.AssistantText = lipgloss.NewStyle().
		Foreground(AssistantBubbleFg)

	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.ErrorReply = lipgloss.NewStyle().
		Foreground(Rose).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Rose).
		BorderLeft(true).
		PaddingLeft(1)

	t.EnhancedQuery = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)

	// Sources
	t.SourceHeader = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Bold(true)

	t.SourceFile = lipgloss.NewStyle().
		Foreground(Blue)

	t.SourceScore = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.SourceCourse = lipgloss.NewStyle().
		Foreground(Amber)

	t.SourceExcerpt = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true).
		PaddingLeft(4)

	// Badges
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	t.BadgePass = badge.Foreground(Emerald)
	t.BadgeRetry = badge.Foreground(Blue)
	t.BadgeBestEffort = badge.Foreground(Amber)
	t.BadgeFallback = badge.Foreground(Rose)

	// Input
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.CharCount = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.CharCountDanger = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)

	// Status bar
	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)

	t.Online = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
	t.Offline = lipgloss.NewStyle().Foreground(Rose).Bold(true)
	t.Checking = lipgloss.NewStyle().Foreground(TextMuted)

	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.VoteUp = lipgloss.NewStyle().Foreground(Emerald)
	t.VoteDown = lipgloss.NewStyle().Foreground(Rose)

	t.Suggestion = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.SuggestionNumber = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.Notice = lipgloss.NewStyle().
		Foreground(Amber)

	t.Muted = lipgloss.NewStyle().
		Foreground(TextMuted)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// =============================================================================
// COMPOSITE RENDERERS
// =============================================================================

// SmartBadge renders the Smart-RAG badge, or "" when there is no diagnostic.
func (t *Theme) SmartBadge(state model.SmartState) string {
	var style lipgloss.Style
	switch state {
	case model.SmartStatePass:
		style = t.BadgePass
	case model.SmartStateRetry:
		style = t.BadgeRetry
	case model.SmartStateBestEffort:
		style = t.BadgeBestEffort
	case model.SmartStateFallback:
		style = t.BadgeFallback
	default:
		return ""
	}
	return style.Render("[" + state.Label() + "]")
}

// OnlineIndicator renders the backend reachability with a shape and a word.
func (t *Theme) OnlineIndicator(o model.Online) string {
	switch o {
	case model.OnlineYes:
		return t.Online.Render(StatusIndicators.Active + " " + o.String())
	case model.OnlineNo:
		return t.Offline.Render(StatusIndicators.Error + " " + o.String())
	default:
		return t.Checking.Render(StatusIndicators.Pending + " " + o.String())
	}
}

// NamespaceChip renders a namespace label in its accent color.
func (t *Theme) NamespaceChip(ns model.Namespace) string {
	return lipgloss.NewStyle().
		Foreground(NamespaceColor(string(ns))).
		Bold(true).
		Render(ns.Label())
}

// VoteMark renders a recorded vote, or "" for none.
func (t *Theme) VoteMark(v model.Vote) string {
	switch v {
	case model.VoteUp:
		return t.VoteUp.Render("+1")
	case model.VoteDown:
		return t.VoteDown.Render("-1")
	default:
		return ""
	}
}
