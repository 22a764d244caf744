// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
	"github.com/jeranaias/uoe-chat/internal/store"
	"github.com/jeranaias/uoe-chat/internal/ui/markdown"
	"github.com/jeranaias/uoe-chat/internal/ui/styles"
	"github.com/jeranaias/uoe-chat/internal/util"
)

// maxSourcesShown caps the sources listed under one answer.
const maxSourcesShown = 5

// =============================================================================
// RENDER CACHE
// =============================================================================

// renderCache keeps the markdown body of finalized answers.
// PERFORMANCE: glamour is the expensive part of a frame; a finalized
// answer's body never changes, so it renders once per width.
type renderCache struct {
	width  int
	bodies map[string]string
}

func newRenderCache() *renderCache {
	return &renderCache{bodies: make(map[string]string)}
}

func (c *renderCache) body(msg model.Message, width int, md *markdown.Renderer) string {
	if c.width != width {
		c.width = width
		c.bodies = make(map[string]string)
	}
	if out, ok := c.bodies[msg.ID]; ok {
		return out
	}
	out := md.Render(msg.Content, width)
	c.bodies[msg.ID] = out
	return out
}

// =============================================================================
// CONVERSATION
// =============================================================================

// renderer turns a snapshot into the viewport content.
type renderer struct {
	theme *styles.Theme
	md    *markdown.Renderer
	cache *renderCache
}

// conversation renders every message, or the welcome screen when empty.
// cursor is drawn after streaming content.
func (r *renderer) conversation(st store.State, width int, cursor string) string {
	if width < 20 {
		width = 20
	}
	if len(st.Messages) == 0 {
		return r.welcome(st.Namespace, width)
	}

	var b strings.Builder
	for i, msg := range st.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if msg.IsUser() {
			b.WriteString(r.user(msg, width))
			continue
		}
		streaming := st.IsStreaming && msg.ID == st.StreamingMessageID
		b.WriteString(r.assistant(msg, st.Feedback[msg.ID], streaming, width, cursor))
	}

	if st.IsMaxTurns() && !st.IsStreaming {
		b.WriteString("\n\n")
		b.WriteString(r.theme.Notice.Render(fmt.Sprintf(
			"Conversation limit reached (%d turns). Press Ctrl+N to start a new chat.", st.MaxTurns)))
	}
	return b.String()
}

func (r *renderer) welcome(ns model.Namespace, width int) string {
	var b strings.Builder
	b.WriteString(r.theme.HeaderTitle.Render("Ask about " + ns.Label()))
	b.WriteString("\n\n")
	b.WriteString(r.theme.Muted.Render("Try one of these (Ctrl+G fills the input):"))
	b.WriteString("\n")
	for i, s := range ns.Suggestions() {
		b.WriteString("\n  ")
		b.WriteString(r.theme.SuggestionNumber.Render(fmt.Sprintf("%d.", i+1)))
		b.WriteString(" ")
		b.WriteString(r.theme.Suggestion.Render(util.TruncateWidth(s, width-6)))
	}
	return b.String()
}

func (r *renderer) user(msg model.Message, width int) string {
	head := r.theme.UserLabel.Render(msg.Role.DisplayName()) + " " +
		r.theme.Timestamp.Render(msg.FormatTimestamp())
	body := r.theme.UserText.Width(width - 2).Render(msg.Content)
	return head + "\n" + body
}

func (r *renderer) assistant(msg model.Message, vote model.Vote, streaming bool, width int, cursor string) string {
	var b strings.Builder

	head := []string{
		r.theme.AssistantLabel.Render(msg.Role.DisplayName()),
		r.theme.Timestamp.Render(msg.FormatTimestamp()),
	}
	state := msg.SmartInfo.Classify()
	if badge := r.theme.SmartBadge(state); badge != "" {
		head = append(head, badge)
	}
	if mark := r.theme.VoteMark(vote); mark != "" {
		head = append(head, mark)
	}
	b.WriteString(strings.Join(head, " "))
	b.WriteString("\n")

	if msg.EnhancedQuery != "" {
		b.WriteString(r.theme.EnhancedQuery.Render("Searched for: " + msg.EnhancedQuery))
		b.WriteString("\n")
	}

	switch {
	case streaming:
		b.WriteString(r.theme.AssistantText.Width(width).Render(msg.Content + cursor))
	case orchestrator.IsErrorReply(msg.Content):
		b.WriteString(r.theme.ErrorReply.Width(width - 2).Render(msg.Content))
		b.WriteString("\n")
		b.WriteString(r.theme.Muted.Render("Press Ctrl+R to retry."))
	case r.md.Enabled():
		b.WriteString(r.cache.body(msg, width, r.md))
	default:
		b.WriteString(r.theme.AssistantText.Width(width).Render(msg.Content))
	}

	if streaming {
		return b.String()
	}
	if state != model.SmartStateNone {
		b.WriteString("\n")
		b.WriteString(r.theme.Muted.Render(state.Description()))
	}
	if msg.HasSources() {
		b.WriteString("\n")
		b.WriteString(r.sources(msg.Sources, width))
	}
	return b.String()
}

func (r *renderer) sources(sources []model.Source, width int) string {
	var b strings.Builder
	b.WriteString(r.theme.SourceHeader.Render(fmt.Sprintf("Sources (%d)", len(sources))))
	for i, src := range sources {
		if i == maxSourcesShown {
			b.WriteString("\n")
			b.WriteString(r.theme.Muted.Render(fmt.Sprintf("  +%d more", len(sources)-maxSourcesShown)))
			break
		}
		b.WriteString("\n")
		b.WriteString(r.sourceLine(i+1, src, width))
		if src.Text != "" {
			b.WriteString("\n")
			b.WriteString(r.theme.SourceExcerpt.Render(util.Excerpt(src.Text, width-6)))
		}
	}
	return b.String()
}

func (r *renderer) sourceLine(n int, src model.Source, width int) string {
	parts := []string{
		fmt.Sprintf("  [%d]", n),
		r.theme.SourceFile.Render(util.TruncateWidth(src.File, width/2)),
	}
	if src.Page != nil {
		parts = append(parts, r.theme.Muted.Render(fmt.Sprintf("p.%d", *src.Page)))
	}
	if src.CourseCode != "" {
		parts = append(parts, r.theme.SourceCourse.Render(src.CourseCode))
	}
	if src.Department != "" {
		parts = append(parts, r.theme.Muted.Render(src.Department))
	}
	parts = append(parts, r.theme.SourceScore.Render(fmt.Sprintf("%d%%", src.ScorePercent())))
	return strings.Join(parts, " ")
}
