// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markdown renders assistant answers for the terminal with glamour.
package markdown

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// DefaultWidth is the wrap width used before the terminal size is known.
const DefaultWidth = 80

// Renderer renders markdown at a given wrap width. A disabled renderer
// returns its input unchanged. Safe for concurrent use.
type Renderer struct {
	enabled bool
	style   string // glamour standard style; "" selects auto

	mu    sync.Mutex
	width int
	term  *glamour.TermRenderer
}

// New creates a renderer. theme is "dark", "light" or "auto".
func New(enabled bool, theme string) *Renderer {
	style := ""
	switch strings.ToLower(theme) {
	case "dark":
		style = "dark"
	case "light":
		style = "light"
	}
	return &Renderer{enabled: enabled, style: style}
}

// Enabled reports whether markdown is rendered.
func (r *Renderer) Enabled() bool {
	return r != nil && r.enabled
}

// Render renders content wrapped to width columns. Falls back to the raw
// content when rendering fails.
func (r *Renderer) Render(content string, width int) string {
	if !r.Enabled() || strings.TrimSpace(content) == "" {
		return content
	}
	if width <= 0 {
		width = DefaultWidth
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// PERFORMANCE: TermRenderer construction parses the style sheet; reuse
	// it until the width changes.
	if r.term == nil || r.width != width {
		opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
		if r.style == "" {
			opts = append(opts, glamour.WithAutoStyle())
		} else {
			opts = append(opts, glamour.WithStandardStyle(r.style))
		}
		term, err := glamour.NewTermRenderer(opts...)
		if err != nil {
			return content
		}
		r.term, r.width = term, width
	}

	out, err := r.term.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}
