// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the Bubble Tea chat screen for uoechat.

The screen is a view over a store.Store: every store mutation wakes the model
through a one-slot channel, and the model re-renders from a fresh snapshot at
most once per frame. All actions go through the orchestrator, so the screen
never writes conversation state itself.

# Key Components

## Model (model.go)

Holds the viewport, text input, spinner and help widgets, the current
snapshot and the store subscription.

## Update Loop (update.go)

Key handling: Enter sends, Esc stops, Ctrl+N starts a new chat, Tab switches
namespace, Ctrl+R retries, Ctrl+T and Ctrl+E toggle Smart-RAG and query
enhancement, Ctrl+U and Ctrl+D vote on the last answer, Ctrl+Y copies it.

## Rendering (render.go, view.go)

Messages with markdown answers, sources, Smart-RAG badges and vote marks;
header, input box with character count and the status line.

# Usage

	m := chat.New(chat.Options{Orchestrator: orch, Theme: theme, Markdown: md})
	defer m.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
*/
package chat
