// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "github.com/charmbracelet/bubbles/key"

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines all keyboard bindings for the chat screen.
type KeyMap struct {
	Send          key.Binding
	Stop          key.Binding
	NewChat       key.Binding
	NextNamespace key.Binding
	Retry         key.Binding
	ToggleSmart   key.Binding
	ToggleEnhance key.Binding
	VoteUp        key.Binding
	VoteDown      key.Binding
	Copy          key.Binding
	Suggest       key.Binding
	PageUp        key.Binding
	PageDown      key.Binding
	Help          key.Binding
	Quit          key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		Stop: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "stop"),
		),
		NewChat: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "new chat"),
		),
		NextNamespace: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("Tab", "namespace"),
		),
		Retry: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("C-r", "retry"),
		),
		ToggleSmart: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("C-t", "smart"),
		),
		ToggleEnhance: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("C-e", "enhance"),
		),
		VoteUp: key.NewBinding(
			key.WithKeys("ctrl+u"),
			key.WithHelp("C-u", "helpful"),
		),
		VoteDown: key.NewBinding(
			key.WithKeys("ctrl+d"),
			key.WithHelp("C-d", "not helpful"),
		),
		Copy: key.NewBinding(
			key.WithKeys("ctrl+y"),
			key.WithHelp("C-y", "copy answer"),
		),
		Suggest: key.NewBinding(
			key.WithKeys("ctrl+g"),
			key.WithHelp("C-g", "suggestion"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "scroll down"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("F1", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("C-c", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the status line.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Stop, k.NextNamespace, k.NewChat, k.Help, k.Quit}
}

// FullHelp returns the bindings grouped for the help overlay.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Stop, k.Retry, k.NewChat},
		{k.NextNamespace, k.ToggleSmart, k.ToggleEnhance, k.Suggest},
		{k.VoteUp, k.VoteDown, k.Copy},
		{k.PageUp, k.PageDown, k.Help, k.Quit},
	}
}
