// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the uoechat TUI and
the plain-terminal commands.

All colors use Lip Gloss AdaptiveColor so the same palette works on light and
dark terminals. Theme detects the background with termenv unless the user
forces "dark" or "light" in [ui] theme.

# Color System (colors.go)

  - Purple: assistant answers
  - Cyan: brand, prompt, user highlights
  - Emerald / Rose: online and offline, up and down votes, Pass and Fallback badges
  - Amber: Best Effort badge, course codes, notices

Every colored state is paired with an ASCII indicator from StatusIndicators.

# Theme (theme.go)

Theme groups the styles by screen region and adds composite renderers:

	theme := styles.NewTheme(cfg.UI.Theme)
	badge := theme.SmartBadge(msg.SmartInfo.Classify())
	dot := theme.OnlineIndicator(state.Online)
*/
package styles
