// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// Ellipsis is appended to truncated text.
const Ellipsis = "…"

// UNICODE: Width-aware helpers. Source excerpts and course titles mix CJK,
// accents and emoji, so byte or rune counts misalign terminal columns.

// TruncateWidth truncates s to at most maxWidth terminal columns,
// ending with Ellipsis when anything was cut.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= runewidth.StringWidth(Ellipsis) {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, Ellipsis)
}

// StringWidth returns the display width of s in terminal columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// PadRight pads s with spaces to width columns. Wider strings are returned unchanged.
func PadRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// SingleLine collapses every run of whitespace, newlines included, into one space.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Excerpt flattens s to one line and truncates it to maxWidth columns.
func Excerpt(s string, maxWidth int) string {
	return TruncateWidth(SingleLine(s), maxWidth)
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
