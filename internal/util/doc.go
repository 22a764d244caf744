// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the uoechat front ends.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth, Excerpt: column-aware truncation for terminal output
//   - PadRight, StringWidth: alignment of tables and status bars
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	// One-line source preview that fits the sources pane
//	line := util.Excerpt(src.Text, 60)
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0600)
package util
