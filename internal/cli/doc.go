// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the uoechat command tree.
//
// Running uoechat without a subcommand opens the full-screen chat. The other
// commands cover scripting and quick checks against the backend.
//
// # Key Types
//
//   - App: Config, logger, metrics, API client, store, orchestrator and
//     health monitor for one invocation
//   - ChatSession: Line-mode REPL state behind "uoechat chat"
//   - JSONResponse: Envelope printed by --json
//
// # Commands Overview
//
//   - (none), tui: Full-screen chat
//   - chat: Line-mode chat with history and slash commands
//   - ask: Single question, streamed or --no-stream, optionally --json
//   - health: Backend liveness probe
//   - namespaces: Namespaces the backend serves
//   - config: show, init, path, get, set
//   - version: Build information
//
// # Usage
//
//	os.Exit(cli.Execute(ctx, cli.BuildInfo{Version: version}))
package cli
