// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the transport client,
// the conversation store and the front ends.
//
// # Key Types
//
//   - Message: a single user or assistant turn, with retrieval sources
//   - Source: one retrieved document chunk backing an answer
//   - SmartInfo: Smart-RAG diagnostics and its derived SmartState badge
//   - Namespace: the knowledge base a conversation is scoped to
//   - Settings: per-conversation retrieval options
//
// # Usage
//
//	msg := model.NewAssistantMessage(resp.Answer, resp.Meta())
//	state := info.Classify() // FALLBACK, BEST_EFFORT, RETRY or PASS
package model
