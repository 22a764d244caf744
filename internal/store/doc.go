// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the conversation state shared by the orchestrator,
// the health monitor and the front ends.
//
// All mutation goes through Store's named actions. Each action takes the
// lock once, so observers never see a half-applied change.
//
// # Invariants
//
//   - IsStreaming is true exactly when the last message is the streaming
//     assistant message.
//   - TurnCount grows by one per user message and resets with the conversation.
//   - Changing namespace or starting a new chat clears messages, session id,
//     turn count, feedback and any active stream.
//
// # Usage
//
//	s := store.New(store.Options{})
//	s.AddUserMessage("What is the attendance policy?")
//	s.StartStreaming()
//	s.AppendStreamToken("Students must attend ")
//	s.FinishStreaming(model.Meta{})
package store
