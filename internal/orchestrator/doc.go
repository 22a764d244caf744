// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator drives a query from acceptance to a final assistant
// message.
//
// A send streams the answer into the store token by token. If the stream
// fails, the partial message is discarded and the same request is retried
// once without streaming; if that also fails, a fixed apology is recorded
// instead. Stop aborts whichever request is in flight.
//
// # States
//
//	Idle -> Streaming -> Finalizing -> Idle
//	Idle -> Streaming -> FallbackPending -> Idle
//	any non-Idle -> Aborted (Stop, or a superseding send)
//
// Each send carries a generation number. Store mutations from a send are
// applied only while its generation is current, so a stopped send can never
// write into the conversation.
package orchestrator
