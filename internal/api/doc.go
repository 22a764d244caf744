// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the UOE Q&A backend.
//
// The client speaks four endpoints under the API root (chat, chat/stream,
// feedback, namespaces) and the liveness probe under the backend root,
// which is the API root with a trailing "/api" removed.
//
// # Key Types
//
//   - Client: issues requests; safe for concurrent use
//   - ChatRequest / ChatResponse: the chat payloads
//   - StreamHandlers: callbacks invoked while a streamed answer arrives
//   - Frame: one decoded "data: " line of the event stream
//   - RequestError / StreamError: non-2xx responses and server-reported stream failures
//
// # Usage
//
//	client := api.NewClient(api.ClientConfig{BaseURL: "http://localhost:8000/api"})
//	client.ChatStream(ctx, req, api.StreamHandlers{
//	    OnToken: func(tok string) { fmt.Print(tok) },
//	    OnDone:  func() { fmt.Println() },
//	    OnError: func(err error) { log.Println(err) },
//	})
//
// Cancelling ctx ends a stream silently: no handler fires afterwards.
package api
