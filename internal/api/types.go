// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"

	"github.com/jeranaias/uoe-chat/internal/model"
)

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Query        string          `json:"query"`
	Namespace    model.Namespace `json:"namespace"`
	SessionID    string          `json:"session_id,omitempty"`
	EnhanceQuery bool            `json:"enhance_query"`
	EnableSmart  bool            `json:"enable_smart"`
	TopKRetrieve int             `json:"top_k_retrieve"`
}

// NewChatRequest builds a request from a query and the conversation's settings.
func NewChatRequest(query string, ns model.Namespace, sessionID string, settings model.Settings) ChatRequest {
	return ChatRequest{
		Query:        query,
		Namespace:    ns,
		SessionID:    sessionID,
		EnhanceQuery: settings.EnhanceQuery,
		EnableSmart:  settings.EnableSmart,
		TopKRetrieve: settings.TopKRetrieve,
	}
}

// ChatResponse is the non-streaming answer.
type ChatResponse struct {
	Answer        string           `json:"answer"`
	Sources       []model.Source   `json:"sources,omitempty"`
	SmartInfo     *model.SmartInfo `json:"smart_info,omitempty"`
	EnhancedQuery string           `json:"enhanced_query,omitempty"`
	RunID         string           `json:"run_id,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
}

// Meta returns the retrieval metadata of the answer.
func (r *ChatResponse) Meta() model.Meta {
	return model.Meta{
		Sources:       r.Sources,
		SmartInfo:     r.SmartInfo,
		EnhancedQuery: r.EnhancedQuery,
		RunID:         r.RunID,
	}
}

// Metadata is the payload of a "metadata" stream frame.
// Raw keeps the whole frame object for fields this client does not model.
type Metadata struct {
	Sources       []model.Source   `json:"sources,omitempty"`
	SmartInfo     *model.SmartInfo `json:"smart_info,omitempty"`
	EnhancedQuery string           `json:"enhanced_query,omitempty"`
	RunID         string           `json:"run_id,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// FeedbackRequest rates an answer by its backend trace id.
type FeedbackRequest struct {
	RunID   string `json:"run_id"`
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// FeedbackResponse acknowledges a feedback submission.
type FeedbackResponse struct {
	Status string `json:"status"`
}

// errorResponse is the body of a non-2xx response.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}
