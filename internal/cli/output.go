// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// output.go - JSON output support for scripting.

package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jeranaias/uoe-chat/internal/model"
)

// JSONResponse is the envelope printed by every command in --json mode.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// ErrorType classifies Error for scripts
	ErrorType string `json:"error_type,omitempty"`

	// Timestamp is the RFC 3339 time the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response as indented JSON.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// AskData is the --json payload of "ask".
type AskData struct {
	Query         string           `json:"query"`
	Namespace     string           `json:"namespace"`
	Answer        string           `json:"answer"`
	Outcome       string           `json:"outcome,omitempty"`
	SmartState    string           `json:"smart_state,omitempty"`
	EnhancedQuery string           `json:"enhanced_query,omitempty"`
	RunID         string           `json:"run_id,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
	Sources       []SourceData     `json:"sources"`
	SmartInfo     *model.SmartInfo `json:"smart_info,omitempty"`
}

// SourceData is one cited source.
type SourceData struct {
	File       string  `json:"file"`
	Score      float64 `json:"score"`
	Page       *int    `json:"page,omitempty"`
	Department string  `json:"department,omitempty"`
	CourseCode string  `json:"course_code,omitempty"`
}

// HealthData is the --json payload of "health".
type HealthData struct {
	URL       string `json:"url"`
	Online    bool   `json:"online"`
	LatencyMS int64  `json:"latency_ms"`
}

// NamespacesData is the --json payload of "namespaces".
type NamespacesData struct {
	Namespaces []string `json:"namespaces"`
}
