// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// SmartInfo carries the Smart-RAG diagnostics returned with an answer.
type SmartInfo struct {
	UsedFallback        bool     `json:"used_fallback"`
	BestEffort          bool     `json:"best_effort"`
	QueryRewrites       []string `json:"query_rewrites"`
	TotalRetrievals     int      `json:"total_retrievals"`
	TotalChunksGraded   int      `json:"total_chunks_graded"`
	FinalRelevantChunks int      `json:"final_relevant_chunks"`
}

// Clone returns a deep copy, or nil for a nil receiver.
func (s *SmartInfo) Clone() *SmartInfo {
	if s == nil {
		return nil
	}
	out := *s
	if s.QueryRewrites != nil {
		out.QueryRewrites = append([]string(nil), s.QueryRewrites...)
	}
	return &out
}

// Classify derives the badge shown for the answer.
// Precedence is FALLBACK, then BEST_EFFORT, then RETRY, then PASS.
func (s *SmartInfo) Classify() SmartState {
	switch {
	case s == nil:
		return SmartStateNone
	case s.UsedFallback:
		return SmartStateFallback
	case s.BestEffort:
		return SmartStateBestEffort
	case len(s.QueryRewrites) > 0:
		return SmartStateRetry
	default:
		return SmartStatePass
	}
}

// SmartState is the outcome category of a Smart-RAG answer.
type SmartState string

const (
	SmartStateNone       SmartState = ""
	SmartStatePass       SmartState = "PASS"
	SmartStateRetry      SmartState = "RETRY"
	SmartStateBestEffort SmartState = "BEST_EFFORT"
	SmartStateFallback   SmartState = "FALLBACK"
)

// Label returns the short badge text.
func (s SmartState) Label() string {
	switch s {
	case SmartStatePass:
		return "Pass"
	case SmartStateRetry:
		return "Retry"
	case SmartStateBestEffort:
		return "Best Effort"
	case SmartStateFallback:
		return "Fallback"
	default:
		return ""
	}
}

// Description explains the badge to the reader.
func (s SmartState) Description() string {
	switch s {
	case SmartStatePass:
		return "All chunks were relevant on first retrieval"
	case SmartStateRetry:
		return "Query was rewritten to find better results"
	case SmartStateBestEffort:
		return "Used the best available chunks after retries"
	case SmartStateFallback:
		return "No relevant chunks found, generated from general knowledge"
	default:
		return ""
	}
}
