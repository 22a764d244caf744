// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the transport client,
// the conversation store and the front ends.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// SOURCE TYPE
// =============================================================================

// Source is one retrieved document chunk cited by an answer.
type Source struct {
	File       string  `json:"file"`
	Score      float64 `json:"score"`
	Page       *int    `json:"page,omitempty"`
	Department string  `json:"department,omitempty"`
	CourseCode string  `json:"course_code,omitempty"`
	Text       string  `json:"text,omitempty"`
}

// ScorePercent returns the relevance score as a whole percentage.
func (s Source) ScorePercent() int {
	return int(s.Score*100 + 0.5)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Retrieval metadata (assistant messages only)
	Sources       []Source   `json:"sources,omitempty"`
	SmartInfo     *SmartInfo `json:"smart_info,omitempty"`
	EnhancedQuery string     `json:"enhanced_query,omitempty"`
	RunID         string     `json:"run_id,omitempty"`
}

// Meta is the retrieval metadata attached to an assistant message when it is
// finalized.
type Meta struct {
	Sources       []Source
	SmartInfo     *SmartInfo
	EnhancedQuery string
	RunID         string
}

// NewAssistantMessage creates a new assistant message carrying meta.
func NewAssistantMessage(content string, meta Meta) Message {
	msg := Message{
		ID:        NewID(RoleAssistant),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
	msg.Apply(meta)
	return msg
}

// Apply copies meta onto the message.
func (m *Message) Apply(meta Meta) {
	m.Sources = cloneSources(meta.Sources)
	m.SmartInfo = meta.SmartInfo.Clone()
	m.EnhancedQuery = meta.EnhancedQuery
	m.RunID = meta.RunID
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.Sources = cloneSources(m.Sources)
	out.SmartInfo = m.SmartInfo.Clone()
	return out
}

// IsUser returns true if this is a user message.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true if this is an assistant message.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// HasSources returns true if the answer cites any retrieved chunk.
func (m Message) HasSources() bool {
	return len(m.Sources) > 0
}

// FormatTimestamp returns the local wall-clock time of the message.
func (m Message) FormatTimestamp() string {
	return m.Timestamp.Local().Format("15:04")
}

func cloneSources(in []Source) []Source {
	if in == nil {
		return nil
	}
	out := make([]Source, len(in))
	for i, s := range in {
		out[i] = s
		if s.Page != nil {
			p := *s.Page
			out[i].Page = &p
		}
	}
	return out
}

// =============================================================================
// ID GENERATION
// =============================================================================

// NewID returns a unique, time-ordered message ID prefixed by role.
func NewID(role Role) string {
	prefix := "msg-"
	switch role {
	case RoleUser:
		prefix = "user-"
	case RoleAssistant:
		prefix = "asst-"
	}
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + id.String()
}
