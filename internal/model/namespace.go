// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// NAMESPACES
// =============================================================================

// Namespace selects the knowledge base a conversation queries.
type Namespace string

const (
	NamespaceBSADP Namespace = "bs-adp"
	NamespaceMSPhD Namespace = "ms-phd"
	NamespaceRules Namespace = "rules"

	// DefaultNamespace is used when nothing else is configured.
	DefaultNamespace = NamespaceBSADP
)

// Namespaces lists every namespace in display order.
var Namespaces = []Namespace{NamespaceBSADP, NamespaceMSPhD, NamespaceRules}

// String returns the wire identifier.
func (n Namespace) String() string {
	return string(n)
}

// Valid returns true for a known namespace.
func (n Namespace) Valid() bool {
	for _, ns := range Namespaces {
		if ns == n {
			return true
		}
	}
	return false
}

// Label returns the display name.
func (n Namespace) Label() string {
	switch n {
	case NamespaceBSADP:
		return "BS / ADP Programs"
	case NamespaceMSPhD:
		return "MS / PhD Programs"
	case NamespaceRules:
		return "Rules & Regulations"
	default:
		return string(n)
	}
}

// Next returns the namespace after n, wrapping around.
func (n Namespace) Next() Namespace {
	for i, ns := range Namespaces {
		if ns == n {
			return Namespaces[(i+1)%len(Namespaces)]
		}
	}
	return DefaultNamespace
}

// Suggestions returns example questions for an empty conversation.
func (n Namespace) Suggestions() []string {
	switch n {
	case NamespaceBSADP:
		return []string{
			"BS Computer Science me admisson requirement kya hain?",
			"What is Prerequisite of Compiler Construction?",
			"What is course code for Functional English?",
			"What are Course objectives of Linear Algebra?",
		}
	case NamespaceMSPhD:
		return []string{
			"MS Botany ke lie eligibility criteria kya he?",
			"How many credit hours are required for PhD?",
			"Tell me about the research requirements For MS Computer Science?",
			"What are the Course Objectives for Advanced Software Engineering?",
		}
	case NamespaceRules:
		return []string{
			"What is the Hostel guest policy?",
			"Shift change kese karwa sakte hain?",
			"What are Fee refund rules?",
			"Explain the grading system",
		}
	default:
		return nil
	}
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings are the retrieval options sent with every chat request.
type Settings struct {
	EnhanceQuery bool `json:"enhance_query" toml:"enhance_query"`
	EnableSmart  bool `json:"enable_smart" toml:"enable_smart"`
	TopKRetrieve int  `json:"top_k_retrieve" toml:"top_k_retrieve" validate:"min=1,max=20"`
}

// DefaultSettings returns the settings a new conversation starts with.
func DefaultSettings() Settings {
	return Settings{
		EnhanceQuery: true,
		EnableSmart:  false,
		TopKRetrieve: 5,
	}
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	EnhanceQuery *bool
	EnableSmart  *bool
	TopKRetrieve *int
}

// Merge returns s with every non-nil field of p applied.
func (s Settings) Merge(p SettingsPatch) Settings {
	if p.EnhanceQuery != nil {
		s.EnhanceQuery = *p.EnhanceQuery
	}
	if p.EnableSmart != nil {
		s.EnableSmart = *p.EnableSmart
	}
	if p.TopKRetrieve != nil {
		s.TopKRetrieve = *p.TopKRetrieve
	}
	return s
}

// =============================================================================
// FEEDBACK
// =============================================================================

// Vote is a thumbs-up or thumbs-down on an assistant message.
type Vote string

const (
	VoteNone Vote = ""
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

// Score returns the feedback score sent to the backend: 1 for up, 0 otherwise.
func (v Vote) Score() int {
	if v == VoteUp {
		return 1
	}
	return 0
}

// =============================================================================
// ONLINE STATE
// =============================================================================

// Online is the backend reachability as last observed by the health monitor.
type Online int

const (
	OnlineUnknown Online = iota
	OnlineYes
	OnlineNo
)

// String returns a short status word.
func (o Online) String() string {
	switch o {
	case OnlineYes:
		return "online"
	case OnlineNo:
		return "offline"
	default:
		return "checking"
	}
}
