// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the conversation state shared by the orchestrator,
// the health monitor and the front ends.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jeranaias/uoe-chat/internal/model"
)

// DefaultMaxTurns is the number of user messages a conversation allows.
const DefaultMaxTurns = 10

// ErrUnknownNamespace is returned by SetNamespace for an unrecognized namespace.
var ErrUnknownNamespace = errors.New("unknown namespace")

var validate = validator.New()

// =============================================================================
// STATE
// =============================================================================

// State is a snapshot of the conversation. It shares no memory with the store.
//
// Version increases by one with every mutation. Snapshots from concurrent
// mutations may reach a subscriber out of order; a subscriber that keeps
// state across calls should drop a snapshot older than the last it saw.
type State struct {
	Version            uint64
	Messages           []model.Message
	IsStreaming        bool
	StreamingContent   string
	StreamingMessageID string
	SessionID          string
	TurnCount          int
	MaxTurns           int
	Namespace          model.Namespace
	Settings           model.Settings
	LastUserQuery      string
	Online             model.Online
	Feedback           map[string]model.Vote
}

// IsMaxTurns reports whether the turn cap has been reached.
func (s State) IsMaxTurns() bool {
	return s.TurnCount >= s.MaxTurns
}

// LastAssistant returns the most recent finalized assistant message.
func (s State) LastAssistant() (model.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.IsAssistant() && m.ID != s.StreamingMessageID {
			return m, true
		}
	}
	return model.Message{}, false
}

// =============================================================================
// STORE
// =============================================================================

// Options configures a new Store.
type Options struct {
	Namespace model.Namespace
	Settings  *model.Settings
	MaxTurns  int

	// Now and NewID replace the clock and id source (tests).
	Now   func() time.Time
	NewID func(model.Role) string
}

// Store is the single source of truth for one conversation.
type Store struct {
	mu      sync.Mutex
	version uint64

	messages      []model.Message
	streaming     bool
	streamBuf     strings.Builder
	streamID      string
	sessionID     string
	turnCount     int
	maxTurns      int
	namespace     model.Namespace
	settings      model.Settings
	lastUserQuery string
	online        model.Online
	feedback      map[string]model.Vote

	now   func() time.Time
	newID func(model.Role) string

	subMu       sync.Mutex
	subscribers map[int]func(State)
	nextSub     int
}

// New creates a store with the given options; zero values take defaults.
func New(opts Options) *Store {
	s := &Store{
		maxTurns:    opts.MaxTurns,
		namespace:   opts.Namespace,
		settings:    model.DefaultSettings(),
		feedback:    make(map[string]model.Vote),
		now:         opts.Now,
		newID:       opts.NewID,
		subscribers: make(map[int]func(State)),
	}
	if s.maxTurns <= 0 {
		s.maxTurns = DefaultMaxTurns
	}
	if !s.namespace.Valid() {
		s.namespace = model.DefaultNamespace
	}
	if opts.Settings != nil {
		s.settings = *opts.Settings
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = model.NewID
	}
	return s
}

// =============================================================================
// OBSERVERS
// =============================================================================

// Subscribe registers fn to receive a snapshot after every mutation.
// fn runs on the mutating goroutine and must not block.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// mutate applies fn under the lock and then notifies subscribers with the
// state fn produced.
func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	fn()
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) notify(snap State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// =============================================================================
// READS
// =============================================================================

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	msgs := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		msgs[i] = m.Clone()
	}
	fb := make(map[string]model.Vote, len(s.feedback))
	for k, v := range s.feedback {
		fb[k] = v
	}
	return State{
		Version:            s.version,
		Messages:           msgs,
		IsStreaming:        s.streaming,
		StreamingContent:   s.streamBuf.String(),
		StreamingMessageID: s.streamID,
		SessionID:          s.sessionID,
		TurnCount:          s.turnCount,
		MaxTurns:           s.maxTurns,
		Namespace:          s.namespace,
		Settings:           s.settings,
		LastUserQuery:      s.lastUserQuery,
		Online:             s.online,
		Feedback:           fb,
	}
}

// Message returns a copy of the message with the given id.
func (s *Store) Message(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.messages[i].Clone(), true
	}
	return model.Message{}, false
}

// IsStreaming reports whether an assistant message is being streamed.
func (s *Store) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// IsMaxTurns reports whether the conversation has reached its turn cap.
func (s *Store) IsMaxTurns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount >= s.maxTurns
}

// Namespace returns the active namespace.
func (s *Store) Namespace() model.Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namespace
}

// SessionID returns the backend session id, or "" before the first answer.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Settings returns the retrieval settings.
func (s *Store) Settings() model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// LastUserQuery returns the text of the most recent user message.
func (s *Store) LastUserQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUserQuery
}

// Online returns the last observed backend reachability.
func (s *Store) Online() model.Online {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Feedback returns the vote recorded for a message.
func (s *Store) Feedback(messageID string) model.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback[messageID]
}

func (s *Store) indexOf(id string) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// MESSAGE ACTIONS
// =============================================================================

// AddUserMessage appends a user message and counts the turn.
func (s *Store) AddUserMessage(text string) model.Message {
	var msg model.Message
	s.mutate(func() {
		msg = model.Message{
			ID:        s.newID(model.RoleUser),
			Role:      model.RoleUser,
			Content:   text,
			Timestamp: s.now(),
		}
		s.messages = append(s.messages, msg)
		s.turnCount++
		s.lastUserQuery = text
	})
	return msg
}

// AddAssistantMessage appends a finalized assistant message.
func (s *Store) AddAssistantMessage(content string, meta model.Meta) model.Message {
	var msg model.Message
	s.mutate(func() {
		msg = model.Message{
			ID:        s.newID(model.RoleAssistant),
			Role:      model.RoleAssistant,
			Content:   content,
			Timestamp: s.now(),
		}
		msg.Apply(meta)
		s.messages = append(s.messages, msg)
	})
	return msg.Clone()
}

// =============================================================================
// STREAMING ACTIONS
// =============================================================================

// StartStreaming appends an empty assistant message and marks it streaming.
// It panics if a stream is already active: callers must serialize sends.
func (s *Store) StartStreaming() model.Message {
	var msg model.Message
	s.mutate(func() {
		if s.streaming {
			panic(fmt.Sprintf("store: StartStreaming while message %s is streaming", s.streamID))
		}
		msg = model.Message{
			ID:        s.newID(model.RoleAssistant),
			Role:      model.RoleAssistant,
			Timestamp: s.now(),
		}
		s.messages = append(s.messages, msg)
		s.streaming = true
		s.streamID = msg.ID
		s.streamBuf.Reset()
	})
	return msg
}

// AppendStreamToken appends token to the streaming message in place.
// It is a no-op when nothing is streaming.
func (s *Store) AppendStreamToken(token string) {
	s.mutate(func() {
		if !s.streaming {
			return
		}
		s.streamBuf.WriteString(token)
		if i := s.indexOf(s.streamID); i >= 0 {
			s.messages[i].Content = s.streamBuf.String()
		}
	})
}

// FinishStreaming finalizes the streaming message with meta, keeping its id.
// The buffered text wins; if no tokens arrived the existing content is kept.
// It returns false when nothing was streaming.
func (s *Store) FinishStreaming(meta model.Meta) (model.Message, bool) {
	var (
		msg model.Message
		ok  bool
	)
	s.mutate(func() {
		if !s.streaming {
			return
		}
		if i := s.indexOf(s.streamID); i >= 0 {
			if s.streamBuf.Len() > 0 {
				s.messages[i].Content = s.streamBuf.String()
			}
			s.messages[i].Apply(meta)
			msg = s.messages[i].Clone()
			ok = true
		}
		s.clearStream()
	})
	return msg, ok
}

// CancelStreaming removes the streaming message entirely and clears the
// streaming flags. Safe to call when nothing is streaming.
func (s *Store) CancelStreaming() {
	s.mutate(func() {
		if s.streaming {
			if i := s.indexOf(s.streamID); i >= 0 {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
			}
		}
		s.clearStream()
	})
}

func (s *Store) clearStream() {
	s.streaming = false
	s.streamID = ""
	s.streamBuf.Reset()
}

// =============================================================================
// SESSION ACTIONS
// =============================================================================

// SetSessionID records the backend session id.
func (s *Store) SetSessionID(id string) {
	s.mutate(func() {
		s.sessionID = id
	})
}

// SetNamespace switches the knowledge base and resets the conversation.
func (s *Store) SetNamespace(ns model.Namespace) error {
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	s.mutate(func() {
		s.namespace = ns
		s.reset()
	})
	return nil
}

// NewChat clears the conversation, keeping namespace and settings.
func (s *Store) NewChat() {
	s.mutate(s.reset)
}

func (s *Store) reset() {
	s.messages = nil
	s.sessionID = ""
	s.turnCount = 0
	s.lastUserQuery = ""
	s.feedback = make(map[string]model.Vote)
	s.clearStream()
}

// UpdateSettings merges patch into the settings. An invalid result is
// rejected and the settings are left unchanged.
func (s *Store) UpdateSettings(patch model.SettingsPatch) error {
	s.mu.Lock()
	next := s.settings.Merge(patch)
	if err := validate.Struct(next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid settings: %w", err)
	}
	s.settings = next
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return nil
}

// SetOnline records the outcome of a health probe.
func (s *Store) SetOnline(ok bool) {
	s.mutate(func() {
		if ok {
			s.online = model.OnlineYes
		} else {
			s.online = model.OnlineNo
		}
	})
}

// =============================================================================
// FEEDBACK
// =============================================================================

// SetFeedback records a vote on a message with toggle semantics: casting the
// same vote again, or VoteNone, removes it. It returns the vote now recorded.
func (s *Store) SetFeedback(messageID string, vote model.Vote) model.Vote {
	var result model.Vote
	s.mutate(func() {
		if vote == model.VoteNone || s.feedback[messageID] == vote {
			delete(s.feedback, messageID)
			return
		}
		s.feedback[messageID] = vote
		result = vote
	})
	return result
}
