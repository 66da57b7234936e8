// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "sync"

// =============================================================================
// MESSAGE STORE
// =============================================================================

// Store owns the ordered message list for the active conversation.
//
// All mutation goes through Store methods; concurrent completion handlers
// never append directly. Observers are notified after every mutation so the
// UI can recompute its derived state with pure functions instead of
// framework-managed reactivity.
type Store struct {
	mu             sync.Mutex
	conversationID string
	messages       []*Message
	observers      []func()
}

// NewStore creates an empty store for the given conversation.
func NewStore(conversationID string) *Store {
	return &Store{conversationID: conversationID}
}

// ConversationID returns the id of the conversation this store holds.
func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Subscribe registers an observer invoked after every mutation.
// Observers run outside the store lock.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// notify runs all observers. Caller must not hold the lock.
func (s *Store) notify() {
	s.mu.Lock()
	obs := make([]func(), len(s.observers))
	copy(obs, s.observers)
	s.mu.Unlock()

	for _, fn := range obs {
		fn()
	}
}

// =============================================================================
// READS
// =============================================================================

// Messages returns a copy of the current message list.
func (s *Store) Messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// FindByID returns the message with the given id, or nil.
func (s *Store) FindByID(id string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findByID(s.messages, id)
}

// LastQuestion returns the most recent user message, or nil.
func (s *Store) LastQuestion() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsQuestion() {
			return s.messages[i]
		}
	}
	return nil
}

// Groups recomputes the grouped view of the current message list.
func (s *Store) Groups() []*QuestionGroup {
	return GroupByQuestionAndModel(s.Messages())
}

// LocalOnly returns messages whose ids are client-generated and therefore
// not yet known to the server.
func (s *Store) LocalOnly() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.messages {
		if m.IsLocal() {
			out = append(out, m)
		}
	}
	return out
}

// UsageTotals sums input and output tokens across assistant messages.
func (s *Store) UsageTotals() (inputTokens, outputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		inputTokens += m.InputTokens
		outputTokens += m.OutputTokens
	}
	return inputTokens, outputTokens
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Replace swaps the entire message list, deduplicating first.
func (s *Store) Replace(messages []*Message) {
	deduped := Deduplicate(messages)
	s.mu.Lock()
	s.messages = deduped
	s.mu.Unlock()
	s.notify()
}

// Append adds a message to the end of the list.
func (s *Store) Append(m *Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.notify()
}

// Patch replaces the message with the given id in place, preserving its
// position. Used to swap a streaming placeholder for the saved message, and
// to patch an existing placeholder during retry. Returns false if no message
// with that id exists.
func (s *Store) Patch(id string, replacement *Message) bool {
	s.mu.Lock()
	patched := false
	for i, m := range s.messages {
		if m.ID == id {
			s.messages[i] = replacement
			patched = true
			break
		}
	}
	s.mu.Unlock()
	if patched {
		s.notify()
	}
	return patched
}

// Remove deletes the message with the given id. Returns false if absent.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	removed := false
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		s.notify()
	}
	return removed
}

// Merge applies the dedupe-and-merge path used by completion handlers:
// messages already present (by id) are patched, new ones appended, and the
// result deduplicated. Ordering of existing messages is preserved.
func (s *Store) Merge(incoming []*Message) {
	s.mu.Lock()
	for _, in := range incoming {
		if existing := findByID(s.messages, in.ID); existing != nil {
			*existing = *in
			continue
		}
		s.messages = append(s.messages, in)
	}
	s.messages = Deduplicate(s.messages)
	s.mu.Unlock()
	s.notify()
}

// findByID scans for a message by id. Caller must hold the lock.
func findByID(messages []*Message, id string) *Message {
	for _, m := range messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// SortByCreation stable-sorts messages by creation time. Exposed for
// reconciliation, which merges lists from two sources.
func SortByCreation(messages []*Message) {
	// Insertion sort keeps the common already-sorted case cheap.
	for i := 1; i < len(messages); i++ {
		for j := i; j > 0 && messages[j].CreatedAt.Before(messages[j-1].CreatedAt); j-- {
			messages[j], messages[j-1] = messages[j-1], messages[j]
		}
	}
}
