// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// STREAMING STATE
// =============================================================================

// StreamingState holds the transient buffers for one active sub-session.
//
// completed flips exactly once, guarding against duplicate terminal
// callbacks from the transport. finished marks that the UI may stop
// rendering a live cursor for this slot.
type StreamingState struct {
	mu             sync.Mutex
	contentBuffer  strings.Builder
	thinkingBuffer string
	completed      bool
	finished       bool
}

// AppendContent appends a streamed delta to the content buffer.
func (s *StreamingState) AppendContent(delta string) {
	s.mu.Lock()
	s.contentBuffer.WriteString(delta)
	s.mu.Unlock()
}

// ReplaceThinking replaces the thinking buffer with the latest cumulative
// snapshot. Thinking is a full replace, not an append: upstream sends the
// whole thought so far on every update.
func (s *StreamingState) ReplaceThinking(snapshot string) {
	s.mu.Lock()
	s.thinkingBuffer = snapshot
	s.mu.Unlock()
}

// Content returns the accumulated answer text.
func (s *StreamingState) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentBuffer.String()
}

// Thinking returns the latest thinking snapshot.
func (s *StreamingState) Thinking() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thinkingBuffer
}

// Complete marks the state completed. Returns false if it was already
// completed, in which case the caller must treat its callback as a no-op.
func (s *StreamingState) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return false
	}
	s.completed = true
	return true
}

// Finish marks the state finished for display purposes.
func (s *StreamingState) Finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

// Completed reports whether a terminal callback has been processed.
func (s *StreamingState) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Finished reports whether the UI may stop showing a live cursor.
func (s *StreamingState) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// =============================================================================
// SUB-SESSION KEYS
// =============================================================================

// SubKey builds the registry key for one sub-session:
// conversation id plus model instance index.
func SubKey(conversationID string, instanceIndex int) string {
	return conversationID + "#" + strconv.Itoa(instanceIndex)
}
