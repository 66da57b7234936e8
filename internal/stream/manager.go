// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/relay-tui/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoModelsSelected indicates a session was started without any
	// model selection.
	ErrNoModelsSelected = errors.New("no models selected")

	// ErrNoConversation indicates a session was started without an active
	// conversation.
	ErrNoConversation = errors.New("no active conversation")
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options modify how a session is started.
type Options struct {
	// SkipUserMessage suppresses creating and persisting a new user
	// message. Set for retries, where the question already exists.
	SkipUserMessage bool

	// ParentMessageID names the question being answered when
	// SkipUserMessage is set.
	ParentMessageID string

	// PlaceholderID patches an existing placeholder assistant message
	// instead of appending a new one, keeping the retried bubble's
	// position stable while it streams.
	PlaceholderID string

	// IsRetry marks a single-generation retry. Retries skip the
	// authoritative reload when the session converges.
	IsRetry bool
}

// SubError reports a failure of one sub-session.
type SubError struct {
	Slot model.Slot
	Err  error
}

// Error implements the error interface.
func (e *SubError) Error() string {
	return fmt.Sprintf("stream %s[%d]: %v", e.Slot.Label(), e.Slot.InstanceIndex, e.Err)
}

// Unwrap returns the underlying error.
func (e *SubError) Unwrap() error {
	return e.Err
}

// =============================================================================
// MANAGER
// =============================================================================

// Config wires the manager's collaborators.
type Config struct {
	Transport Transport
	API       MessageAPI
	Store     *model.Store
	Pinner    Pinner // optional

	// Preflight runs before any sub-session starts; an error aborts the
	// whole session. Wired to the gateway's configuration check.
	Preflight func() error

	// OnSubError is called once per failed sub-session. Optional.
	OnSubError func(*SubError)

	// OnAllComplete is called when every sub-session of a fan-out has
	// converged, with isRetry telling the caller whether the authoritative
	// reload should be skipped. Optional.
	OnAllComplete func(conversationID string, isRetry bool)
}

// Manager owns one fan-out session per user turn and the cancellation
// registry for all sub-sessions.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	registry *Registry
	sessions map[string]*Session // by session id
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		sessions: make(map[string]*Session),
	}
}

// Registry exposes the cancellation registry, mainly for reconciliation's
// active-key check.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// ActiveKeys returns the sub-session keys currently streaming.
func (m *Manager) ActiveKeys() []string {
	return m.registry.Active()
}

// IsStreaming reports whether any sub-session of the conversation is in
// flight.
func (m *Manager) IsStreaming(conversationID string) bool {
	prefix := conversationID + "#"
	for _, k := range m.registry.Active() {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// CancelSub aborts the in-flight sub-session for one model slot. Siblings
// are unaffected.
func (m *Manager) CancelSub(conversationID string, instanceIndex int) bool {
	return m.registry.Cancel(SubKey(conversationID, instanceIndex))
}

// CancelConversation aborts every in-flight sub-session of a conversation.
// Callers navigating away mid-stream must call this explicitly; switching
// the active conversation cancels nothing on its own.
func (m *Manager) CancelConversation(conversationID string) {
	prefix := conversationID + "#"
	for _, k := range m.registry.Active() {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			m.registry.Cancel(k)
		}
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one fan-out: the set of sub-sessions answering a single user
// turn.
type Session struct {
	ID             string
	ConversationID string

	mu        sync.Mutex
	subs      map[int]*subSession // by model instance index
	remaining int
	isRetry   bool
	done      chan struct{}
	errs      []*SubError
}

// subSession is one concurrent streaming request to a single model slot.
type subSession struct {
	slot          model.Slot
	state         *StreamingState
	lease         *Lease
	placeholderID string
	parentID      string
}

// States returns the streaming state per instance index. The map is a
// snapshot; states themselves are live.
func (s *Session) States() map[int]*StreamingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*StreamingState, len(s.subs))
	for idx, sub := range s.subs {
		out[idx] = sub.state
	}
	return out
}

// Errors returns the sub-session errors collected so far.
func (s *Session) Errors() []*SubError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SubError, len(s.errs))
	copy(out, s.errs)
	return out
}

// Done is closed when every sub-session has converged.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsLoading reports whether any sub-session is still outstanding.
func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining > 0
}

// =============================================================================
// SESSION START
// =============================================================================

// StartSession fans a prompt out to the selected model slots. One
// sub-session per selection is registered before any network work begins;
// any previously registered sub-session under the same key is cancelled
// first.
//
// Fatal preconditions (no models, no conversation, preflight failure) are
// checked before anything starts; a failed precondition never leaves a
// partially started fan-out behind.
func (m *Manager) StartSession(ctx context.Context, conversationID, prompt string, selections []model.Slot, opts Options) (*Session, error) {
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	if len(selections) == 0 {
		return nil, ErrNoModelsSelected
	}
	if m.cfg.Preflight != nil {
		if err := m.cfg.Preflight(); err != nil {
			return nil, err
		}
	}

	session := &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		subs:           make(map[int]*subSession, len(selections)),
		remaining:      len(selections),
		isRetry:        opts.IsRetry,
		done:           make(chan struct{}),
	}

	// The question this fan-out answers. For a normal turn a new local
	// user message is appended; retries reuse the existing question.
	var question *model.Message
	if opts.SkipUserMessage {
		question = m.cfg.Store.FindByID(opts.ParentMessageID)
		if question == nil {
			return nil, fmt.Errorf("%w: question %s not found", ErrNoConversation, opts.ParentMessageID)
		}
	} else {
		question = model.NewUserMessage(prompt)
		m.cfg.Store.Append(question)
	}

	// Register every sub-session up front so sibling keys are owned
	// atomically with respect to a competing StartSession.
	for _, slot := range selections {
		lease := m.registry.AssumeOwnership(ctx, SubKey(conversationID, slot.InstanceIndex))

		placeholder := m.attachPlaceholder(question.ID, slot, opts)
		sub := &subSession{
			slot:          slot,
			state:         &StreamingState{},
			lease:         lease,
			placeholderID: placeholder.ID,
			parentID:      question.ID,
		}
		session.subs[slot.InstanceIndex] = sub

		if opts.IsRetry && m.cfg.Pinner != nil {
			key := model.GroupKey{QuestionID: question.ID, Slot: slot}
			m.cfg.Pinner.Retry(key, placeholder.ID)
		}
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	go m.run(session, question, prompt, opts)
	return session, nil
}

// attachPlaceholder returns the streaming placeholder for a sub-session:
// the one named by opts, if it still exists, or a fresh one appended to the
// store.
func (m *Manager) attachPlaceholder(parentID string, slot model.Slot, opts Options) *model.Message {
	if opts.PlaceholderID != "" {
		if existing := m.cfg.Store.FindByID(opts.PlaceholderID); existing != nil {
			patched := existing.Clone()
			patched.Content = ""
			patched.Thinking = ""
			patched.IsStreaming = true
			patched.ProviderName = slot.ProviderName
			patched.APIFormat = slot.APIFormat
			patched.Model = slot.Model
			patched.ModelInstanceIndex = slot.InstanceIndex
			m.cfg.Store.Patch(existing.ID, patched)
			return patched
		}
	}
	placeholder := model.NewAssistantPlaceholder(parentID, slot)
	m.cfg.Store.Append(placeholder)
	return placeholder
}

// run persists the user message (when there is one) and then launches the
// transport calls. Sub-sessions stream independently from here on.
func (m *Manager) run(session *Session, question *model.Message, prompt string, opts Options) {
	if !opts.SkipUserMessage {
		m.persistQuestion(session, question)
	}

	// Streaming placeholders are display-only and never part of the
	// context sent upstream.
	var history []*model.Message
	for _, msg := range m.cfg.Store.Messages() {
		if !msg.IsStreaming {
			history = append(history, msg)
		}
	}

	for _, sub := range session.subs {
		go m.runSub(session, sub, prompt, history)
	}
}

// persistQuestion writes the user message through the message API and
// swaps the local id for the authoritative one. On failure the local
// message stays visible; the answer's parent id keeps pointing at the
// local id and resolution falls back to turn order after a reload.
func (m *Manager) persistQuestion(session *Session, question *model.Message) {
	saved, err := m.cfg.API.Append(context.Background(), AppendRequest{
		ConversationID: session.ConversationID,
		Role:           model.RoleUser,
		Content:        question.Content,
	})
	if err != nil {
		log.Printf("stream: persist user message: %v", err)
		return
	}

	m.cfg.Store.Patch(question.ID, saved)

	// Re-point the placeholders at the authoritative question id.
	session.mu.Lock()
	for _, sub := range session.subs {
		if sub.parentID == question.ID {
			sub.parentID = saved.ID
			if ph := m.cfg.Store.FindByID(sub.placeholderID); ph != nil {
				patched := ph.Clone()
				patched.ParentMessageID = saved.ID
				m.cfg.Store.Patch(ph.ID, patched)
			}
		}
	}
	session.mu.Unlock()
}

// =============================================================================
// SUB-SESSION EXECUTION
// =============================================================================

// runSub drives one transport call and its event handlers.
func (m *Manager) runSub(session *Session, sub *subSession, prompt string, history []*model.Message) {
	defer m.registry.Release(sub.lease)

	h := Handler{
		OnChunk: func(c Chunk) {
			m.applyChunk(sub, c)
		},
		OnComplete: func(u *Usage) {
			m.completeSub(session, sub, u)
		},
		OnError: func(err error) {
			m.failSub(session, sub, err)
		},
	}

	err := m.cfg.Transport.Send(sub.lease.Ctx, Request{
		ConversationID: session.ConversationID,
		Prompt:         prompt,
		History:        history,
		Slot:           sub.slot,
	}, h)
	if err != nil {
		// Transports report errors through OnError; a returned error is
		// the fallback path for failures before streaming began.
		m.failSub(session, sub, err)
	}
}

// applyChunk folds one delta into the sub-session buffers and mirrors the
// result onto the placeholder message.
func (m *Manager) applyChunk(sub *subSession, c Chunk) {
	if sub.state.Completed() {
		return // late chunk after a terminal callback
	}
	if c.Content != "" {
		sub.state.AppendContent(c.Content)
	}
	if c.Thinking != "" {
		sub.state.ReplaceThinking(c.Thinking)
	}

	if ph := m.cfg.Store.FindByID(sub.placeholderID); ph != nil {
		patched := ph.Clone()
		patched.Content = sub.state.Content()
		patched.Thinking = sub.state.Thinking()
		m.cfg.Store.Patch(ph.ID, patched)
	}
}

// completeSub handles stream completion: persist the accumulated answer and
// swap the placeholder for the saved message. The completed guard makes a
// duplicate completion callback a no-op.
func (m *Manager) completeSub(session *Session, sub *subSession, usage *Usage) {
	if !sub.state.Complete() {
		return
	}
	sub.state.Finish()

	req := AppendRequest{
		ConversationID:     session.ConversationID,
		Role:               model.RoleAssistant,
		Content:            sub.state.Content(),
		Thinking:           sub.state.Thinking(),
		Model:              sub.slot.Model,
		ProviderName:       sub.slot.ProviderName,
		APIFormat:          sub.slot.APIFormat,
		ParentMessageID:    sub.parentID,
		ModelInstanceIndex: sub.slot.InstanceIndex,
	}
	if usage != nil {
		req.InputTokens = usage.InputTokens
		req.OutputTokens = usage.OutputTokens
	}

	saved, err := m.cfg.API.Append(context.Background(), req)
	if err != nil {
		// The user already saw the streamed answer; keep it visible
		// locally and only settle the streaming flag.
		log.Printf("stream: persist assistant message: %v", err)
		m.settlePlaceholder(sub)
		m.reportError(session, sub, fmt.Errorf("save answer: %w", err))
	} else {
		m.cfg.Store.Patch(sub.placeholderID, saved)
		if m.cfg.Pinner != nil {
			key := model.GroupKey{QuestionID: sub.parentID, Slot: sub.slot}
			m.cfg.Pinner.Repin(key, sub.placeholderID, saved.ID)
		}
	}

	// Drop the registration before convergence so the aggregate "all
	// done" state never observes a stale active key.
	m.registry.Release(sub.lease)
	m.converge(session, sub)
}

// failSub handles a transport error: the sub-session still converges so the
// aggregate "all done" check completes, but nothing is persisted.
func (m *Manager) failSub(session *Session, sub *subSession, err error) {
	if !sub.state.Complete() {
		return
	}
	sub.state.Finish()

	// A cancelled sub-session was aborted deliberately: its output is
	// discarded, never partially saved or displayed. For genuine failures
	// any partial output the user already saw stays visible; only an
	// empty placeholder is removed.
	switch {
	case errors.Is(err, context.Canceled):
		m.cfg.Store.Remove(sub.placeholderID)
	case sub.state.Content() == "" && sub.state.Thinking() == "":
		m.cfg.Store.Remove(sub.placeholderID)
	default:
		m.settlePlaceholder(sub)
	}

	m.reportError(session, sub, err)
	m.registry.Release(sub.lease)
	m.converge(session, sub)
}

// settlePlaceholder clears the streaming flag on a placeholder that will
// not be replaced by a saved message.
func (m *Manager) settlePlaceholder(sub *subSession) {
	if ph := m.cfg.Store.FindByID(sub.placeholderID); ph != nil {
		patched := ph.Clone()
		patched.IsStreaming = false
		m.cfg.Store.Patch(ph.ID, patched)
	}
}

// reportError records and surfaces a sub-session failure.
func (m *Manager) reportError(session *Session, sub *subSession, err error) {
	subErr := &SubError{Slot: sub.slot, Err: err}

	session.mu.Lock()
	session.errs = append(session.errs, subErr)
	session.mu.Unlock()

	if m.cfg.OnSubError != nil {
		m.cfg.OnSubError(subErr)
	}
}

// converge marks one sub-session done and, when it was the last one,
// finishes the session: transient state is discarded and the caller is
// told whether to reload the authoritative list.
func (m *Manager) converge(session *Session, sub *subSession) {
	session.mu.Lock()
	session.remaining--
	last := session.remaining == 0
	session.mu.Unlock()

	if !last {
		return
	}

	m.mu.Lock()
	delete(m.sessions, session.ID)
	m.mu.Unlock()

	close(session.done)
	if m.cfg.OnAllComplete != nil {
		m.cfg.OnAllComplete(session.ConversationID, session.isRetry)
	}
}
