// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/jeranaias/relay-tui/internal/model"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Lister is the authoritative read side of the message API.
type Lister interface {
	List(ctx context.Context, conversationID string) ([]*model.Message, error)
}

// StreamChecker reports whether a conversation has sub-sessions in flight.
type StreamChecker interface {
	IsStreaming(conversationID string) bool
}

// Cache is optional durable storage for the last reconciled list, so a
// reopened conversation renders instantly before the authoritative read
// returns. Get returns an empty string for unknown keys.
type Cache interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

const cacheKeyPrefix = "relay:msgcache:v1:"

// =============================================================================
// ENGINE
// =============================================================================

// Engine reconciles server state into a message store.
type Engine struct {
	lister  Lister
	streams StreamChecker
	cache   Cache // optional
	store   *model.Store

	// mu guards selected. Sync runs concurrently with selection reads in
	// real wiring: the UI issues the initial sync and post-session syncs
	// as separate goroutines.
	mu       sync.Mutex
	selected []model.Slot // explicit selection, empty until the user picks
}

// NewEngine creates a reconciliation engine for one store.
func NewEngine(lister Lister, streams StreamChecker, store *model.Store) *Engine {
	return &Engine{lister: lister, streams: streams, store: store}
}

// WithCache attaches a durable snapshot cache.
func (e *Engine) WithCache(c Cache) *Engine {
	e.cache = c
	return e
}

// SetSelection records an explicit model selection. An explicit selection
// stops Sync from deriving a default one.
func (e *Engine) SetSelection(slots []model.Slot) {
	e.mu.Lock()
	e.selected = append([]model.Slot(nil), slots...)
	e.mu.Unlock()
}

// Selection returns a copy of the current model selection.
func (e *Engine) Selection() []model.Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Slot(nil), e.selected...)
}

// =============================================================================
// SYNC
// =============================================================================

// Sync fetches the authoritative list and merges it into the store.
//
// While any sub-session of the conversation is streaming and force is
// false, the message list is left untouched so live output is never
// visually truncated; only the derived selection updates. Returns the
// selection in effect after the sync.
func (e *Engine) Sync(ctx context.Context, conversationID string, force bool) ([]model.Slot, error) {
	server, err := e.lister.List(ctx, conversationID)
	if err != nil {
		return e.Selection(), fmt.Errorf("list messages: %w", err)
	}

	if e.streams.IsStreaming(conversationID) && !force {
		e.deriveSelection(model.GroupByQuestionAndModel(server))
		return e.Selection(), nil
	}

	merged := Merge(e.store.Messages(), server)
	e.store.Replace(merged)
	e.snapshot(conversationID, merged)

	e.deriveSelection(e.store.Groups())
	return e.Selection(), nil
}

// Merge takes the server list as ground truth, deduplicates it, and
// re-attaches purely local messages (ids unknown to the server, e.g. a
// user message whose save is still in flight, or a live placeholder) so no
// visible content disappears. The result is ordered by creation time with
// local messages keeping their relative order at the tail of equal
// timestamps.
func Merge(local, server []*model.Message) []*model.Message {
	out := model.Deduplicate(server)

	serverIDs := make(map[string]bool, len(out))
	for _, m := range out {
		serverIDs[m.ID] = true
	}

	for _, m := range local {
		if serverIDs[m.ID] {
			continue
		}
		if !m.IsLocal() && !m.IsStreaming {
			// A non-local id the server no longer returns was deleted
			// remotely; dropping it is part of taking the server as
			// ground truth.
			continue
		}
		out = append(out, m)
	}

	model.SortByCreation(out)
	return model.Deduplicate(out)
}

// =============================================================================
// DEFAULT SELECTION
// =============================================================================

// deriveSelection computes the default "currently selected models" from the
// latest question's generation groups, unless an explicit selection is
// already active. Each distinct model slot of the latest question
// contributes its latest generation's slot; a single-model conversation
// therefore yields exactly the slot of its latest retry.
func (e *Engine) deriveSelection(groups []*model.QuestionGroup) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.selected) > 0 || len(groups) == 0 {
		return
	}
	last := groups[len(groups)-1]
	if len(last.Slots) == 0 {
		return
	}

	slots := make([]model.Slot, 0, len(last.Slots))
	for _, gens := range last.Slots {
		slots = append(slots, gens.Key.Slot)
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].InstanceIndex < slots[j].InstanceIndex
	})
	e.selected = slots
}

// =============================================================================
// SNAPSHOT CACHE
// =============================================================================

// Prime loads the cached snapshot into the store, if one exists. Called on
// conversation open, before the authoritative read returns.
func (e *Engine) Prime(conversationID string) {
	if e.cache == nil {
		return
	}
	raw, err := e.cache.Get(cacheKeyPrefix + conversationID)
	if err != nil || raw == "" {
		return
	}
	var msgs []*model.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		log.Printf("reconcile: corrupt snapshot for %s: %v", conversationID, err)
		return
	}
	e.store.Replace(msgs)
}

// snapshot persists the reconciled list. Failures are logged only; the
// cache is an accelerator, not a source of truth.
func (e *Engine) snapshot(conversationID string, msgs []*model.Message) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		log.Printf("reconcile: marshal snapshot: %v", err)
		return
	}
	if err := e.cache.Set(cacheKeyPrefix+conversationID, string(data)); err != nil {
		log.Printf("reconcile: persist snapshot: %v", err)
	}
}
