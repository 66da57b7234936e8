// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package nav

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/jeranaias/relay-tui/internal/model"
)

// =============================================================================
// STORAGE CONTRACT
// =============================================================================

// KeyValueStore is the durable storage the navigator persists into.
// Get returns an empty string for keys that have never been written.
type KeyValueStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Storage key schema. v1 predates the model instance index; loading a v1
// map migrates every navigation key forward and rewrites it under v2.
const (
	storageKeyV1 = "relay:nav:v1:"
	storageKeyV2 = "relay:nav:v2:"
)

// =============================================================================
// DIRECTION
// =============================================================================

// Direction selects the neighbouring generation to navigate to.
type Direction int

const (
	// Prev moves to the previous (older) generation.
	Prev Direction = iota
	// Next moves to the next (newer) generation.
	Next
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	if d == Prev {
		return "prev"
	}
	return "next"
}

// =============================================================================
// NAVIGATOR
// =============================================================================

// Navigator owns the navigation entries for one conversation.
//
// entries maps a serialized group key to the pinned message id. A missing
// entry means "show latest". Entries are created lazily on first navigation
// or on retry.
type Navigator struct {
	mu             sync.Mutex
	kv             KeyValueStore
	conversationID string
	entries        map[string]string
}

// Load reads the navigation map for a conversation, migrating forward from
// the v1 key schema if no v2 map exists yet. A fresh navigator is returned
// when nothing has been persisted.
func Load(kv KeyValueStore, conversationID string) (*Navigator, error) {
	n := &Navigator{
		kv:             kv,
		conversationID: conversationID,
		entries:        make(map[string]string),
	}

	raw, err := kv.Get(storageKeyV2 + conversationID)
	if err != nil {
		return nil, fmt.Errorf("load navigation state: %w", err)
	}

	if raw == "" {
		// No v2 map. Try v1 and migrate.
		raw, err = kv.Get(storageKeyV1 + conversationID)
		if err != nil {
			return nil, fmt.Errorf("load navigation state: %w", err)
		}
		if raw == "" {
			return n, nil
		}
		var old map[string]string
		if err := json.Unmarshal([]byte(raw), &old); err != nil {
			return nil, fmt.Errorf("parse v1 navigation state: %w", err)
		}
		for key, id := range old {
			n.entries[model.MigrateNavKey(key)] = id
		}
		n.mu.Lock()
		n.persistLocked()
		n.mu.Unlock()
		return n, nil
	}

	if err := json.Unmarshal([]byte(raw), &n.entries); err != nil {
		return nil, fmt.Errorf("parse navigation state: %w", err)
	}
	return n, nil
}

// ConversationID returns the conversation this navigator belongs to.
func (n *Navigator) ConversationID() string {
	return n.conversationID
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// Current resolves the generation to display for a group: the pinned
// message if it still exists in the list, otherwise the latest.
func (n *Navigator) Current(gens *model.Generations) *model.Message {
	if gens == nil || len(gens.Messages) == 0 {
		return nil
	}
	n.mu.Lock()
	pinned := n.entries[gens.Key.NavKey()]
	n.mu.Unlock()

	if pinned != "" {
		if i := gens.IndexOf(pinned); i >= 0 {
			return gens.Messages[i]
		}
	}
	return gens.Latest()
}

// Navigate moves the displayed generation one step in the given direction,
// wrapping around at either end, and persists the new state. Returns the
// newly displayed message, or nil for an empty group.
func (n *Navigator) Navigate(gens *model.Generations, dir Direction) *model.Message {
	if gens == nil || len(gens.Messages) == 0 {
		return nil
	}
	key := gens.Key.NavKey()

	n.mu.Lock()
	idx := len(gens.Messages) - 1 // default: latest
	if pinned := n.entries[key]; pinned != "" {
		if i := gens.IndexOf(pinned); i >= 0 {
			idx = i
		}
	}

	step := 1
	if dir == Prev {
		step = -1
	}
	idx = (idx + step + len(gens.Messages)) % len(gens.Messages)

	target := gens.Messages[idx]
	n.entries[key] = target.ID
	n.persistLocked()
	n.mu.Unlock()

	return target
}

// Retry pins the group to a newly created generation, which is always the
// most recent one. Called when a retry sub-session starts streaming so the
// new answer is the one in view.
func (n *Navigator) Retry(key model.GroupKey, newMessageID string) {
	n.mu.Lock()
	n.entries[key.NavKey()] = newMessageID
	n.persistLocked()
	n.mu.Unlock()
}

// Repin replaces a pinned message id, keeping the pin itself. Used when a
// placeholder id is swapped for the authoritative saved id.
func (n *Navigator) Repin(key model.GroupKey, oldID, newID string) {
	navKey := key.NavKey()
	n.mu.Lock()
	if n.entries[navKey] == oldID {
		n.entries[navKey] = newID
		n.persistLocked()
	}
	n.mu.Unlock()
}

// Reset removes the pin for a group, returning it to "show latest".
func (n *Navigator) Reset(key model.GroupKey) {
	navKey := key.NavKey()
	n.mu.Lock()
	if _, ok := n.entries[navKey]; ok {
		delete(n.entries, navKey)
		n.persistLocked()
	}
	n.mu.Unlock()
}

// Pinned returns the pinned message id for a group and whether a pin exists.
func (n *Navigator) Pinned(key model.GroupKey) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, ok := n.entries[key.NavKey()]
	return id, ok
}

// Position returns the 1-based index of the displayed generation and the
// group size, for "2/4" style indicators.
func (n *Navigator) Position(gens *model.Generations) (int, int) {
	if gens == nil || len(gens.Messages) == 0 {
		return 0, 0
	}
	current := n.Current(gens)
	return gens.IndexOf(current.ID) + 1, len(gens.Messages)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistLocked serializes the full map under the v2 key. Caller must hold
// the lock. Persistence failures are logged, not returned: navigation keeps
// working in memory for the rest of the session.
func (n *Navigator) persistLocked() {
	data, err := json.Marshal(n.entries)
	if err != nil {
		log.Printf("nav: marshal state: %v", err)
		return
	}
	if err := n.kv.Set(storageKeyV2+n.conversationID, string(data)); err != nil {
		log.Printf("nav: persist state: %v", err)
	}
}
