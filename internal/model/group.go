// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// GROUP KEY
// =============================================================================

// navKeySeparator joins the segments of a navigation key. The pipe is not
// a legal character in provider names, API formats, or model ids.
const navKeySeparator = "|"

// GroupKey identifies a generation group: all alternative answers to one
// question from one configured model slot.
type GroupKey struct {
	QuestionID string
	Slot       Slot
}

// NavKey serializes the group key for use in durable navigation storage.
// Segment order: question id, provider, API format, model, instance index.
func (k GroupKey) NavKey() string {
	return strings.Join([]string{
		k.QuestionID,
		k.Slot.ProviderName,
		k.Slot.APIFormat,
		k.Slot.Model,
		strconv.Itoa(k.Slot.InstanceIndex),
	}, navKeySeparator)
}

// ParseNavKey parses a serialized navigation key. It accepts the current
// five-segment form only; older four-segment keys must be migrated first.
func ParseNavKey(s string) (GroupKey, bool) {
	parts := strings.Split(s, navKeySeparator)
	if len(parts) != 5 {
		return GroupKey{}, false
	}
	idx, err := strconv.Atoi(parts[4])
	if err != nil {
		return GroupKey{}, false
	}
	return GroupKey{
		QuestionID: parts[0],
		Slot: Slot{
			ProviderName:  parts[1],
			APIFormat:     parts[2],
			Model:         parts[3],
			InstanceIndex: idx,
		},
	}, true
}

// MigrateNavKey upgrades a navigation key from the pre-instance-index
// schema by appending a default instance index of 0. Keys already in the
// current form are returned unchanged.
func MigrateNavKey(s string) string {
	parts := strings.Split(s, navKeySeparator)
	if len(parts) == 4 {
		return s + navKeySeparator + "0"
	}
	return s
}

// =============================================================================
// GROUPING
// =============================================================================

// Generations is the ordered set of alternative answers for one group key.
type Generations struct {
	Key      GroupKey
	Messages []*Message // ordered by CreatedAt ascending; last is the default view
}

// Latest returns the most recent generation, or nil if empty.
func (g *Generations) Latest() *Message {
	if len(g.Messages) == 0 {
		return nil
	}
	return g.Messages[len(g.Messages)-1]
}

// IndexOf returns the position of the message id, or -1 if absent.
func (g *Generations) IndexOf(id string) int {
	for i, m := range g.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// QuestionGroup holds one user message and the generation groups answering it.
type QuestionGroup struct {
	Question *Message
	Slots    []*Generations // ordered by instance index, then provider/model
}

// GroupByQuestionAndModel partitions assistant messages under their resolved
// parent user message, then by model slot. Within a slot, generations are
// ordered by creation time ascending. Orphaned assistant messages (no parent
// id and no preceding user message) are excluded from the result but remain
// in the underlying list.
func GroupByQuestionAndModel(messages []*Message) []*QuestionGroup {
	messages = Deduplicate(messages)

	var groups []*QuestionGroup
	byQuestion := make(map[string]*QuestionGroup)

	for _, m := range messages {
		if m.IsQuestion() {
			qg := &QuestionGroup{Question: m}
			byQuestion[m.ID] = qg
			groups = append(groups, qg)
		}
	}

	for i, m := range messages {
		if m.Role != RoleAssistant {
			continue
		}
		parentID := ResolveParent(messages, i)
		if parentID == "" {
			continue // orphan: excluded from grouped display
		}
		qg, ok := byQuestion[parentID]
		if !ok {
			continue
		}
		qg.attach(m)
	}

	for _, qg := range groups {
		qg.sortSlots()
	}
	return groups
}

// ResolveParent resolves the question id for the assistant message at
// position i. An explicit parent id wins; otherwise the nearest preceding
// user message in turn order is used. Returns "" when unresolvable.
func ResolveParent(messages []*Message, i int) string {
	m := messages[i]
	if m.ParentMessageID != "" {
		return m.ParentMessageID
	}
	for j := i - 1; j >= 0; j-- {
		if messages[j].IsQuestion() {
			return messages[j].ID
		}
	}
	return ""
}

// attach adds an assistant message to the matching slot, creating it on
// first sight.
func (qg *QuestionGroup) attach(m *Message) {
	slot := SlotOf(m)
	for _, g := range qg.Slots {
		if g.Key.Slot.Equal(slot) {
			g.Messages = append(g.Messages, m)
			return
		}
	}
	qg.Slots = append(qg.Slots, &Generations{
		Key:      GroupKey{QuestionID: qg.Question.ID, Slot: slot},
		Messages: []*Message{m},
	})
}

// sortSlots orders slots deterministically and generations chronologically.
func (qg *QuestionGroup) sortSlots() {
	for _, g := range qg.Slots {
		sort.SliceStable(g.Messages, func(i, j int) bool {
			return g.Messages[i].CreatedAt.Before(g.Messages[j].CreatedAt)
		})
	}
	sort.SliceStable(qg.Slots, func(i, j int) bool {
		a, b := qg.Slots[i].Key.Slot, qg.Slots[j].Key.Slot
		if a.InstanceIndex != b.InstanceIndex {
			return a.InstanceIndex < b.InstanceIndex
		}
		if a.ProviderName != b.ProviderName {
			return a.ProviderName < b.ProviderName
		}
		return a.Model < b.Model
	})
}

// FindSlot returns the generations for the given slot, or nil.
func (qg *QuestionGroup) FindSlot(slot Slot) *Generations {
	for _, g := range qg.Slots {
		if g.Key.Slot.Equal(slot) {
			return g
		}
	}
	return nil
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

// dedupeKey identifies duplicate assistant messages produced by
// double-submission races.
type dedupeKey struct {
	provider  string
	apiFormat string
	model     string
	content   string
}

// Deduplicate collapses assistant messages that share provider, API format,
// model, and content, keeping the first occurrence encountered. User
// messages are never collapsed. The input slice is not modified.
func Deduplicate(messages []*Message) []*Message {
	seen := make(map[dedupeKey]bool, len(messages))
	out := make([]*Message, 0, len(messages))

	for _, m := range messages {
		// Live placeholders have not settled on content yet and are never
		// collapsed against each other.
		if m.Role == RoleAssistant && !m.IsStreaming {
			key := dedupeKey{
				provider:  m.ProviderName,
				apiFormat: m.APIFormat,
				model:     m.Model,
				content:   m.Content,
			}
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, m)
	}
	return out
}
