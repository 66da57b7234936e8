// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the Bubble Tea chat view.
//
// The view renders one conversation as a transcript of question turns. Each
// turn shows the user message followed by the answers of every selected
// model slot; the latest turn lays its answers out side by side, one pane
// per slot, so concurrent fan-out responses stream next to each other.
// Within a pane the generation switcher cycles through retried answers.
//
// Streaming content accumulates in the session manager's state buffers off
// the Bubble Tea loop; a frame gate throttles transcript rebuilds to a
// capped rate while deltas arrive.
package chat
