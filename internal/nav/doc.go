// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package nav tracks which generation is displayed for each generation
// group, and persists that choice per conversation.
//
// Each group is either "unset" (show the latest generation) or pinned to a
// specific message id. Navigation wraps around in both directions. The full
// map for a conversation is written to durable key-value storage on every
// change and read back, with schema migration, when the conversation loads.
package nav
