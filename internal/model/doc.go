// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the message data structures for relay conversations.
//
// A conversation is an ordered list of messages. Every assistant message
// answers one user message (its "question"), either through an explicit
// parent id or through a positional fallback. Answers to the same question
// from the same configured model slot form a generation group: an ordered
// list of alternatives accumulated through retries.
//
// The Store type owns the message list for the active conversation. All
// grouping and deduplication logic lives here so that the streaming and
// reconciliation layers share one set of rules.
package model
