// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream orchestrates multi-model fan-out sessions.
//
// One user turn opens a session with one sub-session per selected model
// slot. Each sub-session streams into its own transient buffers, persists
// its answer on completion, and reports errors in isolation: a failing
// model never blocks its siblings. Starting a new sub-session for a key
// that already has one in flight cancels the old one first, so at most one
// request per model slot per conversation is ever active.
//
// The manager talks to the outside world through three narrow contracts:
// Transport (streaming backend), MessageAPI (authoritative persistence) and
// an optional Pinner (generation navigation).
package stream
