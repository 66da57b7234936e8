// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile merges the authoritative server message list with the
// local optimistic and streaming state.
//
// The server list is ground truth, but a reload must never truncate live
// streaming output or drop a message whose save is still in flight. The
// engine therefore skips list replacement while any sub-session streams
// (unless forced), deduplicates the server list, and re-attaches purely
// local messages before publishing the result.
package reconcile
