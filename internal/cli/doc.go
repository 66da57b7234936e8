// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the plain-terminal chat mode used when stdout is
// not a TTY capable of running the full-screen UI, or when the user asks
// for it explicitly. It offers the same fan-out semantics as the Bubble Tea
// view with line-oriented output and readline-style input history.
package cli
