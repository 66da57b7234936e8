// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway implements the HTTP client for the relay gateway: the
// authoritative message store (append/list) and the SSE streaming
// transport that fans a prompt out to one model backend per call.
package gateway
