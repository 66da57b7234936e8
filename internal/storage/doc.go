// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable local state for relay: a sqlite-backed
// key-value store for navigation pins and message snapshots, and
// conversation export to markdown and JSON.
package storage
