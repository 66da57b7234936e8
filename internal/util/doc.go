// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers.
//
// AtomicWriteFile writes files crash-safely: data lands in a temp file in
// the target directory, is fsynced, and replaces the destination with a
// rename. Config saves and transcript exports both go through it so a
// crash mid-write never leaves a truncated file behind.
package util
