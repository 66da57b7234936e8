// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/mattn/go-runewidth"
)

// truncate clips the string to the given display width, appending an
// ellipsis when anything was cut. Widths below 2 return the bare clip.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width < 2 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "…")
}

// shortID abbreviates a conversation id for display.
func shortID(id string) string {
	const max = 12
	if len(id) <= max {
		return id
	}
	return id[:max]
}
