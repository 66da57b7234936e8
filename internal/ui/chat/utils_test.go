// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"fits", "anthropic/claude", 20, "anthropic/claude"},
		{"exact", "abc", 3, "abc"},
		{"clipped", "anthropic/claude-sonnet", 12, "anthropic/c…"},
		{"zero width", "abc", 0, ""},
		{"width one", "abc", 1, "a"},
		{"empty", "", 10, ""},
		{"wide runes", "日本語テスト", 6, "日本…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.width); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
			}
		})
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("conv-123"); got != "conv-123" {
		t.Errorf("short id altered: %q", got)
	}
	if got := shortID("0123456789abcdef0123"); got != "0123456789ab" {
		t.Errorf("long id = %q, want first 12 chars", got)
	}
}
