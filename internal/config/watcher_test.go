// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveToPath(Default(), path); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.debounce = 50 * time.Millisecond

	if err := w.Watch(); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.UI.Theme = "light"
	if err := SaveToPath(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-reloaded:
		if got.UI.Theme != "light" {
			t.Errorf("reloaded theme = %q, want light", got.UI.Theme)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_SkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveToPath(Default(), path); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.debounce = 50 * time.Millisecond

	if err := w.Watch(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("theme = ["), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Fatal("invalid file must not trigger the callback")
	case <-time.After(400 * time.Millisecond):
	}
}
