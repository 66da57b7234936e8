// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Gateway.URL == "" {
		t.Error("default gateway URL must not be empty")
	}
	if cfg.Gateway.MaxRetries <= 0 {
		t.Error("default retry budget must be positive")
	}
	if len(cfg.Models) == 0 {
		t.Error("defaults must select at least one model")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1"

[gateway]
url = "https://gw.example.com/api/v1"
api_key = "rk-file-key"
max_retries = 5

[[models]]
provider_name = "anthropic"
api_format = "anthropic"
model = "claude-sonnet"

[[models]]
provider_name = "openai"
api_format = "openai"
model = "gpt-4o"

[ui]
theme = "light"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Gateway.URL != "https://gw.example.com/api/v1" {
		t.Errorf("gateway URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", cfg.Gateway.MaxRetries)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("theme = %q, want light", cfg.UI.Theme)
	}
	// Partial files still pick up defaults.
	if cfg.Gateway.TimeoutSecs != 60 {
		t.Errorf("timeout = %d, want default 60", cfg.Gateway.TimeoutSecs)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database path should default under the config dir")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_API_KEY", "rk-env-key")
	t.Setenv("RELAY_GATEWAY_URL", "https://env.example.com/api/")

	cfg := Default()
	cfg.Gateway.APIKey = "rk-file-key"
	cfg.ApplyEnvOverrides()

	if cfg.Gateway.APIKey != "rk-env-key" {
		t.Errorf("env key must win, got %q", cfg.Gateway.APIKey)
	}
	if cfg.Gateway.URL != "https://env.example.com/api" {
		t.Errorf("env URL must win with trailing slash trimmed, got %q", cfg.Gateway.URL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad url scheme", func(c *Config) { c.Gateway.URL = "ftp://x" }, true},
		{"unparseable url", func(c *Config) { c.Gateway.URL = "://" }, true},
		{"negative retries", func(c *Config) { c.Gateway.MaxRetries = -1 }, true},
		{"bad theme", func(c *Config) { c.UI.Theme = "solarized" }, true},
		{"empty model id", func(c *Config) { c.Models = []ModelConfig{{ProviderName: "openai"}} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsValidationError(err) {
				t.Errorf("validation failures must be ValidateErrors, got %T", err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Gateway.APIKey = "rk-roundtrip"
	cfg.Models = append(cfg.Models, ModelConfig{
		ProviderName: "openai", APIFormat: "openai", Model: "gpt-4o",
	})
	if err := SaveToPath(cfg, path); err != nil {
		t.Fatalf("SaveToPath: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file permissions = %o, want 0600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Gateway.APIKey != "rk-roundtrip" {
		t.Errorf("api key = %q", loaded.Gateway.APIKey)
	}
	if len(loaded.Models) != 2 {
		t.Errorf("models = %d, want 2", len(loaded.Models))
	}
}

func TestSlots(t *testing.T) {
	cfg := &Config{Models: []ModelConfig{
		{ProviderName: "anthropic", APIFormat: "anthropic", Model: "claude-sonnet"},
		{ProviderName: "openai", APIFormat: "openai", Model: "gpt-4o"},
		{ProviderName: "anthropic", APIFormat: "anthropic", Model: "claude-sonnet"},
	}}

	slots := cfg.Slots()
	if len(slots) != 3 {
		t.Fatalf("slots = %d, want 3", len(slots))
	}
	for i, s := range slots {
		if s.InstanceIndex != i {
			t.Errorf("slot %d has instance index %d", i, s.InstanceIndex)
		}
	}
	if !slots[0].SameModel(slots[2]) {
		t.Error("repeated selections keep the same model identity")
	}
	if slots[0].Equal(slots[2]) {
		t.Error("repeated selections must differ by instance index")
	}
}
