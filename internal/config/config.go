// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for relay.
//
// Configuration lives in ~/.relay/config.toml with sensible defaults,
// environment variable overrides, and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete relay configuration.
type Config struct {
	Version string `toml:"version"`

	// Gateway configuration
	Gateway GatewayConfig `toml:"gateway"`

	// Models are the default fan-out selections for new conversations.
	// Repeating the same model yields multiple instances of it.
	Models []ModelConfig `toml:"models"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`

	// UI configuration
	UI UIConfig `toml:"ui"`
}

// GatewayConfig contains gateway connection settings.
type GatewayConfig struct {
	// URL is the base URL of the relay gateway API.
	URL string `toml:"url"`
	// APIKey is the gateway API key. The RELAY_API_KEY environment
	// variable takes precedence.
	APIKey string `toml:"api_key"`
	// TimeoutSecs is the timeout for non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxRetries is the retry budget for transient errors.
	MaxRetries int `toml:"max_retries"`
	// RequestsPerSecond paces outgoing requests client-side.
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ModelConfig describes one default model selection.
type ModelConfig struct {
	ProviderName string `toml:"provider_name"`
	APIFormat    string `toml:"api_format"`
	Model        string `toml:"model"`
}

// StorageConfig contains local storage settings.
type StorageConfig struct {
	// DatabasePath is the sqlite state database location.
	// Default: ~/.relay/state.db
	DatabasePath string `toml:"database_path"`
	// ExportDir is where conversation exports are written.
	// Default: ~/.relay/exports
	ExportDir string `toml:"export_dir"`
}

// UIConfig contains UI settings.
type UIConfig struct {
	// Theme selects the color theme: "dark" or "light"
	Theme string `toml:"theme"`
	// ShowTokens displays token usage in the status bar
	ShowTokens bool `toml:"show_tokens"`
	// ShowThinking renders model thinking sections when present
	ShowThinking bool `toml:"show_thinking"`
	// CompactMode reduces chat padding
	CompactMode bool `toml:"compact_mode"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Gateway: GatewayConfig{
			URL:               "http://localhost:8790/api/v1",
			TimeoutSecs:       60,
			MaxRetries:        3,
			RequestsPerSecond: 8,
		},
		Models: []ModelConfig{
			{ProviderName: "anthropic", APIFormat: "anthropic", Model: "claude-sonnet"},
		},
		Storage: StorageConfig{},
		UI: UIConfig{
			Theme:        "dark",
			ShowTokens:   true,
			ShowThinking: true,
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// ConfigDir returns the relay configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".relay"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens config file permissions; the file holds
// the API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("fix insecure permissions: %w", err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default location, falling back to
// defaults when no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default location atomically.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to a specific file atomically.
func SaveToPath(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides. RELAY_API_KEY
// and RELAY_GATEWAY_URL take precedence over the file.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("RELAY_API_KEY"); key != "" {
		c.Gateway.APIKey = strings.TrimSpace(key)
	}
	if gwURL := os.Getenv("RELAY_GATEWAY_URL"); gwURL != "" {
		c.Gateway.URL = strings.TrimSuffix(gwURL, "/")
	}
}

// SetDefaults fills zero values with defaults after a partial file load.
func (c *Config) SetDefaults() {
	def := Default()
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Gateway.URL == "" {
		c.Gateway.URL = def.Gateway.URL
	}
	if c.Gateway.TimeoutSecs == 0 {
		c.Gateway.TimeoutSecs = def.Gateway.TimeoutSecs
	}
	if c.Gateway.MaxRetries == 0 {
		c.Gateway.MaxRetries = def.Gateway.MaxRetries
	}
	if c.Gateway.RequestsPerSecond == 0 {
		c.Gateway.RequestsPerSecond = def.Gateway.RequestsPerSecond
	}
	if len(c.Models) == 0 {
		c.Models = def.Models
	}
	if c.Storage.DatabasePath == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.DatabasePath = filepath.Join(dir, "state.db")
		}
	}
	if c.Storage.ExportDir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.ExportDir = filepath.Join(dir, "exports")
		}
	}
	if c.UI.Theme == "" {
		c.UI.Theme = def.UI.Theme
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects all validation failures.
type ValidateErrors []ValidationError

// Error implements the error interface.
func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "config validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Gateway.URL != "" {
		u, err := url.Parse(c.Gateway.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "gateway.url",
				Message: "must be a valid http(s) URL",
			})
		}
	}
	if c.Gateway.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "gateway.timeout_secs",
			Message: "must not be negative",
		})
	}
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "gateway.max_retries",
			Message: "must not be negative",
		})
	}
	if c.Gateway.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "gateway.requests_per_second",
			Message: "must not be negative",
		})
	}
	if c.UI.Theme != "" && c.UI.Theme != "dark" && c.UI.Theme != "light" {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: `must be "dark" or "light"`,
		})
	}
	for i, m := range c.Models {
		if m.Model == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("models[%d].model", i),
				Message: "must not be empty",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsValidationError reports whether err is a config validation failure.
func IsValidationError(err error) bool {
	var ve ValidateErrors
	return errors.As(err, &ve)
}

// =============================================================================
// SLOT DERIVATION
// =============================================================================

// Slots converts the configured model list into fan-out slots. The instance
// index is the position in the selection, so repeated selections of the
// same model stay distinguishable and every sub-session key is unique.
func (c *Config) Slots() []model.Slot {
	slots := make([]model.Slot, 0, len(c.Models))
	for i, m := range c.Models {
		slots = append(slots, model.Slot{
			ProviderName:  m.ProviderName,
			APIFormat:     m.APIFormat,
			Model:         m.Model,
			InstanceIndex: i,
		})
	}
	return slots
}
