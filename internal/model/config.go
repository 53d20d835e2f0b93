package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// GoogleConfig holds the OAuth client used against the mail provider.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url" yaml:"redirect_url"`
}

// DigestConfig holds the markers that identify digest reply messages.
type DigestConfig struct {
	// SubjectMarker is matched (case-insensitively, substring) against
	// message subjects.
	SubjectMarker string `mapstructure:"subject_marker" yaml:"subject_marker"`

	// RecipientMarker is matched against recipient addresses
	// (e.g. a plus-addressed inbox the digest asks users to reply to).
	RecipientMarker string `mapstructure:"recipient_marker" yaml:"recipient_marker"`
}

// SyncConfig controls the incremental sync pass.
type SyncConfig struct {
	// PageSize is the maximum history entries requested per page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// FetchTimeoutSec bounds each individual provider call.
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`

	// Backfill enables the bounded full-text search over a one-day
	// window, merged into the normal change-stream result.
	Backfill bool `mapstructure:"backfill" yaml:"backfill"`

	// BackfillQuery is the full-text query used when Backfill is on.
	BackfillQuery string `mapstructure:"backfill_query" yaml:"backfill_query"`
}

// AIConfig holds settings for the extraction model.
type AIConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Google GoogleConfig `mapstructure:"google" yaml:"google"`
	Digest DigestConfig `mapstructure:"digest" yaml:"digest"`
	Sync   SyncConfig   `mapstructure:"sync" yaml:"sync"`
	AI     AIConfig     `mapstructure:"ai" yaml:"ai"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
}

// DefaultConfigPath returns the default path for the configuration
// file, located at ~/.config/invitesync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "invitesync", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Digest: DigestConfig{
			SubjectMarker: "[Invite Digest]",
		},
		Sync: SyncConfig{
			PageSize:        100,
			FetchTimeoutSec: 30,
		},
		AI: AIConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2048,
		},
		Store: StoreConfig{
			Path: filepath.Join(filepath.Dir(DefaultConfigPath()), "invitesync.db"),
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns a default
// configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("digest.subject_marker", "[Invite Digest]")
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.fetch_timeout_sec", 30)
	v.SetDefault("ai.model", "claude-sonnet-4-20250514")
	v.SetDefault("ai.max_tokens", 2048)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Sync.PageSize <= 0 {
		cfg.Sync.PageSize = 100
	}
	if cfg.Sync.FetchTimeoutSec <= 0 {
		cfg.Sync.FetchTimeoutSec = 30
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("google", cfg.Google)
	v.Set("digest", cfg.Digest)
	v.Set("sync", cfg.Sync)
	v.Set("ai", cfg.AI)
	v.Set("store", cfg.Store)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
