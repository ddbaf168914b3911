// Package config provides configuration loading for sessiondex.
//
// Configuration is loaded from environment variables with sensible defaults.
// This package supports the data directory, per-agent connector overrides,
// watcher debounce, indexer concurrency, and search defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds the complete sessiondex configuration.
type Config struct {
	DataDir string       `koanf:"data_dir"`
	Agents  AgentsConfig `koanf:"agents"`
	Watch   WatchConfig  `koanf:"watch"`
	Index   IndexConfig  `koanf:"index"`
	Search  SearchConfig `koanf:"search"`
}

// AgentsConfig controls which connectors run and lets the operator override
// a connector's artifact roots instead of relying on pathresolver defaults.
type AgentsConfig struct {
	// Disabled lists agent slugs to skip entirely during index/watch.
	Disabled []string `koanf:"disabled"`

	// RootOverrides maps an agent slug to one or more filesystem roots to
	// scan instead of the pathresolver defaults. Primarily for tests and
	// for pointing at a non-standard install location.
	RootOverrides map[string][]string `koanf:"root_overrides"`
}

// WatchConfig controls the filesystem watcher.
type WatchConfig struct {
	// DebounceWindow is the quiescence window before a dirty connector is
	// reindexed. Spec default: ~300ms.
	DebounceWindow Duration `koanf:"debounce_window"`

	// StatePath is the path to the persistent watch cursor file. Defaults
	// to <DataDir>/watch_state.json.
	StatePath string `koanf:"state_path"`
}

// IndexConfig controls the indexer pass.
type IndexConfig struct {
	// MaxConcurrentConnectors bounds the indexer's per-agent worker pool.
	// Spec: min(4, #connectors).
	MaxConcurrentConnectors int `koanf:"max_concurrent_connectors"`
}

// SearchConfig controls query client defaults.
type SearchConfig struct {
	// DefaultPageSize is used when a query.Request doesn't set PageSize.
	DefaultPageSize int `koanf:"default_page_size"`

	// CacheSize is the number of entries held by the query client's LRU
	// result cache.
	CacheSize int `koanf:"cache_size"`

	// PrefixWildcardExpansionLimit caps the number of raw message hits
	// fetched when a Prefix-mode query falls back to wildcard expansion.
	PrefixWildcardExpansionLimit int `koanf:"prefix_wildcard_expansion_limit"`
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Index.MaxConcurrentConnectors <= 0 {
		return fmt.Errorf("index.max_concurrent_connectors must be positive, got %d", c.Index.MaxConcurrentConnectors)
	}
	if c.Search.DefaultPageSize <= 0 {
		return fmt.Errorf("search.default_page_size must be positive, got %d", c.Search.DefaultPageSize)
	}
	if c.Watch.DebounceWindow.Duration() <= 0 {
		return fmt.Errorf("watch.debounce_window must be positive")
	}
	return nil
}

// defaultDataDir returns the XDG-conventional data directory for
// sessiondex, honoring XDG_DATA_HOME on Linux and the platform convention
// elsewhere.
func defaultDataDir() string {
	if dir := os.Getenv("SESSIONDEX_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "sessiondex")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "sessiondex")
		}
		return filepath.Join(home, "AppData", "Roaming", "sessiondex")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "sessiondex")
		}
		return filepath.Join(home, ".local", "share", "sessiondex")
	}
}

// Default returns a Config populated entirely with defaults, with no
// environment or file overrides applied.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir: dataDir,
		Agents: AgentsConfig{
			RootOverrides: map[string][]string{},
		},
		Watch: WatchConfig{
			DebounceWindow: Duration(300 * time.Millisecond),
			StatePath:      filepath.Join(dataDir, "watch_state.json"),
		},
		Index: IndexConfig{
			MaxConcurrentConnectors: 4,
		},
		Search: SearchConfig{
			DefaultPageSize:              20,
			CacheSize:                    256,
			PrefixWildcardExpansionLimit: 50,
		},
	}
}
