// Package config provides configuration loading for sessiondex.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SESSIONDEX_DATA_DIR, WATCH_DEBOUNCE_WINDOW, ...)
//  2. YAML config file (~/.config/sessiondex/config.yaml by default)
//  3. Hardcoded defaults from Default()
//
// If configPath is empty, the default path is used. A missing config file is
// not an error; defaults and env vars still apply.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "sessiondex", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	// Environment variables use underscore separators and are uppercased.
	// SESSIONDEX_DATA_DIR -> data_dir, WATCH_DEBOUNCE_WINDOW -> watch.debounce_window.
	if err := k.Load(env.Provider("", ".", envKeyTransformer), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envKeyTransformer maps SESSIONDEX_DATA_DIR -> data_dir and
// WATCH_DEBOUNCE_WINDOW -> watch.debounce_window: data_dir is the one
// top-level key; for everything else the first underscore-joined segment is
// treated as the top-level key, the rest as the nested field name.
func envKeyTransformer(s string) string {
	lower := strings.ToLower(s)
	lower = strings.TrimPrefix(lower, "sessiondex_")
	if lower == "data_dir" {
		return lower
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates the sessiondex config directory if it doesn't
// exist, with 0700 permissions (owner read/write/execute only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "sessiondex")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath rejects config files outside the two directories
// sessiondex is willing to read configuration from, preventing an
// accidentally-passed --config flag from reading an arbitrary file.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// The file may not exist yet; validate the unresolved path instead.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("get home directory: %w", err)
	}
	allowedDirs := []string{
		filepath.Join(home, ".config", "sessiondex"),
	}
	if runtime.GOOS != "windows" {
		allowedDirs = append(allowedDirs, "/etc/sessiondex")
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/sessiondex/ or /etc/sessiondex")
}
