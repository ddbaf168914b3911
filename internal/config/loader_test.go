package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestHome(t *testing.T) string {
	t.Helper()
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpHome
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	require.NotEmpty(t, cfg.DataDir)
	require.Equal(t, 4, cfg.Index.MaxConcurrentConnectors)
	require.Equal(t, 20, cfg.Search.DefaultPageSize)
}

func TestLoadWithFile_YAMLOverride(t *testing.T) {
	home := setupTestHome(t)
	configDir := filepath.Join(home, ".config", "sessiondex")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	yamlContent := `data_dir: /tmp/custom-sessiondex
search:
  default_page_size: 50
`
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0600))

	cfg, err := LoadWithFile(configPath)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom-sessiondex", cfg.DataDir)
	require.Equal(t, 50, cfg.Search.DefaultPageSize)
}

func TestLoadWithFile_EnvOverridesYAML(t *testing.T) {
	home := setupTestHome(t)
	configDir := filepath.Join(home, ".config", "sessiondex")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	yamlContent := "data_dir: /tmp/from-yaml\n"
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0600))

	t.Setenv("SESSIONDEX_DATA_DIR", "/tmp/from-env")

	cfg, err := LoadWithFile(configPath)
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-env", cfg.DataDir)
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("/tmp/evil-config.yaml")
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.DataDir = ""
	require.Error(t, cfg.Validate())
}
