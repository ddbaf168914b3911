package geminicli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
)

const sampleCheckpoint = `[
  {"role":"user","parts":[{"text":"summarize this repo"}]},
  {"role":"model","parts":[{"text":"Sure, here's a summary."}]},
  {"role":"function","parts":[{"text":"ran ls"}]}
]`

func writeCheckpoint(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFile_MapsRolesByEventKind(t *testing.T) {
	dir := t.TempDir()
	path := writeCheckpoint(t, dir, "chk-1.json", sampleCheckpoint)

	parsed, err := parseFile(path, 1_700_000_000_000, func(w connector.ParseWarning) {})
	require.NoError(t, err)
	require.Len(t, parsed.messages, 3)
	require.Equal(t, model.RoleUser, parsed.messages[0].Role)
	require.Equal(t, model.RoleAgent, parsed.messages[1].Role)
	require.Equal(t, model.RoleTool, parsed.messages[2].Role)
	for _, m := range parsed.messages {
		require.Equal(t, int64(1_700_000_000_000), m.CreatedAt)
	}
}

func TestScan_DerivesExternalIDFromDirAndCheckpoint(t *testing.T) {
	home := t.TempDir()
	projectDir := filepath.Join(home, ".gemini", "tmp", "abc123")
	writeCheckpoint(t, projectDir, "chk-1.json", sampleCheckpoint)

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)
	det := c.Detect(resolver)
	require.True(t, det.Found)

	convs, err := c.Scan(context.Background(), det.Roots, nil)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "abc123:chk-1", convs[0].ExternalID)
	require.Nil(t, convs[0].Workspace)
}
