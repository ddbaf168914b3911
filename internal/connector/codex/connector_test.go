package codex

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

func writeRollout(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleRollout = `{"session_id":"rollout-abc","cwd":"/home/dev/project"}
{"type":"user_message","content":"fix the build","timestamp":"2025-02-01T09:00:00Z"}
{"type":"assistant_message","content":"Looking into it.","timestamp":"2025-02-01T09:00:05Z"}
not json
{"type":"tool_call","content":"ran go build","tool_name":"shell","timestamp":"2025-02-01T09:00:10Z"}
`

func TestParseFile_HeaderAndEvents(t *testing.T) {
	dir := t.TempDir()
	path := writeRollout(t, dir, "rollout-1.jsonl", sampleRollout)

	var warnings int
	parsed, err := parseFile(path, func(w connector.ParseWarning) { warnings++ })
	require.NoError(t, err)
	require.Equal(t, 1, warnings)
	require.Equal(t, "rollout-abc", parsed.sessionID)
	require.Equal(t, "/home/dev/project", parsed.cwd)

	require.Len(t, parsed.messages, 3)
	require.Equal(t, 0, parsed.messages[0].Idx)
	require.Equal(t, model.RoleUser, parsed.messages[0].Role)
	require.Equal(t, model.RoleAgent, parsed.messages[1].Role)
	require.Equal(t, model.RoleTool, parsed.messages[2].Role)
	require.True(t, parsed.startedAt > 0)
	require.True(t, parsed.endedAt > parsed.startedAt)
}

func TestScan_EmitsConversationFromRolloutFiles(t *testing.T) {
	home := t.TempDir()
	sessionsDir := filepath.Join(home, ".codex", "sessions", "2025", "02", "01")
	writeRollout(t, sessionsDir, "rollout-1.jsonl", sampleRollout)

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)
	det := c.Detect(resolver)
	require.True(t, det.Found)

	convs, err := c.Scan(context.Background(), det.Roots, nil)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, model.AgentCodex, convs[0].AgentSlug)
	require.Equal(t, "rollout-abc", convs[0].ExternalID)
	require.NotNil(t, convs[0].Workspace)
	require.Equal(t, "/home/dev/project", convs[0].Workspace.Path)
	require.Len(t, convs[0].Messages, 3)
}

func TestOwnsPath(t *testing.T) {
	home := t.TempDir()
	sessionsDir := filepath.Join(home, ".codex", "sessions", "2025", "02", "01")
	path := writeRollout(t, sessionsDir, "rollout-1.jsonl", sampleRollout)

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)
	require.True(t, c.OwnsPath(path))
	require.False(t, c.OwnsPath(filepath.Join(home, "other.jsonl")))
}
