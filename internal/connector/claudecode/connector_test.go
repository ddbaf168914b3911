package claudecode

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

func writeTranscript(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleTranscript = `{"type":"user","sessionId":"sess-1","cwd":"/home/dev/project","message":"Hello, help me fix this bug","timestamp":"2025-01-01T10:00:00Z","uuid":"uuid-1"}
{"type":"assistant","sessionId":"sess-1","message":{"role":"assistant","content":[{"type":"text","text":"Let me read the file first."},{"type":"tool_use","tool_use":{"id":"tool1","name":"Read","input":{"file_path":"/home/dev/project/main.go","offset":"10","limit":"20"}}},{"type":"tool_result","tool_use_id":"tool1","content":"package main"}]},"timestamp":"2025-01-01T10:00:30Z","uuid":"uuid-2"}
not json at all
`

func TestParseFile_SkipsMalformedLinesAndAssignsDenseIdx(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "sess-1.jsonl", sampleTranscript)

	var warnings int
	parsed, err := parseFile(path, func(w connector.ParseWarning) {
		warnings++
	})
	require.NoError(t, err)
	require.Equal(t, 1, warnings)
	require.Equal(t, "sess-1", parsed.sessionID)
	require.Equal(t, "/home/dev/project", parsed.cwd)

	require.Len(t, parsed.messages, 2)
	require.Equal(t, 0, parsed.messages[0].Idx)
	require.Equal(t, model.RoleUser, parsed.messages[0].Role)
	require.Equal(t, 1, parsed.messages[1].Idx)
	require.Equal(t, model.RoleAgent, parsed.messages[1].Role)
	require.Len(t, parsed.messages[1].Snippets, 1)
	require.Equal(t, "/home/dev/project/main.go", parsed.messages[1].Snippets[0].Path)
	require.Equal(t, 10, parsed.messages[1].Snippets[0].LineStart)
	require.Equal(t, 30, parsed.messages[1].Snippets[0].LineEnd)
	require.Equal(t, "package main", parsed.messages[1].Snippets[0].Text)

	require.True(t, parsed.startedAt > 0)
	require.True(t, parsed.endedAt >= parsed.startedAt)
}

func TestScan_EmitsOneConversationPerTranscript(t *testing.T) {
	home := t.TempDir()
	projectDir := filepath.Join(home, ".claude", "projects", "-home-dev-project")
	writeTranscript(t, projectDir, "sess-1.jsonl", sampleTranscript)

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)

	det := c.Detect(resolver)
	require.True(t, det.Found)

	convs, err := c.Scan(context.Background(), det.Roots, nil)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	conv := convs[0]
	require.Equal(t, model.AgentClaudeCode, conv.AgentSlug)
	require.Equal(t, "sess-1", conv.ExternalID)
	require.NotNil(t, conv.Workspace)
	require.Equal(t, "/home/dev/project", conv.Workspace.Path)
	require.Len(t, conv.Messages, 2)
}

func TestScan_SinceExcludesUntouchedTranscripts(t *testing.T) {
	home := t.TempDir()
	projectDir := filepath.Join(home, ".claude", "projects", "-home-dev-project")
	writeTranscript(t, projectDir, "sess-1.jsonl", sampleTranscript)

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)
	roots := resolver.Resolve(model.AgentClaudeCode)

	future := int64(1 << 62)
	convs, err := c.Scan(context.Background(), roots, &future)
	require.NoError(t, err)
	require.Empty(t, convs)
}

func TestOwnsPath(t *testing.T) {
	home := t.TempDir()
	projectDir := filepath.Join(home, ".claude", "projects", "-home-dev-project")
	path := writeTranscript(t, projectDir, "sess-1.jsonl", sampleTranscript)

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)

	require.True(t, c.OwnsPath(path))
	require.False(t, c.OwnsPath(filepath.Join(home, "other", "file.jsonl")))
}
