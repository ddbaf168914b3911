package cline

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

func writeTaskFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestParseTask_PrefersAPIHistoryOnOverlap(t *testing.T) {
	dir := t.TempDir()
	writeTaskFiles(t, dir, map[string]string{
		"task_metadata.json": `{"workspace":"/home/dev/app","task":"fix login bug"}`,
		"ui_messages.json": `[
			{"ts":1000,"type":"ask","text":"please fix the login bug"},
			{"ts":2000,"type":"say","say":"completion_result","text":"done"}
		]`,
		"api_conversation_history.json": `[
			{"ts":1000,"role":"user","content":"please fix the login bug"},
			{"ts":1500,"role":"assistant","content":[{"type":"text","text":"Looking at auth.go now."}]}
		]`,
	})

	parsed, err := parseTask(dir, func(w connector.ParseWarning) {})
	require.NoError(t, err)
	require.Equal(t, "/home/dev/app", parsed.workspace)
	require.Equal(t, "fix login bug", parsed.title)

	// ts=1000 ui/api pair overlaps and collapses to the api copy; ts=1500 api-only
	// and ts=2000 ui-only both survive, yielding 3 messages in ts order.
	require.Len(t, parsed.messages, 3)
	require.Equal(t, 0, parsed.messages[0].Idx)
	require.Equal(t, "please fix the login bug", parsed.messages[0].Content)
	require.Equal(t, model.RoleUser, parsed.messages[0].Role)
	require.Equal(t, "Looking at auth.go now.", parsed.messages[1].Content)
	require.Equal(t, "done", parsed.messages[2].Content)
}

func TestScan_EmitsConversationPerTaskDirectory(t *testing.T) {
	home := t.TempDir()
	globalStorage := filepath.Join(home, ".config", "Code", "User", "globalStorage", "saoudrizwan.claude-dev")
	taskDir := filepath.Join(globalStorage, "tasks", "task-uuid-1")
	writeTaskFiles(t, taskDir, map[string]string{
		"task_metadata.json": `{"workspace":"/home/dev/app"}`,
		"ui_messages.json":   `[{"ts":1000,"type":"ask","text":"hello"}]`,
	})

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)
	det := c.Detect(resolver)
	require.True(t, det.Found)

	convs, err := c.Scan(context.Background(), det.Roots, nil)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "task-uuid-1", convs[0].ExternalID)
	require.NotNil(t, convs[0].Workspace)
}
