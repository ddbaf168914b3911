package opencode

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
)

func seedDatabase(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE session (id TEXT PRIMARY KEY, cwd TEXT, title TEXT, created_at INTEGER);
		CREATE TABLE message (session_id TEXT, idx INTEGER, role TEXT, content TEXT, created_at INTEGER);
	`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO session (id, cwd, title, created_at) VALUES (?, ?, ?, ?)`,
		"sess-1", "/home/dev/app", "debugging session", int64(1_700_000_000_000))
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO message (session_id, idx, role, content, created_at) VALUES
		(?, 0, 'user', 'why is this failing', ?),
		(?, 1, 'assistant', 'let me check the logs', ?)`,
		"sess-1", int64(1_700_000_000_000),
		"sess-1", int64(1_700_000_005_000))
	require.NoError(t, err)
}

func TestScan_ReadsSessionsAndMessagesFromDatabase(t *testing.T) {
	home := t.TempDir()
	globalDir := filepath.Join(home, ".local", "share", "opencode")
	dbPath := filepath.Join(globalDir, "opencode.db")
	seedDatabase(t, dbPath)

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)
	det := c.Detect(resolver)
	require.True(t, det.Found)

	convs, err := c.Scan(context.Background(), det.Roots, nil)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "sess-1", convs[0].ExternalID)
	require.Equal(t, "debugging session", convs[0].Title)
	require.NotNil(t, convs[0].Workspace)
	require.Len(t, convs[0].Messages, 2)
	require.Equal(t, model.RoleUser, convs[0].Messages[0].Role)
	require.Equal(t, model.RoleAgent, convs[0].Messages[1].Role)
}

func TestScan_SinceSkipsUnchangedDatabase(t *testing.T) {
	home := t.TempDir()
	dbPath := filepath.Join(home, ".local", "share", "opencode", "opencode.db")
	seedDatabase(t, dbPath)

	resolver := pathresolver.NewWithHome(home)
	c := New(resolver)
	roots := resolver.Resolve(model.AgentOpenCode)

	future := int64(1 << 62)
	convs, err := c.Scan(context.Background(), roots, &future)
	require.NoError(t, err)
	require.Empty(t, convs)
}
