package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleConversation(externalID string, messages ...model.Message) model.NormalizedConversation {
	return model.NormalizedConversation{
		AgentSlug:   model.AgentCodex,
		ExternalID:  externalID,
		Title:       "session " + externalID,
		SourcePath:  "/tmp/" + externalID + ".jsonl",
		SourceMTime: 1_700_000_000_000,
		StartedAt:   1_700_000_000_000,
		Metadata:    json.RawMessage(`{}`),
		Messages:    messages,
	}
}

func msg(idx int, role model.Role, content string, createdAt int64) model.Message {
	return model.Message{Idx: idx, Role: role, Content: content, CreatedAt: createdAt}
}

func TestInsertConversationTree_Dedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureAgent(ctx, model.AgentCodex, "Codex", model.KindCLI)
	require.NoError(t, err)

	conv := sampleConversation("sess-1",
		msg(0, model.RoleUser, "hello", 1_700_000_000_000),
		msg(1, model.RoleAgent, "hi there", 1_700_000_000_100),
		msg(2, model.RoleUser, "matrix question", 1_700_000_000_200),
	)

	convID, inserted, err := s.InsertConversationTree(ctx, conv)
	require.NoError(t, err)
	require.Len(t, inserted, 3)

	// Re-ingest the same file unchanged: no new messages.
	convID2, inserted2, err := s.InsertConversationTree(ctx, conv)
	require.NoError(t, err)
	require.Equal(t, convID, convID2)
	require.Len(t, inserted2, 0)

	var count int
	require.NoError(t, s.ReadDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE agent_id = (SELECT id FROM agents WHERE slug = ?)`, model.AgentCodex).Scan(&count))
	require.Equal(t, 1, count)
}

func TestInsertConversationTree_AppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureAgent(ctx, model.AgentCodex, "Codex", model.KindCLI)
	require.NoError(t, err)

	conv := sampleConversation("sess-2",
		msg(0, model.RoleUser, "hello", 1_700_000_000_000),
		msg(1, model.RoleAgent, "hi", 1_700_000_000_100),
		msg(2, model.RoleUser, "bye", 1_700_000_000_200),
	)
	_, inserted, err := s.InsertConversationTree(ctx, conv)
	require.NoError(t, err)
	require.Len(t, inserted, 3)

	conv.Messages = append(conv.Messages,
		msg(3, model.RoleAgent, "see you", 1_700_000_000_300),
		msg(4, model.RoleUser, "ok", 1_700_000_000_400),
	)
	convID, inserted2, err := s.InsertConversationTree(ctx, conv)
	require.NoError(t, err)
	require.Len(t, inserted2, 2)

	var total int
	require.NoError(t, s.ReadDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, convID).Scan(&total))
	require.Equal(t, 5, total)
}

func TestMaxSourceMtime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureAgent(ctx, model.AgentClaudeCode, "Claude Code", model.KindEditorExtension)
	require.NoError(t, err)

	conv := sampleConversation("sess-3")
	conv.AgentSlug = model.AgentClaudeCode
	_, _, err = s.InsertConversationTree(ctx, conv)
	require.NoError(t, err)

	mtime, ok, err := s.MaxSourceMtime(ctx, model.AgentClaudeCode)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1_700_000_000_000), mtime)

	_, ok, err = s.MaxSourceMtime(ctx, model.AgentGeminiCLI)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetConversation_ReturnsMessagesInOrderWithSnippets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureAgent(ctx, model.AgentCodex, "Codex", model.KindCLI)
	require.NoError(t, err)

	conv := sampleConversation("sess-5",
		msg(0, model.RoleUser, "read main.go", 1_700_000_000_000),
		msg(1, model.RoleAgent, "looked at the file", 1_700_000_000_100),
	)
	conv.Workspace = &model.Workspace{Path: "/home/dev/app", DisplayName: "app"}
	conv.Messages[1].Snippets = []model.Snippet{
		{Path: "main.go", LineStart: 10, LineEnd: 20, Language: "go", Text: "func main() {}"},
	}
	_, _, err = s.InsertConversationTree(ctx, conv)
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, model.AgentCodex, "sess-5")
	require.NoError(t, err)
	require.Equal(t, "session sess-5", got.Title)
	require.NotNil(t, got.Workspace)
	require.Equal(t, "/home/dev/app", got.Workspace.Path)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "read main.go", got.Messages[0].Content)
	require.Equal(t, "looked at the file", got.Messages[1].Content)
	require.Len(t, got.Messages[1].Snippets, 1)
	require.Equal(t, "main.go", got.Messages[1].Snippets[0].Path)
}

func TestGetConversation_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetConversation(ctx, model.AgentCodex, "does-not-exist")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRebuildFTS_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureAgent(ctx, model.AgentCodex, "Codex", model.KindCLI)
	require.NoError(t, err)
	_, _, err = s.InsertConversationTree(ctx, sampleConversation("sess-4",
		msg(0, model.RoleUser, "find the matrix bug", 1_700_000_000_000),
	))
	require.NoError(t, err)

	var before int
	require.NoError(t, s.ReadDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM fts_messages WHERE fts_messages MATCH 'matrix'`).Scan(&before))
	require.Equal(t, 1, before)

	require.NoError(t, s.RebuildFTS(ctx))

	var after int
	require.NoError(t, s.ReadDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM fts_messages WHERE fts_messages MATCH 'matrix'`).Scan(&after))
	require.Equal(t, before, after)
}
