package searchindex

import (
	"path/filepath"
	"testing"

	bleveQuery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesFreshIndex(t *testing.T) {
	dir := t.TempDir()

	idx, rebuildNeeded, err := Open(dir)
	require.NoError(t, err)
	require.True(t, rebuildNeeded)
	defer idx.Close()

	require.FileExists(t, filepath.Join(dir, "index", indexVersion+".hash"))
}

func TestOpen_ReopensWithoutRebuild(t *testing.T) {
	dir := t.TempDir()

	idx, _, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx2, rebuildNeeded, err := Open(dir)
	require.NoError(t, err)
	defer idx2.Close()
	require.False(t, rebuildNeeded)
}

func TestIndexBatch_SearchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx, _, err := Open(dir)
	require.NoError(t, err)
	defer idx.Close()

	err = idx.IndexBatch([]Document{
		{MessageID: 1, ConversationID: 10, AgentSlug: "codex", Role: "user", Title: "t1", Content: "find the matrix bug"},
		{MessageID: 2, ConversationID: 11, AgentSlug: "claude_code", Role: "user", Title: "t2", Content: "unrelated content"},
	})
	require.NoError(t, err)

	q := bleveQuery.NewMatchQuery("matrix")
	req := newSearchRequest(q)
	result, err := idx.Raw().Search(req)
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Total)
}

func TestTruncate_ClearsDocuments(t *testing.T) {
	dir := t.TempDir()
	idx, _, err := Open(dir)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexBatch([]Document{
		{MessageID: 1, ConversationID: 1, AgentSlug: "codex", Title: "t", Content: "hello"},
	}))
	require.NoError(t, idx.Truncate())

	q := bleveQuery.NewMatchQuery("hello")
	result, err := idx.Raw().Search(newSearchRequest(q))
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.Total)
}
