package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/indexer"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
	"github.com/fyrsmithlabs/sessiondex/internal/searchindex"
	"github.com/fyrsmithlabs/sessiondex/internal/storage"
)

type fixedConnector struct {
	slug  string
	convs []model.NormalizedConversation
}

func (s *fixedConnector) AgentSlug() string { return s.slug }
func (s *fixedConnector) Detect(*pathresolver.Resolver) connector.DetectionResult {
	return connector.DetectionResult{Found: true, Roots: pathresolver.Roots{Dirs: []string{"/tmp"}}}
}
func (s *fixedConnector) Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error) {
	return s.convs, nil
}
func (s *fixedConnector) OwnsPath(string) bool { return true }

var _ connector.Connector = (*fixedConnector)(nil)

// seedFixture populates both storage and the primary index via a real
// indexer pass, so query tests exercise the same write path production
// code uses rather than hand-built documents.
func seedFixture(t *testing.T) (*storage.Store, *searchindex.Index) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "sessiondex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idx, _, err := searchindex.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	codex := &fixedConnector{slug: model.AgentCodex, convs: []model.NormalizedConversation{
		{
			AgentSlug:   model.AgentCodex,
			ExternalID:  "conv-build-failure",
			Title:       "debugging the makefile",
			Workspace:   &model.Workspace{Path: "/home/dev/app", DisplayName: "app"},
			SourcePath:  "/tmp/codex/rollout-1.jsonl",
			SourceMTime: 1_700_000_000_000,
			StartedAt:   1_700_000_000_000,
			EndedAt:     1_700_000_001_000,
			Messages: []model.Message{
				{Idx: 0, Role: model.RoleUser, Content: "why does the makefile keep failing", CreatedAt: 1_700_000_000_000},
				{Idx: 1, Role: model.RoleAgent, Content: "the makefile references a stale target", CreatedAt: 1_700_000_000_500},
			},
		},
	}}
	claude := &fixedConnector{slug: model.AgentClaudeCode, convs: []model.NormalizedConversation{
		{
			AgentSlug:   model.AgentClaudeCode,
			ExternalID:  "conv-unrelated",
			Title:       "refactoring the parser",
			Workspace:   &model.Workspace{Path: "/home/dev/other", DisplayName: "other"},
			SourcePath:  "/tmp/claude/transcript.jsonl",
			SourceMTime: 1_700_000_002_000,
			StartedAt:   1_700_000_002_000,
			EndedAt:     1_700_000_002_000,
			Messages: []model.Message{
				{Idx: 0, Role: model.RoleUser, Content: "let's clean up the parser module", CreatedAt: 1_700_000_002_000},
			},
		},
	}}

	resolver := pathresolver.NewWithHome(t.TempDir())
	ix := indexer.New(store, idx, resolver, []connector.Connector{codex, claude}, 2)
	_, err = ix.Run(context.Background(), true, false)
	require.NoError(t, err)

	return store, idx
}

func TestSearch_ReturnsMatchingConversation(t *testing.T) {
	store, idx := seedFixture(t)
	c := NewClient(idx, store, Config{})

	resp, err := c.Search(context.Background(), Request{Query: "makefile"})
	require.NoError(t, err)
	require.Equal(t, "bleve", resp.Backend)
	require.False(t, resp.Degraded)
	require.Len(t, resp.Hits, 1)
	require.Equal(t, "debugging the makefile", resp.Hits[0].Title)
}

func TestSearch_FiltersByAgent(t *testing.T) {
	store, idx := seedFixture(t)
	c := NewClient(idx, store, Config{})

	resp, err := c.Search(context.Background(), Request{
		Query:   "makefile parser", // matches both fixture conversations
		Filters: Filters{Agents: []string{model.AgentClaudeCode}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	require.Equal(t, model.AgentClaudeCode, resp.Hits[0].AgentSlug)
}

func TestSearch_GroupsByConversation(t *testing.T) {
	store, idx := seedFixture(t)
	c := NewClient(idx, store, Config{})

	resp, err := c.Search(context.Background(), Request{Query: "makefile"})
	require.NoError(t, err)
	seen := map[int64]bool{}
	for _, h := range resp.Hits {
		require.False(t, seen[h.ConversationID], "conversation appeared more than once in a page")
		seen[h.ConversationID] = true
	}
}

func TestSearch_FallsBackToFTSMirrorWhenIndexNil(t *testing.T) {
	store, _ := seedFixture(t)
	c := NewClient(nil, store, Config{})

	resp, err := c.Search(context.Background(), Request{Query: "makefile"})
	require.NoError(t, err)
	require.True(t, resp.Degraded)
	require.Equal(t, "fts_mirror", resp.Backend)
	require.Len(t, resp.Hits, 1)
}

func TestSearch_CachesIdenticalRequests(t *testing.T) {
	store, idx := seedFixture(t)
	c := NewClient(idx, store, Config{})

	req := Request{Query: "makefile"}
	first, err := c.Search(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, idx.Truncate()) // index now empty; a cache hit would still return the prior page
	second, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)

	c.InvalidateCache()
	third, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, third.Hits)
}
