package indexer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
	"github.com/fyrsmithlabs/sessiondex/internal/searchindex"
	"github.com/fyrsmithlabs/sessiondex/internal/storage"
)

// stubConnector emits a fixed set of conversations regardless of roots,
// so the indexer's wiring can be tested without real filesystem artifacts.
type stubConnector struct {
	slug  string
	convs []model.NormalizedConversation
}

func (s *stubConnector) AgentSlug() string { return s.slug }
func (s *stubConnector) Detect(*pathresolver.Resolver) connector.DetectionResult {
	return connector.DetectionResult{Found: true, Roots: pathresolver.Roots{Dirs: []string{"/tmp"}}}
}
func (s *stubConnector) Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error) {
	if since == nil {
		return s.convs, nil
	}
	var out []model.NormalizedConversation
	for _, c := range s.convs {
		if c.SourceMTime > *since {
			out = append(out, c)
		}
	}
	return out, nil
}
func (s *stubConnector) OwnsPath(string) bool { return true }

var _ connector.Connector = (*stubConnector)(nil)

func setup(t *testing.T) (*storage.Store, *searchindex.Index) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "sessiondex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idx, _, err := searchindex.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return store, idx
}

func sampleConv(externalID string, mtime int64) model.NormalizedConversation {
	return model.NormalizedConversation{
		AgentSlug:   model.AgentCodex,
		ExternalID:  externalID,
		SourcePath:  "/tmp/" + externalID + ".jsonl",
		SourceMTime: mtime,
		StartedAt:   mtime,
		EndedAt:     mtime,
		Messages: []model.Message{
			{Idx: 0, Role: model.RoleUser, Content: "why does the build fail", CreatedAt: mtime},
			{Idx: 1, Role: model.RoleAgent, Content: "checking the makefile", CreatedAt: mtime},
		},
	}
}

func TestRun_FullPassWritesStorageAndIndex(t *testing.T) {
	store, idx := setup(t)
	stub := &stubConnector{slug: model.AgentCodex, convs: []model.NormalizedConversation{sampleConv("conv-1", 1_700_000_000_000)}}

	ix := New(store, idx, pathresolver.NewWithHome(t.TempDir()), []connector.Connector{stub}, 4)
	result, err := ix.Run(context.Background(), true, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.ConversationsWritten)
	require.Equal(t, 2, result.MessagesWritten)

	mtime, ok, err := store.MaxSourceMtime(context.Background(), model.AgentCodex)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1_700_000_000_000), mtime)
}

func TestRun_IncrementalPassSkipsUnchangedConversations(t *testing.T) {
	store, idx := setup(t)
	stub := &stubConnector{slug: model.AgentCodex, convs: []model.NormalizedConversation{sampleConv("conv-1", 1_700_000_000_000)}}
	ix := New(store, idx, pathresolver.NewWithHome(t.TempDir()), []connector.Connector{stub}, 4)

	_, err := ix.Run(context.Background(), true, false)
	require.NoError(t, err)

	result, err := ix.Run(context.Background(), false, false)
	require.NoError(t, err)
	require.Equal(t, 0, result.ConversationsWritten)
}
