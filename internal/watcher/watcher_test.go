package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/indexer"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
	"github.com/fyrsmithlabs/sessiondex/internal/searchindex"
	"github.com/fyrsmithlabs/sessiondex/internal/storage"
)

// fileStubConnector scans a fixed directory for ".txt" artifacts, emitting
// one conversation per file, exercising the watcher's routing/debounce
// logic against real filesystem events without depending on a specific
// connector's wire format.
type fileStubConnector struct {
	root string
}

func (s *fileStubConnector) AgentSlug() string { return model.AgentCodex }

func (s *fileStubConnector) Detect(*pathresolver.Resolver) connector.DetectionResult {
	return connector.DetectionResult{Found: true, Roots: pathresolver.Roots{Dirs: []string{s.root}}}
}

func (s *fileStubConnector) OwnsPath(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	return err == nil && !strings.HasPrefix(rel, "..")
}

func (s *fileStubConnector) Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []model.NormalizedConversation
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mtime := info.ModTime().UnixMilli()
		if since != nil && mtime <= *since {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, model.NormalizedConversation{
			AgentSlug:   model.AgentCodex,
			ExternalID:  e.Name(),
			SourcePath:  filepath.Join(s.root, e.Name()),
			SourceMTime: mtime,
			StartedAt:   mtime,
			EndedAt:     mtime,
			Messages: []model.Message{
				{Idx: 0, Role: model.RoleUser, Content: string(content), CreatedAt: mtime},
			},
		})
	}
	return out, nil
}

var _ connector.Connector = (*fileStubConnector)(nil)

func setupWatcherDeps(t *testing.T) (*storage.Store, *searchindex.Index) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "sessiondex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idx, _, err := searchindex.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return store, idx
}

func TestRun_ReindexesOnFileWriteAndPersistsCursor(t *testing.T) {
	root := t.TempDir()
	store, idx := setupWatcherDeps(t)
	resolver := pathresolver.NewWithHome(t.TempDir())
	stub := &fileStubConnector{root: root}
	ix := indexer.New(store, idx, resolver, []connector.Connector{stub}, 4)

	statePath := filepath.Join(t.TempDir(), "watch_state.json")
	w := New(ix, []connector.Connector{stub}, resolver, 30*time.Millisecond, statePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond) // let the watcher finish registering roots

	require.NoError(t, os.WriteFile(filepath.Join(root, "session.txt"), []byte("why did ci fail"), 0o644))

	require.Eventually(t, func() bool {
		mtime, ok, err := store.MaxSourceMtime(context.Background(), model.AgentCodex)
		return err == nil && ok && mtime > 0
	}, 2*time.Second, 20*time.Millisecond)

	w.Stop()
	require.NoError(t, <-runErr)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var persisted state
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Equal(t, 1, persisted.Version)
	require.Contains(t, persisted.Cursors, model.AgentCodex)
	require.Greater(t, persisted.Cursors[model.AgentCodex], int64(0))
}

func TestRoutesEventsToFirstOwningConnector(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	a := &fileStubConnector{root: rootA}
	b := &fileStubConnector{root: rootB}

	require.Equal(t, model.AgentCodex, routeEvent([]connector.Connector{a, b}, filepath.Join(rootA, "x.txt")))
	require.Equal(t, "", routeEvent([]connector.Connector{a, b}, filepath.Join(t.TempDir(), "unowned.txt")))
}

func TestLoadState_MissingFileReturnsEmptyCursors(t *testing.T) {
	st, err := loadState(filepath.Join(t.TempDir(), "missing_state.json"))
	require.NoError(t, err)
	require.Empty(t, st.Cursors)
	require.Equal(t, stateFileVersion, st.Version)
}

func TestSaveState_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch_state.json")
	require.NoError(t, saveState(path, &state{Cursors: map[string]int64{model.AgentClaudeCode: 42}}))

	loaded, err := loadState(path)
	require.NoError(t, err)
	require.Equal(t, int64(42), loaded.Cursors[model.AgentClaudeCode])
}
