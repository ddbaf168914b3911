// Package sessiondex wires the connector, storage, full-text index,
// indexer, watcher, and query layers into the four operations the outer
// layer (CLI, or any future embedder) drives: index, watch, query, and
// inspect.
package sessiondex

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fyrsmithlabs/sessiondex/internal/config"
	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/connector/amp"
	"github.com/fyrsmithlabs/sessiondex/internal/connector/claudecode"
	"github.com/fyrsmithlabs/sessiondex/internal/connector/cline"
	"github.com/fyrsmithlabs/sessiondex/internal/connector/codex"
	"github.com/fyrsmithlabs/sessiondex/internal/connector/geminicli"
	"github.com/fyrsmithlabs/sessiondex/internal/connector/opencode"
	"github.com/fyrsmithlabs/sessiondex/internal/indexer"
	"github.com/fyrsmithlabs/sessiondex/internal/logging"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
	"github.com/fyrsmithlabs/sessiondex/internal/query"
	"github.com/fyrsmithlabs/sessiondex/internal/searchindex"
	"github.com/fyrsmithlabs/sessiondex/internal/storage"
	"github.com/fyrsmithlabs/sessiondex/internal/watcher"
)

// App is a fully wired sessiondex instance: one storage handle, one
// full-text index, one resolver, and the connector set enabled by Config.
// It is the thing cmd/sessiondex constructs once per invocation.
type App struct {
	cfg      *config.Config
	log      *logging.Logger
	store    *storage.Store
	index    *searchindex.Index
	resolver *pathresolver.Resolver

	connectors []connector.Connector
	indexer    *indexer.Indexer
	query      *query.Client
}

// Open builds an App from cfg: opens (or creates) the relational store and
// full-text index under cfg.DataDir, constructs a resolver and the enabled
// connector set, and wires the indexer and query client against them.
func Open(cfg *config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.FromContext(context.Background())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sessiondex: invalid config: %w", err)
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, "sessiondex.db"))
	if err != nil {
		return nil, fmt.Errorf("sessiondex: open storage: %w", err)
	}

	idx, rebuildNeeded, err := searchindex.Open(cfg.DataDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sessiondex: open full-text index: %w", err)
	}

	resolver := pathresolver.New()
	connectors := enabledConnectors(resolver, cfg.Agents)
	ix := indexer.New(store, idx, resolver, connectors, cfg.Index.MaxConcurrentConnectors)

	if rebuildNeeded {
		log.Info(context.Background(), "full-text index schema changed, rebuilding from storage")
		if err := idx.Truncate(); err != nil {
			idx.Close()
			store.Close()
			return nil, fmt.Errorf("sessiondex: truncate stale full-text index: %w", err)
		}
		if err := ix.RebuildIndexFromStorage(context.Background()); err != nil {
			idx.Close()
			store.Close()
			return nil, fmt.Errorf("sessiondex: rebuild full-text index from storage: %w", err)
		}
	}

	qc := query.NewClient(idx, store, query.Config{
		DefaultPageSize:              cfg.Search.DefaultPageSize,
		CacheSize:                    cfg.Search.CacheSize,
		PrefixWildcardExpansionLimit: cfg.Search.PrefixWildcardExpansionLimit,
	})

	return &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		index:      idx,
		resolver:   resolver,
		connectors: connectors,
		indexer:    ix,
		query:      qc,
	}, nil
}

// Close releases the store and full-text index. Safe to call once after
// every other method has returned.
func (a *App) Close() error {
	idxErr := a.index.Close()
	storeErr := a.store.Close()
	if idxErr != nil {
		return fmt.Errorf("sessiondex: close full-text index: %w", idxErr)
	}
	if storeErr != nil {
		return fmt.Errorf("sessiondex: close storage: %w", storeErr)
	}
	return nil
}

// Index runs a full or incremental pass across every enabled connector.
// full=true truncates the full-text index, rescans everything with
// since=nil, and repopulates the full-text index from storage once every
// connector has finished; the relational store itself is never truncated,
// since it is the only authoritative record of prior ingestion.
func (a *App) Index(ctx context.Context, full bool) (indexer.Result, error) {
	res, err := a.indexer.Run(ctx, full, false)
	if err != nil {
		return res, fmt.Errorf("sessiondex: index: %w", err)
	}
	a.query.InvalidateCache()
	return res, nil
}

// Watch runs the filesystem watcher until ctx is cancelled, triggering a
// targeted reindex of whichever connector owns a changed path and
// invalidating the query cache after every reindex that wrote new messages. It returns
// when the watcher's run loop exits (cleanly, on ctx cancellation).
func (a *App) Watch(ctx context.Context) error {
	w := watcher.New(a.indexer, a.connectors, a.resolver, a.cfg.Watch.DebounceWindow.Duration(), a.cfg.Watch.StatePath)
	w.OnCommit = a.query.InvalidateCache
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("sessiondex: watch: %w", err)
	}
	return nil
}

// Query executes a search request against the primary full-text index,
// falling back to the relational FTS mirror when the primary index is
// unavailable or errors.
func (a *App) Query(ctx context.Context, req query.Request) (query.Response, error) {
	resp, err := a.query.Search(ctx, req)
	if err != nil {
		return query.Response{}, fmt.Errorf("sessiondex: query: %w", err)
	}
	return resp, nil
}

// Inspect reads back one full conversation (and its messages, in order,
// with attached snippets) by agent slug and external id.
func (a *App) Inspect(ctx context.Context, agentSlug, externalID string) (model.NormalizedConversation, error) {
	conv, err := a.store.GetConversation(ctx, agentSlug, externalID)
	if err != nil {
		return model.NormalizedConversation{}, fmt.Errorf("sessiondex: inspect: %w", err)
	}
	return conv, nil
}

// enabledConnectors builds the full connector set, skips any agent slug
// named in cfg.Disabled, and wraps a connector in an override that pins its
// detected roots when cfg.RootOverrides names that agent.
func enabledConnectors(resolver *pathresolver.Resolver, cfg config.AgentsConfig) []connector.Connector {
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, slug := range cfg.Disabled {
		disabled[slug] = true
	}

	all := []connector.Connector{
		codex.New(resolver),
		claudecode.New(resolver),
		geminicli.New(resolver),
		cline.New(resolver),
		opencode.New(resolver),
		amp.New(resolver),
	}

	enabled := make([]connector.Connector, 0, len(all))
	for _, c := range all {
		if disabled[c.AgentSlug()] {
			continue
		}
		if dirs, ok := cfg.RootOverrides[c.AgentSlug()]; ok && len(dirs) > 0 {
			c = rootOverride{Connector: c, dirs: dirs}
		}
		enabled = append(enabled, c)
	}
	return enabled
}

// rootOverride wraps a Connector to report a fixed set of root directories
// instead of whatever pathresolver would compute, for operators pointing
// sessiondex at a non-standard install location (and for tests).
type rootOverride struct {
	connector.Connector
	dirs []string
}

func (o rootOverride) Detect(*pathresolver.Resolver) connector.DetectionResult {
	return connector.DetectionResult{Found: true, Roots: pathresolver.Roots{Dirs: o.dirs}}
}
