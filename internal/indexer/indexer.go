// Package indexer drives a pass across every enabled connector: full
// (rescan everything, optionally rebuilding the relational FTS mirror; storage
// itself is never truncated) or incremental
// (resume each connector from its own max_source_mtime cursor), writing
// normalized conversations through storage and mirroring newly-inserted
// messages into the primary full-text index.
package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/logging"
	"github.com/fyrsmithlabs/sessiondex/internal/metrics"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
	"github.com/fyrsmithlabs/sessiondex/internal/searchindex"
	"github.com/fyrsmithlabs/sessiondex/internal/storage"
)

// registryEntry is the static display metadata for an enabled connector,
// used once per pass to register the agent row before any scan runs.
type registryEntry struct {
	Slug        string
	DisplayName string
	Kind        model.Kind
}

var registry = map[string]registryEntry{
	model.AgentCodex:      {model.AgentCodex, "Codex CLI", model.KindCLI},
	model.AgentClaudeCode: {model.AgentClaudeCode, "Claude Code", model.KindCLI},
	model.AgentGeminiCLI:  {model.AgentGeminiCLI, "Gemini CLI", model.KindCLI},
	model.AgentCline:      {model.AgentCline, "Cline", model.KindEditorExtension},
	model.AgentOpenCode:   {model.AgentOpenCode, "OpenCode", model.KindCLI},
	model.AgentAmp:        {model.AgentAmp, "Amp", model.KindHybrid},
}

// Indexer wires storage, the primary full-text index, and the enabled
// connector set together for one pass.
type Indexer struct {
	Store      *storage.Store
	Index      *searchindex.Index
	Resolver   *pathresolver.Resolver
	Connectors []connector.Connector
	MaxWorkers int
}

// New returns an Indexer bounded to min(maxWorkers, len(connectors)) as
// required by the concurrency model: connectors run in parallel across
// agents, but storage serializes writers regardless.
func New(store *storage.Store, index *searchindex.Index, resolver *pathresolver.Resolver, connectors []connector.Connector, maxWorkers int) *Indexer {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Indexer{Store: store, Index: index, Resolver: resolver, Connectors: connectors, MaxWorkers: maxWorkers}
}

// Result summarizes one completed pass.
type Result struct {
	ConversationsWritten int
	MessagesWritten      int
}

// Run executes one indexer pass. full=true rescans every connector from
// scratch; truncateStorage additionally rebuilds the relational FTS mirror
// before rescanning (full must also be true). On a full pass the primary
// full-text index is truncated and then repopulated from storage once every
// connector has finished writing, rather than from the per-conversation
// document batches runConnector accumulates: those only cover messages newly
// inserted this pass, and a full pass against an existing corpus inserts
// nothing new for conversations already on disk.
func (ix *Indexer) Run(ctx context.Context, full, truncateStorage bool) (Result, error) {
	log := logging.FromContext(ctx)
	start := time.Now()
	defer func() {
		metrics.IndexerPassDuration.Observe(time.Since(start).Seconds())
	}()

	if full {
		if err := ix.Index.Truncate(); err != nil {
			return Result{}, fmt.Errorf("truncating full-text index: %w", err)
		}
		if truncateStorage {
			if err := ix.Store.RebuildFTS(ctx); err != nil {
				return Result{}, fmt.Errorf("rebuilding relational fts mirror: %w", err)
			}
		}
	}

	limit := ix.MaxWorkers
	if len(ix.Connectors) < limit {
		limit = len(ix.Connectors)
	}
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]Result, len(ix.Connectors))
	for i, conn := range ix.Connectors {
		i, conn := i, conn
		g.Go(func() error {
			r, err := ix.runConnector(gctx, conn, full)
			if err != nil {
				return fmt.Errorf("connector %s: %w", conn.AgentSlug(), err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if full {
		if err := ix.RebuildIndexFromStorage(ctx); err != nil {
			return Result{}, fmt.Errorf("rebuilding full-text index from storage: %w", err)
		}
	}

	var total Result
	for _, r := range results {
		total.ConversationsWritten += r.ConversationsWritten
		total.MessagesWritten += r.MessagesWritten
	}
	log.Info(ctx, "indexer pass complete",
		zap.Bool("full", full),
		zap.Int("conversations_written", total.ConversationsWritten),
		zap.Int("messages_written", total.MessagesWritten),
		zap.Duration("elapsed", time.Since(start)))
	return total, nil
}

func (ix *Indexer) runConnector(ctx context.Context, conn connector.Connector, full bool) (Result, error) {
	log := logging.FromContext(ctx)
	slug := conn.AgentSlug()
	entry, ok := registry[slug]
	if !ok {
		return Result{}, fmt.Errorf("no registry entry for agent %s", slug)
	}

	if _, err := ix.Store.EnsureAgent(ctx, entry.Slug, entry.DisplayName, entry.Kind); err != nil {
		return Result{}, fmt.Errorf("ensuring agent %s: %w", slug, err)
	}

	det := conn.Detect(ix.Resolver)
	if !det.Found {
		return Result{}, nil
	}

	var since *int64
	if !full {
		if mtime, ok, err := ix.Store.MaxSourceMtime(ctx, slug); err != nil {
			return Result{}, fmt.Errorf("reading cursor for %s: %w", slug, err)
		} else if ok {
			since = &mtime
		}
	}

	convs, err := conn.Scan(ctx, det.Roots, since)
	if err != nil {
		return Result{}, fmt.Errorf("scanning %s: %w", slug, err)
	}

	metrics.IndexerFilesTotal.WithLabelValues(slug).Set(float64(len(convs)))

	var r Result
	var docs []searchindex.Document
	for i, conv := range convs {
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		default:
		}

		d, wrote, err := ix.writeConversation(ctx, slug, conv)
		if err != nil {
			log.Warn(ctx, "indexer: skipping conversation after storage error", zap.String("agent", slug), zap.String("external_id", conv.ExternalID), zap.Error(err))
			continue
		}
		r.ConversationsWritten += wrote.ConversationsWritten
		r.MessagesWritten += wrote.MessagesWritten
		docs = append(docs, d...)

		metrics.IndexerFilesDone.WithLabelValues(slug).Set(float64(i + 1))
	}

	if len(docs) > 0 {
		if err := ix.Index.IndexBatch(docs); err != nil {
			return r, fmt.Errorf("indexing batch for %s: %w", slug, err)
		}
	}
	return r, nil
}

// writeConversation persists one conversation through storage and builds
// the full-text documents for its newly-inserted messages. The caller
// decides when to commit them to the index: the full/incremental pass
// batches across a whole connector pass, while the watcher commits after
// each targeted reindex.
func (ix *Indexer) writeConversation(ctx context.Context, slug string, conv model.NormalizedConversation) ([]searchindex.Document, Result, error) {
	convID, insertedIDs, err := ix.Store.InsertConversationTree(ctx, conv)
	if err != nil {
		return nil, Result{}, err
	}

	outcome := "updated"
	if len(insertedIDs) == len(conv.Messages) {
		outcome = "inserted"
	}
	metrics.IndexerConversationsWritten.WithLabelValues(slug, outcome).Inc()

	workspace := ""
	if conv.Workspace != nil {
		workspace = conv.Workspace.Path
	}
	newMsgs := conv.Messages[len(conv.Messages)-len(insertedIDs):]
	docs := make([]searchindex.Document, 0, len(newMsgs))
	for j, msg := range newMsgs {
		var lineNumber int64
		if len(msg.Snippets) > 0 {
			lineNumber = int64(msg.Snippets[0].LineStart)
		}
		docs = append(docs, searchindex.Document{
			MessageID:      int64(insertedIDs[j]),
			ConversationID: int64(convID),
			AgentSlug:      slug,
			Workspace:      workspace,
			Role:           string(msg.Role),
			CreatedAt:      msg.CreatedAt,
			Title:          conv.Title,
			Content:        msg.Content,
			SourcePath:     conv.SourcePath,
			LineNumber:     lineNumber,
		})
	}
	return docs, Result{ConversationsWritten: 1, MessagesWritten: len(insertedIDs)}, nil
}

// RebuildIndexFromStorage repopulates the primary full-text index by
// streaming every message storage holds, in batches, rather than relying on
// any connector re-scan. It's the only path that can recover the primary
// index without storage ever losing its role as sole source of truth: the
// indexer full pass calls it after truncating, and sessiondex.Open calls it
// when the on-disk index's schema hash no longer matches the current
// mapping.
func (ix *Indexer) RebuildIndexFromStorage(ctx context.Context) error {
	const batchSize = 500
	batch := make([]searchindex.Document, 0, batchSize)

	err := ix.Store.AllMessages(ctx, func(r storage.MessageRow) error {
		batch = append(batch, searchindex.Document{
			MessageID:      r.MessageID,
			ConversationID: r.ConversationID,
			AgentSlug:      r.AgentSlug,
			Workspace:      r.Workspace,
			Role:           r.Role,
			CreatedAt:      r.CreatedAt,
			Title:          r.Title,
			Content:        r.Content,
			SourcePath:     r.SourcePath,
			LineNumber:     r.LineNumber,
		})
		if len(batch) < batchSize {
			return nil
		}
		if err := ix.Index.IndexBatch(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	})
	if err != nil {
		return fmt.Errorf("streaming messages from storage: %w", err)
	}

	if len(batch) > 0 {
		if err := ix.Index.IndexBatch(batch); err != nil {
			return fmt.Errorf("indexing final batch: %w", err)
		}
	}
	return nil
}

// ReindexOne runs a single targeted scan for one connector, used by the
// watcher after a debounce tick. Unlike Run, it commits to the full-text
// index after this one reindex rather than batching across a whole pass,
// and it returns the newest source mtime observed so the caller can
// advance its own persistent cursor.
func (ix *Indexer) ReindexOne(ctx context.Context, conn connector.Connector, since *int64) (Result, int64, error) {
	slug := conn.AgentSlug()
	entry, ok := registry[slug]
	if !ok {
		return Result{}, 0, fmt.Errorf("no registry entry for agent %s", slug)
	}
	if _, err := ix.Store.EnsureAgent(ctx, entry.Slug, entry.DisplayName, entry.Kind); err != nil {
		return Result{}, 0, fmt.Errorf("ensuring agent %s: %w", slug, err)
	}

	det := conn.Detect(ix.Resolver)
	if !det.Found {
		return Result{}, 0, nil
	}

	convs, err := conn.Scan(ctx, det.Roots, since)
	if err != nil {
		return Result{}, 0, fmt.Errorf("scanning %s: %w", slug, err)
	}

	var total Result
	var docs []searchindex.Document
	newest := int64(0)
	if since != nil {
		newest = *since
	}
	for _, conv := range convs {
		d, wrote, err := ix.writeConversation(ctx, slug, conv)
		if err != nil {
			return total, newest, err
		}
		total.ConversationsWritten += wrote.ConversationsWritten
		total.MessagesWritten += wrote.MessagesWritten
		docs = append(docs, d...)
		if conv.SourceMTime > newest {
			newest = conv.SourceMTime
		}
	}

	if len(docs) > 0 {
		if err := ix.Index.IndexBatch(docs); err != nil {
			return total, newest, fmt.Errorf("indexing batch for %s: %w", slug, err)
		}
	}
	return total, newest, nil
}
