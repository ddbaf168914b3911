// Package watcher implements the debounced filesystem monitor that routes
// change events to their owning connector and drives targeted incremental
// reindexes. Events are coalesced per connector (~300ms quiescence) so a
// burst of writes to the same log file produces one reindex, and a
// persistent cursor file lets the watcher resume from where it left off
// after a restart.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/indexer"
	"github.com/fyrsmithlabs/sessiondex/internal/logging"
	"github.com/fyrsmithlabs/sessiondex/internal/metrics"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
)

// Watcher drains filesystem change events into targeted connector
// reindexes, persisting a cursor so a restart resumes where it left off.
type Watcher struct {
	Indexer        *indexer.Indexer
	Connectors     []connector.Connector
	Resolver       *pathresolver.Resolver
	DebounceWindow time.Duration
	StatePath      string

	// OnCommit, if set, is called after every reindex that actually wrote
	// new documents to the full-text index, so a caller holding a query
	// cache (whose entries were memoized against the pre-commit index
	// state) can invalidate it.
	OnCommit func()

	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	running bool
}

// New returns a Watcher. DebounceWindow and StatePath should come from
// config.WatchConfig (spec default: ~300ms, <data_dir>/watch_state.json).
func New(ix *indexer.Indexer, connectors []connector.Connector, resolver *pathresolver.Resolver, debounceWindow time.Duration, statePath string) *Watcher {
	if debounceWindow <= 0 {
		debounceWindow = 300 * time.Millisecond
	}
	return &Watcher{
		Indexer:        ix,
		Connectors:     connectors,
		Resolver:       resolver,
		DebounceWindow: debounceWindow,
		StatePath:      statePath,
	}
}

// Run watches every connector's detected roots until ctx is canceled or
// Stop is called. It blocks for the duration of the watch.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.done)
	}()

	log := logging.FromContext(ctx)

	st, err := loadState(w.StatePath)
	if err != nil {
		return fmt.Errorf("loading watch cursor: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("initializing filesystem watcher: %w", err)
	}
	w.fsw = fsw
	defer fsw.Close()

	ownedConnectors := make(map[string]connector.Connector, len(w.Connectors))
	for _, conn := range w.Connectors {
		slug := conn.AgentSlug()
		ownedConnectors[slug] = conn

		det := conn.Detect(w.Resolver)
		if !det.Found {
			continue
		}
		for _, dir := range det.Roots.Dirs {
			if err := addRecursive(fsw, dir); err != nil {
				log.Warn(ctx, "watcher: failed to watch connector root", zap.String("agent", slug), zap.String("dir", dir), zap.Error(err))
			}
		}
	}

	dirty := make(map[string]struct{})
	timer := time.NewTimer(w.DebounceWindow)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(dirty) == 0 {
			return
		}
		metrics.WatcherDebounceCycles.Inc()
		for slug := range dirty {
			conn, ok := ownedConnectors[slug]
			if !ok {
				continue
			}
			w.reindex(ctx, conn, st)
		}
		dirty = make(map[string]struct{})
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case <-w.stop:
			flush()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				flush()
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			slug := routeEvent(w.Connectors, event.Name)
			if slug == "" {
				continue
			}
			dirty[slug] = struct{}{}
			// Every routed event restarts the window, so a flush happens only
			// once events have been quiet for DebounceWindow.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.DebounceWindow)
		case err, ok := <-fsw.Errors:
			if !ok {
				flush()
				return nil
			}
			log.Warn(ctx, "watcher: filesystem watch error", zap.Error(err))
		case <-timer.C:
			flush()
		}
	}
}

// Stop requests a clean shutdown and waits for the run loop to exit. Any
// in-flight reindex is allowed to finish before Run returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	stop := w.stop
	done := w.done
	w.mu.Unlock()
	if !running {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	<-done
}

// reindex runs a targeted scan for one connector and, on success, advances
// and persists its cursor. The cursor is only bumped after both storage
// and the full-text index have committed.
func (w *Watcher) reindex(ctx context.Context, conn connector.Connector, st *state) {
	log := logging.FromContext(ctx)
	slug := conn.AgentSlug()

	var since *int64
	if cursor, ok := st.Cursors[slug]; ok {
		since = &cursor
	}

	result, newest, err := w.Indexer.ReindexOne(ctx, conn, since)
	if err != nil {
		metrics.WatcherReindexTotal.WithLabelValues(slug, "error").Inc()
		log.Warn(ctx, "watcher: targeted reindex failed", zap.String("agent", slug), zap.Error(err))
		return
	}
	metrics.WatcherReindexTotal.WithLabelValues(slug, "ok").Inc()
	if result.MessagesWritten > 0 && w.OnCommit != nil {
		w.OnCommit()
	}

	if since != nil && newest <= *since {
		return
	}
	st.Cursors[slug] = newest
	metrics.WatcherCursorTimestamp.WithLabelValues(slug).Set(float64(newest))
	if err := saveState(w.StatePath, st); err != nil {
		log.Warn(ctx, "watcher: failed to persist watch cursor", zap.String("agent", slug), zap.Error(err))
	}
}

// routeEvent asks each connector whether it owns path, in registration
// order, and returns the slug of the first owner. Unowned paths return "".
func routeEvent(connectors []connector.Connector, path string) string {
	for _, conn := range connectors {
		if conn.OwnsPath(path) {
			return conn.AgentSlug()
		}
	}
	return ""
}

// addRecursive registers dir and every subdirectory beneath it with fsw.
// fsnotify watches are not recursive, and connector roots (e.g. Claude
// Code's per-workspace project directories) are nested.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return nil
			}
		}
		return nil
	})
}
