// Package searchindex wraps the primary full-text index: an on-disk bleve
// inverted index, versioned by directory path and guarded by a schema hash.
// A mismatch between the stored hash and buildMapping's current hash forces
// the caller to rebuild from storage; searchindex never rebuilds on its
// own, since only the indexer knows how to re-derive documents.
package searchindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// Index is the process-wide handle to the on-disk inverted index. Writes go
// through a single mutex-guarded writer; bleve's Index type is already safe
// for concurrent reads.
type Index struct {
	bi  bleve.Index
	dir string
	mu  sync.Mutex
}

// Open opens the index rooted at baseDir/index/<version>, creating it if
// absent. RebuildNeeded is true when the index didn't exist yet or its
// schema hash didn't match buildMapping's current hash (meaning a prior
// build used a different mapping); the caller must then repopulate it from
// storage before relying on search results.
func Open(baseDir string) (idx *Index, rebuildNeeded bool, err error) {
	dir := filepath.Join(baseDir, "index", indexVersion)
	hashPath := filepath.Join(baseDir, "index", indexVersion+".hash")

	im := buildMapping()
	currentHash, err := schemaHash(im)
	if err != nil {
		return nil, false, fmt.Errorf("compute schema hash: %w", err)
	}

	if _, statErr := os.Stat(dir); statErr == nil {
		storedHash, readErr := os.ReadFile(hashPath)
		if readErr == nil && string(storedHash) == currentHash {
			bi, openErr := bleve.Open(dir)
			if openErr == nil {
				return &Index{bi: bi, dir: dir}, false, nil
			}
			// Index directory is present but unreadable/corrupt: fall through
			// to a fresh rebuild rather than failing the whole process.
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, false, fmt.Errorf("remove stale index: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, false, fmt.Errorf("create index parent dir: %w", err)
	}
	bi, err := bleve.New(dir, im)
	if err != nil {
		return nil, false, fmt.Errorf("create index: %w", err)
	}
	if err := os.WriteFile(hashPath, []byte(currentHash), 0o644); err != nil {
		bi.Close()
		return nil, false, fmt.Errorf("write schema hash: %w", err)
	}
	return &Index{bi: bi, dir: dir}, true, nil
}

// Close releases the underlying bleve index.
func (idx *Index) Close() error {
	return idx.bi.Close()
}

// Raw exposes the underlying bleve.Index for the query client's query
// composition and search execution.
func (idx *Index) Raw() bleve.Index {
	return idx.bi
}

// IndexBatch commits a batch of documents. Called at the end of each
// connector pass (full mode) or after each watch-triggered reindex of a
// conversation (watch mode); the reader is refreshed by bleve automatically
// after a commit.
func (idx *Index) IndexBatch(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	batch := idx.bi.NewBatch()
	for _, d := range docs {
		id := strconv.FormatInt(d.MessageID, 10)
		if err := batch.Index(id, d); err != nil {
			return fmt.Errorf("stage document %s: %w", id, err)
		}
	}
	if err := idx.bi.Batch(batch); err != nil {
		return fmt.Errorf("commit batch of %d documents: %w", len(docs), err)
	}
	return nil
}

// Truncate removes every document from the index, for indexer full-mode
// passes. Reopens the underlying index after clearing since bleve has no
// single "delete everything" call cheaper than rebuilding the directory.
func (idx *Index) Truncate() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.bi.Close(); err != nil {
		return fmt.Errorf("close index before truncate: %w", err)
	}
	if err := os.RemoveAll(idx.dir); err != nil {
		return fmt.Errorf("remove index directory: %w", err)
	}
	bi, err := bleve.New(idx.dir, buildMapping())
	if err != nil {
		return fmt.Errorf("recreate index: %w", err)
	}
	idx.bi = bi
	return nil
}
