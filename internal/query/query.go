// Package query implements the read path: composing a full-text query
// against the primary bleve index, grouping hits by conversation, and
// falling back to the relational FTS mirror when the primary index is
// unusable. Results are memoized in a small in-memory LRU keyed by the
// full request shape.
package query

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/sessiondex/internal/searchindex"
	"github.com/fyrsmithlabs/sessiondex/internal/storage"
)

// MatchMode selects how the query text is parsed.
type MatchMode string

const (
	Standard MatchMode = "standard"
	Prefix   MatchMode = "prefix"
	Boolean  MatchMode = "boolean"
)

// Filters narrows a search to specific agents, workspaces, or a time range.
type Filters struct {
	Agents      []string
	Workspaces  []string
	CreatedFrom *int64
	CreatedTo   *int64
}

// Request is one search request.
type Request struct {
	Query     string
	Filters   Filters
	PageSize  int
	Offset    int
	MatchMode MatchMode
}

// Hit is one result row: the best-scoring message from a conversation.
type Hit struct {
	ConversationID int64
	MessageID      int64
	AgentSlug      string
	Workspace      string
	Title          string
	Snippet        string
	Score          float64
	CreatedAt      int64
	SourcePath     string
	LineNumber     int64
}

// Response is a page of grouped-by-conversation hits, plus metadata about
// which backend served it.
type Response struct {
	Hits     []Hit
	Degraded bool
	Backend  string // "bleve" or "fts_mirror"
}

// Client serves search requests. It is safe for concurrent use.
type Client struct {
	index                   *searchindex.Index
	store                   *storage.Store
	cache                   *lruCache
	defaultPageSize         int
	prefixWildcardExpansion int
}

// Config controls defaults applied when a Request omits them.
type Config struct {
	DefaultPageSize              int
	CacheSize                    int
	PrefixWildcardExpansionLimit int
}

// NewClient returns a Client. index may be nil if the primary full-text
// index could not be opened (e.g. on a corrupted schema the caller chose
// not to rebuild yet); every request is then served from the FTS mirror.
func NewClient(index *searchindex.Index, store *storage.Store, cfg Config) *Client {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.PrefixWildcardExpansionLimit <= 0 {
		cfg.PrefixWildcardExpansionLimit = 50
	}
	return &Client{
		index:                   index,
		store:                   store,
		cache:                   newLRUCache(cfg.CacheSize),
		defaultPageSize:         cfg.DefaultPageSize,
		prefixWildcardExpansion: cfg.PrefixWildcardExpansionLimit,
	}
}

// InvalidateCache drops every cached result. Called by the facade after
// any full-text index commit, since a cached page may now be stale.
func (c *Client) InvalidateCache() {
	c.cache.clear()
}

// Search executes req, consulting the cache first.
func (c *Client) Search(ctx context.Context, req Request) (Response, error) {
	req = applyDefaults(req, c.defaultPageSize)

	key := cacheKey(req)
	if resp, ok := c.cache.get(key); ok {
		return resp, nil
	}

	resp, err := c.search(ctx, req)
	if err != nil {
		return Response{}, err
	}

	c.cache.put(key, resp)
	return resp, nil
}

func applyDefaults(req Request, defaultPageSize int) Request {
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.MatchMode == "" {
		req.MatchMode = Standard
	}
	return req
}

func (c *Client) search(ctx context.Context, req Request) (Response, error) {
	if c.index != nil {
		resp, err := c.searchPrimary(req)
		if err == nil {
			return resp, nil
		}
		// Primary index unusable at request time: fall through to the FTS
		// mirror transparently, per spec's fallback contract.
	}
	if c.store == nil {
		return Response{}, fmt.Errorf("query: no backend available")
	}
	resp, err := c.searchFallback(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("query: fts mirror fallback: %w", err)
	}
	resp.Degraded = true
	resp.Backend = "fts_mirror"
	return resp, nil
}
