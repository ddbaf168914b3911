package query

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/fyrsmithlabs/sessiondex/internal/searchindex"
)

const (
	titleBoost   = 3.0
	contentBoost = 1.0

	// oversampleFactor requests more raw message hits than page_size so
	// that grouping by conversation (which can collapse several hits into
	// one) still fills a full page.
	oversampleFactor = 4
)

// searchPrimary runs req against the bleve index and groups raw message
// hits into one result per conversation.
func (c *Client) searchPrimary(req Request) (Response, error) {
	q := composeQuery(req)

	rawSize := (req.Offset + req.PageSize) * oversampleFactor
	if rawSize < req.PageSize {
		rawSize = req.PageSize
	}

	sreq := searchindex.NewSearchRequest(q)
	sreq.Size = rawSize
	sreq.From = 0
	sreq.Highlight = bleve.NewHighlight()
	sreq.Highlight.Fields = []string{"content"}

	result, err := c.index.Raw().Search(sreq)
	if err != nil {
		return Response{}, err
	}

	if result.Total == 0 && req.MatchMode == Prefix {
		fallbackHits, err := c.searchPrefixWildcard(req)
		if err == nil && len(fallbackHits) > 0 {
			return Response{Hits: paginateGroups(fallbackHits, req), Backend: "bleve"}, nil
		}
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, dm := range result.Hits {
		hits = append(hits, hitFromDocumentMatch(dm))
	}

	grouped := groupByConversation(hits)
	return Response{Hits: paginateGroups(grouped, req), Backend: "bleve"}, nil
}

// searchPrefixWildcard is the bounded wildcard-expansion fallback used when
// a Prefix-mode query yields zero matches: content is searched with a
// trailing-wildcard term, capped to prefixWildcardExpansion raw hits.
func (c *Client) searchPrefixWildcard(req Request) ([]Hit, error) {
	term := strings.TrimSpace(req.Query)
	if term == "" {
		return nil, nil
	}
	wq := bleve.NewWildcardQuery(strings.ToLower(term) + "*")
	wq.SetField("content")

	conjuncts := []bleveQuery.Query{wq}
	conjuncts = append(conjuncts, filterQueries(req.Filters)...)
	final := bleve.NewConjunctionQuery(conjuncts...)

	sreq := searchindex.NewSearchRequest(final)
	sreq.Size = c.prefixWildcardExpansion
	sreq.Highlight = bleve.NewHighlight()
	sreq.Highlight.Fields = []string{"content"}

	result, err := c.index.Raw().Search(sreq)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(result.Hits))
	for _, dm := range result.Hits {
		hits = append(hits, hitFromDocumentMatch(dm))
	}
	return groupByConversation(hits), nil
}

// composeQuery builds the full boolean query: text subquery (per match
// mode) conjoined with agent/workspace/time filters.
func composeQuery(req Request) bleveQuery.Query {
	conjuncts := []bleveQuery.Query{textSubquery(req.Query, req.MatchMode)}
	conjuncts = append(conjuncts, filterQueries(req.Filters)...)
	return bleve.NewConjunctionQuery(conjuncts...)
}

func textSubquery(text string, mode MatchMode) bleveQuery.Query {
	switch mode {
	case Boolean:
		return bleve.NewQueryStringQuery(text)
	case Prefix:
		titleQ := bleve.NewPrefixQuery(strings.ToLower(text))
		titleQ.SetField("title")
		titleQ.SetBoost(titleBoost)
		contentQ := bleve.NewPrefixQuery(strings.ToLower(text))
		contentQ.SetField("content")
		contentQ.SetBoost(contentBoost)
		return bleve.NewDisjunctionQuery(titleQ, contentQ)
	default:
		titleQ := bleve.NewMatchQuery(text)
		titleQ.SetField("title")
		titleQ.SetBoost(titleBoost)
		contentQ := bleve.NewMatchQuery(text)
		contentQ.SetField("content")
		contentQ.SetBoost(contentBoost)
		return bleve.NewDisjunctionQuery(titleQ, contentQ)
	}
}

func filterQueries(f Filters) []bleveQuery.Query {
	var out []bleveQuery.Query
	if len(f.Agents) > 0 {
		terms := make([]bleveQuery.Query, 0, len(f.Agents))
		for _, a := range f.Agents {
			tq := bleve.NewTermQuery(a)
			tq.SetField("agent_slug")
			terms = append(terms, tq)
		}
		out = append(out, bleve.NewDisjunctionQuery(terms...))
	}
	if len(f.Workspaces) > 0 {
		terms := make([]bleveQuery.Query, 0, len(f.Workspaces))
		for _, w := range f.Workspaces {
			tq := bleve.NewTermQuery(w)
			tq.SetField("workspace")
			terms = append(terms, tq)
		}
		out = append(out, bleve.NewDisjunctionQuery(terms...))
	}
	if f.CreatedFrom != nil || f.CreatedTo != nil {
		min := floatPtr(f.CreatedFrom)
		max := floatPtr(f.CreatedTo)
		rq := bleve.NewNumericRangeQuery(min, max)
		rq.SetField("created_at")
		out = append(out, rq)
	}
	return out
}

func floatPtr(v *int64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

// hitFromDocumentMatch extracts a Hit from a bleve document match. Numeric
// stored fields come back as float64 regardless of the Go type that was
// indexed, per bleve's document-match field convention.
func hitFromDocumentMatch(dm *search.DocumentMatch) Hit {
	h := Hit{Score: dm.Score}
	if v, ok := dm.Fields["message_id"].(float64); ok {
		h.MessageID = int64(v)
	}
	if v, ok := dm.Fields["conversation_id"].(float64); ok {
		h.ConversationID = int64(v)
	}
	if v, ok := dm.Fields["agent_slug"].(string); ok {
		h.AgentSlug = v
	}
	if v, ok := dm.Fields["workspace"].(string); ok {
		h.Workspace = v
	}
	if v, ok := dm.Fields["title"].(string); ok {
		h.Title = v
	}
	if v, ok := dm.Fields["created_at"].(float64); ok {
		h.CreatedAt = int64(v)
	}
	if v, ok := dm.Fields["source_path"].(string); ok {
		h.SourcePath = v
	}
	if v, ok := dm.Fields["line_number"].(float64); ok {
		h.LineNumber = int64(v)
	}

	h.Snippet = snippetFromMatch(dm)
	return h
}

// snippetFromMatch prefers bleve's own highlighted fragment (matched terms
// wrapped in <mark>) and falls back to a truncated prefix of the raw
// content field when highlighting produced nothing (e.g. a filter-only
// query with no text term).
func snippetFromMatch(dm *search.DocumentMatch) string {
	if frags, ok := dm.Fragments["content"]; ok && len(frags) > 0 {
		return frags[0]
	}
	content, _ := dm.Fields["content"].(string)
	const maxSnippetLen = 240
	if len(content) > maxSnippetLen {
		return content[:maxSnippetLen]
	}
	return content
}
