package searchindex

import (
	"github.com/blevesearch/bleve/v2"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"
)

// newSearchRequest builds a bleve.SearchRequest for q, requesting enough
// stored fields for the query client to assemble a response hit without a
// second storage round-trip.
func newSearchRequest(q bleveQuery.Query) *bleve.SearchRequest {
	req := bleve.NewSearchRequest(q)
	req.Fields = []string{"message_id", "conversation_id", "agent_slug", "workspace", "role", "created_at", "title", "content", "source_path", "line_number"}
	return req
}

// NewSearchRequest is the exported form used by internal/query to compose
// its final request before calling Index.Raw().Search.
func NewSearchRequest(q bleveQuery.Query) *bleve.SearchRequest {
	return newSearchRequest(q)
}
