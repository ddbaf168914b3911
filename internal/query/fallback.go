package query

import (
	"context"
	"fmt"
	"strings"
)

// searchFallback serves req from the relational FTS mirror (fts_messages,
// an fts5 virtual table kept in sync by triggers in internal/storage) when
// the Client has no primary bleve index (nil) or a primary search returns an
// error. A schema-hash mismatch does not lead here: searchindex.Open
// recreates the index and sessiondex.Open repopulates it from storage.
// bm25() scores lower-is-better in sqlite fts5; score is negated so a
// higher value always means a better match, matching the bleve backend.
func (c *Client) searchFallback(ctx context.Context, req Request) (Response, error) {
	clause, args := fallbackWhere(req)

	query := fmt.Sprintf(`
		SELECT f.message_id, f.conversation_id, f.agent_slug, f.workspace, f.title, f.content, f.created_at,
		       COALESCE(c.source_path, ''),
		       COALESCE((SELECT line_start FROM snippets s WHERE s.message_id = f.message_id ORDER BY s.id LIMIT 1), 0),
		       -bm25(fts_messages, 1.0, 3.0, 0.0, 0.0) AS score
		FROM fts_messages f
		JOIN conversations c ON c.id = f.conversation_id
		WHERE %s
		ORDER BY score DESC
		LIMIT ?
	`, clause)

	rawSize := (req.Offset + req.PageSize) * oversampleFactor
	if rawSize < req.PageSize {
		rawSize = req.PageSize
	}
	args = append(args, rawSize)

	rows, err := c.store.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return Response{}, fmt.Errorf("fts mirror query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.MessageID, &h.ConversationID, &h.AgentSlug, &h.Workspace, &h.Title, &h.Snippet,
			&h.CreatedAt, &h.SourcePath, &h.LineNumber, &h.Score); err != nil {
			return Response{}, fmt.Errorf("scan fts mirror row: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return Response{}, err
	}

	grouped := groupByConversation(hits)
	return Response{Hits: paginateGroups(grouped, req)}, nil
}

// fallbackWhere builds the MATCH clause plus agent/workspace/time filters
// as a parameterized SQL WHERE clause, matching the filter semantics of
// the primary bleve path.
func fallbackWhere(req Request) (string, []any) {
	conds := []string{"fts_messages MATCH ?"}
	args := []any{matchExpr(req)}

	if len(req.Filters.Agents) > 0 {
		placeholders := make([]string, len(req.Filters.Agents))
		for i, a := range req.Filters.Agents {
			placeholders[i] = "?"
			args = append(args, a)
		}
		conds = append(conds, fmt.Sprintf("f.agent_slug IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(req.Filters.Workspaces) > 0 {
		placeholders := make([]string, len(req.Filters.Workspaces))
		for i, w := range req.Filters.Workspaces {
			placeholders[i] = "?"
			args = append(args, w)
		}
		conds = append(conds, fmt.Sprintf("f.workspace IN (%s)", strings.Join(placeholders, ", ")))
	}
	if req.Filters.CreatedFrom != nil {
		conds = append(conds, "f.created_at >= ?")
		args = append(args, *req.Filters.CreatedFrom)
	}
	if req.Filters.CreatedTo != nil {
		conds = append(conds, "f.created_at <= ?")
		args = append(args, *req.Filters.CreatedTo)
	}
	return strings.Join(conds, " AND "), args
}

// matchExpr renders the fts5 MATCH expression for the request's match
// mode. Boolean mode is passed through as-is: fts5's own query syntax
// already supports AND/OR/NOT/quoted phrases.
func matchExpr(req Request) string {
	switch req.MatchMode {
	case Boolean:
		return req.Query
	case Prefix:
		return prefixMatchExpr(req.Query)
	default:
		return fmt.Sprintf(`"%s"`, strings.ReplaceAll(req.Query, `"`, `""`))
	}
}

func prefixMatchExpr(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = t + "*"
	}
	return strings.Join(terms, " ")
}
