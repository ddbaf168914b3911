package query

import "sort"

// groupByConversation keeps only the best-scoring hit per conversation,
// then orders by score descending with created_at descending as the
// tiebreaker, per spec's ranking rule.
func groupByConversation(hits []Hit) []Hit {
	best := make(map[int64]Hit, len(hits))
	for _, h := range hits {
		cur, ok := best[h.ConversationID]
		if !ok || isBetter(h, cur) {
			best[h.ConversationID] = h
		}
	}

	out := make([]Hit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

func isBetter(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CreatedAt > b.CreatedAt
}

// paginateGroups applies offset/page_size over already-grouped,
// already-ordered conversation hits. page_size counts conversations, not
// raw message hits.
func paginateGroups(grouped []Hit, req Request) []Hit {
	if req.Offset >= len(grouped) {
		return nil
	}
	end := req.Offset + req.PageSize
	if end > len(grouped) {
		end = len(grouped)
	}
	return grouped[req.Offset:end]
}
