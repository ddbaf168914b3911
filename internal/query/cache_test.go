package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUCache_EvictsOldestOnOverflow(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", Response{Backend: "a"})
	c.put("b", Response{Backend: "b"})
	c.put("c", Response{Backend: "c"}) // evicts "a"

	_, ok := c.get("a")
	require.False(t, ok)

	resp, ok := c.get("b")
	require.True(t, ok)
	require.Equal(t, "b", resp.Backend)
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", Response{Backend: "a"})
	c.put("b", Response{Backend: "b"})

	_, _ = c.get("a") // "a" now most-recently-used
	c.put("c", Response{Backend: "c"}) // should evict "b", not "a"

	_, ok := c.get("a")
	require.True(t, ok)
	_, ok = c.get("b")
	require.False(t, ok)
}

func TestLRUCache_ClearRemovesEverything(t *testing.T) {
	c := newLRUCache(4)
	c.put("a", Response{Backend: "a"})
	c.clear()

	_, ok := c.get("a")
	require.False(t, ok)
}

func TestCacheKey_IgnoresFilterOrder(t *testing.T) {
	r1 := Request{Query: "x", Filters: Filters{Agents: []string{"codex", "amp"}}}
	r2 := Request{Query: "x", Filters: Filters{Agents: []string{"amp", "codex"}}}
	require.Equal(t, cacheKey(r1), cacheKey(r2))
}
