package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/sessiondex/internal/query"
)

var (
	queryAgents    []string
	queryWorkspace []string
	queryFrom      string
	queryTo        string
	queryMatch     string
	queryPageSize  int
	queryOffset    int
)

func init() {
	queryCmd.Flags().StringSliceVar(&queryAgents, "agent", nil, "restrict to these agent slugs (repeatable, or comma-separated)")
	queryCmd.Flags().StringSliceVar(&queryWorkspace, "workspace", nil, "restrict to these workspace paths (repeatable, or comma-separated)")
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "only conversations created at or after this RFC3339 timestamp")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "only conversations created at or before this RFC3339 timestamp")
	queryCmd.Flags().StringVar(&queryMatch, "match", "standard", "match mode: standard, prefix, or boolean")
	queryCmd.Flags().IntVar(&queryPageSize, "page-size", 0, "results per page (0 = server default)")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "page offset, in conversations")
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search the conversation corpus",
	Long: `query composes a free-text search with structured filters and returns
ranked, grouped-by-conversation hits.

Examples:
  sessiondex query "makefile target"
  sessiondex query "parser refactor" --agent claude_code --match prefix
  sessiondex query timeout --from 2025-01-01T00:00:00Z --page-size 10`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	mode, err := parseMatchMode(queryMatch)
	if err != nil {
		return err
	}

	filters := query.Filters{
		Agents:     queryAgents,
		Workspaces: queryWorkspace,
	}
	if queryFrom != "" {
		ts, err := parseTimestamp(queryFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		filters.CreatedFrom = &ts
	}
	if queryTo != "" {
		ts, err := parseTimestamp(queryTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		filters.CreatedTo = &ts
	}

	app, log, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	resp, err := app.Query(commandContext(log), query.Request{
		Query:     args[0],
		Filters:   filters,
		PageSize:  queryPageSize,
		Offset:    queryOffset,
		MatchMode: mode,
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	if resp.Degraded {
		fmt.Fprintf(cmd.ErrOrStderr(), "sessiondex: serving from %s backend (primary index unavailable)\n", resp.Backend)
	}
	if len(resp.Hits) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, h := range resp.Hits {
		fmt.Printf("[%s] %s — %s (conversation %d, score %.2f)\n", h.AgentSlug, h.Title, h.Workspace, h.ConversationID, h.Score)
		fmt.Printf("    %s\n", h.Snippet)
		fmt.Printf("    %s:%d\n", h.SourcePath, h.LineNumber)
	}
	return nil
}

func parseMatchMode(s string) (query.MatchMode, error) {
	switch strings.ToLower(s) {
	case "", "standard":
		return query.Standard, nil
	case "prefix":
		return query.Prefix, nil
	case "boolean":
		return query.Boolean, nil
	default:
		return "", fmt.Errorf("--match: unknown mode %q (want standard, prefix, or boolean)", s)
	}
}

func parseTimestamp(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid RFC3339 timestamp %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}
