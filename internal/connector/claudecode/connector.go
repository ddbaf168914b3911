package claudecode

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/logging"
	"github.com/fyrsmithlabs/sessiondex/internal/metrics"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
)

// Connector implements connector.Connector for Claude Code's per-project
// JSONL transcripts under ~/.claude/projects/<encoded-cwd>/*.jsonl.
type Connector struct {
	resolver *pathresolver.Resolver
}

// New returns a Claude Code connector that resolves its own roots on demand
// via resolver, so OwnsPath stays correct without being handed roots again.
func New(resolver *pathresolver.Resolver) *Connector {
	return &Connector{resolver: resolver}
}

func (c *Connector) AgentSlug() string { return model.AgentClaudeCode }

func (c *Connector) Detect(resolver *pathresolver.Resolver) connector.DetectionResult {
	roots := resolver.Resolve(model.AgentClaudeCode)
	return connector.DetectionResult{Found: !roots.Empty(), Roots: roots}
}

func (c *Connector) OwnsPath(p string) bool {
	roots := c.resolver.Resolve(model.AgentClaudeCode)
	for _, dir := range roots.Dirs {
		if rel, err := filepath.Rel(dir, p); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

type candidate struct {
	path  string
	mtime int64
}

// Scan walks every project directory under roots.Dirs and emits one
// NormalizedConversation per transcript file touched since the cursor.
func (c *Connector) Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error) {
	log := logging.FromContext(ctx)

	var candidates []candidate
	for _, dir := range roots.Dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir {
					return err // an unreadable root fails the whole scan
				}
				return nil // an unreadable entry below the root is a warning, not a scan failure
			}
			if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			candidates = append(candidates, candidate{path: path, mtime: info.ModTime().UnixMilli()})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].mtime != candidates[j].mtime {
			return candidates[i].mtime < candidates[j].mtime
		}
		return candidates[i].path < candidates[j].path
	})

	var out []model.NormalizedConversation
	for _, cand := range candidates {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		if since != nil && cand.mtime <= *since {
			continue
		}

		parsed, err := parseFile(cand.path, func(w connector.ParseWarning) {
			metrics.IndexerParseWarnings.WithLabelValues(model.AgentClaudeCode).Inc()
			log.Warn(ctx, "claudecode: skipping malformed record", zap.String("path", w.SourcePath), zap.Int("line", w.Offset), zap.String("reason", w.Reason))
		})
		if err != nil {
			log.Warn(ctx, "claudecode: skipping unreadable transcript", zap.String("path", cand.path), zap.Error(err))
			continue
		}
		if len(parsed.messages) == 0 {
			continue
		}

		meta, _ := json.Marshal(struct {
			Cwd string `json:"cwd,omitempty"`
		}{Cwd: parsed.cwd})

		out = append(out, model.NormalizedConversation{
			AgentSlug:   model.AgentClaudeCode,
			ExternalID:  parsed.sessionID,
			Workspace:   workspaceFor(cand.path, parsed.cwd),
			Title:       "",
			SourcePath:  cand.path,
			SourceMTime: cand.mtime,
			StartedAt:   parsed.startedAt,
			EndedAt:     parsed.endedAt,
			Metadata:    meta,
			Messages:    parsed.messages,
		})
	}
	return out, nil
}

// workspaceFor derives the project workspace, preferring the cwd embedded in
// the transcript itself and falling back to decoding the project directory
// name (Claude Code replaces "/" with "-" when naming project directories).
func workspaceFor(transcriptPath, cwd string) *model.Workspace {
	if cwd != "" {
		return &model.Workspace{Path: cwd, DisplayName: filepath.Base(cwd)}
	}
	projectDir := filepath.Base(filepath.Dir(transcriptPath))
	if projectDir == "" || projectDir == "." {
		return nil
	}
	decoded := "/" + strings.TrimPrefix(strings.ReplaceAll(projectDir, "-", "/"), "/")
	return &model.Workspace{Path: decoded, DisplayName: filepath.Base(decoded)}
}

var _ connector.Connector = (*Connector)(nil)
