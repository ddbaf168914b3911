package codex

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

// Connector implements connector.Connector for Codex CLI's rollout logs
// under $CODEX_HOME/sessions/YYYY/MM/DD/rollout-*.jsonl.
type Connector struct {
	resolver *pathresolver.Resolver
}

func New(resolver *pathresolver.Resolver) *Connector {
	return &Connector{resolver: resolver}
}

func (c *Connector) AgentSlug() string { return model.AgentCodex }

func (c *Connector) Detect(resolver *pathresolver.Resolver) connector.DetectionResult {
	roots := resolver.Resolve(model.AgentCodex)
	return connector.DetectionResult{Found: !roots.Empty(), Roots: roots}
}

func (c *Connector) OwnsPath(p string) bool {
	roots := c.resolver.Resolve(model.AgentCodex)
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

func (c *Connector) Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error) {
	log := logging.FromContext(ctx)

	var candidates []candidate
	for _, dir := range roots.Dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir {
					return err
				}
				return nil
			}
			if d.IsDir() || !strings.HasPrefix(filepath.Base(path), "rollout-") || !strings.HasSuffix(path, ".jsonl") {
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
			metrics.IndexerParseWarnings.WithLabelValues(model.AgentCodex).Inc()
			log.Warn(ctx, "codex: skipping malformed record", zap.String("path", w.SourcePath), zap.Int("line", w.Offset), zap.String("reason", w.Reason))
		})
		if err != nil {
			log.Warn(ctx, "codex: skipping unreadable rollout", zap.String("path", cand.path), zap.Error(err))
			continue
		}
		if len(parsed.messages) == 0 {
			continue
		}

		meta, _ := json.Marshal(struct {
			Cwd string `json:"cwd,omitempty"`
		}{Cwd: parsed.cwd})

		var ws *model.Workspace
		if parsed.cwd != "" {
			ws = &model.Workspace{Path: parsed.cwd, DisplayName: filepath.Base(parsed.cwd)}
		}

		out = append(out, model.NormalizedConversation{
			AgentSlug:   model.AgentCodex,
			ExternalID:  parsed.sessionID,
			Workspace:   ws,
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

var _ connector.Connector = (*Connector)(nil)
