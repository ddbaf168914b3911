package geminicli

import (
	"context"
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

// Connector implements connector.Connector for Gemini CLI's per-project
// chat/checkpoint files under ~/.gemini/tmp/<project-hash>/*.json. Gemini
// CLI has no notion of a workspace path in these artifacts, so emitted
// conversations always carry a nil Workspace.
type Connector struct {
	resolver *pathresolver.Resolver
}

func New(resolver *pathresolver.Resolver) *Connector {
	return &Connector{resolver: resolver}
}

func (c *Connector) AgentSlug() string { return model.AgentGeminiCLI }

func (c *Connector) Detect(resolver *pathresolver.Resolver) connector.DetectionResult {
	roots := resolver.Resolve(model.AgentGeminiCLI)
	return connector.DetectionResult{Found: !roots.Empty(), Roots: roots}
}

func (c *Connector) OwnsPath(p string) bool {
	roots := c.resolver.Resolve(model.AgentGeminiCLI)
	for _, dir := range roots.Dirs {
		if rel, err := filepath.Rel(dir, p); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

type candidate struct {
	path       string
	mtime      int64
	projectDir string
	checkptID  string
}

func (c *Connector) Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error) {
	log := logging.FromContext(ctx)

	var candidates []candidate
	for _, root := range roots.Dirs {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				return nil
			}
			if d.IsDir() || !strings.HasSuffix(path, ".json") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			parts := strings.Split(filepath.ToSlash(rel), "/")
			candidates = append(candidates, candidate{
				path:       path,
				mtime:      info.ModTime().UnixMilli(),
				projectDir: parts[0],
				checkptID:  strings.TrimSuffix(filepath.Base(path), ".json"),
			})
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

		parsed, err := parseFile(cand.path, cand.mtime, func(w connector.ParseWarning) {
			metrics.IndexerParseWarnings.WithLabelValues(model.AgentGeminiCLI).Inc()
			log.Warn(ctx, "geminicli: skipping malformed checkpoint", zap.String("path", w.SourcePath), zap.String("reason", w.Reason))
		})
		if err != nil {
			log.Warn(ctx, "geminicli: skipping unreadable checkpoint", zap.String("path", cand.path), zap.Error(err))
			continue
		}
		if len(parsed.messages) == 0 {
			continue
		}

		out = append(out, model.NormalizedConversation{
			AgentSlug:   model.AgentGeminiCLI,
			ExternalID:  cand.projectDir + ":" + cand.checkptID,
			Workspace:   nil,
			SourcePath:  cand.path,
			SourceMTime: cand.mtime,
			StartedAt:   cand.mtime,
			EndedAt:     cand.mtime,
			Messages:    parsed.messages,
		})
	}
	return out, nil
}

var _ connector.Connector = (*Connector)(nil)
