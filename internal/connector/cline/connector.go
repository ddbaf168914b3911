package cline

import (
	"context"
	"os"
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

// Connector implements connector.Connector for Cline's per-task directories
// under the VS Code extension's globalStorage/tasks/<task-uuid>/.
type Connector struct {
	resolver *pathresolver.Resolver
}

func New(resolver *pathresolver.Resolver) *Connector {
	return &Connector{resolver: resolver}
}

func (c *Connector) AgentSlug() string { return model.AgentCline }

func (c *Connector) Detect(resolver *pathresolver.Resolver) connector.DetectionResult {
	roots := resolver.Resolve(model.AgentCline)
	return connector.DetectionResult{Found: !roots.Empty(), Roots: roots}
}

func (c *Connector) OwnsPath(p string) bool {
	roots := c.resolver.Resolve(model.AgentCline)
	for _, dir := range roots.Dirs {
		if rel, err := filepath.Rel(dir, p); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

type taskDir struct {
	path  string
	id    string
	mtime int64
}

func (c *Connector) Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error) {
	log := logging.FromContext(ctx)

	var tasks []taskDir
	for _, root := range roots.Dirs {
		tasksDir := filepath.Join(root, "tasks")
		entries, err := os.ReadDir(tasksDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			taskPath := filepath.Join(tasksDir, e.Name())
			mtime, err := latestMtime(taskPath)
			if err != nil {
				continue
			}
			tasks = append(tasks, taskDir{path: taskPath, id: e.Name(), mtime: mtime})
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].mtime != tasks[j].mtime {
			return tasks[i].mtime < tasks[j].mtime
		}
		return tasks[i].path < tasks[j].path
	})

	var out []model.NormalizedConversation
	for _, t := range tasks {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		if since != nil && t.mtime <= *since {
			continue
		}

		parsed, err := parseTask(t.path, func(w connector.ParseWarning) {
			metrics.IndexerParseWarnings.WithLabelValues(model.AgentCline).Inc()
			log.Warn(ctx, "cline: skipping malformed record", zap.String("path", w.SourcePath), zap.String("reason", w.Reason))
		})
		if err != nil {
			log.Warn(ctx, "cline: skipping unreadable task", zap.String("path", t.path), zap.Error(err))
			continue
		}
		if len(parsed.messages) == 0 {
			continue
		}

		var ws *model.Workspace
		if parsed.workspace != "" {
			ws = &model.Workspace{Path: parsed.workspace, DisplayName: filepath.Base(parsed.workspace)}
		}

		out = append(out, model.NormalizedConversation{
			AgentSlug:   model.AgentCline,
			ExternalID:  t.id,
			Workspace:   ws,
			Title:       parsed.title,
			SourcePath:  t.path,
			SourceMTime: t.mtime,
			StartedAt:   parsed.startedAt,
			EndedAt:     parsed.endedAt,
			Messages:    parsed.messages,
		})
	}
	return out, nil
}

// latestMtime returns the newest modification time among a task directory's
// known files, used as the scan cursor for the whole task.
func latestMtime(taskDir string) (int64, error) {
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if ms := info.ModTime().UnixMilli(); ms > latest {
			latest = ms
		}
	}
	return latest, nil
}

var _ connector.Connector = (*Connector)(nil)
