// Package opencode implements the connector.Connector contract for
// OpenCode's embedded SQLite session store: a project-local .opencode/*.db
// alongside any configured global database. Unlike the file-based
// connectors, OpenCode polls the database file's own modification time as
// its change cursor and queries rows table-natively rather than
// re-walking a directory of artifacts.
package opencode

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/logging"
	"github.com/fyrsmithlabs/sessiondex/internal/metrics"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
)

// Connector implements connector.Connector for OpenCode's embedded SQLite
// session store. The session table is assumed to carry (id, cwd, title,
// created_at); the message table (id, session_id, idx, role, content,
// created_at) — documented in DESIGN.md as OpenCode's schema is not present
// in the retrieved examples.
type Connector struct {
	resolver *pathresolver.Resolver
}

func New(resolver *pathresolver.Resolver) *Connector {
	return &Connector{resolver: resolver}
}

func (c *Connector) AgentSlug() string { return model.AgentOpenCode }

func (c *Connector) Detect(resolver *pathresolver.Resolver) connector.DetectionResult {
	roots := resolver.Resolve(model.AgentOpenCode)
	return connector.DetectionResult{Found: !roots.Empty(), Roots: roots}
}

func (c *Connector) OwnsPath(p string) bool {
	roots := c.resolver.Resolve(model.AgentOpenCode)
	for _, dir := range roots.Dirs {
		if rel, err := filepath.Rel(dir, p); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

type dbCandidate struct {
	path  string
	mtime int64
}

func (c *Connector) Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error) {
	log := logging.FromContext(ctx)

	var dbs []dbCandidate
	for _, dir := range roots.Dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir {
					return err
				}
				return nil
			}
			if d.IsDir() || !strings.HasSuffix(path, ".db") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			dbs = append(dbs, dbCandidate{path: path, mtime: info.ModTime().UnixMilli()})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(dbs, func(i, j int) bool {
		if dbs[i].mtime != dbs[j].mtime {
			return dbs[i].mtime < dbs[j].mtime
		}
		return dbs[i].path < dbs[j].path
	})

	var out []model.NormalizedConversation
	for _, db := range dbs {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		if since != nil && db.mtime <= *since {
			continue
		}

		convs, err := scanDatabase(ctx, db.path, db.mtime)
		if err != nil {
			log.Warn(ctx, "opencode: skipping unreadable database", zap.String("path", db.path), zap.Error(err))
			metrics.IndexerParseWarnings.WithLabelValues(model.AgentOpenCode).Inc()
			continue
		}
		out = append(out, convs...)
	}
	return out, nil
}

func scanDatabase(ctx context.Context, path string, mtime int64) ([]model.NormalizedConversation, error) {
	dsn := "file:" + path + "?mode=ro&immutable=1"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT id, cwd, title, created_at FROM session ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions in %s: %w", path, err)
	}
	defer rows.Close()

	type sessionRow struct {
		id, cwd, title string
		createdAt      int64
	}
	var sessions []sessionRow
	for rows.Next() {
		var s sessionRow
		if err := rows.Scan(&s.id, &s.cwd, &s.title, &s.createdAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []model.NormalizedConversation
	for _, s := range sessions {
		msgs, startedAt, endedAt, err := loadMessages(ctx, db, s.id)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			continue
		}

		var ws *model.Workspace
		if s.cwd != "" {
			ws = &model.Workspace{Path: s.cwd, DisplayName: filepath.Base(s.cwd)}
		}

		out = append(out, model.NormalizedConversation{
			AgentSlug:   model.AgentOpenCode,
			ExternalID:  s.id,
			Workspace:   ws,
			Title:       s.title,
			SourcePath:  path,
			SourceMTime: mtime,
			StartedAt:   startedAt,
			EndedAt:     endedAt,
			Messages:    msgs,
		})
	}
	return out, nil
}

func loadMessages(ctx context.Context, db *sql.DB, sessionID string) ([]model.Message, int64, int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT idx, role, content, created_at FROM message WHERE session_id = ? ORDER BY idx ASC`, sessionID)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("querying messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []model.Message
	var startedAt, endedAt int64
	idx := 0
	for rows.Next() {
		var sourceIdx int
		var role, content string
		var createdAt int64
		if err := rows.Scan(&sourceIdx, &role, &content, &createdAt); err != nil {
			return nil, 0, 0, err
		}
		if content == "" {
			continue
		}
		msgRole, known := tableRole(role)
		var extra json.RawMessage
		if !known {
			extra, _ = json.Marshal(struct {
				SourceRole string `json:"source_role"`
			}{SourceRole: role})
		}
		msgs = append(msgs, model.Message{
			Idx:       idx,
			Role:      msgRole,
			Author:    role,
			CreatedAt: createdAt,
			Content:   content,
			Extra:     extra,
		})
		idx++
		if createdAt != 0 {
			if startedAt == 0 {
				startedAt = createdAt
			}
			endedAt = createdAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}
	return msgs, startedAt, endedAt, nil
}

// tableRole maps the message table's own role column onto the closed Role
// variant. An unrecognized value collapses to RoleTool rather than being
// dropped; known=false tells the caller to preserve the original label in
// Extra.
func tableRole(r string) (role model.Role, known bool) {
	switch r {
	case "user":
		return model.RoleUser, true
	case "assistant":
		return model.RoleAgent, true
	case "tool":
		return model.RoleTool, true
	case "system":
		return model.RoleSystem, true
	default:
		return model.RoleTool, false
	}
}

var _ connector.Connector = (*Connector)(nil)
