// Package storage provides sessiondex's durable normalized persistence and
// full-text mirror: an embedded relational database (modernc.org/sqlite, pure
// Go, no cgo) with a versioned schema and an fts5 virtual table kept in sync
// by triggers. Storage is the single source of truth; the primary full-text
// index in internal/searchindex is always rebuildable from it.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/sessiondex/internal/model"
	_ "modernc.org/sqlite"
)

// Store is the embedded relational store plus FTS mirror. It holds a
// dedicated single-connection write handle (sqlite serializes writers
// regardless; making that explicit avoids SQLITE_BUSY surprises under our
// own write lock) and a small read pool for concurrent query-path access.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB

	// writeMu serializes logical write transactions. sqlite already
	// serializes at the connection level, but insert_conversation_tree's
	// read-then-append semantics (read current max idx, then insert) need
	// a lock wider than a single statement.
	writeMu sync.Mutex
}

// Open opens (creating if absent) the database at dbPath, applies the
// pragmas required by the spec — WAL, NORMAL synchronous, foreign keys on,
// memory temp store, ~64MB cache, ~256MB mmap — and migrates the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	for _, db := range []*sql.DB{writeDB, readDB} {
		if err := applyPragmas(db); err != nil {
			writeDB.Close()
			readDB.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	}

	s := &Store{writeDB: writeDB, readDB: readDB}
	if err := s.migrate(); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-64000",
		"PRAGMA mmap_size=268435456",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Close releases both connection handles.
func (s *Store) Close() error {
	writeErr := s.writeDB.Close()
	readErr := s.readDB.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// ReadDB exposes the read pool for the query client's FTS-mirror fallback
// path, which issues plain SELECTs against fts_messages and its joined
// tables.
func (s *Store) ReadDB() *sql.DB {
	return s.readDB
}

// EnsureAgent idempotently upserts an agent by slug and returns its id.
func (s *Store) EnsureAgent(ctx context.Context, slug, name string, kind model.Kind) (model.AgentID, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO agents(slug, display_name, kind) VALUES(?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET display_name = excluded.display_name, kind = excluded.kind
	`, slug, name, string(kind))
	if err != nil {
		return 0, fmt.Errorf("ensure agent %s: %w", slug, err)
	}

	var id int64
	if err := s.writeDB.QueryRowContext(ctx, `SELECT id FROM agents WHERE slug = ?`, slug).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup agent %s: %w", slug, err)
	}
	return model.AgentID(id), nil
}

// EnsureWorkspace idempotently upserts a workspace by its canonical path and
// returns its id.
func (s *Store) EnsureWorkspace(ctx context.Context, path, displayName string) (model.WorkspaceID, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO workspaces(path, display_name) VALUES(?, ?)
		ON CONFLICT(path) DO UPDATE SET display_name = excluded.display_name
	`, path, displayName)
	if err != nil {
		return 0, fmt.Errorf("ensure workspace %s: %w", path, err)
	}

	var id int64
	if err := s.writeDB.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE path = ?`, path).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup workspace %s: %w", path, err)
	}
	return model.WorkspaceID(id), nil
}

// InsertConversationTree writes a connector's scan result through in one
// transaction. A conflict on (agent, external_id) updates title/metadata/
// end-time and appends only messages whose idx exceeds the conversation's
// current max idx; messages at or below it are already present and are
// skipped. Snippets are attached to newly inserted messages only. Returns
// the conversation id and the ids of messages newly inserted this call.
func (s *Store) InsertConversationTree(ctx context.Context, conv model.NormalizedConversation) (model.ConversationID, []model.MessageID, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	agentID, err := ensureAgentTx(ctx, tx, conv.AgentSlug)
	if err != nil {
		return 0, nil, err
	}

	var workspaceID sql.NullInt64
	if conv.Workspace != nil {
		id, err := ensureWorkspaceTx(ctx, tx, conv.Workspace.Path, conv.Workspace.DisplayName)
		if err != nil {
			return 0, nil, err
		}
		workspaceID = sql.NullInt64{Int64: int64(id), Valid: true}
	}

	metadata := conv.Metadata
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}

	var convID int64
	var currentMax int64 = -1
	err = tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE agent_id = ? AND external_id = ?`,
		agentID, conv.ExternalID).Scan(&convID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO conversations(agent_id, workspace_id, external_id, title, source_path, source_mtime, started_at, ended_at, metadata)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, agentID, nullableID(workspaceID), conv.ExternalID, conv.Title, conv.SourcePath, conv.SourceMTime,
			nullableInt64(conv.StartedAt), nullableInt64(conv.EndedAt), string(metadata))
		if err != nil {
			return 0, nil, fmt.Errorf("insert conversation: %w", err)
		}
		convID, err = res.LastInsertId()
		if err != nil {
			return 0, nil, fmt.Errorf("read new conversation id: %w", err)
		}
	case err != nil:
		return 0, nil, fmt.Errorf("lookup conversation: %w", err)
	default:
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx), -1) FROM messages WHERE conversation_id = ?`, convID).
			Scan(&currentMax); err != nil {
			return 0, nil, fmt.Errorf("read current max idx: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE conversations
			SET title = ?, metadata = ?, ended_at = ?, source_mtime = MAX(source_mtime, ?)
			WHERE id = ?
		`, conv.Title, string(metadata), nullableInt64(conv.EndedAt), conv.SourceMTime, convID)
		if err != nil {
			return 0, nil, fmt.Errorf("update conversation: %w", err)
		}
	}

	var insertedIDs []model.MessageID
	for _, msg := range conv.Messages {
		if int64(msg.Idx) <= currentMax {
			continue // already present; append-only dedup
		}
		if !msg.Role.Valid() {
			return 0, nil, fmt.Errorf("message idx %d: invalid role %q", msg.Idx, msg.Role)
		}
		extra := msg.Extra
		if extra == nil {
			extra = json.RawMessage("{}")
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages(conversation_id, idx, role, author, created_at, content, extra)
			VALUES(?, ?, ?, ?, ?, ?, ?)
		`, convID, msg.Idx, string(msg.Role), msg.Author, nullableInt64(msg.CreatedAt), msg.Content, string(extra))
		if err != nil {
			return 0, nil, fmt.Errorf("insert message idx %d: %w", msg.Idx, err)
		}
		msgID, err := res.LastInsertId()
		if err != nil {
			return 0, nil, fmt.Errorf("read new message id: %w", err)
		}

		for _, snip := range msg.Snippets {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO snippets(message_id, path, line_start, line_end, language, text)
				VALUES(?, ?, ?, ?, ?, ?)
			`, msgID, snip.Path, snip.LineStart, snip.LineEnd, snip.Language, snip.Text); err != nil {
				return 0, nil, fmt.Errorf("insert snippet for message idx %d: %w", msg.Idx, err)
			}
		}

		insertedIDs = append(insertedIDs, model.MessageID(msgID))
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit: %w", err)
	}
	return model.ConversationID(convID), insertedIDs, nil
}

// RebuildFTS scans all messages and refills fts_messages in batches within a
// transaction. Used after a migration that changes the tokenizer or mirror
// columns, or when the primary full-text index forces a rebuild from
// storage.
func (s *Store) RebuildFTS(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_messages`); err != nil {
		return fmt.Errorf("clear fts mirror: %w", err)
	}

	const batchSize = 1000
	var lastID int64
	for {
		rows, err := tx.QueryContext(ctx, `
			SELECT m.id, m.content, c.title, a.slug, COALESCE(w.path, ''), m.conversation_id, COALESCE(m.created_at, 0)
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			JOIN agents a ON a.id = c.agent_id
			LEFT JOIN workspaces w ON w.id = c.workspace_id
			WHERE m.id > ?
			ORDER BY m.id
			LIMIT ?
		`, lastID, batchSize)
		if err != nil {
			return fmt.Errorf("scan messages: %w", err)
		}

		type row struct {
			id             int64
			content, title string
			agentSlug      string
			workspace      string
			conversationID int64
			createdAt      int64
		}
		var batch []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.content, &r.title, &r.agentSlug, &r.workspace, &r.conversationID, &r.createdAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan message row: %w", err)
			}
			batch = append(batch, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, r := range batch {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO fts_messages(rowid, content, title, agent_slug, workspace, message_id, conversation_id, created_at)
				VALUES(?, ?, ?, ?, ?, ?, ?, ?)
			`, r.id, r.content, r.title, r.agentSlug, r.workspace, r.id, r.conversationID, r.createdAt); err != nil {
				return fmt.Errorf("reinsert fts row %d: %w", r.id, err)
			}
			lastID = r.id
		}

		if len(batch) < batchSize {
			break
		}
	}

	return tx.Commit()
}

// MessageRow is one message plus the joined fields a full-text document is
// built from, without re-scanning the connector that produced it.
type MessageRow struct {
	MessageID      int64
	ConversationID int64
	AgentSlug      string
	Workspace      string
	Role           string
	CreatedAt      int64
	Title          string
	Content        string
	SourcePath     string
	LineNumber     int64
}

// AllMessages streams every message in id order through fn, in batches, so a
// full corpus doesn't need to fit in memory at once. This is what lets the
// primary full-text index be rebuilt from storage alone: storage is the only
// authoritative record once a connector pass has completed.
func (s *Store) AllMessages(ctx context.Context, fn func(MessageRow) error) error {
	const batchSize = 1000
	var lastID int64
	for {
		rows, err := s.readDB.QueryContext(ctx, `
			SELECT m.id, m.conversation_id, a.slug, COALESCE(w.path, ''), m.role,
			       COALESCE(m.created_at, 0), c.title, m.content, c.source_path,
			       COALESCE((SELECT line_start FROM snippets WHERE message_id = m.id ORDER BY id ASC LIMIT 1), 0)
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			JOIN agents a ON a.id = c.agent_id
			LEFT JOIN workspaces w ON w.id = c.workspace_id
			WHERE m.id > ?
			ORDER BY m.id
			LIMIT ?
		`, lastID, batchSize)
		if err != nil {
			return fmt.Errorf("scan messages: %w", err)
		}

		var batch []MessageRow
		for rows.Next() {
			var r MessageRow
			if err := rows.Scan(&r.MessageID, &r.ConversationID, &r.AgentSlug, &r.Workspace, &r.Role,
				&r.CreatedAt, &r.Title, &r.Content, &r.SourcePath, &r.LineNumber); err != nil {
				rows.Close()
				return fmt.Errorf("scan message row: %w", err)
			}
			batch = append(batch, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, r := range batch {
			if err := fn(r); err != nil {
				return err
			}
			lastID = r.MessageID
		}

		if len(batch) < batchSize {
			return nil
		}
	}
}

// MaxSourceMtime returns the largest source_mtime recorded for the given
// agent, or (0, false) if the agent has no conversations yet. The
// incremental indexer uses this as the `since` cursor; the watcher keeps its
// own cursor file instead.
func (s *Store) MaxSourceMtime(ctx context.Context, agentSlug string) (int64, bool, error) {
	var mtime sql.NullInt64
	err := s.readDB.QueryRowContext(ctx, `
		SELECT MAX(c.source_mtime)
		FROM conversations c
		JOIN agents a ON a.id = c.agent_id
		WHERE a.slug = ?
	`, agentSlug).Scan(&mtime)
	if err != nil {
		return 0, false, fmt.Errorf("max source mtime for %s: %w", agentSlug, err)
	}
	if !mtime.Valid {
		return 0, false, nil
	}
	return mtime.Int64, true, nil
}

// ErrConversationNotFound is returned by GetConversation when no
// conversation matches the given agent slug and external id.
var ErrConversationNotFound = fmt.Errorf("conversation not found")

// GetConversation reads back a single conversation and its messages
// (with snippets) in idx order, for the inspect command.
func (s *Store) GetConversation(ctx context.Context, agentSlug, externalID string) (model.NormalizedConversation, error) {
	var conv model.NormalizedConversation
	var convID int64
	var workspacePath, workspaceName sql.NullString
	var startedAt, endedAt sql.NullInt64
	var metadata string

	err := s.readDB.QueryRowContext(ctx, `
		SELECT c.id, c.title, c.source_path, c.source_mtime, c.started_at, c.ended_at, c.metadata,
		       w.path, w.display_name
		FROM conversations c
		JOIN agents a ON a.id = c.agent_id
		LEFT JOIN workspaces w ON w.id = c.workspace_id
		WHERE a.slug = ? AND c.external_id = ?
	`, agentSlug, externalID).Scan(&convID, &conv.Title, &conv.SourcePath, &conv.SourceMTime, &startedAt, &endedAt,
		&metadata, &workspacePath, &workspaceName)
	if err == sql.ErrNoRows {
		return model.NormalizedConversation{}, ErrConversationNotFound
	}
	if err != nil {
		return model.NormalizedConversation{}, fmt.Errorf("lookup conversation %s/%s: %w", agentSlug, externalID, err)
	}

	conv.AgentSlug = agentSlug
	conv.ExternalID = externalID
	conv.StartedAt = startedAt.Int64
	conv.EndedAt = endedAt.Int64
	conv.Metadata = json.RawMessage(metadata)
	if workspacePath.Valid {
		conv.Workspace = &model.Workspace{Path: workspacePath.String, DisplayName: workspaceName.String}
	}

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, idx, role, author, created_at, content, extra
		FROM messages WHERE conversation_id = ? ORDER BY idx ASC
	`, convID)
	if err != nil {
		return model.NormalizedConversation{}, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	var messageIDs []int64
	for rows.Next() {
		var msgID int64
		var msg model.Message
		var role, extra string
		var createdAt sql.NullInt64
		if err := rows.Scan(&msgID, &msg.Idx, &role, &msg.Author, &createdAt, &msg.Content, &extra); err != nil {
			return model.NormalizedConversation{}, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = createdAt.Int64
		msg.Extra = json.RawMessage(extra)
		messages = append(messages, msg)
		messageIDs = append(messageIDs, msgID)
	}
	if err := rows.Err(); err != nil {
		return model.NormalizedConversation{}, err
	}

	for i, msgID := range messageIDs {
		snipRows, err := s.readDB.QueryContext(ctx, `
			SELECT path, line_start, line_end, language, text
			FROM snippets WHERE message_id = ? ORDER BY id ASC
		`, msgID)
		if err != nil {
			return model.NormalizedConversation{}, fmt.Errorf("load snippets for message %d: %w", msgID, err)
		}
		var snippets []model.Snippet
		for snipRows.Next() {
			var sn model.Snippet
			if err := snipRows.Scan(&sn.Path, &sn.LineStart, &sn.LineEnd, &sn.Language, &sn.Text); err != nil {
				snipRows.Close()
				return model.NormalizedConversation{}, fmt.Errorf("scan snippet: %w", err)
			}
			snippets = append(snippets, sn)
		}
		snipErr := snipRows.Err()
		snipRows.Close()
		if snipErr != nil {
			return model.NormalizedConversation{}, snipErr
		}
		messages[i].Snippets = snippets
	}
	conv.Messages = messages

	return conv, nil
}

func ensureAgentTx(ctx context.Context, tx *sql.Tx, slug string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM agents WHERE slug = ?`, slug).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup agent %s: %w", slug, err)
	}
	return 0, fmt.Errorf("agent %s not registered (call EnsureAgent before indexing)", slug)
}

func ensureWorkspaceTx(ctx context.Context, tx *sql.Tx, path, displayName string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces(path, display_name) VALUES(?, ?)
		ON CONFLICT(path) DO UPDATE SET display_name = excluded.display_name
	`, path, displayName)
	if err != nil {
		return 0, fmt.Errorf("ensure workspace %s: %w", path, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE path = ?`, path).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup workspace %s: %w", path, err)
	}
	return id, nil
}

func nullableInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullableID(v sql.NullInt64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int64
}
