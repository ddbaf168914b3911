package storage

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS agents (
    id           INTEGER PRIMARY KEY,
    slug         TEXT    UNIQUE NOT NULL,
    display_name TEXT    NOT NULL,
    kind         TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS workspaces (
    id           INTEGER PRIMARY KEY,
    path         TEXT    UNIQUE NOT NULL,
    display_name TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversations (
    id           INTEGER PRIMARY KEY,
    agent_id     INTEGER NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    workspace_id INTEGER          REFERENCES workspaces(id) ON DELETE CASCADE,
    external_id  TEXT    NOT NULL,
    title        TEXT    NOT NULL DEFAULT '',
    source_path  TEXT    NOT NULL DEFAULT '',
    source_mtime INTEGER NOT NULL DEFAULT 0,
    started_at   INTEGER,
    ended_at     INTEGER,
    metadata     TEXT    NOT NULL DEFAULT '{}',
    UNIQUE(agent_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_agent_started ON conversations(agent_id, started_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY,
    conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    idx             INTEGER NOT NULL,
    role            TEXT    NOT NULL,
    author          TEXT    NOT NULL DEFAULT '',
    created_at      INTEGER,
    content         TEXT    NOT NULL DEFAULT '',
    extra           TEXT    NOT NULL DEFAULT '{}',
    UNIQUE(conversation_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_idx ON messages(conversation_id, idx);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

CREATE TABLE IF NOT EXISTS snippets (
    id         INTEGER PRIMARY KEY,
    message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    path       TEXT    NOT NULL,
    line_start INTEGER NOT NULL,
    line_end   INTEGER NOT NULL,
    language   TEXT    NOT NULL DEFAULT '',
    text       TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_snippets_message ON snippets(message_id);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_messages USING fts5(
    content, title, agent_slug, workspace,
    message_id UNINDEXED, conversation_id UNINDEXED, created_at UNINDEXED,
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO fts_messages(rowid, content, title, agent_slug, workspace, message_id, conversation_id, created_at)
    SELECT new.id, new.content, c.title, a.slug, COALESCE(w.path, ''), new.id, new.conversation_id, COALESCE(new.created_at, 0)
    FROM conversations c
    JOIN agents a ON a.id = c.agent_id
    LEFT JOIN workspaces w ON w.id = c.workspace_id
    WHERE c.id = new.conversation_id;
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    DELETE FROM fts_messages WHERE rowid = old.id;
END;

CREATE TRIGGER IF NOT EXISTS conversations_au_title AFTER UPDATE OF title ON conversations BEGIN
    UPDATE fts_messages SET title = new.title WHERE conversation_id = new.id;
END;

PRAGMA user_version = 1;
`

// migrate brings a freshly opened database up to schemaVersion. Every
// migration is idempotent (CREATE TABLE/INDEX IF NOT EXISTS, PRAGMA
// user_version) and runs inside its own transaction.
func (s *Store) migrate() error {
	var version int
	if err := s.writeDB.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := s.writeDB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO meta(key, value) VALUES('schema_version', '1')
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`); err != nil {
		return err
	}
	return tx.Commit()
}
