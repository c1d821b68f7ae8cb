package sqlite

// Schema is applied on every open. Statements are idempotent.
//
// seq is the stable integer rowid the FTS5 external-content table mirrors;
// id is the opaque memory id handed to callers.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	user_id          TEXT NOT NULL,
	scope            TEXT NOT NULL CHECK (scope IN ('user', 'project', 'global')),
	project_id       TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL,
	memory_type      TEXT NOT NULL DEFAULT '',
	confidence       REAL NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	last_accessed_at TEXT NOT NULL,
	expires_at       TEXT,
	metadata         TEXT,
	embedding        BLOB,
	version          INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, scope);
CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id) WHERE project_id <> '';
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content=memories,
	content_rowid=seq
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.seq, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.seq, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE OF content ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.seq, old.content);
	INSERT INTO memories_fts(rowid, content) VALUES (new.seq, new.content);
END;

CREATE TABLE IF NOT EXISTS pending_memories (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL,
	memory    TEXT NOT NULL,
	result    TEXT NOT NULL,
	queued_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_user ON pending_memories(user_id, id);
`
