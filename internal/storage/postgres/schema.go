package postgres

// Schema contains the base DDL. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    scope            TEXT NOT NULL CHECK (scope IN ('user', 'project', 'global')),
    project_id       TEXT NOT NULL DEFAULT '',
    content          TEXT NOT NULL,
    memory_type      TEXT NOT NULL DEFAULT '',
    confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL,
    last_accessed_at TIMESTAMPTZ NOT NULL,
    expires_at       TIMESTAMPTZ,
    metadata         JSONB,
    embedding        REAL[],
    version          BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, scope);
CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id) WHERE project_id <> '';
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
`

// MigrationFTS adds the tsvector column, its GIN index and the trigger that
// keeps it current. Safe to run multiple times.
const MigrationFTS = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'content_tsv'
    ) THEN
        ALTER TABLE memories ADD COLUMN content_tsv tsvector;
    END IF;
END
$$;

UPDATE memories SET content_tsv = to_tsvector('english', content) WHERE content_tsv IS NULL;

CREATE INDEX IF NOT EXISTS idx_memories_content_tsv ON memories USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION memories_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english', COALESCE(NEW.content, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memories_tsv_trigger ON memories;
CREATE TRIGGER memories_tsv_trigger
    BEFORE INSERT OR UPDATE OF content
    ON memories
    FOR EACH ROW
    EXECUTE FUNCTION memories_tsv_update();
`

// MigrationPgvector adds the vector column used for indexed cosine search.
// Only applied when the vector extension is available.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE memories ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- ivfflat needs rows to train on and a fixed dimension, so the index is only
-- attempted once data exists and a failure leaves sequential scans in place.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memories_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM memories WHERE embedding_vec IS NOT NULL LIMIT 1) THEN
      BEGIN
        EXECUTE 'CREATE INDEX idx_memories_vec_cosine ON memories USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
      EXCEPTION WHEN OTHERS THEN
        RAISE NOTICE 'memkeep: ivfflat index skipped: %', SQLERRM;
      END;
    END IF;
  END IF;
END$$;
`
