package cache

// Schema is the complete content cache schema.
const Schema = `
-- One row per source: its latest content identity and processing state
CREATE TABLE IF NOT EXISTS content_cache (
    source_id     TEXT PRIMARY KEY,
    content_hash  TEXT NOT NULL,
    content_type  TEXT NOT NULL DEFAULT '',
    size_bytes    INTEGER NOT NULL DEFAULT 0,
    processed     INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    metadata_json TEXT NOT NULL DEFAULT '{}',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_cache_hash ON content_cache(content_hash);
CREATE INDEX IF NOT EXISTS idx_content_cache_updated ON content_cache(updated_at);

-- One row per distinct content hash seen more than never
CREATE TABLE IF NOT EXISTS duplicate_cache (
    content_hash TEXT PRIMARY KEY,
    source_ids   TEXT NOT NULL DEFAULT '[]',
    count        INTEGER NOT NULL DEFAULT 1,
    first_seen   INTEGER NOT NULL,
    last_seen    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_duplicate_cache_count ON duplicate_cache(count DESC);

-- Append-only operation log (observability)
CREATE TABLE IF NOT EXISTS sync_log (
    id         TEXT PRIMARY KEY,
    source_id  TEXT NOT NULL,
    operation  TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(source_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_log_time ON sync_log(created_at DESC);
`
