// Package cache implements the content cache: per-source content identity,
// cross-source duplicate registration, processing state, statistics, and an
// append-only operation log. Content identity is the SHA-256 hex digest of
// the raw bytes.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hazyhaar/kbsync/dbopen"
	"github.com/hazyhaar/kbsync/idgen"
)

// Config configures a Cache.
type Config struct {
	Logger *slog.Logger    // Default: slog.Default().
	IDs    idgen.Generator // Log entry IDs. Default: idgen.Default.
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.IDs == nil {
		c.IDs = idgen.Default
	}
}

// Cache wraps the content cache database.
type Cache struct {
	db  *sql.DB
	log *slog.Logger
	ids idgen.Generator
}

// New creates a Cache on an already-opened database and applies the schema.
func New(db *sql.DB, cfg Config) (*Cache, error) {
	cfg.defaults()
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &Cache{db: db, log: cfg.Logger, ids: cfg.IDs}, nil
}

// Open opens (or creates) the cache database at path and applies the schema.
func Open(path string, cfg Config) (*Cache, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	c, err := New(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// DB exposes the underlying handle for callers that share the connection.
func (c *Cache) DB() *sql.DB { return c.db }

// ComputeHash returns the SHA-256 hex digest of data.
func ComputeHash(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

// ComputeTextHash hashes a string's UTF-8 bytes.
func ComputeTextHash(s string) string {
	return ComputeHash([]byte(s))
}

// IsDuplicate registers (hash, sourceID) and reports whether the hash was
// already registered. The first registration creates the record with count 1
// and reports false. Every subsequent registration increments count, updates
// last_seen, appends the source id if new, and reports true. Concurrent
// registrations of the same hash serialize on the transaction.
func (c *Cache) IsDuplicate(ctx context.Context, hash, sourceID string) (bool, error) {
	var dup bool
	err := dbopen.RunTx(ctx, c.db, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		var idsJSON string
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT source_ids, count FROM duplicate_cache WHERE content_hash = ?`,
			hash).Scan(&idsJSON, &count)
		if err == sql.ErrNoRows {
			ids, _ := json.Marshal([]string{sourceID})
			_, err := tx.ExecContext(ctx,
				`INSERT INTO duplicate_cache (content_hash, source_ids, count, first_seen, last_seen)
				VALUES (?, ?, 1, ?, ?)`,
				hash, string(ids), now, now)
			dup = false
			return err
		}
		if err != nil {
			return fmt.Errorf("query duplicate: %w", err)
		}

		var ids []string
		if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
			return fmt.Errorf("decode source_ids: %w", err)
		}
		if !slices.Contains(ids, sourceID) {
			ids = append(ids, sourceID)
		}
		updated, _ := json.Marshal(ids)
		_, err = tx.ExecContext(ctx,
			`UPDATE duplicate_cache SET source_ids = ?, count = count + 1, last_seen = ?
			WHERE content_hash = ?`,
			string(updated), now, hash)
		dup = true
		return err
	})
	return dup, err
}

// Duplicate returns the registration record for a hash, or nil if the hash
// was never registered.
func (c *Cache) Duplicate(ctx context.Context, hash string) (*DuplicateRecord, error) {
	var rec DuplicateRecord
	var idsJSON string
	err := c.db.QueryRowContext(ctx,
		`SELECT content_hash, source_ids, count, first_seen, last_seen
		FROM duplicate_cache WHERE content_hash = ?`, hash).
		Scan(&rec.ContentHash, &idsJSON, &rec.Count, &rec.FirstSeen, &rec.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query duplicate: %w", err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &rec.SourceIDs); err != nil {
		return nil, fmt.Errorf("decode source_ids: %w", err)
	}
	return &rec, nil
}

// ShouldProcess decides whether a source's content needs processing.
// It is a read-only check; it never registers anything.
// Returns (false, reason) when the hash is already registered by other
// sources, or when this source already processed the same hash.
func (c *Cache) ShouldProcess(ctx context.Context, sourceID, hash string) (bool, string, error) {
	rec, err := c.Duplicate(ctx, hash)
	if err != nil {
		return false, "", err
	}
	if rec != nil && !slices.Contains(rec.SourceIDs, sourceID) {
		return false, fmt.Sprintf("content hash %s already processed by %d sources", hash, len(rec.SourceIDs)), nil
	}

	entry, err := c.Entry(ctx, sourceID)
	if err != nil {
		return false, "", err
	}
	if entry != nil && entry.ContentHash == hash && entry.Processed {
		return false, "already processed", nil
	}
	return true, "content changed or new", nil
}

// CacheContent upserts the entry for a source. A hash change resets the
// processed flag; the caller marks it again after successful processing.
// A processed entry never carries an error message.
func (c *Cache) CacheContent(ctx context.Context, e *Entry) error {
	now := time.Now().UnixMilli()
	if e.MetadataJSON == "" {
		e.MetadataJSON = "{}"
	}
	if e.Processed {
		e.ErrorMessage = ""
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO content_cache (source_id, content_hash, content_type, size_bytes, processed, error_message, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			content_type = excluded.content_type,
			size_bytes = excluded.size_bytes,
			processed = excluded.processed,
			error_message = excluded.error_message,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at`,
		e.SourceID, e.ContentHash, e.ContentType, e.SizeBytes, boolInt(e.Processed),
		e.ErrorMessage, e.MetadataJSON, now, now)
	if err != nil {
		return fmt.Errorf("cache content: %w", err)
	}
	return nil
}

// MarkProcessed updates a source entry's processing outcome. Marking success
// clears any previous error message.
func (c *Cache) MarkProcessed(ctx context.Context, sourceID string, processed bool, errMsg string) error {
	if processed {
		errMsg = ""
	}
	now := time.Now().UnixMilli()
	_, err := c.db.ExecContext(ctx,
		`UPDATE content_cache SET processed = ?, error_message = ?, updated_at = ? WHERE source_id = ?`,
		boolInt(processed), errMsg, now, sourceID)
	return err
}

// Entry retrieves a source's cache entry, or nil if absent.
func (c *Cache) Entry(ctx context.Context, sourceID string) (*Entry, error) {
	var e Entry
	var processed int
	err := c.db.QueryRowContext(ctx,
		`SELECT source_id, content_hash, content_type, size_bytes, processed, error_message, metadata_json, created_at, updated_at
		FROM content_cache WHERE source_id = ?`, sourceID).
		Scan(&e.SourceID, &e.ContentHash, &e.ContentType, &e.SizeBytes, &processed,
			&e.ErrorMessage, &e.MetadataJSON, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	e.Processed = processed != 0
	return &e, nil
}

// AllProcessed returns every entry that was processed without error, ordered
// by source id. This is the working set for embedding generation: entries
// carry the extracted chunks in their metadata.
func (c *Cache) AllProcessed(ctx context.Context) ([]*Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT source_id, content_hash, content_type, size_bytes, processed, error_message, metadata_json, created_at, updated_at
		FROM content_cache WHERE processed = 1 AND error_message = '' ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("query processed entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var processed int
		if err := rows.Scan(&e.SourceID, &e.ContentHash, &e.ContentType, &e.SizeBytes,
			&processed, &e.ErrorMessage, &e.MetadataJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan processed entry: %w", err)
		}
		e.Processed = processed != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Statistics returns aggregate counters for the cache.
func (c *Cache) Statistics(ctx context.Context) (*Stats, error) {
	var s Stats
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(processed), 0),
			COALESCE(SUM(error_message != ''), 0),
			COUNT(DISTINCT content_hash),
			COALESCE(SUM(size_bytes), 0)
		FROM content_cache`).
		Scan(&s.Entries, &s.Processed, &s.Errored, &s.DistinctHashes, &s.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM duplicate_cache WHERE count > 1`).Scan(&s.DuplicateHashes)
	if err != nil {
		return nil, fmt.Errorf("stats duplicates: %w", err)
	}
	err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_log`).Scan(&s.LogEntries)
	if err != nil {
		return nil, fmt.Errorf("stats log: %w", err)
	}
	if s.Entries > 0 {
		s.SuccessRate = float64(s.Processed) / float64(s.Entries)
	}
	return &s, nil
}

// DuplicateSummary returns the topN most duplicated hashes and the total
// processing saved by deduplication.
func (c *Cache) DuplicateSummary(ctx context.Context, topN int) (*DuplicateSummary, error) {
	if topN <= 0 {
		topN = 10
	}
	var sum DuplicateSummary
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(count - 1), 0) FROM duplicate_cache`).
		Scan(&sum.TotalHashes, &sum.ProcessingSaved)
	if err != nil {
		return nil, fmt.Errorf("duplicate summary: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT content_hash, source_ids, count FROM duplicate_cache
		WHERE count > 1 ORDER BY count DESC, content_hash LIMIT ?`, topN)
	if err != nil {
		return nil, fmt.Errorf("duplicate summary top: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g DuplicateGroup
		var idsJSON string
		if err := rows.Scan(&g.ContentHash, &idsJSON, &g.Count); err != nil {
			return nil, fmt.Errorf("scan duplicate group: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &g.SourceIDs); err != nil {
			return nil, fmt.Errorf("decode source_ids: %w", err)
		}
		g.SourceCount = len(g.SourceIDs)
		sum.Top = append(sum.Top, g)
	}
	return &sum, rows.Err()
}

// CleanupOlderThan removes cache entries not updated within maxAge and
// duplicate records not seen within maxAge. Returns the number of cache
// entries removed.
func (c *Cache) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM content_cache WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup entries: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM duplicate_cache WHERE last_seen < ?`, cutoff); err != nil {
		return removed, fmt.Errorf("cleanup duplicates: %w", err)
	}
	c.log.Info("cache cleanup", "removed", removed, "max_age", maxAge)
	return removed, nil
}

// LogOperation appends one row to the operation log.
func (c *Cache) LogOperation(ctx context.Context, sourceID, operation, detail string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sync_log (id, source_id, operation, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ids(), sourceID, operation, detail, time.Now().UnixMilli())
	return err
}

// ReadLogs returns log entries most-recent-first. An empty sourceID returns
// entries for all sources. Limit defaults to 100.
func (c *Cache) ReadLogs(ctx context.Context, sourceID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, source_id, operation, detail, created_at FROM sync_log`
	args := []any{}
	if sourceID != "" {
		q += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Operation, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
