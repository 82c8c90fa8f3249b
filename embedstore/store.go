// Package embedstore persists embeddings in an Elasticsearch-compatible
// document index over HTTP. Documents are keyed by content hash; upserts by
// id make writes idempotent. The snapshot manager mirrors the index to a
// local JSON file so a sync run can start from the cloud state and push the
// merged result back.
package embedstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config configures the Store.
type Config struct {
	BaseURL string        // e.g. "https://es.example.com"
	Index   string        // index name. Default: "kb-embeddings".
	APIKey  string        // sent as "Authorization: ApiKey ..." when non-empty.
	Timeout time.Duration // per-request timeout. Default: 30s.
	Logger  *slog.Logger  // Default: slog.Default().
}

func (c *Config) defaults() {
	if c.Index == "" {
		c.Index = "kb-embeddings"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the embedding store client.
type Store struct {
	base   string
	index  string
	apiKey string
	client *http.Client
	log    *slog.Logger
}

// New creates a Store.
func New(cfg Config) *Store {
	cfg.defaults()
	return &Store{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		index:  cfg.Index,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    cfg.Logger,
	}
}

// Index returns the configured index name.
func (s *Store) Index() string { return s.index }

func (s *Store) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("embedstore: marshal body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+s.apiKey)
	}
	return s.client.Do(req)
}

// EnsureIndex creates the index with a dense_vector mapping if it does not
// exist. Safe to call on every startup.
func (s *Store) EnsureIndex(ctx context.Context, dimension int) error {
	resp, err := s.do(ctx, http.MethodHead, "/"+s.index, nil)
	if err != nil {
		return fmt.Errorf("embedstore: check index: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("embedstore: check index: HTTP %d", resp.StatusCode)
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"content_hash":    map[string]any{"type": "keyword"},
				"model":           map[string]any{"type": "keyword"},
				"source_id":       map[string]any{"type": "keyword"},
				"document_id":     map[string]any{"type": "keyword"},
				"content_preview": map[string]any{"type": "text"},
				"created_at":      map[string]any{"type": "date"},
				"updated_at":      map[string]any{"type": "date"},
				"vector": map[string]any{
					"type": "dense_vector",
					"dims": dimension,
				},
			},
		},
	}
	resp, err = s.do(ctx, http.MethodPut, "/"+s.index, mapping)
	if err != nil {
		return fmt.Errorf("embedstore: create index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embedstore: create index: HTTP %d: %s", resp.StatusCode, msg)
	}
	s.log.Info("embedding index created", "index", s.index, "dimension", dimension)
	return nil
}

// Put upserts one record under its content hash.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	if rec.ContentHash == "" {
		return fmt.Errorf("embedstore: record has no content hash")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	resp, err := s.do(ctx, http.MethodPut,
		fmt.Sprintf("/%s/_doc/%s", s.index, rec.ContentHash), rec)
	if err != nil {
		return fmt.Errorf("embedstore: put %s: %w", rec.ContentHash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embedstore: put %s: HTTP %d: %s", rec.ContentHash, resp.StatusCode, msg)
	}
	return nil
}

// Get retrieves the record for a content hash, or nil if absent.
func (s *Store) Get(ctx context.Context, hash string) (*Record, error) {
	resp, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/%s/_doc/%s", s.index, hash), nil)
	if err != nil {
		return nil, fmt.Errorf("embedstore: get %s: %w", hash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedstore: get %s: HTTP %d", hash, resp.StatusCode)
	}

	var doc struct {
		Found  bool   `json:"found"`
		Source Record `json:"_source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("embedstore: decode get response: %w", err)
	}
	if !doc.Found {
		return nil, nil
	}
	return &doc.Source, nil
}

// BulkPut upserts many records in one _bulk request. A partial failure
// returns an error naming the failed ids; successfully indexed records stay
// stored.
func (s *Store) BulkPut(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if rec.ContentHash == "" {
			return fmt.Errorf("embedstore: record has no content hash")
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		if err := enc.Encode(map[string]any{
			"index": map[string]any{"_index": s.index, "_id": rec.ContentHash},
		}); err != nil {
			return fmt.Errorf("embedstore: encode bulk action: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("embedstore: encode bulk doc: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/_bulk", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedstore: bulk: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embedstore: bulk: HTTP %d: %s", resp.StatusCode, msg)
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("embedstore: decode bulk response: %w", err)
	}
	if result.Errors {
		var failed []string
		for _, item := range result.Items {
			for _, op := range item {
				if op.Status >= 400 {
					failed = append(failed, op.ID)
				}
			}
		}
		return fmt.Errorf("embedstore: bulk: %d documents failed: %s",
			len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// Count returns the number of stored embeddings.
func (s *Store) Count(ctx context.Context) (int, error) {
	resp, err := s.do(ctx, http.MethodGet, "/"+s.index+"/_count", nil)
	if err != nil {
		return 0, fmt.Errorf("embedstore: count: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("embedstore: count: HTTP %d", resp.StatusCode)
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("embedstore: decode count: %w", err)
	}
	return result.Count, nil
}

// CleanupOlderThan deletes embeddings created before maxAge ago. The cutoff
// is on created_at: re-uploads refresh updated_at, which would shield old
// embeddings from cleanup indefinitely. Returns the number deleted.
func (s *Store) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	query := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				"created_at": map[string]any{"lt": cutoff},
			},
		},
	}
	resp, err := s.do(ctx, http.MethodPost, "/"+s.index+"/_delete_by_query", query)
	if err != nil {
		return 0, fmt.Errorf("embedstore: cleanup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("embedstore: cleanup: HTTP %d: %s", resp.StatusCode, msg)
	}
	var result struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("embedstore: decode cleanup: %w", err)
	}
	s.log.Info("embedding cleanup", "deleted", result.Deleted, "max_age", maxAge)
	return result.Deleted, nil
}

// pageSize for All pagination.
const pageSize = 500

// All streams every record via _search with search_after pagination.
func (s *Store) All(ctx context.Context) ([]*Record, error) {
	var out []*Record
	var after any

	for {
		query := map[string]any{
			"size":  pageSize,
			"query": map[string]any{"match_all": map[string]any{}},
			"sort":  []any{map[string]any{"content_hash": "asc"}},
		}
		if after != nil {
			query["search_after"] = []any{after}
		}
		resp, err := s.do(ctx, http.MethodPost, "/"+s.index+"/_search", query)
		if err != nil {
			return nil, fmt.Errorf("embedstore: search: %w", err)
		}
		var result struct {
			Hits struct {
				Hits []struct {
					Source Record `json:"_source"`
					Sort   []any  `json:"sort"`
				} `json:"hits"`
			} `json:"hits"`
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("embedstore: search: HTTP %d", resp.StatusCode)
		}
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("embedstore: decode search: %w", err)
		}

		if len(result.Hits.Hits) == 0 {
			return out, nil
		}
		for i := range result.Hits.Hits {
			rec := result.Hits.Hits[i].Source
			out = append(out, &rec)
		}
		last := result.Hits.Hits[len(result.Hits.Hits)-1]
		if len(last.Sort) == 0 {
			// Server did not echo sort values; fall back to the hash key.
			after = last.Source.ContentHash
		} else {
			after = last.Sort[0]
		}
		if len(result.Hits.Hits) < pageSize {
			return out, nil
		}
	}
}
