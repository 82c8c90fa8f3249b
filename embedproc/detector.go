// Package embedproc decides which texts need (re-)embedding and processes
// them in bounded parallel batches against the embedding provider, storing
// results in the embedding store keyed by content hash.
package embedproc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/kbsync/embedstore"
)

// DefaultMaxAge is the staleness window after which an embedding is
// recomputed even if the content is unchanged.
const DefaultMaxAge = 365 * 24 * time.Hour

// Detector decides whether a content hash needs embedding.
type Detector struct {
	store  *embedstore.Store
	model  string
	maxAge time.Duration
	log    *slog.Logger
}

// NewDetector creates a Detector for the given model. maxAge <= 0 uses
// DefaultMaxAge.
func NewDetector(store *embedstore.Store, model string, maxAge time.Duration, logger *slog.Logger) *Detector {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, model: model, maxAge: maxAge, log: logger}
}

// NeedsEmbedding reports whether the hash must be (re-)embedded and why.
// A store lookup failure counts as needs-embedding so a flaky store never
// silently drops content from the index.
func (d *Detector) NeedsEmbedding(ctx context.Context, hash string) (bool, string) {
	rec, err := d.store.Get(ctx, hash)
	if err != nil {
		d.log.Warn("embedding lookup failed, assuming re-embed", "hash", hash, "error", err)
		return true, fmt.Sprintf("lookup failed: %v", err)
	}
	if rec == nil {
		return true, "no existing embedding"
	}
	if rec.Model != d.model {
		return true, fmt.Sprintf("model changed from %s to %s", rec.Model, d.model)
	}
	// Staleness is measured from creation. UpdatedAt is bumped by every
	// snapshot re-upload and would keep an actively synced index forever fresh.
	if age := time.Since(rec.CreatedAt); age > d.maxAge {
		return true, fmt.Sprintf("embedding stale (%s old)", age.Round(time.Hour))
	}
	return false, "embedding up to date"
}

// Filter returns the documents that need embedding and the count skipped.
func (d *Detector) Filter(ctx context.Context, docs []Document) ([]Document, int) {
	var needed []Document
	skipped := 0
	for _, doc := range docs {
		ok, reason := d.NeedsEmbedding(ctx, doc.ContentHash)
		if ok {
			needed = append(needed, doc)
		} else {
			skipped++
			d.log.Debug("embedding skipped", "id", doc.ID, "reason", reason)
		}
	}
	return needed, skipped
}
