package embedstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the on-disk mirror of the embedding index: a JSON file mapping
// content hash to record.
type Snapshot struct {
	SavedAt time.Time          `json:"saved_at"`
	Records map[string]*Record `json:"records"`
}

// CacheManager mirrors the embedding index to a local snapshot file.
// Download at the start of a run, Upload at the end; the remote index always
// holds the merged result.
type CacheManager struct {
	store *Store
	path  string
	log   *slog.Logger
}

// NewCacheManager creates a CacheManager writing to path.
func NewCacheManager(store *Store, path string, logger *slog.Logger) *CacheManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheManager{store: store, path: path, log: logger}
}

// Download pulls every record from the store into the local snapshot file.
// Returns the number of records downloaded. A download failure leaves any
// previous snapshot untouched.
func (m *CacheManager) Download(ctx context.Context) (int, error) {
	recs, err := m.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot download: %w", err)
	}

	snap := Snapshot{SavedAt: time.Now().UTC(), Records: make(map[string]*Record, len(recs))}
	for _, r := range recs {
		snap.Records[r.ContentHash] = r
	}

	if err := m.write(&snap); err != nil {
		return 0, err
	}
	m.log.Info("embedding cache downloaded", "records", len(recs), "path", m.path)
	return len(recs), nil
}

// Upload pushes every record in the local snapshot to the store in bulk.
// Returns the number of records uploaded. A missing snapshot uploads nothing.
func (m *CacheManager) Upload(ctx context.Context) (int, error) {
	snap, err := m.Load()
	if err != nil {
		return 0, err
	}
	if snap == nil || len(snap.Records) == 0 {
		return 0, nil
	}

	recs := make([]*Record, 0, len(snap.Records))
	for _, r := range snap.Records {
		recs = append(recs, r)
	}
	if err := m.store.BulkPut(ctx, recs); err != nil {
		return 0, fmt.Errorf("snapshot upload: %w", err)
	}
	m.log.Info("embedding cache uploaded", "records", len(recs))
	return len(recs), nil
}

// Load reads the snapshot file, or returns nil if it does not exist.
func (m *CacheManager) Load() (*Snapshot, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot read: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot parse %s: %w", m.path, err)
	}
	if snap.Records == nil {
		snap.Records = make(map[string]*Record)
	}
	return &snap, nil
}

// Merge adds records to the local snapshot, overwriting same-hash entries.
func (m *CacheManager) Merge(recs []*Record) error {
	snap, err := m.Load()
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &Snapshot{Records: make(map[string]*Record)}
	}
	for _, r := range recs {
		snap.Records[r.ContentHash] = r
	}
	snap.SavedAt = time.Now().UTC()
	return m.write(snap)
}

func (m *CacheManager) write(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("snapshot mkdir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}
