// Package version tracks per-source fetch versions in a JSON file.
// The whole file is loaded at startup and rewritten after every update, so
// the on-disk state is always consistent with memory. Writes go through a
// temp file plus rename to stay atomic on crash.
package version

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Info records what was last fetched for a source.
type Info struct {
	ContentHash  string    `json:"content_hash"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	URL          string    `json:"url,omitempty"`
}

// Manager is a keyed version store backed by one JSON file.
// Safe for concurrent use.
type Manager struct {
	path string
	log  *slog.Logger

	mu       sync.Mutex
	versions map[string]Info
}

// Config configures a Manager.
type Config struct {
	Logger *slog.Logger // Default: slog.Default().
}

// New loads (or initializes) the version file at path.
// A missing file starts empty; a corrupt file is an error so stale state is
// never silently discarded.
func New(path string, cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{path: path, log: cfg.Logger, versions: make(map[string]Info)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("version: read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.versions); err != nil {
			return nil, fmt.Errorf("version: parse %s: %w", path, err)
		}
	}
	return m, nil
}

// Get returns the recorded version for a source.
func (m *Manager) Get(sourceID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.versions[sourceID]
	return info, ok
}

// Update records a new version for a source and flushes to disk.
func (m *Manager) Update(sourceID string, info Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info.FetchedAt.IsZero() {
		info.FetchedAt = time.Now().UTC()
	}
	m.versions[sourceID] = info
	return m.flushLocked()
}

// HasChanged reports whether a fetch differs from the recorded version:
// the source is unknown, the hash differs, or a supplied non-empty timestamp
// differs from the recorded Last-Modified. An empty timestamp (or none
// recorded) skips the timestamp comparison.
func (m *Manager) HasChanged(sourceID, hash, timestamp string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.versions[sourceID]
	if !ok {
		return true
	}
	if info.ContentHash != hash {
		return true
	}
	if timestamp != "" && info.LastModified != "" && info.LastModified != timestamp {
		return true
	}
	return false
}

// Delete removes a source's version and flushes to disk.
func (m *Manager) Delete(sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.versions[sourceID]; !ok {
		return nil
	}
	delete(m.versions, sourceID)
	return m.flushLocked()
}

// All returns a copy of every recorded version.
func (m *Manager) All() map[string]Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Info, len(m.versions))
	for k, v := range m.versions {
		out[k] = v
	}
	return out
}

func (m *Manager) flushLocked() error {
	data, err := json.MarshalIndent(m.versions, "", "  ")
	if err != nil {
		return fmt.Errorf("version: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("version: mkdir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("version: write temp: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("version: rename: %w", err)
	}
	return nil
}
