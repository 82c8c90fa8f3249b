// Package checkpoint journals sync run progress as append-only JSON lines.
// Each stage transition is one line, so a crashed run leaves a readable
// record up to the last completed write and the file never needs rewriting.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Stage status values.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Checkpoint is one journal line. Run-level checkpoints leave SourceID
// empty; per-source checkpoints carry the source id so tooling can answer
// what stage a source last reached.
type Checkpoint struct {
	RunID     string         `json:"run_id"`
	SourceID  string         `json:"source_id,omitempty"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Manager appends checkpoints to a JSONL file. Safe for concurrent use.
type Manager struct {
	path string
	log  *slog.Logger
	mu   sync.Mutex
}

// New creates a Manager writing to path. Parent directories are created on
// first write.
func New(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{path: path, log: logger}
}

// Write appends one checkpoint. The timestamp defaults to now.
func (m *Manager) Write(cp Checkpoint) error {
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir: %w", err)
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("checkpoint: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	return nil
}

// Read returns every checkpoint in write order. A torn final line (crash mid
// write) is skipped with a warning rather than failing the read.
func (m *Manager) Read() ([]Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open: %w", err)
	}
	defer f.Close()

	var out []Checkpoint
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			m.log.Warn("checkpoint: skipping unparseable line", "error", err)
			continue
		}
		out = append(out, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: scan: %w", err)
	}
	return out, nil
}

// ForRun returns the checkpoints of one run, in write order.
func (m *Manager) ForRun(runID string) ([]Checkpoint, error) {
	all, err := m.Read()
	if err != nil {
		return nil, err
	}
	var out []Checkpoint
	for _, cp := range all {
		if cp.RunID == runID {
			out = append(out, cp)
		}
	}
	return out, nil
}

// ForSource returns the checkpoints of one source, in write order.
func (m *Manager) ForSource(sourceID string) ([]Checkpoint, error) {
	all, err := m.Read()
	if err != nil {
		return nil, err
	}
	var out []Checkpoint
	for _, cp := range all {
		if cp.SourceID == sourceID {
			out = append(out, cp)
		}
	}
	return out, nil
}

// LatestStatus returns the last checkpoint written for a source, or nil if
// the source never checkpointed. The last record in append order is the
// source's current state.
func (m *Manager) LatestStatus(sourceID string) (*Checkpoint, error) {
	cps, err := m.ForSource(sourceID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, nil
	}
	return &cps[len(cps)-1], nil
}

// Latest returns the most recently written checkpoint, or nil if the journal
// is empty.
func (m *Manager) Latest() (*Checkpoint, error) {
	all, err := m.Read()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &all[len(all)-1], nil
}
