// Package config defines the sync engine's configuration model and YAML
// loading. Configuration is loaded once at startup and passed by reference;
// components never read files or environment variables themselves.
package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceType selects the processing pipeline for a source.
type SourceType string

const (
	SourceHTML        SourceType = "html"
	SourcePDF         SourceType = "pdf"
	SourceSpreadsheet SourceType = "spreadsheet"
)

// FetchStrategy controls how a source's documents are located.
type FetchStrategy string

const (
	// FetchDirect fetches the source URL as the document itself.
	FetchDirect FetchStrategy = "direct"
	// FetchIndexPage fetches the source URL as an index, discovers links
	// and processes each discovered document.
	FetchIndexPage FetchStrategy = "index_page"
)

// VersioningStrategy controls how freshness is decided before parsing.
type VersioningStrategy string

const (
	// VersionByHash always fetches and compares content hashes.
	VersionByHash VersioningStrategy = "content_hash"
	// VersionByETag uses conditional GET with ETag/Last-Modified validators.
	VersionByETag VersioningStrategy = "etag"
	// VersionByTimestamp uses If-Modified-Since with the last recorded fetch time.
	VersionByTimestamp VersioningStrategy = "timestamp"
)

// SourceConfig describes one synchronization source.
type SourceConfig struct {
	ID            string             `yaml:"id"`
	Name          string             `yaml:"name"`
	Type          SourceType         `yaml:"type"`
	URL           string             `yaml:"url"`
	FetchStrategy FetchStrategy      `yaml:"fetch_strategy"`
	Versioning    VersioningStrategy `yaml:"versioning_strategy"`

	// LinkPattern is an optional substring filter for index-page discovery.
	LinkPattern string `yaml:"link_pattern"`

	// Priority orders dispatch: lower values are submitted to the worker
	// pool first. Default 0.
	Priority int `yaml:"priority"`

	// Enabled defaults to true; disabled sources are skipped entirely.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the source participates in sync runs.
func (s *SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EmbeddingConfig configures the embedding provider and batch processing.
type EmbeddingConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Dimension     int    `yaml:"dimension"`
	BatchSize     int    `yaml:"batch_size"`
	MaxParallel   int    `yaml:"max_parallel"`
	StalenessDays int    `yaml:"staleness_days"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
}

// Timeout returns the provider request timeout.
func (e *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSecs) * time.Second
}

// StoreConfig configures the cloud embedding store (document index over HTTP).
type StoreConfig struct {
	BaseURL     string `yaml:"base_url"`
	Index       string `yaml:"index"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_seconds"`
}

// Timeout returns the store request timeout.
func (s *StoreConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// SyncConfig is the root configuration for a sync run.
type SyncConfig struct {
	// CacheDir holds the content cache database and the local embedding
	// cache snapshot.
	CacheDir       string `yaml:"cache_dir"`
	VersionFile    string `yaml:"version_file"`
	CheckpointFile string `yaml:"checkpoint_file"`

	// MaxParallelSources bounds the source worker pool. Default 4.
	MaxParallelSources int `yaml:"max_parallel_sources"`

	// ChunkSize and ChunkOverlap control text chunking, in characters.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`

	Sources []SourceConfig `yaml:"sources"`
}

func (c *SyncConfig) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = "cache"
	}
	if c.VersionFile == "" {
		c.VersionFile = c.CacheDir + "/versions.json"
	}
	if c.CheckpointFile == "" {
		c.CheckpointFile = c.CacheDir + "/checkpoints.jsonl"
	}
	if c.MaxParallelSources <= 0 {
		c.MaxParallelSources = 4
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 2000
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.MaxParallel <= 0 {
		c.Embedding.MaxParallel = 4
	}
	if c.Embedding.StalenessDays <= 0 {
		c.Embedding.StalenessDays = 365
	}
	if c.Embedding.TimeoutSecs <= 0 {
		c.Embedding.TimeoutSecs = 60
	}
	if c.Store.TimeoutSecs <= 0 {
		c.Store.TimeoutSecs = 30
	}
	if c.Store.Index == "" {
		c.Store.Index = "kb-embeddings"
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.FetchStrategy == "" {
			s.FetchStrategy = FetchDirect
		}
		if s.Versioning == "" {
			s.Versioning = VersionByHash
		}
	}
}

// Validate checks structural consistency. It does not touch the network.
func (c *SyncConfig) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("config: chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.ID == "" {
			return fmt.Errorf("config: source %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if s.URL == "" {
			return fmt.Errorf("config: source %q has no url", s.ID)
		}
		switch s.Type {
		case SourceHTML, SourcePDF, SourceSpreadsheet:
		default:
			return fmt.Errorf("config: source %q has unknown type %q", s.ID, s.Type)
		}
		switch s.FetchStrategy {
		case FetchDirect, FetchIndexPage:
		default:
			return fmt.Errorf("config: source %q has unknown fetch_strategy %q", s.ID, s.FetchStrategy)
		}
		switch s.Versioning {
		case VersionByHash, VersionByETag, VersionByTimestamp:
		default:
			return fmt.Errorf("config: source %q has unknown versioning_strategy %q", s.ID, s.Versioning)
		}
	}
	return nil
}

// EnabledSources returns the enabled sources ordered by ascending priority,
// lower number first. Ties keep the configuration order (stable sort).
func (c *SyncConfig) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Load reads, decodes, defaults and validates a YAML configuration file.
func Load(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg SyncConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
