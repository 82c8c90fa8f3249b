// Package orchestrator drives a full synchronization run through fixed
// stages: init, download_cache, preprocess, process_sources,
// generate_embeddings, upload_cache, summarize. After initialization no
// stage failure is fatal; errors are recorded in the summary and the run
// always reaches summarize.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/kbsync/cache"
	"github.com/hazyhaar/kbsync/checkpoint"
	"github.com/hazyhaar/kbsync/config"
	"github.com/hazyhaar/kbsync/embedder"
	"github.com/hazyhaar/kbsync/embedproc"
	"github.com/hazyhaar/kbsync/embedstore"
	"github.com/hazyhaar/kbsync/extract"
	"github.com/hazyhaar/kbsync/fetch"
	"github.com/hazyhaar/kbsync/idgen"
	"github.com/hazyhaar/kbsync/version"
)

// Stage names, in run order.
const (
	StageInit               = "init"
	StageDownloadCache      = "download_cache"
	StagePreprocess         = "preprocess"
	StageProcessSources     = "process_sources"
	StageGenerateEmbeddings = "generate_embeddings"
	StageUploadCache        = "upload_cache"
	StageSummarize          = "summarize"
)

// Per-source stage names, checkpointed with the source id.
const (
	StageFetch = "fetch"
	StageParse = "parse"
)

// Source result statuses.
const (
	SourceProcessed = "processed"
	SourceSkipped   = "skipped"
	SourceFailed    = "failed"
)

// SourceResult is the outcome for one configured source.
type SourceResult struct {
	SourceID       string        `json:"source_id"`
	SourceType     string        `json:"source_type"`
	Status         string        `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	Documents      int           `json:"documents"`
	Chunks         int           `json:"chunks"`
	ProcessingTime time.Duration `json:"processing_time"`
	Error          string        `json:"error,omitempty"`
}

// Summary is the final report of a sync run. It is always produced, even
// when every stage after init failed.
type Summary struct {
	RunID           string             `json:"run_id"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	Sources         []SourceResult     `json:"sources"`
	Processed       int                `json:"processed"`
	Skipped         int                `json:"skipped"`
	Failed          int                `json:"failed"`
	CacheDownloaded int                `json:"cache_downloaded"`
	CacheUploaded   int                `json:"cache_uploaded"`
	Embedding       *embedproc.Summary `json:"embedding,omitempty"`
	CacheStats      *cache.Stats       `json:"cache_stats,omitempty"`
	Errors          []string           `json:"errors,omitempty"`
}

// Config configures an Orchestrator. Sync is required; everything else
// defaults from it.
type Config struct {
	Sync *config.SyncConfig

	Logger *slog.Logger    // Default: slog.Default().
	IDs    idgen.Generator // Run IDs. Default: idgen.Prefixed("run_", idgen.Default).

	// Overridable collaborators, mainly for tests.
	Fetcher  *fetch.Fetcher
	Embedder embedder.Embedder
	Store    *embedstore.Store
}

// Orchestrator owns the components of a sync run.
type Orchestrator struct {
	cfg      *config.SyncConfig
	log      *slog.Logger
	ids      idgen.Generator
	fetcher  *fetch.Fetcher
	cache    *cache.Cache
	versions *version.Manager
	store    *embedstore.Store
	cacheMgr *embedstore.CacheManager
	emb      embedder.Embedder
	proc     *embedproc.Processor
	ckpt     *checkpoint.Manager
	md       *extract.MarkdownConverter
	chunker  extract.Chunker
}

// New wires up an Orchestrator. An error here is an initialization failure;
// the CLI treats it as fatal.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Sync == nil {
		return nil, fmt.Errorf("orchestrator: Sync config is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.Prefixed("run_", idgen.Default)
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = fetch.New(fetch.Config{})
	}

	sc := cfg.Sync
	contentCache, err := cache.Open(sc.CacheDir+"/content.db", cache.Config{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open cache: %w", err)
	}
	versions, err := version.New(sc.VersionFile, version.Config{Logger: cfg.Logger})
	if err != nil {
		contentCache.Close()
		return nil, fmt.Errorf("orchestrator: load versions: %w", err)
	}

	store := cfg.Store
	if store == nil {
		store = embedstore.New(embedstore.Config{
			BaseURL: sc.Store.BaseURL,
			Index:   sc.Store.Index,
			APIKey:  sc.Store.APIKey,
			Timeout: sc.Store.Timeout(),
			Logger:  cfg.Logger,
		})
	}
	emb := cfg.Embedder
	if emb == nil {
		emb = embedder.New(embedder.Config{
			Endpoint:  sc.Embedding.BaseURL,
			APIKey:    sc.Embedding.APIKey,
			Model:     sc.Embedding.Model,
			Dimension: sc.Embedding.Dimension,
			BatchSize: sc.Embedding.BatchSize,
			Timeout:   sc.Embedding.Timeout(),
			Logger:    cfg.Logger,
		})
	}

	det := embedproc.NewDetector(store, emb.Model(),
		time.Duration(sc.Embedding.StalenessDays)*24*time.Hour, cfg.Logger)
	proc, err := embedproc.New(embedproc.Config{
		Embedder:    emb,
		Store:       store,
		Detector:    det,
		BatchSize:   sc.Embedding.BatchSize,
		MaxParallel: sc.Embedding.MaxParallel,
		Logger:      cfg.Logger,
	})
	if err != nil {
		contentCache.Close()
		return nil, err
	}

	return &Orchestrator{
		cfg:      sc,
		log:      cfg.Logger,
		ids:      cfg.IDs,
		fetcher:  cfg.Fetcher,
		cache:    contentCache,
		versions: versions,
		store:    store,
		cacheMgr: embedstore.NewCacheManager(store, sc.CacheDir+"/embeddings.json", cfg.Logger),
		emb:      emb,
		proc:     proc,
		ckpt:     checkpoint.New(sc.CheckpointFile, cfg.Logger),
		md:       extract.NewMarkdownConverter(),
		chunker:  extract.Chunker{Size: sc.ChunkSize, Overlap: sc.ChunkOverlap},
	}, nil
}

// Close releases the orchestrator's resources.
func (o *Orchestrator) Close() error { return o.cache.Close() }

// Cache exposes the content cache for the CLI and status API.
func (o *Orchestrator) Cache() *cache.Cache { return o.cache }

// Store exposes the embedding store for the CLI and status API.
func (o *Orchestrator) Store() *embedstore.Store { return o.store }

// Checkpoints exposes the checkpoint journal.
func (o *Orchestrator) Checkpoints() *checkpoint.Manager { return o.ckpt }

// stage runs fn bracketed by started/completed checkpoints. A failure writes
// a failed checkpoint and appends to sum.Errors; the run continues.
func (o *Orchestrator) stage(runID, name string, sum *Summary, fn func() error) {
	o.ckpt.Write(checkpoint.Checkpoint{RunID: runID, Stage: name, Status: checkpoint.StatusStarted})
	if err := fn(); err != nil {
		o.log.Error("stage failed", "stage", name, "error", err)
		sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", name, err))
		o.ckpt.Write(checkpoint.Checkpoint{
			RunID: runID, Stage: name, Status: checkpoint.StatusFailed, Error: err.Error(),
		})
		return
	}
	o.ckpt.Write(checkpoint.Checkpoint{RunID: runID, Stage: name, Status: checkpoint.StatusCompleted})
}

// Run executes a full sync. The returned summary is never nil and the
// summarize stage always runs; Run only errors if ctx was cancelled before
// anything happened.
func (o *Orchestrator) Run(ctx context.Context) *Summary {
	runID := o.ids()
	sum := &Summary{RunID: runID, StartedAt: time.Now().UTC()}
	log := o.log.With("run_id", runID)
	log.Info("sync run starting", "sources", len(o.cfg.EnabledSources()))

	o.stage(runID, StageInit, sum, func() error {
		dim := o.cfg.Embedding.Dimension
		if dim <= 0 {
			dim = 768
		}
		return o.store.EnsureIndex(ctx, dim)
	})

	o.stage(runID, StageDownloadCache, sum, func() error {
		n, err := o.cacheMgr.Download(ctx)
		sum.CacheDownloaded = n
		return err
	})

	var sources []config.SourceConfig
	o.stage(runID, StagePreprocess, sum, func() error {
		sources = o.cfg.EnabledSources()
		if len(sources) == 0 {
			log.Warn("no enabled sources configured")
		}
		for _, s := range sources {
			log.Debug("source planned", "source_id", s.ID, "type", s.Type, "priority", s.Priority)
		}
		return nil
	})

	o.stage(runID, StageProcessSources, sum, func() error {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.MaxParallelSources)

		// Ascending priority order is preserved at submission; the pool
		// bounds concurrency, not ordering.
		for _, src := range sources {
			g.Go(func() error {
				result := o.processSource(gctx, runID, src)
				mu.Lock()
				defer mu.Unlock()
				sum.Sources = append(sum.Sources, result)
				switch result.Status {
				case SourceProcessed:
					sum.Processed++
				case SourceSkipped:
					sum.Skipped++
				case SourceFailed:
					sum.Failed++
				}
				// Per-source failures stay in the result; never cancel siblings.
				return nil
			})
		}
		return g.Wait()
	})

	o.stage(runID, StageGenerateEmbeddings, sum, func() error {
		// The working set is every processed, error-free cache entry, not
		// just this run's fetches. The detector then decides per chunk what
		// actually needs embedding, so a model change or staleness re-embeds
		// cached content without a re-fetch.
		entries, err := o.cache.AllProcessed(ctx)
		if err != nil {
			return err
		}
		var docs []embedproc.Document
		for _, e := range entries {
			if e.MetadataJSON == "" {
				continue
			}
			var meta entryMetadata
			if err := json.Unmarshal([]byte(e.MetadataJSON), &meta); err != nil {
				log.Warn("unreadable cache metadata", "source_id", e.SourceID, "error", err)
				continue
			}
			for _, c := range meta.Chunks {
				docs = append(docs, embedproc.Document{
					ID:       c.ID,
					SourceID: e.SourceID,
					Text:     c.Text,
				})
			}
		}

		es, err := o.proc.Process(ctx, docs)
		sum.Embedding = es
		if err != nil {
			return err
		}
		if es.FailedBatches > 0 {
			return fmt.Errorf("%d of %d batches failed", es.FailedBatches, es.Batches)
		}
		return nil
	})

	o.stage(runID, StageUploadCache, sum, func() error {
		// Refresh the local mirror with everything the run stored, then push
		// the merged snapshot back so cloud and disk agree.
		if n, err := o.cacheMgr.Download(ctx); err == nil {
			sum.CacheDownloaded = n
		}
		n, err := o.cacheMgr.Upload(ctx)
		sum.CacheUploaded = n
		return err
	})

	o.stage(runID, StageSummarize, sum, func() error {
		stats, err := o.cache.Statistics(ctx)
		if err != nil {
			return err
		}
		sum.CacheStats = stats
		return nil
	})

	sum.FinishedAt = time.Now().UTC()
	log.Info("sync run finished",
		"processed", sum.Processed, "skipped", sum.Skipped, "failed", sum.Failed,
		"errors", len(sum.Errors), "duration", sum.FinishedAt.Sub(sum.StartedAt))
	return sum
}
