package embedproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/kbsync/cache"
	"github.com/hazyhaar/kbsync/embedder"
	"github.com/hazyhaar/kbsync/embedstore"
)

// Document is one unit of text to embed.
type Document struct {
	ID          string // chunk or document id
	SourceID    string
	Text        string
	ContentHash string // SHA-256 of Text; computed when empty
}

// Summary aggregates the outcome of one processing run.
type Summary struct {
	Total         int           `json:"total"`
	Embedded      int           `json:"embedded"`
	Skipped       int           `json:"skipped"`
	Failed        int           `json:"failed"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Errors        []string      `json:"errors,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Config configures a Processor.
type Config struct {
	Embedder    embedder.Embedder
	Store       *embedstore.Store
	Detector    *Detector
	BatchSize   int          // documents per provider call. Default: 32.
	MaxParallel int          // concurrent batches. Default: 4.
	Logger      *slog.Logger // Default: slog.Default().
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Processor embeds documents in fixed-size batches over a bounded pool.
// One provider call and one bulk store per batch; a failed batch is recorded
// in the summary and never aborts its siblings.
type Processor struct {
	emb   embedder.Embedder
	store *embedstore.Store
	det   *Detector
	cfg   Config
	log   *slog.Logger
}

// New creates a Processor.
func New(cfg Config) (*Processor, error) {
	cfg.defaults()
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedproc: Embedder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("embedproc: Store is required")
	}
	return &Processor{
		emb:   cfg.Embedder,
		store: cfg.Store,
		det:   cfg.Detector,
		cfg:   cfg,
		log:   cfg.Logger,
	}, nil
}

// Process embeds every document that still needs it. The returned summary is
// never nil; per-batch failures are recorded in Summary.Errors rather than
// returned, so sibling batches always run to completion.
func (p *Processor) Process(ctx context.Context, docs []Document) (*Summary, error) {
	start := time.Now()
	sum := &Summary{Total: len(docs)}
	if len(docs) == 0 {
		sum.Duration = time.Since(start)
		return sum, nil
	}

	for i := range docs {
		if docs[i].ContentHash == "" {
			docs[i].ContentHash = cache.ComputeTextHash(docs[i].Text)
		}
	}

	pending := docs
	if p.det != nil {
		pending, sum.Skipped = p.det.Filter(ctx, docs)
	}
	if len(pending) == 0 {
		sum.Duration = time.Since(start)
		return sum, nil
	}

	var batches [][]Document
	for i := 0; i < len(pending); i += p.cfg.BatchSize {
		end := min(i+p.cfg.BatchSize, len(pending))
		batches = append(batches, pending[i:end])
	}
	sum.Batches = len(batches)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxParallel)

	for n, batch := range batches {
		g.Go(func() error {
			embedded, failed, err := p.processBatch(gctx, batch)
			mu.Lock()
			defer mu.Unlock()
			sum.Embedded += embedded
			sum.Failed += failed
			if err != nil {
				sum.FailedBatches++
				sum.Errors = append(sum.Errors, fmt.Sprintf("batch %d: %v", n, err))
				p.log.Error("embedding batch failed", "batch", n, "size", len(batch), "error", err)
			}
			// Batch failures are isolated; never cancel the group.
			return nil
		})
	}
	g.Wait()

	sum.Duration = time.Since(start)
	p.log.Info("embedding run complete",
		"total", sum.Total, "embedded", sum.Embedded,
		"skipped", sum.Skipped, "failed", sum.Failed,
		"batches", sum.Batches, "failed_batches", sum.FailedBatches)
	return sum, nil
}

// processBatch makes one provider call and one bulk store for a batch.
// Vectors pair with documents by position; a count mismatch stores the pairs
// that exist and counts the remainder as failed.
func (p *Processor) processBatch(ctx context.Context, batch []Document) (embedded, failed int, err error) {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = d.Text
	}

	vecs, err := p.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, len(batch), fmt.Errorf("embed: %w", err)
	}

	n := len(vecs)
	if n != len(batch) {
		p.log.Warn("embedding count mismatch",
			"expected", len(batch), "got", n)
		if n > len(batch) {
			n = len(batch)
		}
		failed = len(batch) - n
		err = fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(batch))
	}

	recs := make([]*embedstore.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, &embedstore.Record{
			ContentHash:    batch[i].ContentHash,
			Vector:         vecs[i],
			Model:          p.emb.Model(),
			Dimension:      len(vecs[i]),
			SourceID:       batch[i].SourceID,
			DocumentID:     batch[i].ID,
			ContentPreview: embedstore.Preview(batch[i].Text),
		})
	}
	if len(recs) > 0 {
		if serr := p.store.BulkPut(ctx, recs); serr != nil {
			return 0, len(batch), fmt.Errorf("store: %w", serr)
		}
	}
	return n, failed, err
}
