// Package embedder converts text to float32 vectors via any OpenAI-compatible
// embedding server (/v1/embeddings). It decouples embedding generation from
// storage so the batch processor never knows which backend serves the model.
//
// Usage:
//
//	emb := embedder.New(embedder.Config{
//	    Endpoint: "https://api.example.com",
//	    Model:    "text-embedding-3-small",
//	})
//	vec, err := emb.Embed(ctx, "What is a quorum?")
package embedder

import (
	"context"
	"log/slog"
	"time"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in one HTTP call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension (768, 1536, etc).
	// Returns 0 if not yet detected (first call not made).
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server.
	// If empty, a noop embedder producing zero vectors is returned.
	Endpoint string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the model name sent in every request.
	Model string

	// Dimension is the expected vector dimension. 0 means auto-detect on first call.
	Dimension int

	// BatchSize is the maximum number of texts per HTTP request. Default: 32.
	BatchSize int

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config. If Endpoint is empty, returns a noop
// embedder that produces zero vectors of the configured dimension.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 768
		}
		return &noopEmbedder{dim: dim, model: cfg.Model}
	}
	return newOpenAIClient(cfg)
}

// noopEmbedder returns zero vectors for use without an embedding server.
type noopEmbedder struct {
	dim   int
	model string
}

func (n *noopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, n.dim), nil
}

func (n *noopEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, n.dim)
	}
	return out, nil
}

func (n *noopEmbedder) Dimension() int { return n.dim }
func (n *noopEmbedder) Model() string  { return n.model }
