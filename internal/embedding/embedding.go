package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"health-rag/internal/config"
)

const defaultBatchSize = 100

// Embedder turns text into L2-normalized vectors suitable for cosine
// similarity by dot product. Texts are embedded in bounded batches; batch
// boundaries never affect the output.
type Embedder struct {
	client    embeddings.Embedder
	batchSize int
}

// New wraps any langchaingo embedder. Used directly by tests and by the
// embedding cache; production wiring goes through NewOllama.
func New(client embeddings.Embedder, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Embedder{client: client, batchSize: batchSize}
}

// NewOllama builds an Embedder backed by a local ollama model.
func NewOllama(cfg *config.LLMConfig, batchSize int) (*Embedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding model: %w", err)
	}
	client, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return New(client, batchSize), nil
}

// Client exposes the underlying langchaingo embedder so callers can layer a
// cache between it and the batching wrapper.
func (e *Embedder) Client() embeddings.Embedder { return e.client }

// WithClient returns a copy of e delegating to client.
func (e *Embedder) WithClient(client embeddings.Embedder) *Embedder {
	return &Embedder{client: client, batchSize: e.batchSize}
}

// EmbedTexts embeds texts in batches and returns the index. An empty input
// returns the absent index, never a zero-row matrix.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) (Index, error) {
	if len(texts) == 0 {
		return Index{}, nil
	}
	rows := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.client.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return Index{}, fmt.Errorf("embedding texts %d..%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return Index{}, fmt.Errorf("embedding texts %d..%d: got %d vectors for %d texts", start, end, len(batch), end-start)
		}
		for _, v := range batch {
			rows = append(rows, Normalize(v))
		}
		if len(texts) > e.batchSize {
			log.Debug().Msgf("embedded %d/%d texts", end, len(texts))
		}
	}
	return NewIndex(rows), nil
}

// EmbedQuery embeds a single query with the same model and normalization as
// EmbedTexts, so dot products against index rows are cosine similarities.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return Normalize(v), nil
}

// Normalize returns v scaled to unit length. Zero vectors pass through
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Dot is the inner product of two vectors; with normalized inputs this is
// the cosine similarity. Mismatched lengths score the overlapping prefix.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
