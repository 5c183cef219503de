package vectorcache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// CachingEmbedder layers the persistent cache over another embedder. Only
// document embeddings are cached; query embeddings are one-off and always
// computed fresh.
type CachingEmbedder struct {
	inner embeddings.Embedder
	cache *Cache
}

var _ embeddings.Embedder = (*CachingEmbedder)(nil)

func NewCachingEmbedder(inner embeddings.Embedder, cache *Cache) *CachingEmbedder {
	return &CachingEmbedder{inner: inner, cache: cache}
}

func (e *CachingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v := e.cache.Lookup(ctx, text); v != nil {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	log.Debug().Msgf("embedding cache: %d hits, %d misses", len(texts)-len(missTexts), len(missTexts))

	vectors, err := e.inner.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missTexts))
	}
	for i, v := range vectors {
		out[missIdx[i]] = v
	}
	e.cache.Store(ctx, missTexts, vectors)
	return out, nil
}

func (e *CachingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.inner.EmbedQuery(ctx, text)
}
