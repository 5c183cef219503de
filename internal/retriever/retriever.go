package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"health-rag/internal/embedding"
	"health-rag/internal/models"
)

// Relevance labels by score. The default minimum score (0.25) sits below the
// lowest threshold, so "Very Low" results can surface.
const (
	RelevanceHigh    = "High"
	RelevanceMedium  = "Medium"
	RelevanceLow     = "Low"
	RelevanceVeryLow = "Very Low"

	highThreshold   = 0.7
	mediumThreshold = 0.5
	lowThreshold    = 0.3
)

// QueryEmbedder embeds a single query with the same model and normalization
// used to build the index.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever scores a query against an embedding index and selects the best
// matching chunks.
type Retriever struct {
	embedder QueryEmbedder
}

func New(embedder QueryEmbedder) *Retriever {
	return &Retriever{embedder: embedder}
}

// Retrieve embeds query, scores it against every index row, and returns at
// most topK chunks sorted by descending score with ties broken by ascending
// chunk id. minScore is a hard floor: results below it are dropped even if
// that leaves fewer than topK. An absent index or empty chunk sequence
// yields an empty result, not an error. The input chunks are never mutated.
func (r *Retriever) Retrieve(ctx context.Context, query string, chunks []models.Chunk, index embedding.Index, topK int, minScore float64) ([]models.RetrievedChunk, error) {
	if !index.Present() || len(chunks) == 0 {
		return nil, nil
	}
	if index.Len() != len(chunks) {
		return nil, fmt.Errorf("index has %d rows for %d chunks", index.Len(), len(chunks))
	}
	if topK <= 0 {
		return nil, nil
	}

	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored := make([]models.RetrievedChunk, len(chunks))
	for i, chunk := range chunks {
		scored[i] = models.RetrievedChunk{
			Chunk: chunk,
			Score: embedding.Dot(index.Row(i), queryVec),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	results := make([]models.RetrievedChunk, 0, len(scored))
	for _, rc := range scored {
		if rc.Score < minScore {
			continue
		}
		rc.Relevance = relevanceLabel(rc.Score)
		results = append(results, rc)
	}

	log.Debug().Msgf("retrieved %d/%d chunks above score %.2f", len(results), len(chunks), minScore)
	return results, nil
}

func relevanceLabel(score float64) string {
	switch {
	case score >= highThreshold:
		return RelevanceHigh
	case score >= mediumThreshold:
		return RelevanceMedium
	case score >= lowThreshold:
		return RelevanceLow
	default:
		return RelevanceVeryLow
	}
}
