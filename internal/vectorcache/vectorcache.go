package vectorcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

// Cache persists chunk embeddings in a chromem-go collection so corpus
// regeneration only embeds text it has not seen before. Entries are keyed by
// a digest of (model, text): changing the embedding model invalidates every
// entry automatically. The cache is transparent: hit or miss, the vectors
// handed back to callers are identical.
type Cache struct {
	collection *chromem.Collection
	model      string
}

// Open creates or reopens the persistent cache under dir.
func Open(dir, collectionName, model string) (*Cache, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening embedding cache: %w", err)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("opening cache collection: %w", err)
	}
	return &Cache{collection: collection, model: model}, nil
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached vector for text, or nil on a miss.
func (c *Cache) Lookup(ctx context.Context, text string) []float32 {
	doc, err := c.collection.GetByID(ctx, c.key(text))
	if err != nil {
		return nil
	}
	return doc.Embedding
}

// Store records the vectors for texts. Failures are logged, not returned:
// a broken cache must never fail an ingestion.
func (c *Cache) Store(ctx context.Context, texts []string, vectors [][]float32) {
	if len(texts) != len(vectors) {
		log.Warn().Msgf("embedding cache: %d texts but %d vectors, skipping store", len(texts), len(vectors))
		return
	}
	docs := make([]chromem.Document, 0, len(texts))
	for i, text := range texts {
		docs = append(docs, chromem.Document{
			ID:        c.key(text),
			Content:   text,
			Metadata:  map[string]string{"model": c.model},
			Embedding: vectors[i],
		})
	}
	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		log.Warn().Err(err).Msg("embedding cache store failed")
	}
}
