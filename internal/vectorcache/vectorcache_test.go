package vectorcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingInner struct {
	calls    int
	embedded []string
}

func (c *countingInner) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.embedded = append(c.embedded, texts...)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (c *countingInner) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), 1}, nil
}

type failingInner struct{}

func (failingInner) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("backend down")
}

func (failingInner) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("backend down")
}

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(t.TempDir(), "chunk_embeddings", "nomic-embed-text")
	require.NoError(t, err)
	return cache
}

func TestCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Should round-trip stored vectors", func(t *testing.T) {
		cache := openTestCache(t)
		cache.Store(ctx, []string{"alpha"}, [][]float32{{0.1, 0.2, 0.3}})
		got := cache.Lookup(ctx, "alpha")
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, got)
	})

	t.Run("Should miss on unseen text", func(t *testing.T) {
		cache := openTestCache(t)
		assert.Nil(t, cache.Lookup(ctx, "never stored"))
	})

	t.Run("Should skip a store with mismatched lengths", func(t *testing.T) {
		cache := openTestCache(t)
		cache.Store(ctx, []string{"a", "b"}, [][]float32{{1}})
		assert.Nil(t, cache.Lookup(ctx, "a"))
	})

	t.Run("Should key entries by model", func(t *testing.T) {
		dir := t.TempDir()
		first, err := Open(dir, "chunk_embeddings", "model-a")
		require.NoError(t, err)
		first.Store(ctx, []string{"alpha"}, [][]float32{{1}})

		second, err := Open(dir, "chunk_embeddings", "model-b")
		require.NoError(t, err)
		assert.Nil(t, second.Lookup(ctx, "alpha"))
	})
}

func TestCachingEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("Should embed once and serve repeats from the cache", func(t *testing.T) {
		inner := &countingInner{}
		e := NewCachingEmbedder(inner, openTestCache(t))

		first, err := e.EmbedDocuments(ctx, []string{"alpha", "beta"})
		require.NoError(t, err)
		require.Equal(t, 1, inner.calls)

		second, err := e.EmbedDocuments(ctx, []string{"alpha", "beta"})
		require.NoError(t, err)
		assert.Equal(t, 1, inner.calls)
		assert.Equal(t, first, second)
	})

	t.Run("Should only embed the misses", func(t *testing.T) {
		inner := &countingInner{}
		e := NewCachingEmbedder(inner, openTestCache(t))

		_, err := e.EmbedDocuments(ctx, []string{"alpha"})
		require.NoError(t, err)
		_, err = e.EmbedDocuments(ctx, []string{"alpha", "gamma"})
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "gamma"}, inner.embedded)
	})

	t.Run("Should surface inner embedder failures", func(t *testing.T) {
		e := NewCachingEmbedder(failingInner{}, openTestCache(t))
		_, err := e.EmbedDocuments(ctx, []string{"alpha"})
		require.Error(t, err)
	})

	t.Run("Should never cache query embeddings", func(t *testing.T) {
		inner := &countingInner{}
		e := NewCachingEmbedder(inner, openTestCache(t))
		_, err := e.EmbedQuery(ctx, "what is diabetes")
		require.NoError(t, err)
		_, err = e.EmbedQuery(ctx, "what is diabetes")
		require.NoError(t, err)
		assert.Equal(t, 2, inner.calls)
	})
}
