package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"health-rag/internal/embedding"
	"health-rag/internal/models"
)

// Snapshot is an immutable view of the knowledge base: the ordered chunk
// sequence and the embedding matrix whose rows align with it positionally.
// Readers take one snapshot per query and use it throughout; mutations
// replace the whole snapshot, never edit it in place.
type Snapshot struct {
	Chunks []models.Chunk
	Index  embedding.Index
}

// Embedder regenerates the full embedding matrix over a chunk sequence.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) (embedding.Index, error)
}

// Store owns the process-wide knowledge base. Chunk sequence and index are
// swapped together under one lock, so a concurrent reader can never observe
// mismatched lengths or misaligned rows. Any mutation re-embeds the whole
// corpus; incremental updates are deliberately not attempted, that is the
// price of the alignment guarantee and the system's main scalability
// ceiling.
type Store struct {
	path     string
	embedder Embedder

	mu   sync.RWMutex
	snap *Snapshot

	// writeMu serializes mutations so re-embedding of two admin operations
	// cannot interleave. Readers never take it.
	writeMu sync.Mutex

	nextID int
}

func NewStore(path string, embedder Embedder) *Store {
	return &Store{
		path:     path,
		embedder: embedder,
		snap:     &Snapshot{},
		nextID:   1,
	}
}

// Snapshot returns the current consistent view. The returned value must be
// treated as read-only.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) swap(chunks []models.Chunk, index embedding.Index) {
	s.mu.Lock()
	s.snap = &Snapshot{Chunks: chunks, Index: index}
	s.mu.Unlock()
}

// Load reads the persisted knowledge base and regenerates its embeddings.
// A missing file or any structural violation degrades to an empty knowledge
// base with a warning; it never fails startup.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	chunks := s.readFile()
	if len(chunks) == 0 {
		s.swap(nil, embedding.Index{})
		log.Info().Msg("knowledge base is empty")
		return nil
	}

	log.Info().Msgf("loading %d chunks from knowledge base", len(chunks))
	index, err := s.embedder.EmbedTexts(ctx, texts(chunks))
	if err != nil {
		return fmt.Errorf("embedding knowledge base: %w", err)
	}
	s.swap(chunks, index)
	s.nextID = maxID(chunks) + 1
	log.Info().Msgf("knowledge base loaded: %d chunks", len(chunks))
	return nil
}

// readFile parses the persisted chunk list. Every record must be an object
// carrying at least a text field; anything else is treated as an empty
// knowledge base rather than a crash.
func (s *Store) readFile() []models.Chunk {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msgf("cannot read knowledge base file %s", s.path)
		}
		return nil
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Err(err).Msg("knowledge base file is not a list of records, treating as empty")
		return nil
	}
	for i, record := range raw {
		if _, ok := record["text"].(string); !ok {
			log.Warn().Msgf("knowledge base record %d has no text field, treating knowledge base as empty", i)
			return nil
		}
	}

	var chunks []models.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		log.Warn().Err(err).Msg("knowledge base records are malformed, treating as empty")
		return nil
	}
	return chunks
}

// AddDocument appends chunks (typically one ingested document), assigns ids
// monotonically, regenerates the full index, persists, and swaps. On any
// error the knowledge base is left exactly as it was.
func (s *Store) AddDocument(ctx context.Context, chunks []models.Chunk) (added, total int, err error) {
	if len(chunks) == 0 {
		return 0, len(s.Snapshot().Chunks), nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.Snapshot()

	// ids are never reused, even after the highest-numbered document has
	// been deleted: nextID only moves forward.
	if next := maxID(current.Chunks) + 1; next > s.nextID {
		s.nextID = next
	}
	merged := make([]models.Chunk, 0, len(current.Chunks)+len(chunks))
	merged = append(merged, current.Chunks...)
	for _, chunk := range chunks {
		chunk.ID = s.nextID
		s.nextID++
		merged = append(merged, chunk)
	}

	index, err := s.embedder.EmbedTexts(ctx, texts(merged))
	if err != nil {
		return 0, len(current.Chunks), fmt.Errorf("regenerating embeddings: %w", err)
	}
	if err := s.save(merged); err != nil {
		return 0, len(current.Chunks), err
	}
	s.swap(merged, index)
	log.Info().Msgf("added %d chunks, knowledge base now holds %d", len(chunks), len(merged))
	return len(chunks), len(merged), nil
}

// RemoveDocument drops every chunk whose source matches and reports how many
// were removed. Removing the last document swaps in the absent index.
func (s *Store) RemoveDocument(ctx context.Context, source string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.Snapshot()
	remaining := make([]models.Chunk, 0, len(current.Chunks))
	for _, chunk := range current.Chunks {
		if chunk.Source != source {
			remaining = append(remaining, chunk)
		}
	}
	removed := len(current.Chunks) - len(remaining)
	if removed == 0 {
		return 0, nil
	}

	index := embedding.Index{}
	if len(remaining) > 0 {
		var err error
		index, err = s.embedder.EmbedTexts(ctx, texts(remaining))
		if err != nil {
			return 0, fmt.Errorf("regenerating embeddings: %w", err)
		}
	}
	if err := s.save(remaining); err != nil {
		return 0, err
	}
	if len(remaining) == 0 {
		remaining = nil
	}
	s.swap(remaining, index)
	log.Info().Msgf("removed %s: %d chunks deleted, %d remain", source, removed, len(remaining))
	return removed, nil
}

func (s *Store) save(chunks []models.Chunk) error {
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding knowledge base: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing knowledge base: %w", err)
	}
	return nil
}

// Len is the number of chunks in the current snapshot.
func (s *Store) Len() int {
	return len(s.Snapshot().Chunks)
}

// CountBySource counts the chunks belonging to one source document.
func (s *Store) CountBySource(source string) int {
	count := 0
	for _, chunk := range s.Snapshot().Chunks {
		if chunk.Source == source {
			count++
		}
	}
	return count
}

func texts(chunks []models.Chunk) []string {
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		out[i] = chunk.Text
	}
	return out
}

func maxID(chunks []models.Chunk) int {
	max := 0
	for _, chunk := range chunks {
		if chunk.ID > max {
			max = chunk.ID
		}
	}
	return max
}
