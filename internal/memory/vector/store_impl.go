package vector

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/opsguide/opsguide-ai/internal/reasoning/embedding"
)

// DefaultTopK is used when Search is called with k <= 0.
const DefaultTopK = 5

// indexedItem is a stored chunk with its embedding.
type indexedItem struct {
	chunk     Chunk
	embedding []float32
}

// inMemoryVectorStore keeps every chunk in memory.
type inMemoryVectorStore struct {
	mu       sync.RWMutex
	embedder embedding.Embedder
	items    []*indexedItem
	seq      int
}

var _ VectorStore = (*inMemoryVectorStore)(nil)

// NewVectorStore creates an empty in-memory store. embedder may be nil when
// every chunk carries a curated score.
func NewVectorStore(embedder embedding.Embedder) VectorStore {
	return &inMemoryVectorStore{
		embedder: embedder,
		items:    make([]*indexedItem, 0, 64),
	}
}

// NewSeededVectorStore creates a store and indexes the chunks from seedFile,
// or the built-in chunks when seedFile is empty.
func NewSeededVectorStore(ctx context.Context, embedder embedding.Embedder, seedFile string) (VectorStore, error) {
	chunks := DefaultChunks()
	if seedFile != "" {
		loaded, err := LoadSeedFile(seedFile)
		if err != nil {
			return nil, err
		}
		chunks = loaded
	}

	store := NewVectorStore(embedder)
	for _, c := range chunks {
		if err := store.Index(ctx, c); err != nil {
			return nil, fmt.Errorf("index chunk %s: %w", c.Source, err)
		}
	}
	return store, nil
}

func (s *inMemoryVectorStore) nextID() string {
	s.seq++
	return fmt.Sprintf("chunk-%03d", s.seq)
}

// Search ranks all chunks against queryVec.
func (s *inMemoryVectorStore) Search(ctx context.Context, queryVec []float32, k int) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		chunk Chunk
		score float64
	}

	matches := make([]scored, 0, len(s.items))
	for _, item := range s.items {
		score := item.chunk.Score
		if score <= 0 {
			score = embedding.Cosine(queryVec, item.embedding)
		}
		c := item.chunk
		c.Score = score
		matches = append(matches, scored{chunk: c, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > k {
		matches = matches[:k]
	}

	results := make([]Chunk, 0, len(matches))
	for _, m := range matches {
		results = append(results, m.chunk)
	}
	return results, nil
}

// Index adds a chunk to the store.
func (s *inMemoryVectorStore) Index(ctx context.Context, chunk Chunk) error {
	if chunk.Content == "" {
		return fmt.Errorf("chunk content is required")
	}

	var vec []float32
	if chunk.Score <= 0 {
		if s.embedder == nil {
			return fmt.Errorf("chunk %q has no score and no embedder is configured", chunk.Source)
		}
		var err error
		vec, err = s.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return fmt.Errorf("embed chunk: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if chunk.ID == "" {
		chunk.ID = s.nextID()
	}
	s.items = append(s.items, &indexedItem{chunk: chunk, embedding: vec})
	return nil
}

// IsAvailable always returns true for the in-memory implementation.
func (s *inMemoryVectorStore) IsAvailable(ctx context.Context) (bool, error) {
	return true, nil
}

// GetStats returns store statistics.
func (s *inMemoryVectorStore) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeCounts := map[string]int{}
	for _, item := range s.items {
		typeCounts[item.chunk.Type]++
	}

	return Stats{
		Backend:    "in_memory",
		TotalItems: len(s.items),
		TypeCounts: typeCounts,
	}, nil
}

// ─── Seed data ────────────────────────────────────────────────────────────────

type seedFile struct {
	Chunks []Chunk `yaml:"chunks"`
}

// LoadSeedFile reads knowledge chunks from a YAML file.
func LoadSeedFile(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if len(seed.Chunks) == 0 {
		return nil, fmt.Errorf("seed file %s contains no chunks", path)
	}
	return seed.Chunks, nil
}

// DefaultChunks returns the built-in case-management knowledge.
func DefaultChunks() []Chunk {
	return []Chunk{
		{
			Content: "To cancel a case, first verify the case exists and is in a cancellable state (pending, in_progress, under_review, on_hold). " +
				"Then execute the cancellation via POST /api/v2/cases/{case_id}/cancel with proper authorization headers.",
			Source: "knowledge/runbooks/cancel-case-runbook.md",
			Type:   "runbook",
			Score:  0.95,
		},
		{
			Content: "Case status can be updated to: accessioning, grossing, embedding, cutting, staining, microscopy, under_review, on_hold, completed, cancelled, archived, closed. " +
				"Use PATCH /api/v2/cases/{case_id}/status to update status following business rules.",
			Source: "knowledge/api-specs/case-management-api.md",
			Type:   "api_spec",
			Score:  0.88,
		},
		{
			Content: "Before cancelling a case, check for active dependencies using GET /api/v2/cases/{case_id}/dependencies. " +
				"Ensure no active_hold: true and related_orders_status != 'in_progress'.",
			Source: "knowledge/runbooks/cancel-case-runbook.md",
			Type:   "runbook",
			Score:  0.82,
		},
	}
}
