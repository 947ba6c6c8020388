package vector

import "context"

// Package vector provides knowledge retrieval for the augmented pipeline.
//
// Responsibilities:
//   - Hold runbook and api-spec knowledge chunks
//   - Rank chunks for a query vector and return the top k
//   - Load chunks from a YAML seed file at startup
//
// Ranking:
//   Chunks indexed with a curated relevance score keep that score. Chunks
//   indexed without one are scored by cosine similarity between the query
//   vector and the chunk's embedding. Results are ordered by descending
//   score; ties keep index order.
//
// Seed file format:
//
//   chunks:
//     - source: knowledge/runbooks/cancel-case-runbook.md
//       type: runbook
//       score: 0.95
//       content: "To cancel a case, ..."
//
// When no seed file is configured the built-in case-management chunks are
// used.

// Chunk is one retrievable piece of knowledge.
type Chunk struct {
	ID      string  `yaml:"id,omitempty" json:"id,omitempty"`
	Content string  `yaml:"content" json:"content"`
	Source  string  `yaml:"source" json:"source"`
	Type    string  `yaml:"type" json:"type"`
	Score   float64 `yaml:"score,omitempty" json:"score"`
}

// Stats describes the store contents.
type Stats struct {
	Backend    string         `json:"backend"`
	TotalItems int            `json:"total_items"`
	TypeCounts map[string]int `json:"type_counts"`
}

// VectorStore defines the interface for knowledge retrieval.
type VectorStore interface {
	// Search returns at most k chunks ranked for the query vector.
	Search(ctx context.Context, queryVec []float32, k int) ([]Chunk, error)

	// Index adds a chunk. Chunks without a curated score are embedded so
	// they can be ranked by similarity.
	Index(ctx context.Context, chunk Chunk) error

	// IsAvailable checks if the store can serve searches.
	IsAvailable(ctx context.Context) (bool, error)

	// GetStats returns store statistics.
	GetStats(ctx context.Context) (Stats, error)
}

// The concrete implementation is in store_impl.go.
