package vectorstore

import "context"

// VectorStore is a technology-agnostic interface for vector similarity search
// over indexed craft tutorials.
type VectorStore interface {
	// Search performs vector similarity search with optional filtering.
	Search(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]SearchResult, error)

	// Close releases any resources held by the vector store.
	Close() error
}

// SearchFilter defines filtering options for vector search.
type SearchFilter struct {
	// Kinds restricts results to these payload kinds (e.g. "video", "article").
	Kinds []string

	// Metadata filters results by exact payload key-value pairs.
	Metadata map[string]any

	// MinScore drops results below this similarity threshold (0.0-1.0).
	MinScore float32
}

// SearchResult represents a single indexed tutorial.
type SearchResult struct {
	ID    string
	Score float32 // higher is more similar

	Title   string
	URL     string
	Kind    string
	Content string

	// Metadata holds every other payload field.
	Metadata map[string]any
}
