// Package embed defines the embedding provider abstraction. The memory
// layer itself never calls a model API; it receives an Embedder and treats
// embeddings as opaque vectors.
package embed

import "context"

// Embedder generates embedding vectors from text content.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of embedding vectors.
	Dimension() int

	// Model returns the name of the embedding model being used.
	Model() string
}

// Reranker reorders candidate documents by relevance to a query. It is an
// optional collaborator; search results are usable without one.
type Reranker interface {
	// Rerank returns one relevance score per document, aligned by index.
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}
