// Package embed defines the embedding provider boundary.
package embed

import "context"

// Embedder maps text into the vector space used by the index. All fragments
// and queries for a namespace must go through the same model.
type Embedder interface {
	// EmbedBatch embeds texts in order; the result has one vector per input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding model, used to guard namespaces
	// against mixed vector spaces.
	Model() string
}
