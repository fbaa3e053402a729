// Package vector defines the vector store boundary used for fragment
// storage and similarity search.
package vector

import "context"

// Record is one indexed fragment with its embedding and metadata.
type Record struct {
	ID      string
	Vector  []float32
	Text    string
	URL     string
	Title   string
	Ordinal int
}

// Match is a retrieved record with its similarity score.
type Match struct {
	Record
	Score float32
}

// Store persists fragment vectors grouped by namespace. Upserting a record
// whose ID already exists replaces it, so re-indexing a page is idempotent.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	// Query returns up to k records nearest to vec, best first.
	Query(ctx context.Context, namespace string, vec []float32, k int) ([]Match, error)
	// Count reports the number of records in a namespace.
	Count(ctx context.Context, namespace string) (int, error)
}
