// Package retrieve answers similarity searches over indexed fragments.
package retrieve

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/embed"
	"github.com/sitesage/sitesage/internal/vector"
)

// Retriever embeds a query and finds its nearest fragments.
type Retriever struct {
	embedder embed.Embedder
	store    vector.Store
	logger   *zap.Logger
}

// New wires a Retriever.
func New(embedder embed.Embedder, store vector.Store, logger *zap.Logger) *Retriever {
	return &Retriever{embedder: embedder, store: store, logger: logger}
}

// Retrieve returns up to k fragments nearest to query, best score first,
// ties broken toward the later fragment on the page. A namespace with no
// matches yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, namespace, query string, k int) ([]vector.Match, error) {
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.store.Query(ctx, namespace, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Ordinal > matches[j].Ordinal
	})
	return matches, nil
}
