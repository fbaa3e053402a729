// Package gemini adapts the Google generative AI client to embed.Embedder.
package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"

	"github.com/sitesage/sitesage/internal/embed"
)

// Embedder produces embeddings via the Gemini embedding API.
type Embedder struct {
	client *genai.Client
	model  string
}

var _ embed.Embedder = (*Embedder)(nil)

// New creates an Embedder on a shared genai client.
func New(client *genai.Client, model string) *Embedder {
	return &Embedder{client: client, model: model}
}

// EmbedBatch embeds texts in a single batched call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("batch embed contents: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(res.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("embed content: empty response")
	}
	return res.Embedding.Values, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}
