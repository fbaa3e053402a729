// Package index writes chunked page text into the vector store: embed in
// bounded batches, upsert, and report partial failures without aborting the
// whole page.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sitesage/sitesage/internal/chunk"
	"github.com/sitesage/sitesage/internal/embed"
	"github.com/sitesage/sitesage/internal/kv"
	"github.com/sitesage/sitesage/internal/retry"
	"github.com/sitesage/sitesage/internal/vector"
)

// ErrEmbeddingSpaceMismatch indicates an attempt to index a namespace with a
// different embedding model than the one it was created with. Mixing vector
// spaces silently corrupts retrieval, so the write is refused.
var ErrEmbeddingSpaceMismatch = errors.New("index: namespace indexed with a different embedding model")

// BatchFailure describes one batch that could not be indexed.
type BatchFailure struct {
	Batch     int
	Fragments int
	Reason    string
}

// Report summarizes an indexing call.
type Report struct {
	Upserted int
	Failed   []BatchFailure
}

// Config bounds the indexer's batching and parallelism.
type Config struct {
	BatchSize   int
	Concurrency int
}

// Indexer chunks page text, embeds the fragments, and upserts them.
type Indexer struct {
	chunker  *chunk.Chunker
	embedder embed.Embedder
	store    vector.Store
	kv       kv.Store
	cfg      Config
	retry    retry.Policy
	logger   *zap.Logger
}

// New wires an Indexer.
func New(
	chunker *chunk.Chunker,
	embedder embed.Embedder,
	store vector.Store,
	kvStore kv.Store,
	cfg Config,
	logger *zap.Logger,
) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		kv:       kvStore,
		cfg:      cfg,
		retry:    retry.Default(),
		logger:   logger,
	}
}

// IndexPage chunks and indexes one page, returning the number of fragments
// upserted. Batch failures are logged and reported via the error only when
// nothing could be written.
func (ix *Indexer) IndexPage(ctx context.Context, namespace, pageURL, title, text string) (int, error) {
	frags := ix.chunker.Split(pageURL, text)
	report, err := ix.Index(ctx, namespace, title, frags)
	if err != nil {
		return report.Upserted, err
	}
	if report.Upserted == 0 && len(report.Failed) > 0 {
		return 0, fmt.Errorf("index page %s: all %d batches failed", pageURL, len(report.Failed))
	}
	return report.Upserted, nil
}

// Index embeds and upserts fragments in bounded, concurrently processed
// batches. Each batch retries independently; one failed batch never blocks
// the rest.
func (ix *Indexer) Index(ctx context.Context, namespace, title string, frags []chunk.Fragment) (Report, error) {
	if len(frags) == 0 {
		return Report{}, nil
	}
	if err := ix.guardEmbeddingSpace(ctx, namespace); err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Concurrency)

	for start, batchNum := 0, 0; start < len(frags); start, batchNum = start+ix.cfg.BatchSize, batchNum+1 {
		end := start + ix.cfg.BatchSize
		if end > len(frags) {
			end = len(frags)
		}
		batch := frags[start:end]
		num := batchNum
		g.Go(func() error {
			err := ix.retry.Do(gctx, func(ctx context.Context) error {
				return ix.indexBatch(ctx, namespace, title, batch)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, BatchFailure{
					Batch:     num,
					Fragments: len(batch),
					Reason:    err.Error(),
				})
				ix.logger.Warn("index batch failed",
					zap.String("namespace", namespace),
					zap.Int("batch", num),
					zap.Int("fragments", len(batch)),
					zap.Error(err),
				)
				return nil
			}
			report.Upserted += len(batch)
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, namespace, title string, batch []chunk.Fragment) error {
	texts := make([]string, len(batch))
	for i, f := range batch {
		texts[i] = f.Text
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embed batch: got %d vectors for %d fragments", len(vectors), len(batch))
	}
	records := make([]vector.Record, len(batch))
	for i, f := range batch {
		records[i] = vector.Record{
			ID:      f.ID,
			Vector:  vectors[i],
			Text:    f.Text,
			URL:     f.URL,
			Title:   title,
			Ordinal: f.Ordinal,
		}
	}
	if err := ix.store.Upsert(ctx, namespace, records); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

// guardEmbeddingSpace pins a namespace to the first embedding model that
// writes to it. The pin lives in the KV store; when the KV store is down the
// guard is skipped rather than blocking indexing.
func (ix *Indexer) guardEmbeddingSpace(ctx context.Context, namespace string) error {
	key := "ns:model:" + namespace
	current, err := ix.kv.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		if setErr := ix.kv.Set(ctx, key, []byte(ix.embedder.Model()), 0); setErr != nil {
			ix.logger.Warn("embedding space pin failed", zap.String("namespace", namespace), zap.Error(setErr))
		}
		return nil
	case err != nil:
		ix.logger.Warn("embedding space check failed", zap.String("namespace", namespace), zap.Error(err))
		return nil
	}
	if string(current) != ix.embedder.Model() {
		return fmt.Errorf("%w: namespace %q pinned to %q, embedder is %q",
			ErrEmbeddingSpaceMismatch, namespace, string(current), ix.embedder.Model())
	}
	return nil
}
