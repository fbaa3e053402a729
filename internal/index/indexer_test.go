package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/chunk"
	"github.com/sitesage/sitesage/internal/clock"
	"github.com/sitesage/sitesage/internal/kv"
	kvmemory "github.com/sitesage/sitesage/internal/kv/memory"
	"github.com/sitesage/sitesage/internal/vector"
	vecmemory "github.com/sitesage/sitesage/internal/vector/memory"
)

// fakeEmbedder returns a fixed-length vector per text. failTexts makes
// batches containing those texts fail.
type fakeEmbedder struct {
	mu        sync.Mutex
	model     string
	calls     int
	failTexts map[string]bool
}

func newFakeEmbedder(model string) *fakeEmbedder {
	return &fakeEmbedder{model: model, failTexts: make(map[string]bool)}
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if e.failTexts[text] {
			return nil, errors.New("embedding provider rejected batch")
		}
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (e *fakeEmbedder) Model() string { return e.model }

func newTestIndexer(t *testing.T, embedder *fakeEmbedder, store vector.Store, kvStore kv.Store, cfg Config) *Indexer {
	t.Helper()
	chunker, err := chunk.New(40, 10)
	require.NoError(t, err)
	ix := New(chunker, embedder, store, kvStore, cfg, zap.NewNop())
	// Retries would only slow the failure cases down here.
	ix.retry.MaxAttempts = 1
	return ix
}

func TestIndexPageUpsertsAllFragments(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(1000, 0))
	store := vecmemory.New()
	embedder := newFakeEmbedder("model-a")
	ix := newTestIndexer(t, embedder, store, kvmemory.New(clk), Config{BatchSize: 2})

	text := strings.Repeat("sitesage indexes documentation pages. ", 10)
	n, err := ix.IndexPage(context.Background(), "docs", "https://example.com/a", "Docs", text)
	require.NoError(t, err)
	require.Positive(t, n)

	count, err := store.Count(context.Background(), "docs")
	require.NoError(t, err)
	require.Equal(t, n, count)
}

func TestIndexPartialBatchFailure(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(1000, 0))
	store := vecmemory.New()
	embedder := newFakeEmbedder("model-a")
	embedder.failTexts["bad"] = true
	ix := newTestIndexer(t, embedder, store, kvmemory.New(clk), Config{BatchSize: 1, Concurrency: 1})

	frags := []chunk.Fragment{
		{ID: "f0", URL: "https://example.com/a", Ordinal: 0, Text: "good one"},
		{ID: "f1", URL: "https://example.com/a", Ordinal: 1, Text: "bad"},
		{ID: "f2", URL: "https://example.com/a", Ordinal: 2, Text: "good two"},
	}
	report, err := ix.Index(context.Background(), "docs", "Docs", frags)
	require.NoError(t, err, "one failed batch must not abort the rest")
	require.Equal(t, 2, report.Upserted)
	require.Len(t, report.Failed, 1)
	require.Equal(t, 1, report.Failed[0].Fragments)
	require.Contains(t, report.Failed[0].Reason, "rejected")
}

func TestIndexPageAllBatchesFailedIsError(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(1000, 0))
	embedder := newFakeEmbedder("model-a")
	ix := newTestIndexer(t, embedder, vecmemory.New(), kvmemory.New(clk), Config{BatchSize: 64})

	embedder.failTexts["unembeddable"] = true
	_, err := ix.IndexPage(context.Background(), "docs", "https://example.com/a", "Docs", "unembeddable")
	require.Error(t, err)
	require.Contains(t, err.Error(), "all 1 batches failed")
}

func TestIndexEmptyFragmentsNoop(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(1000, 0))
	embedder := newFakeEmbedder("model-a")
	ix := newTestIndexer(t, embedder, vecmemory.New(), kvmemory.New(clk), Config{})

	report, err := ix.Index(context.Background(), "docs", "Docs", nil)
	require.NoError(t, err)
	require.Zero(t, report.Upserted)
	require.Zero(t, embedder.calls)
}

func TestEmbeddingSpaceGuard(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(1000, 0))
	kvStore := kvmemory.New(clk)
	store := vecmemory.New()

	frags := []chunk.Fragment{{ID: "f0", URL: "https://example.com/a", Text: "content"}}

	// First write pins the namespace to model-a.
	ixA := newTestIndexer(t, newFakeEmbedder("model-a"), store, kvStore, Config{})
	_, err := ixA.Index(context.Background(), "docs", "Docs", frags)
	require.NoError(t, err)

	// A different model is refused.
	ixB := newTestIndexer(t, newFakeEmbedder("model-b"), store, kvStore, Config{})
	_, err = ixB.Index(context.Background(), "docs", "Docs", frags)
	require.ErrorIs(t, err, ErrEmbeddingSpaceMismatch)

	// The pinned model keeps working, and another namespace is independent.
	_, err = ixA.Index(context.Background(), "docs", "Docs", frags)
	require.NoError(t, err)
	_, err = ixB.Index(context.Background(), "other", "Docs", frags)
	require.NoError(t, err)
}

// brokenKV simulates a KV outage.
type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (brokenKV) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}
func (brokenKV) Delete(context.Context, string) error { return errors.New("down") }
func (brokenKV) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("down")
}

func TestEmbeddingSpaceGuardSkippedOnKVOutage(t *testing.T) {
	t.Parallel()

	ix := newTestIndexer(t, newFakeEmbedder("model-a"), vecmemory.New(), brokenKV{}, Config{})
	frags := []chunk.Fragment{{ID: "f0", URL: "https://example.com/a", Text: "content"}}

	report, err := ix.Index(context.Background(), "docs", "Docs", frags)
	require.NoError(t, err, "the guard is advisory; a KV outage must not block indexing")
	require.Equal(t, 1, report.Upserted)
}
