package convo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/clock"
	kvmemory "github.com/sitesage/sitesage/internal/kv/memory"
)

func newTestStore(ttl time.Duration) (*Store, *clock.Fake, *kvmemory.Store) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	kvStore := kvmemory.New(clk)
	return New(kvStore, clk, ttl, zap.NewNop()), clk, kvStore
}

func TestHistoryAbsentSessionIsEmpty(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(time.Hour)
	history, err := store.History(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestAppendAndHistoryKeepOrder(t *testing.T) {
	t.Parallel()

	store, clk, _ := newTestStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "sess-1",
		Message{Role: RoleUser, Content: "hello", Timestamp: clk.Now()},
		Message{Role: RoleAssistant, Content: "hi there", Timestamp: clk.Now()},
	))
	require.NoError(t, store.Append(ctx, "sess-1",
		Message{Role: RoleUser, Content: "second question", Timestamp: clk.Now()},
	))

	history, err := store.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, RoleUser, history[0].Role)
	require.Equal(t, "hello", history[0].Content)
	require.Equal(t, "hi there", history[1].Content)
	require.Equal(t, "second question", history[2].Content)
}

func TestSessionExpires(t *testing.T) {
	t.Parallel()

	store, clk, _ := newTestStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "sess-1", Message{Role: RoleUser, Content: "hello"}))

	clk.Advance(2 * time.Hour)
	history, err := store.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, history, "an expired session reads as empty, never an error")
}

func TestAppendSlidesTTL(t *testing.T) {
	t.Parallel()

	store, clk, _ := newTestStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "sess-1", Message{Role: RoleUser, Content: "first"}))
	clk.Advance(50 * time.Minute)
	require.NoError(t, store.Append(ctx, "sess-1", Message{Role: RoleUser, Content: "second"}))
	clk.Advance(50 * time.Minute)

	history, err := store.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, history, 2, "each append must extend the session's life")
}

func TestAutoTitleFromFirstUserMessage(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "sess-1",
		Message{Role: RoleUser, Content: "how do I configure the crawler?"},
		Message{Role: RoleAssistant, Content: "like this"},
	))

	meta, ok, err := store.Meta(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "how do I configure the crawler?", meta.Title)

	// The title is pinned to the first user message.
	require.NoError(t, store.Append(ctx, "sess-1", Message{Role: RoleUser, Content: "unrelated followup"}))
	meta, _, err = store.Meta(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "how do I configure the crawler?", meta.Title)
}

func TestAutoTitleTruncatesLongMessages(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(time.Hour)
	ctx := context.Background()

	long := strings.Repeat("ä", 80)
	require.NoError(t, store.Append(ctx, "sess-1", Message{Role: RoleUser, Content: long}))

	meta, ok, err := store.Meta(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("ä", 50)+"...", meta.Title)
}

func TestMetaTimestamps(t *testing.T) {
	t.Parallel()

	store, clk, _ := newTestStore(time.Hour)
	ctx := context.Background()

	created := clk.Now()
	require.NoError(t, store.Append(ctx, "sess-1", Message{Role: RoleUser, Content: "hello"}))
	clk.Advance(10 * time.Minute)
	require.NoError(t, store.Append(ctx, "sess-1", Message{Role: RoleUser, Content: "again"}))

	meta, ok, err := store.Meta(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, created, meta.CreatedAt)
	require.Equal(t, clk.Now(), meta.UpdatedAt)
}

func TestDeleteRemovesSessionAndMeta(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "sess-1", Message{Role: RoleUser, Content: "hello"}))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	history, err := store.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, history)

	_, ok, err := store.Meta(ctx, "sess-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHistoryDiscardsCorruptSession(t *testing.T) {
	t.Parallel()

	store, _, kvStore := newTestStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, kvStore.Set(ctx, "convo:msgs:sess-1", []byte("not json"), 0))
	history, err := store.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, history)
}
