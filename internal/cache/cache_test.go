package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/clock"
	kvmemory "github.com/sitesage/sitesage/internal/kv/memory"
)

func TestKeyNormalizesInput(t *testing.T) {
	t.Parallel()

	base := Key("query", "docs", "sess-1", "How do I install?")
	require.Equal(t, base, Key("query", "docs", "sess-1", "how   do I \n install?"))
	require.Equal(t, base, Key("query", "docs", "sess-1", "HOW DO I INSTALL?"))

	require.NotEqual(t, base, Key("query", "docs", "sess-1", "how do I uninstall?"))
	require.NotEqual(t, base, Key("query", "other", "sess-1", "how do I install?"))
	require.NotEqual(t, base, Key("query", "docs", "sess-2", "how do I install?"))
}

func TestGetPutRoundTrip(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(1000, 0))
	c := New(kvmemory.New(clk), 5*time.Minute, zap.NewNop())
	ctx := context.Background()

	key := Key("query", "docs", "sess-1", "question")
	_, ok := c.Get(ctx, key)
	require.False(t, ok)

	c.Put(ctx, key, []byte(`{"answer":"yes"}`))
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	require.Equal(t, []byte(`{"answer":"yes"}`), got)
}

func TestEntriesExpire(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(1000, 0))
	c := New(kvmemory.New(clk), 5*time.Minute, zap.NewNop())
	ctx := context.Background()

	key := Key("query", "docs", "sess-1", "question")
	c.Put(ctx, key, []byte("value"))

	clk.Advance(6 * time.Minute)
	_, ok := c.Get(ctx, key)
	require.False(t, ok)
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

func TestOutageDegradesToMiss(t *testing.T) {
	t.Parallel()

	c := New(brokenKV{}, time.Minute, zap.NewNop())
	ctx := context.Background()

	_, ok := c.Get(ctx, "cache:any")
	require.False(t, ok)

	// Put must not panic or propagate the failure.
	c.Put(ctx, "cache:any", []byte("value"))
}
