package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/txnsvc/cache"
	"ledger-platform/internal/txnsvc/store"
)

func newHarness(t *testing.T) *cache.Cache {
	t.Helper()
	server := miniredis.RunT(t)
	return cache.New(config.CacheConfig{Addr: server.Addr(), TTL: time.Minute})
}

func TestGetHistoryPage_Miss(t *testing.T) {
	c := newHarness(t)
	page, ok := c.GetHistoryPage(context.Background(), "acc-1", 0, 20, "desc")
	assert.False(t, ok)
	assert.Nil(t, page)
}

func TestPutThenGetHistoryPage_Hit(t *testing.T) {
	c := newHarness(t)
	ctx := context.Background()
	want := &store.Page{TotalItems: 1}

	c.PutHistoryPage(ctx, "acc-1", 0, 20, "desc", want)

	got, ok := c.GetHistoryPage(ctx, "acc-1", 0, 20, "desc")
	require.True(t, ok)
	assert.Equal(t, want.TotalItems, got.TotalItems)
}

func TestInvalidateAll_EvictsEveryPage(t *testing.T) {
	c := newHarness(t)
	ctx := context.Background()
	c.PutHistoryPage(ctx, "acc-1", 0, 20, "desc", &store.Page{TotalItems: 1})
	c.PutHistoryPage(ctx, "acc-2", 0, 20, "desc", &store.Page{TotalItems: 2})

	c.InvalidateAll(ctx)

	_, ok := c.GetHistoryPage(ctx, "acc-1", 0, 20, "desc")
	assert.False(t, ok)
	_, ok = c.GetHistoryPage(ctx, "acc-2", 0, 20, "desc")
	assert.False(t, ok)
}

func TestPing(t *testing.T) {
	c := newHarness(t)
	assert.NoError(t, c.Ping(context.Background()))
}
