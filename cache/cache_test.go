package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/joeycumines/go-linkstore/record"
	"github.com/joeycumines/go-linkstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) (*Cache, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkstore.db")
	s, err := store.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c, err := New(context.Background(), s, nil)
	require.NoError(t, err)
	return c, s
}

func TestCache_AddPlaceholderThenGet(t *testing.T) {
	c, _ := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "fp-1", nil))

	assert.True(t, c.Has("fp-1"))
	hne, err := c.HasNonEmpty(ctx, "fp-1")
	require.NoError(t, err)
	assert.Nil(t, hne)

	got, err := c.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, c.Len())
}

func TestCache_AddRealResult(t *testing.T) {
	c, _ := openTestCache(t)
	ctx := context.Background()

	result := &record.CheckResult{URL: "https://example.com", Valid: record.Valid, Result: "200"}
	require.NoError(t, c.Add(ctx, "fp-1", result))

	assert.True(t, c.Has("fp-1"))
	assert.Equal(t, 1, c.Len())

	got, err := c.HasNonEmpty(ctx, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "200", got.Result)

	got2, err := c.Get(ctx, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, "200", got2.Result)
}

func TestCache_GetMissFallsThroughToStore(t *testing.T) {
	c, s := openTestCache(t)
	ctx := context.Background()

	// written directly to the store, bypassing the LRU
	require.NoError(t, s.AddResult(ctx, "fp-1", &record.CheckResult{Valid: record.Valid, Result: "200"}))

	got, err := c.Get(ctx, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "200", got.Result)
}

func TestCache_HasNonEmptyFallsThroughToStore(t *testing.T) {
	c, s := openTestCache(t)
	ctx := context.Background()

	// written directly to the store, bypassing the LRU entirely: this
	// is the shape of a real result from a prior run, surviving a
	// restart into a cold cache.
	require.NoError(t, s.AddResult(ctx, "fp-1", &record.CheckResult{Valid: record.Valid, Result: "200"}))

	got, err := c.HasNonEmpty(ctx, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "200", got.Result)
}

func TestCache_HasUnknownFingerprint(t *testing.T) {
	c, _ := openTestCache(t)
	assert.False(t, c.Has("never-seen"))
	got, err := c.HasNonEmpty(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_HydratesFromExistingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkstore.db")
	s, err := store.Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.AddResult(ctx, "fp-real", &record.CheckResult{Valid: record.Valid, Result: "200"}))
	require.NoError(t, s.AddResult(ctx, "fp-placeholder", nil))

	c, err := New(ctx, s, nil)
	require.NoError(t, err)

	assert.True(t, c.Has("fp-real"))
	assert.True(t, c.Has("fp-placeholder"))
	assert.Equal(t, 1, c.Len())
}

func TestCache_AddUpdatesKnownBeforeReturning(t *testing.T) {
	c, _ := openTestCache(t)
	assert.False(t, c.Has("fp-1"))
	require.NoError(t, c.Add(context.Background(), "fp-1", nil))
	assert.True(t, c.Has("fp-1"))
}
