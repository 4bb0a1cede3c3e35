package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/go-linkstore/cache"
	"github.com/joeycumines/go-linkstore/record"
	"github.com/joeycumines/go-linkstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityRebuilder reconstructs a record.URL using only what a
// record.StoredRow already carries, which is all these tests need.
func identityRebuilder(ctx context.Context, row record.StoredRow, hint any) (*record.URL, error) {
	return &record.URL{
		URL:         row.URL,
		Fingerprint: row.Fingerprint,
	}, nil
}

func openTestQueue(t *testing.T, cfg *Config) (*Queue, *store.Store, *cache.Cache) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkstore.db")
	s, err := store.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c, err := cache.New(context.Background(), s, nil)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Rebuild == nil {
		cfg.Rebuild = identityRebuilder
	}
	q, err := New(s, c, cfg)
	require.NoError(t, err)
	return q, s, c
}

func recOf(i int) *record.URL {
	return &record.URL{
		URL:         fmt.Sprintf("https://example.com/%d", i),
		Fingerprint: fmt.Sprintf("fp-%d", i),
	}
}

func TestQueue_MemoryOnlyPath(t *testing.T) {
	q, _, c := openTestQueue(t, nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Put(ctx, recOf(i)))
	}

	for i := 0; i < 100; i++ {
		rec, err := q.Get(ctx, nil, nil)
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.NoError(t, q.TaskDone(ctx, rec))
	}

	require.NoError(t, q.Join(ctx, nil))

	stats := q.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, 100, stats.Finished)
	assert.Equal(t, 0, c.Len(), "no real results were ever added")
	for i := 0; i < 100; i++ {
		assert.True(t, c.Has(fmt.Sprintf("fp-%d", i)))
	}
}

func TestQueue_OverflowPath(t *testing.T) {
	q, _, _ := openTestQueue(t, &Config{
		MemoryBufferSize:      5,
		OverflowCheckInterval: 3,
		BatchLoadSize:         100,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Put(ctx, recOf(i)))
	}

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		rec, err := q.Get(ctx, nil, nil)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.False(t, seen[rec.Fingerprint], "no duplicate delivery")
		seen[rec.Fingerprint] = true
		require.NoError(t, q.TaskDone(ctx, rec))
	}
	assert.Len(t, seen, 10)
}

func TestQueue_DuplicateSuppression(t *testing.T) {
	q, s, c := openTestQueue(t, nil)
	ctx := context.Background()

	rec := &record.URL{URL: "https://example.com/dup", Fingerprint: "F"}
	require.NoError(t, q.Put(ctx, rec))
	sizeAfterFirst := q.Size()

	require.NoError(t, q.Put(ctx, rec))
	assert.Equal(t, sizeAfterFirst, q.Size(), "second put of the same fingerprint is a no-op")

	got, err := q.Get(ctx, nil, nil)
	require.NoError(t, err)
	require.NoError(t, q.TaskDone(ctx, got))

	require.NoError(t, c.Add(ctx, "F", &record.CheckResult{Valid: record.Valid, Result: "200"}))
	require.NoError(t, q.Put(ctx, rec))
	assert.Equal(t, 0, q.Size(), "put after a real result exists is also a no-op")

	_ = s // keep s referenced for potential future assertions
}

func TestQueue_Resume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkstore.db")
	s, err := store.Open(path, nil)
	require.NoError(t, err)

	ctx := context.Background()
	c, err := cache.New(ctx, s, nil)
	require.NoError(t, err)
	q, err := New(s, c, &Config{Rebuild: identityRebuilder, MemoryBufferSize: 1, BatchLoadSize: 1, OverflowCheckInterval: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Put(ctx, recOf(i)))
	}
	require.NoError(t, q.Shutdown(ctx))

	rec, err := q.Get(ctx, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)

	// simulate crash: drop the queue object, keep the file
	require.NoError(t, s.Close())

	s2, err := store.Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	resetCount, err := s2.ResetInProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resetCount, "BatchLoadSize: 1 means reloadBatchLocked marks exactly the consumed row in_progress")

	stats, err := s2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 0, stats.InProgress)
	assert.Equal(t, 0, stats.Done)

	has, err := s2.HasResult(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.False(t, has, "the in-flight placeholder must be cleared by reset")
}

func TestQueue_ShutdownPreservation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkstore.db")
	s, err := store.Open(path, nil)
	require.NoError(t, err)

	ctx := context.Background()
	c, err := cache.New(ctx, s, nil)
	require.NoError(t, err)
	q, err := New(s, c, &Config{
		Rebuild:               identityRebuilder,
		MemoryBufferSize:      5,
		OverflowCheckInterval: 100,
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, q.Put(ctx, recOf(i)))
	}

	require.NoError(t, q.Shutdown(ctx))
	require.NoError(t, s.Close())

	s2, err := store.Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	stats, err := s2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Pending)
	assert.Equal(t, 0, stats.InProgress)
	assert.Equal(t, 0, stats.Done)
}

func TestQueue_PlaceholderThenReal(t *testing.T) {
	q, _, c := openTestQueue(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "F", nil))
	assert.True(t, c.Has("F"))
	hne, err := c.HasNonEmpty(ctx, "F")
	require.NoError(t, err)
	assert.Nil(t, hne)
	assert.Equal(t, 0, c.Len())

	real := &record.CheckResult{
		Valid:    record.Valid,
		Warnings: []record.Warning{{Tag: "tag", Message: "msg"}},
	}
	require.NoError(t, c.Add(ctx, "F", real))
	got, err := c.HasNonEmpty(ctx, "F")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, c.Len())
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, "tag", got.Warnings[0].Tag)
	assert.Equal(t, "msg", got.Warnings[0].Message)

	_ = q
}

func TestQueue_Shutdown_SolvedSyntheticItemsSurviveInMemory(t *testing.T) {
	q, s, _ := openTestQueue(t, nil)
	ctx := context.Background()

	solved := &record.URL{
		URL:    "https://example.com/already-checked",
		Result: &record.CheckResult{Valid: record.Valid, Result: "200"},
	}
	require.NoError(t, q.Put(ctx, solved))
	require.NoError(t, q.Put(ctx, recOf(0)))

	require.NoError(t, q.Shutdown(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending, "only the unsolved record is persisted")

	rec, err := q.Get(ctx, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Same(t, solved, rec, "the solved item is still served from the in-memory FIFO, Result intact")
	assert.NotNil(t, rec.Result)
}

func TestQueue_GetTimeoutZeroWhenEmpty(t *testing.T) {
	q, _, _ := openTestQueue(t, nil)
	timeout := time.Duration(0)
	_, err := q.Get(context.Background(), &timeout, nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_GetNegativeTimeoutIsError(t *testing.T) {
	q, _, _ := openTestQueue(t, nil)
	timeout := -time.Second
	_, err := q.Get(context.Background(), &timeout, nil)
	assert.Error(t, err)
}

func TestQueue_PutAfterShutdownIsNoOp(t *testing.T) {
	q, _, _ := openTestQueue(t, nil)
	ctx := context.Background()
	require.NoError(t, q.Shutdown(ctx))
	require.NoError(t, q.Put(ctx, recOf(1)))
	assert.Equal(t, 0, q.Size())
}

func TestQueue_TaskDonePastZeroPanics(t *testing.T) {
	q, _, _ := openTestQueue(t, nil)
	ctx := context.Background()
	assert.Panics(t, func() {
		_ = q.TaskDone(ctx, recOf(1))
	})
}

func TestQueue_GetBlocksUntilPut(t *testing.T) {
	q, _, _ := openTestQueue(t, nil)
	ctx := context.Background()

	resultCh := make(chan *record.URL, 1)
	errCh := make(chan error, 1)
	go func() {
		rec, err := q.Get(ctx, nil, nil)
		resultCh <- rec
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Put(ctx, recOf(1)))

	select {
	case rec := <-resultCh:
		require.NoError(t, <-errCh)
		require.NotNil(t, rec)
		assert.Equal(t, "fp-1", rec.Fingerprint)
	case <-time.After(2 * time.Second):
		t.Fatal("Get never returned after a Put")
	}
}

func TestQueue_ShutdownWakesBlockedGet(t *testing.T) {
	q, _, _ := openTestQueue(t, nil)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Get(ctx, nil, nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("Get never woke up after Shutdown")
	}
}
