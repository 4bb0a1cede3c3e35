// Package queue implements the Hybrid URL Queue: a bounded in-memory
// FIFO that transparently spills to disk and reloads, coordinates
// producers and consumers, tracks task completion, and persists
// pending work on shutdown.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-linkstore/cache"
	"github.com/joeycumines/go-linkstore/dlog"
	"github.com/joeycumines/go-linkstore/record"
	"github.com/joeycumines/go-linkstore/store"
)

const (
	// DefaultMemoryBufferSize caps the number of unsolved items held in
	// the in-memory FIFO before new puts overflow to staging.
	DefaultMemoryBufferSize = 5000
	// DefaultBatchLoadSize is the number of rows pulled from the store
	// in one reload when the memory FIFO empties.
	DefaultBatchLoadSize = 500
	// DefaultOverflowCheckInterval is the overflow-staging size that
	// triggers a flush to the store.
	DefaultOverflowCheckInterval = 100
)

var (
	// ErrShutdown is returned by Get when the queue has been shut down
	// and there is nothing left to serve.
	ErrShutdown = errors.New("queue: shut down")
	// ErrEmpty is returned by Get(timeout) when the deadline passes with
	// nothing available.
	ErrEmpty = errors.New("queue: empty")
	// ErrTimeout is returned by Join(timeout) when the deadline passes
	// before unfinished reaches zero.
	ErrTimeout = errors.New("queue: timeout")
	// ErrInvariantViolation is panicked with (never returned) when a
	// caller violates the task-counting contract: TaskDone called more
	// times than outstanding work, or unfinished would go negative.
	ErrInvariantViolation = errors.New("queue: invariant violation")
)

type (
	// Rebuilder reconstructs a domain record.URL from a row reloaded
	// from the store. The queue cannot do this itself: it has no
	// knowledge of crawler context. hint is an opaque passthrough value
	// supplied by the caller of Get; implementations not needing it may
	// ignore it.
	Rebuilder func(ctx context.Context, row record.StoredRow, hint any) (*record.URL, error)

	// Config carries optional Queue construction parameters.
	Config struct {
		// MemoryBufferSize caps the in-memory FIFO. Defaults to
		// DefaultMemoryBufferSize.
		MemoryBufferSize int
		// BatchLoadSize is the batch size for store reloads. Defaults to
		// DefaultBatchLoadSize.
		BatchLoadSize int
		// OverflowCheckInterval is the staging flush threshold. Defaults
		// to DefaultOverflowCheckInterval.
		OverflowCheckInterval int
		// MaxNumURLs bounds total admissions across the queue's lifetime;
		// nil means unbounded.
		MaxNumURLs *int
		// Rebuild reconstructs records reloaded from disk. Required
		// when the queue has a store.
		Rebuild Rebuilder
		// Logger receives a warning for each row whose rebuild fails.
		// Defaults to dlog.Discard{}.
		Logger dlog.Logger
	}

	// Queue is the Hybrid URL Queue.
	Queue struct {
		store *store.Store
		cache *cache.Cache
		log   dlog.Logger

		memoryBufferSize      int
		batchLoadSize         int
		overflowCheckInterval int
		quotaRemaining        *int
		rebuild               Rebuilder

		mu       sync.Mutex
		memQueue []*record.URL
		overflow []*record.URL

		sqlitePending int
		finished      int
		inProgress    int
		unfinished    int

		shutdown bool

		// notEmpty is closed and replaced whenever a put (or a
		// shutdown) might let a blocked Get proceed; a broadcast
		// idiom built from a channel rather than sync.Cond, so waits
		// compose with context cancellation and timers in a select.
		notEmpty chan struct{}
		// allDone is closed and replaced whenever unfinished reaches
		// zero, waking every blocked Join.
		allDone chan struct{}
	}
)

// New constructs a Queue backed by s and c. cfg.Rebuild must be set
// when s is non-nil. Pending rows already in s (from a resumed run) are
// counted as queued work, so Get reloads and serves them.
func New(s *store.Store, c *cache.Cache, cfg *Config) (*Queue, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if s != nil && cfg.Rebuild == nil {
		return nil, fmt.Errorf("queue: Config.Rebuild is required")
	}

	q := &Queue{
		store:                 s,
		cache:                 c,
		log:                   dlog.Or(cfg.Logger),
		memoryBufferSize:      DefaultMemoryBufferSize,
		batchLoadSize:         DefaultBatchLoadSize,
		overflowCheckInterval: DefaultOverflowCheckInterval,
		rebuild:               cfg.Rebuild,
		notEmpty:              make(chan struct{}),
		allDone:               make(chan struct{}),
	}
	if cfg.MemoryBufferSize > 0 {
		q.memoryBufferSize = cfg.MemoryBufferSize
	}
	if cfg.BatchLoadSize > 0 {
		q.batchLoadSize = cfg.BatchLoadSize
	}
	if cfg.OverflowCheckInterval > 0 {
		q.overflowCheckInterval = cfg.OverflowCheckInterval
	}
	if cfg.MaxNumURLs != nil {
		n := *cfg.MaxNumURLs
		q.quotaRemaining = &n
	}
	if s != nil {
		stats, err := s.Stats(context.Background())
		if err != nil {
			return nil, fmt.Errorf("queue: count pending rows: %w", err)
		}
		q.sqlitePending = stats.Pending
		q.unfinished = stats.Pending
	}
	// allDone starts closed only with zero unfinished work, so Join does
	// not block.
	if q.unfinished == 0 {
		close(q.allDone)
	}

	return q, nil
}

// wakeNotEmpty broadcasts to every Get blocked on notEmpty. Must be
// called while holding mu.
func (q *Queue) wakeNotEmpty() {
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
}

// syncAllDone closes allDone (if not already closed for the current
// unfinished==0 epoch) once unfinished reaches zero, and reopens it
// (a fresh channel) if work arrives after a done epoch. Must be
// called while holding mu.
func (q *Queue) syncAllDone() {
	select {
	case <-q.allDone:
		// already in the "done" epoch
		if q.unfinished == 0 {
			return
		}
		// work arrived again: start a fresh, open epoch
		q.allDone = make(chan struct{})
	default:
		if q.unfinished == 0 {
			close(q.allDone)
		}
	}
}

// Put admits rec into the queue. Silently dropped if the queue is shut
// down, the quota is exhausted, or the Result Cache already has the
// fingerprint (including a placeholder). Records carrying a
// pre-computed Result are prepended so consumers see them immediately;
// all others require a non-empty Fingerprint.
func (q *Queue) Put(ctx context.Context, rec *record.URL) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return nil
	}
	if q.quotaRemaining != nil && *q.quotaRemaining <= 0 {
		return nil
	}
	if q.cache.Has(rec.Fingerprint) {
		return nil
	}

	if rec.Result != nil {
		q.memQueue = append([]*record.URL{rec}, q.memQueue...)
		if rec.Fingerprint != "" {
			if err := q.cache.Add(ctx, rec.Fingerprint, nil); err != nil {
				return fmt.Errorf("queue: put: %w", err)
			}
		}
		q.unfinished++
		q.syncAllDone()
		q.wakeNotEmpty()
		return nil
	}

	if rec.Fingerprint == "" {
		return fmt.Errorf("queue: put: record has no fingerprint")
	}

	if q.quotaRemaining != nil {
		*q.quotaRemaining--
	}

	if q.store == nil || len(q.memQueue) < q.memoryBufferSize {
		// With no Durable Store there is nowhere to overflow to: the
		// in-memory queue runs unbounded, matching the original's
		// non-persistent mode.
		q.memQueue = append(q.memQueue, rec)
	} else {
		q.overflow = append(q.overflow, rec)
		if len(q.overflow) >= q.overflowCheckInterval {
			if err := q.flushOverflowLocked(ctx); err != nil {
				return err
			}
		}
	}

	if err := q.cache.Add(ctx, rec.Fingerprint, nil); err != nil {
		return fmt.Errorf("queue: put: %w", err)
	}

	q.unfinished++
	q.syncAllDone()
	q.wakeNotEmpty()
	return nil
}

// flushOverflowLocked persists every record in overflow in a single
// batch, incrementing sqlitePending by the number actually inserted
// (duplicates, impossible here since Put already deduplicated via the
// cache, are defensive only). Must be called while holding mu.
func (q *Queue) flushOverflowLocked(ctx context.Context) error {
	if len(q.overflow) == 0 {
		return nil
	}
	batch := make([]record.URL, len(q.overflow))
	for i, r := range q.overflow {
		batch[i] = *r
	}
	added, err := q.store.EnqueueBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("queue: flush overflow: %w", err)
	}
	q.sqlitePending += added
	q.overflow = q.overflow[:0]
	return nil
}

// Get blocks until a record is available, the queue shuts down, or
// timeout elapses. A nil timeout blocks indefinitely. A negative
// timeout is a programmer error. On timeout with nothing available,
// ErrEmpty is returned; after Shutdown with nothing left, ErrShutdown
// is returned.
func (q *Queue) Get(ctx context.Context, timeout *time.Duration, hint any) (*record.URL, error) {
	if timeout != nil && *timeout < 0 {
		return nil, fmt.Errorf("queue: get: negative timeout")
	}

	var deadlineCh <-chan time.Time
	var timer *time.Timer
	if timeout != nil {
		timer = time.NewTimer(*timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	for {
		rec, waitCh, shutdownEmpty, err := q.tryGet(ctx, hint)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
		if shutdownEmpty {
			return nil, ErrShutdown
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCh:
			continue
		case <-deadlineCh:
			return nil, ErrEmpty
		}
	}
}

// tryGet attempts one non-blocking pass: flush overflow, reload from
// disk if memory is empty, then pop the head. It returns the channel a
// caller should wait on if nothing was available yet.
func (q *Queue) tryGet(ctx context.Context, hint any) (*record.URL, chan struct{}, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.memQueue) == 0 && len(q.overflow) > 0 {
		if err := q.flushOverflowLocked(ctx); err != nil {
			return nil, nil, false, err
		}
	}

	for len(q.memQueue) == 0 && q.sqlitePending > 0 {
		if err := q.reloadBatchLocked(ctx, hint); err != nil {
			return nil, nil, false, err
		}
	}

	if len(q.memQueue) > 0 {
		rec := q.memQueue[0]
		q.memQueue = q.memQueue[1:]
		q.inProgress++
		return rec, nil, false, nil
	}

	if q.shutdown {
		return nil, nil, true, nil
	}

	return nil, q.notEmpty, false, nil
}

// reloadBatchLocked pulls one batch of pending rows from the store. For
// every row the Result Cache already has a real result for, the row is
// finalised without reaching a consumer. Otherwise it is rebuilt via
// the injected Rebuilder; rebuild failures are logged and the row is
// dropped for this cycle (it stays in_progress until the next
// ResetInProgress). Must be called while holding mu.
func (q *Queue) reloadBatchLocked(ctx context.Context, hint any) error {
	rows, err := q.store.Dequeue(ctx, q.batchLoadSize)
	if err != nil {
		return fmt.Errorf("queue: reload batch: %w", err)
	}
	if len(rows) == 0 {
		// store disagrees with our counter; nothing left to load.
		q.sqlitePending = 0
		return nil
	}

	for _, row := range rows {
		q.sqlitePending--

		result, err := q.cache.HasNonEmpty(ctx, row.Fingerprint)
		if err != nil {
			return fmt.Errorf("queue: reload batch: %w", err)
		}
		if result != nil {
			if err := q.store.MarkDone(ctx, row.ID); err != nil {
				return fmt.Errorf("queue: reload batch: mark done: %w", err)
			}
			q.unfinished--
			q.syncAllDone()
			continue
		}

		rec, err := q.rebuild(ctx, row, hint)
		if err != nil {
			q.log.WithError(err).WithField("row_id", row.ID).Warn("queue: rebuild failed, dropping row for this cycle")
			continue
		}
		rec.StoreRowID = row.ID
		q.memQueue = append(q.memQueue, rec)
	}
	return nil
}

// TaskDone marks one record's work complete. If rec carries a store
// row-id, the corresponding url_queue row is marked done. Calling
// TaskDone more times than outstanding work is a programmer error and
// panics.
func (q *Queue) TaskDone(ctx context.Context, rec *record.URL) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished <= 0 {
		panic(fmt.Errorf("%w: task_done called too many times", ErrInvariantViolation))
	}

	q.finished++
	q.unfinished--
	if q.inProgress > 0 {
		q.inProgress--
	}

	if rec.StoreRowID != 0 {
		if err := q.store.MarkDone(ctx, rec.StoreRowID); err != nil {
			return fmt.Errorf("queue: task done: %w", err)
		}
	}

	q.syncAllDone()
	return nil
}

// Join blocks until unfinished reaches zero or timeout elapses. A nil
// timeout blocks indefinitely.
func (q *Queue) Join(ctx context.Context, timeout *time.Duration) error {
	if timeout != nil && *timeout < 0 {
		return fmt.Errorf("queue: join: negative timeout")
	}

	q.mu.Lock()
	done := q.allDone
	unfinished := q.unfinished
	q.mu.Unlock()

	if unfinished == 0 {
		return nil
	}

	var deadlineCh <-chan time.Time
	if timeout != nil {
		timer := time.NewTimer(*timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-deadlineCh:
		return ErrTimeout
	}
}

// Shutdown persists every still-unsolved item (overflow staging, then
// the memory FIFO routed through the overflow path) and stops further
// admission. Already-solved (synthetic) items already in the memory
// FIFO are left in place rather than persisted — the store has no field
// for their inline Result — so they remain servable to a consumer that keeps
// draining after shutdown, but are lost on a crash. The post-shutdown
// unfinished count only reflects records currently held by active
// workers between Get and TaskDone, plus any such surviving solved
// items: every row counted in sqlitePending, whether flushed earlier or
// by this call, is subtracted from unfinished.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return nil
	}

	if err := q.flushOverflowLocked(ctx); err != nil {
		return err
	}

	var kept []*record.URL
	for _, rec := range q.memQueue {
		if rec.Result != nil {
			kept = append(kept, rec)
			continue
		}
		q.overflow = append(q.overflow, rec)
	}
	q.memQueue = kept
	if err := q.flushOverflowLocked(ctx); err != nil {
		return err
	}
	persisted := q.sqlitePending

	if persisted > q.unfinished {
		panic(fmt.Errorf("%w: shutdown persisted more records than were unfinished", ErrInvariantViolation))
	}
	q.unfinished -= persisted

	q.shutdown = true
	q.syncAllDone()
	q.wakeNotEmpty()
	return nil
}

// Stats reports the queue's in-memory counters.
type Stats struct {
	Size          int
	SqlitePending int
	Finished      int
	InProgress    int
	Unfinished    int
}

// Size returns len(memQueue) + len(overflow) + sqlitePending.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.memQueue) + len(q.overflow) + q.sqlitePending
}

// Stats returns a snapshot of every in-memory counter.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Size:          len(q.memQueue) + len(q.overflow) + q.sqlitePending,
		SqlitePending: q.sqlitePending,
		Finished:      q.finished,
		InProgress:    q.inProgress,
		Unfinished:    q.unfinished,
	}
}
