// Package cache implements the Result Cache: a two-tier fingerprint ->
// result-or-placeholder cache with a bounded in-memory LRU hot tier
// over the durable store's check_results table as its cold tier.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joeycumines/go-linkstore/dlog"
	"github.com/joeycumines/go-linkstore/record"
	"github.com/joeycumines/go-linkstore/store"
)

// DefaultSize is used when Config.Size is zero.
const DefaultSize = 10_000

type (
	// Config carries Cache construction parameters.
	Config struct {
		// Size bounds the in-memory LRU. Defaults to DefaultSize.
		Size int
		// Logger is kept on the Cache; no Cache method logs through it.
		// Defaults to dlog.Discard{}.
		Logger dlog.Logger
	}

	// Cache is the Result Cache: a bounded LRU of fingerprint ->
	// *record.CheckResult (a sentinel with Valid == record.Placeholder
	// represents a placeholder, since the LRU library cannot itself
	// represent a typed nil-with-presence) backed by a Store for
	// overflow and durability.
	Cache struct {
		store *store.Store
		log   dlog.Logger

		mu  sync.Mutex // serialises Get and Add, per spec
		lru *lru.Cache[string, *record.CheckResult]

		// known mirrors "has a row been written for fp" so Has can answer
		// without touching the LRU or the store. Go requires this to be
		// guarded explicitly (unlike the GIL-protected dict it mirrors),
		// so reads take knownMu.RLock and Add takes knownMu.Lock: still a
		// lock-free-in-spirit fast path, since concurrent Has calls never
		// block each other.
		knownMu sync.RWMutex
		known   map[string]struct{}

		resultCount atomic.Int64
	}
)

var placeholderResult = &record.CheckResult{Valid: record.Placeholder}

// New constructs a Cache backed by s, hydrating known and resultCount
// from the store's existing check_results rows so a resumed run's Has
// and Len are correct before a single Get or Add happens.
func New(ctx context.Context, s *store.Store, cfg *Config) (*Cache, error) {
	size := DefaultSize
	var logger dlog.Logger
	if cfg != nil {
		if cfg.Size > 0 {
			size = cfg.Size
		}
		logger = cfg.Logger
	}
	logger = dlog.Or(logger)

	l, err := lru.New[string, *record.CheckResult](size)
	if err != nil {
		return nil, fmt.Errorf("cache: new lru: %w", err)
	}

	c := &Cache{
		store: s,
		log:   logger,
		lru:   l,
		known: make(map[string]struct{}),
	}

	// s is nil for a purely in-memory run (no Durable Store tier); the
	// Cache then behaves exactly like the non-persistent variant spec.md
	// describes, with the LRU as its only storage.
	if s != nil {
		fingerprints, count, err := s.KnownFingerprints(ctx)
		if err != nil {
			return nil, fmt.Errorf("cache: hydrate known keys: %w", err)
		}
		for _, fp := range fingerprints {
			c.known[fp] = struct{}{}
		}
		c.resultCount.Store(int64(count))
	}

	return c, nil
}

// Get returns the completed record for fp, or nil if absent or only a
// placeholder exists. On an LRU miss it consults the store and, on a
// store hit, promotes the result into the LRU.
func (c *Cache) Get(ctx context.Context, fp string) (*record.CheckResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(fp); ok {
		if v.Valid == record.Placeholder {
			return nil, nil
		}
		return v, nil
	}

	if c.store == nil {
		return nil, nil
	}

	result, err := c.store.GetResult(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("cache: get %q: %w", fp, err)
	}
	if result == nil {
		return nil, nil
	}
	c.lru.Add(fp, result)
	return result, nil
}

// Add records value for fp: a nil value adds a placeholder; a non-nil
// value is the real, completed result. In both cases the store is
// updated durably and the LRU holds the same domain-shaped object the
// next Get would have produced, so callers see type-uniform results.
func (c *Cache) Add(ctx context.Context, fp string, value *record.CheckResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		if err := c.store.AddResult(ctx, fp, value); err != nil {
			return fmt.Errorf("cache: add %q: %w", fp, err)
		}
	}

	cached := value
	if cached == nil {
		cached = placeholderResult
	} else {
		c.resultCount.Add(1)
	}
	c.lru.Add(fp, cached)

	c.knownMu.Lock()
	c.known[fp] = struct{}{}
	c.knownMu.Unlock()

	return nil
}

// Has reports whether fp has been added, including as a placeholder.
// Intentionally lock-free against Get/Add beyond the map's own guard:
// a false immediately after a concurrent Add is acceptable, per the
// queue's re-check-under-its-own-mutex contract.
func (c *Cache) Has(fp string) bool {
	c.knownMu.RLock()
	defer c.knownMu.RUnlock()
	_, ok := c.known[fp]
	return ok
}

// HasNonEmpty returns the completed record for fp, or nil if fp is
// unknown or only a placeholder exists. On an LRU miss it falls back to
// the store, promoting a real hit into the LRU, matching
// has_non_empty_result's SQLite fallback: without it, a cold LRU after
// a restart would never recognise a fingerprint completed in a prior
// run, and callers like the queue's reload path would re-check it.
func (c *Cache) HasNonEmpty(ctx context.Context, fp string) (*record.CheckResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(fp); ok {
		if v.Valid == record.Placeholder {
			return nil, nil
		}
		return v, nil
	}

	if c.store == nil {
		return nil, nil
	}

	result, err := c.store.GetResult(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("cache: has non-empty %q: %w", fp, err)
	}
	if result == nil {
		return nil, nil
	}
	c.lru.Add(fp, result)
	return result, nil
}

// Len returns the number of real (non-placeholder) results recorded,
// backed by an in-memory counter rather than a scan.
func (c *Cache) Len() int {
	return int(c.resultCount.Load())
}
