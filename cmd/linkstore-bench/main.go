// Command linkstore-bench drives the full store/cache/queue/lifecycle
// stack end-to-end: it seeds a run with synthetic URLs, drains them
// with a worker pool, and reports the resulting queue and cache
// statistics. It exists to exercise the module the way a real crawler
// would, not as a production tool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/go-linkstore/lifecycle"
	"github.com/joeycumines/go-linkstore/queue"
	"github.com/joeycumines/go-linkstore/record"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var (
		cacheDB = flag.String("cache-db", "", "path to the SQLite database file; empty means in-memory only")
		resume  = flag.Bool("resume", false, "resume a prior run at -cache-db instead of wiping it")
		urls    = flag.Int("urls", 1000, "number of synthetic URLs to seed")
		workers = flag.Int("workers", 8, "number of concurrent checker goroutines")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runID := uuid.NewString()

	run, err := lifecycle.Start(ctx, lifecycle.Config{
		Persist:        *cacheDB != "",
		Resume:         *resume,
		CacheDB:        *cacheDB,
		RecursionLevel: 1,
		CheckExtern:    false,
		Rebuild:        rebuildSynthetic,
		Extra:          map[string]any{"run_id": runID},
	})
	if err != nil {
		return fmt.Errorf("linkstore-bench: start: %w", err)
	}

	completed := true
	defer func() {
		if err := run.Stop(completed); err != nil {
			log.Printf("linkstore-bench: stop: %v", err)
		}
	}()

	for i := 0; i < *urls; i++ {
		if err := run.Queue.Put(ctx, &record.URL{
			URL:         fmt.Sprintf("https://bench.invalid/%s/%d", runID, i),
			Fingerprint: fmt.Sprintf("%s-%d", runID, i),
		}); err != nil {
			return fmt.Errorf("linkstore-bench: seed: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(*workers))

	for {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		timeout := 200 * time.Millisecond
		rec, err := run.Queue.Get(gctx, &timeout, nil)
		if err != nil {
			sem.Release(1)
			if errors.Is(err, queue.ErrEmpty) || errors.Is(err, queue.ErrShutdown) {
				break
			}
			return fmt.Errorf("linkstore-bench: get: %w", err)
		}

		g.Go(func() error {
			defer sem.Release(1)
			defer func() {
				if err := run.Queue.TaskDone(gctx, rec); err != nil {
					log.Printf("linkstore-bench: task done: %v", err)
				}
			}()
			return run.Cache.Add(gctx, rec.Fingerprint, &record.CheckResult{
				URL:       rec.URL,
				Valid:     record.Valid,
				Result:    "200",
				CheckedAt: time.Now(),
			})
		})
	}

	if err := g.Wait(); err != nil {
		completed = false
		return fmt.Errorf("linkstore-bench: worker pool: %w", err)
	}

	if err := run.Queue.Join(ctx, nil); err != nil {
		completed = false
		return fmt.Errorf("linkstore-bench: join: %w", err)
	}

	stats := run.Queue.Stats()
	fmt.Fprintf(os.Stdout,
		"run %s: finished=%d unfinished=%d cache_len=%d\n",
		runID, stats.Finished, stats.Unfinished, run.Cache.Len(),
	)
	return nil
}

// rebuildSynthetic reconstructs a minimal record.URL from a reloaded
// store row; the bench CLI has no crawler context to restore beyond
// the row's own fields.
func rebuildSynthetic(ctx context.Context, row record.StoredRow, hint any) (*record.URL, error) {
	return &record.URL{
		URL:         row.URL,
		Fingerprint: row.Fingerprint,
	}, nil
}
