// Package lifecycle ties store, cache, and queue together into the
// Lifecycle Coordinator: it decides at start whether to resume from or
// wipe the durable database, and at end whether to delete or retain it.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joeycumines/go-linkstore/cache"
	"github.com/joeycumines/go-linkstore/dlog"
	"github.com/joeycumines/go-linkstore/queue"
	"github.com/joeycumines/go-linkstore/store"
)

const configSnapshotKey = "config_snapshot"

type (
	// Config carries the inputs the Lifecycle Coordinator needs at
	// start-up, plus opaque pass-through fields stored verbatim in the
	// config snapshot for drift detection on resume.
	Config struct {
		// Persist, if false, means run entirely in-memory: Start returns
		// a Run with a nil Store.
		Persist bool
		// Resume, if true, opens CacheDB as an existing database instead
		// of wiping it.
		Resume bool
		// CacheDB is the path to the SQLite database file.
		CacheDB string
		// MaxNumURLs bounds total queue admissions; nil is unbounded.
		MaxNumURLs *int
		// RecursionLevel and CheckExtern are snapshotted and compared
		// against a prior run's snapshot on resume, logging a warning per
		// drifted key.
		RecursionLevel int
		CheckExtern    bool
		// Extra carries opaque pass-through fields stored verbatim
		// alongside the snapshot; not compared for drift.
		Extra map[string]any

		// Rebuild reconstructs queue records reloaded from disk. Required
		// when Persist is true.
		Rebuild queue.Rebuilder
		// CacheSize bounds the in-memory LRU tier. Zero uses cache.DefaultSize.
		CacheSize int
		// QueueConfig carries queue tuning constants; nil uses defaults.
		QueueConfig *queue.Config

		Logger dlog.Logger
	}

	// configSnapshot is the JSON shape written to run_metadata under
	// configSnapshotKey.
	configSnapshot struct {
		RecursionLevel int            `json:"recursionlevel"`
		CheckExtern    bool           `json:"checkextern"`
		MaxNumURLs     *int           `json:"maxnumurls"`
		Extra          map[string]any `json:"extra,omitempty"`
	}

	// Run is the live set of components produced by Start. Stop must be
	// called exactly once, with the observed outcome of the run.
	Run struct {
		Store *store.Store
		Cache *cache.Cache
		Queue *queue.Queue

		log dlog.Logger
	}
)

// Start opens (fresh or resumed) or skips the durable store per cfg,
// then constructs the Cache and Queue on top of it.
func Start(ctx context.Context, cfg Config) (*Run, error) {
	logger := dlog.Or(cfg.Logger)

	if !cfg.Persist {
		c, err := cache.New(ctx, nil, &cache.Config{Size: cfg.CacheSize, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("lifecycle: start in-memory cache: %w", err)
		}
		q, err := queue.New(nil, c, withDefaults(cfg))
		if err != nil {
			return nil, fmt.Errorf("lifecycle: start in-memory queue: %w", err)
		}
		return &Run{Cache: c, Queue: q, log: logger}, nil
	}

	if cfg.Rebuild == nil {
		return nil, fmt.Errorf("lifecycle: Config.Rebuild is required when Persist is true")
	}

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(ctx, s, &cache.Config{Size: cfg.CacheSize, Logger: logger})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("lifecycle: start cache: %w", err)
	}

	q, err := queue.New(s, c, withDefaults(cfg))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("lifecycle: start queue: %w", err)
	}

	return &Run{Store: s, Cache: c, Queue: q, log: logger}, nil
}

func withDefaults(cfg Config) *queue.Config {
	qc := cfg.QueueConfig
	if qc == nil {
		qc = &queue.Config{}
	}
	out := *qc
	out.Rebuild = cfg.Rebuild
	out.MaxNumURLs = cfg.MaxNumURLs
	out.Logger = cfg.Logger
	return &out
}

func openStore(ctx context.Context, cfg Config, logger dlog.Logger) (*store.Store, error) {
	snapshot := configSnapshot{
		RecursionLevel: cfg.RecursionLevel,
		CheckExtern:    cfg.CheckExtern,
		MaxNumURLs:     cfg.MaxNumURLs,
		Extra:          cfg.Extra,
	}

	if !cfg.Resume {
		if err := removeExistingDB(cfg.CacheDB); err != nil {
			return nil, fmt.Errorf("lifecycle: remove stale database: %w", err)
		}

		s, err := store.Open(cfg.CacheDB, &store.Config{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("lifecycle: open fresh store: %w", err)
		}
		if err := setConfigSnapshot(ctx, s, snapshot); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}

	s, err := store.Open(cfg.CacheDB, &store.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open store for resume: %w", err)
	}

	if prior, ok, err := getConfigSnapshot(ctx, s); err != nil {
		_ = s.Close()
		return nil, err
	} else if ok {
		logConfigDrift(logger, prior, snapshot)
	}

	resetCount, err := s.ResetInProgress(ctx)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("lifecycle: reset in-progress rows: %w", err)
	}
	if resetCount > 0 {
		logger.WithField("count", resetCount).Info("lifecycle: resumed, reset in-progress URLs")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("lifecycle: queue stats: %w", err)
	}
	logger.WithFields(map[string]any{
		"pending": stats.Pending,
		"done":    stats.Done,
		"skipped": stats.Skipped,
	}).Info("lifecycle: resume stats")

	if err := setConfigSnapshot(ctx, s, snapshot); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func removeExistingDB(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s, err := store.Open(path, nil)
	if err != nil {
		return err
	}
	return s.DeleteDB()
}

func setConfigSnapshot(ctx context.Context, s *store.Store, snapshot configSnapshot) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal config snapshot: %w", err)
	}
	if err := s.SetMetadata(ctx, configSnapshotKey, string(b)); err != nil {
		return fmt.Errorf("lifecycle: store config snapshot: %w", err)
	}
	return nil
}

func getConfigSnapshot(ctx context.Context, s *store.Store) (configSnapshot, bool, error) {
	raw, ok, err := s.GetMetadata(ctx, configSnapshotKey)
	if err != nil {
		return configSnapshot{}, false, fmt.Errorf("lifecycle: load config snapshot: %w", err)
	}
	if !ok {
		return configSnapshot{}, false, nil
	}
	var snapshot configSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return configSnapshot{}, false, fmt.Errorf("lifecycle: decode config snapshot: %w", err)
	}
	return snapshot, true, nil
}

// logConfigDrift warns, per drifted key, when the current config
// differs from the prior run's snapshot. MaxNumURLs and Extra are not
// compared: spec.md names only recursionlevel and checkextern as the
// drift-checked keys.
func logConfigDrift(logger dlog.Logger, prior, current configSnapshot) {
	if prior.RecursionLevel != current.RecursionLevel {
		logger.WithFields(map[string]any{
			"key": "recursionlevel",
			"old": prior.RecursionLevel,
			"new": current.RecursionLevel,
		}).Warn("lifecycle: config changed since last run")
	}
	if prior.CheckExtern != current.CheckExtern {
		logger.WithFields(map[string]any{
			"key": "checkextern",
			"old": prior.CheckExtern,
			"new": current.CheckExtern,
		}).Warn("lifecycle: config changed since last run")
	}
}

// Stop tears down the run. If completed is true (the run finished
// naturally), the durable database is deleted and success is logged.
// If false (cancelled, paused, or aborted), the database is retained
// and a resume hint is logged. Connections are always closed.
func (r *Run) Stop(completed bool) error {
	if r.Store == nil {
		return nil
	}
	if completed {
		if err := r.Store.DeleteDB(); err != nil {
			return fmt.Errorf("lifecycle: stop: delete database: %w", err)
		}
		r.log.Info("lifecycle: check completed, cache database removed")
		return nil
	}

	r.log.Info("lifecycle: check interrupted, use resume to continue from where you left off")
	return r.Store.Close()
}
