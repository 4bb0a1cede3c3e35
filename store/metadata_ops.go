package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SetMetadata stores an arbitrary string value under key in run_metadata,
// overwriting any existing value.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	return s.execWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO run_metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		)
		if err != nil {
			return fmt.Errorf("store: set metadata %q: %w", key, err)
		}
		return nil
	})
}

// GetMetadata returns the value stored under key, and false if no row
// exists.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}
	var value string
	err := s.read.QueryRowContext(ctx,
		`SELECT value FROM run_metadata WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get metadata %q: %w", key, err)
	}
	return value, true, nil
}
