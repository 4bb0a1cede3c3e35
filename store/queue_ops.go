package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/joeycumines/go-linkstore/record"
)

// QueueStats reports the number of url_queue rows per status.
type QueueStats struct {
	Pending    int
	InProgress int
	Done       int
	Skipped    int
}

// isUniqueConflict reports whether err is a SQLite unique-constraint
// violation, the only store-layer error that is not surfaced to
// callers as an error: "already present" is communicated via a bool or
// count return instead.
func isUniqueConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Enqueue inserts a single URL record as a pending row. It returns
// false (with a nil error) if a row with the same non-empty fingerprint
// already exists; the partial unique index on url_queue.fingerprint
// enforces this at the storage layer, so duplicate enqueues are cheap
// to attempt.
func (s *Store) Enqueue(ctx context.Context, rec record.URL) (bool, error) {
	inserted := true
	err := s.execWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, insertURLQueueSQL, enqueueArgs(rec)...)
		if err != nil {
			if isUniqueConflict(err) {
				inserted = false
				return nil
			}
			return fmt.Errorf("store: enqueue: %w", err)
		}
		return nil
	})
	return inserted, err
}

// enqueueChunkSize bounds the number of statements committed per
// transaction, so a caller-supplied batch of unbounded size doesn't
// hold the write mutex for one unbroken transaction.
const enqueueChunkSize = 500

// EnqueueBatch inserts recs across one or more transactions (see
// enqueueChunkSize), skipping any whose fingerprint conflicts with an
// existing row. It returns the count actually inserted.
func (s *Store) EnqueueBatch(ctx context.Context, recs []record.URL) (int, error) {
	added := 0
	for _, part := range chunk(recs, enqueueChunkSize) {
		err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			for _, rec := range part {
				_, err := tx.ExecContext(ctx, insertURLQueueSQL, enqueueArgs(rec)...)
				if err != nil {
					if isUniqueConflict(err) {
						continue
					}
					return fmt.Errorf("store: enqueue batch: %w", err)
				}
				added++
			}
			return nil
		})
		if err != nil {
			return added, err
		}
	}
	return added, nil
}

const insertURLQueueSQL = `
INSERT INTO url_queue
	(url, fingerprint, parent_url, base_ref, recursion_level, line,
	 column_num, page, name, extern, url_encoding, parent_content_type,
	 status, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,'pending',?)`

func enqueueArgs(rec record.URL) []any {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = timeNow()
	}
	return []any{
		rec.URL,
		nullableString(rec.Fingerprint),
		rec.ParentURL,
		rec.BaseRef,
		rec.RecursionLevel,
		rec.Line,
		rec.Column,
		rec.Page,
		rec.Name,
		encodeExtern(rec.Extern),
		rec.URLEncoding,
		rec.ParentContentType,
		formatTime(createdAt),
	}
}

// Dequeue returns up to n oldest pending rows, atomically marking them
// in_progress in the same transaction.
func (s *Store) Dequeue(ctx context.Context, n int) ([]record.StoredRow, error) {
	if n <= 0 {
		return nil, nil
	}

	var rows []record.StoredRow
	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		sel, err := tx.QueryContext(ctx,
			`SELECT id, url, fingerprint, parent_url, base_ref, recursion_level,
			        line, column_num, page, name, extern, url_encoding,
			        parent_content_type, status, created_at, updated_at
			 FROM url_queue WHERE status = 'pending' ORDER BY id ASC LIMIT ?`, n)
		if err != nil {
			return fmt.Errorf("store: dequeue select: %w", err)
		}
		rows, err = scanStoredRows(sel)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]any, len(rows))
		placeholders := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
			placeholders[i] = "?"
		}
		updated := timeNow()
		args := append([]any{formatTime(updated)}, ids...)
		query := fmt.Sprintf(
			`UPDATE url_queue SET status = 'in_progress', updated_at = ? WHERE id IN (%s)`,
			strings.Join(placeholders, ","),
		)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: dequeue mark in_progress: %w", err)
		}
		for i := range rows {
			rows[i].Status = record.InProgress
			rows[i].UpdatedAt = updated
		}
		return nil
	})
	return rows, err
}

func scanStoredRows(rows *sql.Rows) ([]record.StoredRow, error) {
	defer rows.Close()
	var out []record.StoredRow
	for rows.Next() {
		var (
			r                               record.StoredRow
			fingerprint, extern, statusText sql.NullString
			updatedAt                       sql.NullString
			createdAt                       string
		)
		if err := rows.Scan(
			&r.ID, &r.URL, &fingerprint, &r.ParentURL, &r.BaseRef,
			&r.RecursionLevel, &r.Line, &r.Column, &r.Page, &r.Name,
			&extern, &r.URLEncoding, &r.ParentContentType, &statusText,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan url_queue row: %w", err)
		}
		r.Fingerprint = fingerprint.String
		r.Extern = decodeExtern(extern.String)
		if status, ok := record.ParseStatus(statusText.String); ok {
			r.Status = status
		}
		if t, err := parseTime(createdAt); err == nil {
			r.CreatedAt = t
		}
		if updatedAt.Valid {
			if t, err := parseTime(updatedAt.String); err == nil {
				r.UpdatedAt = t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkDone sets status = done and refreshes updated_at for the given
// url_queue row.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	return s.execWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE url_queue SET status = 'done', updated_at = ? WHERE id = ?`,
			formatTime(timeNow()), id,
		)
		if err != nil {
			return fmt.Errorf("store: mark done: %w", err)
		}
		return nil
	})
}

// ResetInProgress reverts every in_progress row to pending and, in the
// same transaction, deletes any placeholder check_results row (valid =
// -1) whose fingerprint matches one of the reset rows. It returns the
// number of rows reset.
func (s *Store) ResetInProgress(ctx context.Context) (int, error) {
	var count int
	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM check_results
			WHERE valid = -1 AND fingerprint IN (
				SELECT fingerprint FROM url_queue
				WHERE status = 'in_progress' AND fingerprint IS NOT NULL
			)`); err != nil {
			return fmt.Errorf("store: reset in_progress: clear placeholders: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE url_queue SET status = 'pending', updated_at = ? WHERE status = 'in_progress'`,
			formatTime(timeNow()),
		)
		if err != nil {
			return fmt.Errorf("store: reset in_progress: update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: reset in_progress: rows affected: %w", err)
		}
		count = int(n)
		return nil
	})
	return count, err
}

// HasPending reports whether any pending or in_progress rows remain.
func (s *Store) HasPending(ctx context.Context) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM url_queue WHERE status IN ('pending', 'in_progress')`,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: has pending: %w", err)
	}
	return n > 0, nil
}

// Stats returns counts grouped by status.
func (s *Store) Stats(ctx context.Context) (QueueStats, error) {
	if err := s.checkOpen(); err != nil {
		return QueueStats{}, err
	}
	rows, err := s.read.QueryContext(ctx, `SELECT status, COUNT(*) FROM url_queue GROUP BY status`)
	if err != nil {
		return QueueStats{}, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return QueueStats{}, fmt.Errorf("store: stats scan: %w", err)
		}
		switch status {
		case "pending":
			stats.Pending = count
		case "in_progress":
			stats.InProgress = count
		case "done":
			stats.Done = count
		case "skipped":
			stats.Skipped = count
		}
	}
	return stats, rows.Err()
}
