package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joeycumines/go-linkstore/record"
)

// AddResult records the outcome for fingerprint. A nil result inserts a
// placeholder row (valid = -1) only if no row yet exists for
// fingerprint — the insert-if-absent path used to reserve a fingerprint
// the instant it is first seen, before the real check completes. A
// non-nil result always inserts-or-replaces, upgrading any existing
// placeholder to the real outcome.
func (s *Store) AddResult(ctx context.Context, fingerprint string, result *record.CheckResult) error {
	if result == nil {
		return s.execWrite(ctx, func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx, `
				INSERT INTO check_results (fingerprint, valid, checked_at)
				VALUES (?, -1, ?)
				ON CONFLICT(fingerprint) DO NOTHING`,
				fingerprint, formatTime(timeNow()),
			)
			if err != nil {
				return fmt.Errorf("store: add placeholder result: %w", err)
			}
			return nil
		})
	}

	return s.execWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO check_results
				(fingerprint, url, valid, extern, result, warnings, info, name,
				 title, parent_url, base_ref, base_url, domain, content_type,
				 size, modified, dltime, checktime, line, column_num, page,
				 level, checked_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(fingerprint) DO UPDATE SET
				url = excluded.url, valid = excluded.valid, extern = excluded.extern,
				result = excluded.result, warnings = excluded.warnings,
				info = excluded.info, name = excluded.name, title = excluded.title,
				parent_url = excluded.parent_url, base_ref = excluded.base_ref,
				base_url = excluded.base_url, domain = excluded.domain,
				content_type = excluded.content_type, size = excluded.size,
				modified = excluded.modified, dltime = excluded.dltime,
				checktime = excluded.checktime, line = excluded.line,
				column_num = excluded.column_num, page = excluded.page,
				level = excluded.level, checked_at = excluded.checked_at`,
			fingerprint, result.URL, encodeValidity(result.Valid), boolToInt(result.Extern),
			result.Result, encodeWarnings(result.Warnings), encodeInfo(result.Info),
			result.Name, result.Title, result.ParentURL, result.BaseRef, result.BaseURL,
			result.Domain, result.ContentType, result.Size, formatTimePtr(result.Modified),
			result.DLTime, result.CheckTime, result.Line, result.Column, result.Page,
			result.Level, formatTime(timeNow()),
		)
		if err != nil {
			return fmt.Errorf("store: add result: %w", err)
		}
		return nil
	})
}

// GetResult returns the stored outcome for fingerprint, or nil if no row
// exists, or the row is a placeholder. Callers wanting to distinguish
// "no row" from "placeholder" should use HasResult first.
func (s *Store) GetResult(ctx context.Context, fingerprint string) (*record.CheckResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.read.QueryRowContext(ctx, `
		SELECT url, valid, extern, result, warnings, info, name, title,
		       parent_url, base_ref, base_url, domain, content_type, size,
		       modified, dltime, checktime, line, column_num, page, level,
		       checked_at
		FROM check_results WHERE fingerprint = ?`, fingerprint)

	var (
		r                     record.CheckResult
		valid, extern         int
		warnings, info        string
		modified              sql.NullString
		checkedAt             string
	)
	err := row.Scan(
		&r.URL, &valid, &extern, &r.Result, &warnings, &info, &r.Name, &r.Title,
		&r.ParentURL, &r.BaseRef, &r.BaseURL, &r.Domain, &r.ContentType, &r.Size,
		&modified, &r.DLTime, &r.CheckTime, &r.Line, &r.Column, &r.Page, &r.Level,
		&checkedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get result: %w", err)
	}

	r.Valid = decodeValidity(valid)
	if r.Valid == record.Placeholder {
		return nil, nil
	}
	r.Extern = extern != 0
	if r.Warnings, err = decodeWarnings(warnings); err != nil {
		return nil, fmt.Errorf("store: get result: decode warnings: %w", err)
	}
	if r.Info, err = decodeInfo(info); err != nil {
		return nil, fmt.Errorf("store: get result: decode info: %w", err)
	}
	if modified.Valid {
		if t, err := parseTime(modified.String); err == nil {
			r.Modified = &t
		}
	}
	if t, err := parseTime(checkedAt); err == nil {
		r.CheckedAt = t
	}
	return &r, nil
}

// HasResult reports whether any row — placeholder or real — exists for
// fingerprint. This is the check the cache uses to suppress duplicate
// enqueues, since a placeholder means "already in flight".
func (s *Store) HasResult(ctx context.Context, fingerprint string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM check_results WHERE fingerprint = ?`, fingerprint,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: has result: %w", err)
	}
	return n > 0, nil
}

// KnownFingerprints returns every fingerprint with a check_results row
// (placeholder or real) plus the count of real rows among them, so a
// cache can hydrate its presence set and result counter in one pass on
// construction.
func (s *Store) KnownFingerprints(ctx context.Context) ([]string, int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}
	rows, err := s.read.QueryContext(ctx, `SELECT fingerprint, valid FROM check_results`)
	if err != nil {
		return nil, 0, fmt.Errorf("store: known fingerprints: %w", err)
	}
	defer rows.Close()

	var (
		fingerprints []string
		realCount    int
	)
	for rows.Next() {
		var fp string
		var valid int
		if err := rows.Scan(&fp, &valid); err != nil {
			return nil, 0, fmt.Errorf("store: known fingerprints scan: %w", err)
		}
		fingerprints = append(fingerprints, fp)
		if valid != -1 {
			realCount++
		}
	}
	return fingerprints, realCount, rows.Err()
}

// ResultCount returns the number of real (non-placeholder) results.
func (s *Store) ResultCount(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM check_results WHERE valid != -1`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: result count: %w", err)
	}
	return n, nil
}
