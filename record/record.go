// Package record defines the domain value types shared between store,
// cache, queue, and lifecycle: the URL work item, the completed check
// result, and the small wire-shape helpers used to round-trip both
// through the durable store.
package record

import (
	"time"
)

type (
	// Status is the lifecycle state of a URL record in the queue table.
	// Valid values are exactly Pending, InProgress, Done, and Skipped.
	Status int8

	// Validity distinguishes a real check outcome from a placeholder
	// row inserted purely to suppress duplicate enqueues.
	Validity int8

	// Extern models the (is_external, warn_if_external) tuple carried by
	// a URL record. The zero value means "not set" (IsSet returns false);
	// callers must not treat a zero Extern as (false, false) unless IsSet
	// is also checked.
	Extern struct {
		IsExternal     bool
		WarnIfExternal bool
		set            bool
	}

	// Warning is an ordered (tag, message) pair. Warnings must round-trip
	// as pairs, never as a flattened list of strings.
	Warning struct {
		Tag     string
		Message string
	}

	// URL is a single work item flowing through the Hybrid Queue: either
	// produced fresh by a crawler thread, or rebuilt from a stored row on
	// reload. Result is non-nil only for synthetic records that carry an
	// already-computed outcome inline.
	URL struct {
		URL                string
		Fingerprint        string
		ParentURL          string
		BaseRef            string
		RecursionLevel     int
		Line               int
		Column             int
		Page               int
		Name               string
		Extern             Extern
		URLEncoding        string
		ParentContentType  string
		Status             Status
		CreatedAt          time.Time
		UpdatedAt          time.Time
		Result             *CheckResult
		// StoreRowID is the url_queue.id this record was dequeued from, or
		// 0 if it never touched the store. TaskDone uses it to decide
		// whether to tell the store to mark the row done.
		StoreRowID int64
	}

	// CheckResult is a completed (or placeholder) outcome, keyed by
	// Fingerprint in the caller's map/cache.
	CheckResult struct {
		URL             string
		Valid           Validity
		Extern          bool
		Result          string
		Warnings        []Warning
		Info            []string
		Name            string
		Title           string
		ParentURL       string
		BaseRef         string
		BaseURL         string
		Domain          string
		ContentType     string
		Size            int64
		Modified        *time.Time
		DLTime          float64
		CheckTime       float64
		Line            int
		Column          int
		Page            int
		Level           int
		CheckedAt       time.Time
	}

	// StoredRow is the decoded shape of a url_queue row, passed to a
	// Rebuilder so it can reconstruct a domain URL without the store
	// package needing to know anything about crawler context.
	StoredRow struct {
		ID                 int64
		URL                string
		Fingerprint        string
		ParentURL          string
		BaseRef            string
		RecursionLevel     int
		Line               int
		Column             int
		Page               int
		Name               string
		Extern             Extern
		URLEncoding        string
		ParentContentType  string
		Status             Status
		CreatedAt          time.Time
		UpdatedAt          time.Time
	}
)

const (
	// Pending is the status every record is created with.
	Pending Status = iota
	// InProgress is set by Dequeue and reverted to Pending by ResetInProgress.
	InProgress
	// Done is set once a record's work has been fully processed.
	Done
	// Skipped marks a record that was deliberately never checked.
	Skipped
)

const (
	// Invalid marks a completed result whose check failed.
	Invalid Validity = iota
	// Valid marks a completed result whose check succeeded.
	Valid
	// Placeholder marks a row inserted only to reserve a fingerprint;
	// wire-encoded as valid = -1.
	Placeholder
)

// String implements fmt.Stringer, rendering the exact lowercase strings
// required by the storage schema's status column.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in_progress"
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ParseStatus parses the storage schema's status strings back into a
// Status. It returns false for any value other than the four known
// strings.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "pending":
		return Pending, true
	case "in_progress":
		return InProgress, true
	case "done":
		return Done, true
	case "skipped":
		return Skipped, true
	default:
		return 0, false
	}
}

// NewExtern returns a set Extern tuple.
func NewExtern(isExternal, warnIfExternal bool) Extern {
	return Extern{IsExternal: isExternal, WarnIfExternal: warnIfExternal, set: true}
}

// IsSet reports whether the tuple carries a value, as opposed to the
// "empty" state spec.md allows for records with no extern information.
func (e Extern) IsSet() bool { return e.set }
