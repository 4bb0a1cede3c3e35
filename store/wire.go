package store

import (
	"encoding/json"
	"time"

	"github.com/joeycumines/go-linkstore/record"
)

// timeFormat is RFC3339Nano, so round-tripping never loses sub-second
// precision. It trims trailing zeros from the fraction, so the stored
// strings do not sort in the same order as the instants they encode.
const timeFormat = time.RFC3339Nano

// timeNow is a seam for deterministic tests; production code never
// overrides it.
var timeNow = time.Now

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// encodeExtern serialises the (is_external, warn_if_external) tuple as a
// two-element JSON array, or "" if unset.
func encodeExtern(e record.Extern) string {
	if !e.IsSet() {
		return ""
	}
	b, _ := json.Marshal([2]bool{e.IsExternal, e.WarnIfExternal})
	return string(b)
}

// decodeExtern is the inverse of encodeExtern; an empty or malformed
// value decodes to the unset Extern, matching the original's "if it
// doesn't parse as a 2-tuple, treat it as absent" behaviour.
func decodeExtern(s string) record.Extern {
	if s == "" {
		return record.Extern{}
	}
	var pair [2]bool
	if err := json.Unmarshal([]byte(s), &pair); err != nil {
		return record.Extern{}
	}
	return record.NewExtern(pair[0], pair[1])
}

// encodeWarnings serialises warnings as a JSON array of two-element
// arrays, never as flat strings, so they round-trip as pairs.
func encodeWarnings(warnings []record.Warning) string {
	pairs := make([][2]string, len(warnings))
	for i, w := range warnings {
		pairs[i] = [2]string{w.Tag, w.Message}
	}
	b, _ := json.Marshal(pairs)
	return string(b)
}

// decodeWarnings is the inverse of encodeWarnings; each inner array is
// re-materialised into a record.Warning pair, not left as a list.
func decodeWarnings(s string) ([]record.Warning, error) {
	if s == "" {
		return nil, nil
	}
	var pairs [][2]string
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, err
	}
	warnings := make([]record.Warning, len(pairs))
	for i, p := range pairs {
		warnings[i] = record.Warning{Tag: p[0], Message: p[1]}
	}
	return warnings, nil
}

func encodeInfo(info []string) string {
	if info == nil {
		info = []string{}
	}
	b, _ := json.Marshal(info)
	return string(b)
}

func decodeInfo(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var info []string
	if err := json.Unmarshal([]byte(s), &info); err != nil {
		return nil, err
	}
	return info, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeValidity maps record.Validity onto the physical check_results.valid
// column: Placeholder is stored as the sentinel -1 so a reserved-but-unchecked
// fingerprint is trivially distinguishable with a single WHERE clause, while
// Invalid/Valid use their natural 0/1 values.
func encodeValidity(v record.Validity) int {
	if v == record.Placeholder {
		return -1
	}
	return int(v)
}

// decodeValidity is the inverse of encodeValidity.
func decodeValidity(n int) record.Validity {
	if n < 0 {
		return record.Placeholder
	}
	return record.Validity(n)
}
