// Package store defines the storage-layer contracts for the Engram Store
// (spec.md §4.1): composable interfaces so SQLite and Postgres backends can
// be implemented independently, following the Interface Segregation
// Principle used throughout the teacher codebase.
package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/scrypster/engramind/pkg/engram"
)

// SortKey enumerates the sort orders List() supports (spec.md §4.1).
type SortKey string

const (
	// SortRecent orders by descending id (newest first).
	SortRecent SortKey = "recent"
	// SortImportance orders by descending importance.
	SortImportance SortKey = "importance"
	// SortDecayScore approximates true decay-score order by ascending
	// importance, the cheap proxy spec.md §4.1 calls for rather than
	// computing the full exponential decay score for every row in a scan.
	SortDecayScore SortKey = "decay_score"
)

// Filter narrows a List/search query. Zero values mean "no constraint".
type Filter struct {
	Category         string
	MinImportance    float64
	ExcludeSuperseded bool
	IncludeHistory   bool
	ValidAt          *int64 // unix seconds; nil means no temporal filter
}

// Cursor encodes the last id returned by a page, per spec.md §4.1's
// "opaque string encoding the last returned id".
type Cursor string

// EncodeCursor produces an opaque cursor string for id.
func EncodeCursor(id int64) Cursor {
	return Cursor(base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10))))
}

// DecodeCursor recovers the id encoded by EncodeCursor. An empty cursor
// decodes to (0, nil) meaning "start from the beginning".
func DecodeCursor(c Cursor) (int64, error) {
	if c == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return 0, fmt.Errorf("store: malformed cursor: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: malformed cursor: %w", err)
	}
	return id, nil
}

// ListOptions configures List(). Cursor (preferred) is honoured only with
// SortRecent, where it selects rows older than the cursor's id and Offset,
// if set, is applied on top of it. The other sorts ignore Cursor and start
// at Offset (legacy).
type ListOptions struct {
	Cursor Cursor
	Offset int
	Limit  int
	Sort   SortKey
	Filter Filter
}

// Normalize applies defaults, matching the teacher's ListOptions.Normalize
// idiom (internal/storage/types.go).
func (o *ListOptions) Normalize() {
	if o.Limit < 0 {
		o.Limit = 0
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	switch o.Sort {
	case SortRecent, SortImportance, SortDecayScore:
	default:
		o.Sort = SortRecent
	}
}

// Page is the result of a List call.
type Page struct {
	Engrams    []*engram.Engram
	NextCursor Cursor
	HasMore    bool
	Total      int
}
