// Package source defines the paged query capability the result pipeline
// reads from, its implementations, and the cursor walker built on it.
package source

import (
	"context"
	"errors"
	"fmt"
)

// DefaultCollection is the remote table holding analysis results.
const DefaultCollection = "analysis_results"

// Columns are the fields selected from the collection.
var Columns = []string{"timestamp", "status", "sea_blueness", "cloud_coverage"}

// ErrUnknownCollection is returned by sources that serve a fixed set of collections.
var ErrUnknownCollection = errors.New("unknown collection")

// Status is the closed set of analysis outcomes.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusNight     Status = "night"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusCompleted || s == StatusNight
}

// UnmarshalText rejects statuses outside the closed set.
func (s *Status) UnmarshalText(b []byte) error {
	v := Status(b)
	if !v.Valid() {
		return fmt.Errorf("invalid status %q", string(b))
	}
	*s = v
	return nil
}

// Row is one analysis record as stored remotely.
type Row struct {
	Timestamp     int64    `json:"timestamp"`
	Status        Status   `json:"status"`
	SeaBlueness   *float64 `json:"sea_blueness"`
	CloudCoverage *float64 `json:"cloud_coverage"`
}

// CheckRows rejects rows whose status is outside the closed set. JSON null
// or a missing status key decode to the empty Status without error, so
// decoded pages are checked here.
func CheckRows(rows []Row) error {
	for _, r := range rows {
		if !r.Status.Valid() {
			return fmt.Errorf("result %d: invalid status %q", r.Timestamp, string(r.Status))
		}
	}
	return nil
}

// Query selects rows with Since <= timestamp < Before, newest first, at most
// Limit rows.
type Query struct {
	Collection string
	Before     int64
	Since      int64
	Limit      int
}

// Validate checks the query bounds.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if q.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", q.Limit)
	}
	if q.Since < 0 {
		return fmt.Errorf("since must not be negative, got %d", q.Since)
	}
	return nil
}

// PagedSource fetches one page of rows. Rows must be ordered by timestamp
// descending.
type PagedSource interface {
	FetchPage(ctx context.Context, q Query) ([]Row, error)
}
