package store

import (
	"context"
	"fmt"

	"github.com/chadmayfield/aquachroma/internal/source"
)

// Store defines the interface for the local mirror of analysis results.
// Both SQLite and PostgreSQL implementations satisfy this interface, and
// both can serve as a paged query source for the result pipeline.
type Store interface {
	source.PagedSource

	// SaveResults upserts rows on timestamp, in batched transactions.
	SaveResults(ctx context.Context, rows []source.Row) error

	// GetLatest returns the newest row, or nil when the mirror is empty.
	GetLatest(ctx context.Context) (*source.Row, error)

	// GetDataRange returns the oldest and newest timestamps; both are 0 when empty.
	GetDataRange(ctx context.Context) (oldest, newest int64, err error)

	// GetSyncState returns the timestamp through which the collection has been
	// completely mirrored. ok is false before the first successful sync.
	GetSyncState(ctx context.Context, collection string) (syncedThrough int64, ok bool, err error)

	// SetSyncState records a completed sync through syncedThrough.
	SetSyncState(ctx context.Context, collection string, syncedThrough int64) error

	// Count returns the number of mirrored rows.
	Count(ctx context.Context) (int, error)

	// Close closes the database connection.
	Close() error
}

// table is the only collection the mirror holds.
const table = source.DefaultCollection

const saveBatchSize = 100

func checkCollection(q source.Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if q.Collection != table {
		return fmt.Errorf("%w: %q", source.ErrUnknownCollection, q.Collection)
	}
	return nil
}
