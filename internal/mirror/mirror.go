// Package mirror copies the remote analysis results into the local store.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chadmayfield/aquachroma/internal/source"
	"github.com/chadmayfield/aquachroma/internal/store"
)

const (
	defaultMargin = time.Hour
	day           = 24 * time.Hour
)

// Stats summarizes one sync run.
type Stats struct {
	Since int64
	Pages int
	Rows  int
}

// Syncer mirrors a remote PagedSource into a local store. Each run resumes
// from the sync mark left by the last complete run, so repeated syncs only
// transfer new results and a failed run is retried in full.
type Syncer struct {
	remote     source.PagedSource
	local      store.Store
	logger     *slog.Logger
	collection string
	pageSize   int
	now        func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithCollection sets the remote collection name.
func WithCollection(name string) Option {
	return func(s *Syncer) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithPageSize sets the number of rows requested per page.
func WithPageSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewSyncer creates a Syncer.
func NewSyncer(remote source.PagedSource, local store.Store, logger *slog.Logger, opts ...Option) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		remote:     remote,
		local:      local,
		logger:     logger,
		collection: source.DefaultCollection,
		pageSize:   source.DefaultPageSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync copies every remote row at or after the sync mark. Before the first
// complete run it goes back maxDays, or copies everything when maxDays <= 0.
// Pages arrive newest first, so the mark only advances once the walk has
// reached the lower bound; a run that fails partway leaves it in place and
// the next run walks the same range again. The mark itself is inclusive so a
// row rewritten remotely after the last sync is refreshed by the upsert.
func (s *Syncer) Sync(ctx context.Context, maxDays int) (Stats, error) {
	if s.remote == nil || s.local == nil {
		return Stats{}, errors.New("sync requires a remote source and a local store")
	}

	mark, ok, err := s.local.GetSyncState(ctx, s.collection)
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	var since int64
	switch {
	case ok:
		since = mark
		s.logger.Info("resuming mirror", "since", time.Unix(since, 0).UTC().Format(time.RFC3339))
	case maxDays > 0:
		since = now.Add(-time.Duration(maxDays) * day).Unix()
		s.logger.Info("no completed sync, mirroring from scratch", "days", maxDays)
	default:
		s.logger.Info("no completed sync, mirroring full history")
	}

	stats := Stats{Since: since}
	newest := since
	pager := source.Pager{Source: s.remote, Collection: s.collection, PageSize: s.pageSize}
	_, err = pager.Walk(ctx, now.Add(defaultMargin).Unix(), since, func(page []source.Row) error {
		if err := s.local.SaveResults(ctx, page); err != nil {
			return fmt.Errorf("saving results: %w", err)
		}
		for _, r := range page {
			newest = max(newest, r.Timestamp)
		}
		stats.Rows += len(page)
		s.logger.Info("mirrored page",
			"page", stats.Pages+1,
			"rows", len(page),
			"newest", page[0].Timestamp,
			"oldest", page[len(page)-1].Timestamp,
		)
		stats.Pages++
		if len(page) == s.pageSize && source.BoundaryTie(page) {
			s.logger.Warn("page ends on a shared timestamp; rows at the boundary may be skipped",
				"timestamp", page[len(page)-1].Timestamp)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("mirror incomplete; next sync resumes from the previous mark",
			"since", since, "rows", stats.Rows, "error", err)
		return stats, err
	}

	if err := s.local.SetSyncState(ctx, s.collection, newest); err != nil {
		return stats, err
	}

	s.logger.Info("mirror complete", "pages", stats.Pages, "rows", stats.Rows, "synced_through", newest)
	return stats, nil
}
