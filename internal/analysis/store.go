// Package analysis holds the dashboard's result state: the paginated fetch
// of analysis results, the loading progress, and the debug re-analysis
// trigger.
package analysis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/chadmayfield/aquachroma/internal/httpclient"
	"github.com/chadmayfield/aquachroma/internal/notify"
	"github.com/chadmayfield/aquachroma/internal/source"
)

// DefaultForwardMargin is added to "now" for the first cursor so the newest
// row is included even when the data source clock runs ahead.
const DefaultForwardMargin = time.Hour

const day = 24 * time.Hour

var (
	// ErrSuperseded is returned by a fetch whose result was discarded because
	// a newer fetch started.
	ErrSuperseded = errors.New("fetch superseded by a newer request")

	// ErrInvalidLookback is returned for a negative lookback window.
	ErrInvalidLookback = errors.New("lookback days must not be negative")
)

// Snapshot is a consistent view of the store state.
type Snapshot struct {
	Results         []Result  `json:"results"`
	LoadingProgress int       `json:"loading_progress"`
	Loading         bool      `json:"loading"`
	Generation      uint64    `json:"generation"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
}

// Store owns the externally observed results and loading progress. One
// Store is created per application session.
type Store struct {
	source   source.PagedSource
	backend  Requester
	notifier notify.Notifier
	logger   *slog.Logger

	collection  string
	pageSize    int
	margin      time.Duration
	debugMethod string
	now         func() time.Time

	mu         sync.RWMutex
	results    []Result
	progress   int
	loading    bool
	generation uint64
	cancel     context.CancelFunc
	updatedAt  time.Time
	subs       map[int]chan Snapshot
	nextSub    int
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets the number of rows requested per page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithCollection sets the remote collection name.
func WithCollection(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithForwardMargin overrides DefaultForwardMargin.
func WithForwardMargin(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.margin = d
		}
	}
}

// WithNotifier sets where user-facing messages go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store reading from src. backend is used by
// TriggerDebugAnalysis and may be nil when debug triggers are not needed.
func NewStore(src source.PagedSource, backend Requester, opts ...Option) *Store {
	s := &Store{
		source:      src,
		backend:     backend,
		logger:      slog.Default(),
		collection:  source.DefaultCollection,
		pageSize:    source.DefaultPageSize,
		margin:      DefaultForwardMargin,
		debugMethod: defaultDebugMethod,
		now:         time.Now,
		results:     []Result{},
		subs:        make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Results returns a copy of the current results, newest first.
func (s *Store) Results() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.results)
}

// LoadingProgress returns the number of rows accumulated by the in-flight
// fetch, or 0 when idle.
func (s *Store) LoadingProgress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Snapshot returns the full state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Results:         slices.Clone(s.results),
		LoadingProgress: s.progress,
		Loading:         s.loading,
		Generation:      s.generation,
		UpdatedAt:       s.updatedAt,
	}
}

// Subscribe returns a channel receiving a snapshot after every state change.
// Slow receivers only see the latest snapshot. The returned func
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Replace the unread snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// FetchResults reloads all results newer than lookbackDays days (0 means
// the whole history). Results are cleared when the fetch starts and
// replaced only when every page has been read; on failure they stay empty.
// Failures are reported through the notifier; the returned error is for
// callers that need it and may be ignored. Starting a fetch cancels the one
// in flight, whose completion is then discarded with ErrSuperseded.
func (s *Store) FetchResults(ctx context.Context, lookbackDays int) error {
	gen, fctx, cancel := s.begin(ctx)
	defer cancel()
	return s.run(fctx, gen, lookbackDays)
}

// Start runs FetchResults in the background and returns its generation.
func (s *Store) Start(ctx context.Context, lookbackDays int) uint64 {
	gen, fctx, cancel := s.begin(ctx)
	go func() {
		defer cancel()
		_ = s.run(fctx, gen, lookbackDays)
	}()
	return gen
}

func (s *Store) begin(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	fctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.results = []Result{}
	s.progress = 0
	s.loading = true
	s.publishLocked()
	return s.generation, fctx, cancel
}

func (s *Store) run(ctx context.Context, gen uint64, lookbackDays int) error {
	results, err := s.collect(ctx, gen, lookbackDays)
	return s.finish(ctx, gen, results, err)
}

// collect walks the source from now+margin down to the cutoff.
func (s *Store) collect(ctx context.Context, gen uint64, lookbackDays int) ([]Result, error) {
	if lookbackDays < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLookback, lookbackDays)
	}

	now := s.now()
	var cutoff int64
	if lookbackDays > 0 {
		cutoff = now.Add(-time.Duration(lookbackDays) * day).Unix()
	}
	cursor := now.Add(s.margin).Unix()

	s.logger.Info("fetching analysis results",
		"generation", gen,
		"lookback_days", lookbackDays,
		"cutoff", cutoff,
		"cursor", cursor,
	)

	acc := make([]Result, 0)
	pager := source.Pager{Source: s.source, Collection: s.collection, PageSize: s.pageSize}
	pages, err := pager.Walk(ctx, cursor, cutoff, func(page []source.Row) error {
		for _, r := range page {
			acc = append(acc, FromRow(r))
		}
		s.setProgress(gen, len(acc))

		if len(page) == s.pageSize && source.BoundaryTie(page) {
			s.logger.Warn("page ends on a repeated timestamp; rows sharing it on the next page may be skipped",
				"timestamp", page[len(page)-1].Timestamp,
				"generation", gen,
			)
		}
		s.logger.Debug("fetched page", "rows", len(page), "accumulated", len(acc), "generation", gen)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(acc, func(a, b Result) int { return cmp.Compare(b.Timestamp, a.Timestamp) })

	s.logger.Info("fetched analysis results",
		"generation", gen,
		"results", len(acc),
		"pages", pages,
	)
	return acc, nil
}

func (s *Store) setProgress(gen uint64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.progress = n
	s.publishLocked()
}

func (s *Store) finish(ctx context.Context, gen uint64, results []Result, err error) error {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded fetch", "generation", gen, "error", err)
		return ErrSuperseded
	}
	if err == nil {
		s.results = results
		s.updatedAt = s.now().UTC()
	}
	s.progress = 0
	s.loading = false
	s.cancel = nil
	s.publishLocked()
	s.mu.Unlock()

	if err == nil {
		return nil
	}

	s.logger.Error("fetching analysis results failed", "generation", gen, "error", err)
	if !errors.Is(err, context.Canceled) {
		notify.Error(context.WithoutCancel(ctx), s.notifier, failureMessage("fetch analysis results", err))
	}
	return err
}

// failureMessage turns err into a message fit for a notification.
func failureMessage(action string, err error) string {
	var ne net.Error
	if httpclient.IsTransport(err) || errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("network error: unable to %s", action)
	}
	return fmt.Sprintf("failed to %s: %v", action, err)
}
