package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chadmayfield/aquachroma/internal/source"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// sqlStore holds the queries shared by both backends. Queries are written
// with ? placeholders and rewritten for postgres.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

// DB returns the underlying database connection for migration commands.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func (s *sqlStore) q(query string) string {
	if s.dialect == dialectPostgres {
		return replacePlaceholders(query)
	}
	return query
}

const upsertResult = `
	INSERT INTO analysis_results (timestamp, status, sea_blueness, cloud_coverage, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(timestamp) DO UPDATE SET
		status=excluded.status,
		sea_blueness=excluded.sea_blueness,
		cloud_coverage=excluded.cloud_coverage,
		updated_at=excluded.updated_at`

func (s *sqlStore) SaveResults(ctx context.Context, rows []source.Row) error {
	for i := 0; i < len(rows); i += saveBatchSize {
		end := min(i+saveBatchSize, len(rows))
		if err := s.saveBatch(ctx, rows[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) saveBatch(ctx context.Context, rows []source.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	stmt, err := tx.PrepareContext(ctx, s.q(upsertResult))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range rows {
		if !r.Status.Valid() {
			return fmt.Errorf("result %d: invalid status %q", r.Timestamp, r.Status)
		}
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp, string(r.Status), nullFloat(r.SeaBlueness), nullFloat(r.CloudCoverage), now,
		); err != nil {
			return fmt.Errorf("inserting result %d: %w", r.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// FetchPage implements source.PagedSource.
func (s *sqlStore) FetchPage(ctx context.Context, q source.Query) ([]source.Row, error) {
	if err := checkCollection(q); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT timestamp, status, sea_blueness, cloud_coverage
		FROM analysis_results
		WHERE timestamp < ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?`), q.Before, q.Since, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying results page: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanRows(rows)
}

func (s *sqlStore) GetLatest(ctx context.Context) (*source.Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, status, sea_blueness, cloud_coverage
		FROM analysis_results
		ORDER BY timestamp DESC
		LIMIT 1`)

	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest result: %w", err)
	}
	return r, nil
}

func (s *sqlStore) GetDataRange(ctx context.Context) (oldest, newest int64, err error) {
	var minTS, maxTS sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MIN(timestamp), MAX(timestamp) FROM analysis_results`).Scan(&minTS, &maxTS)
	if err != nil {
		return 0, 0, fmt.Errorf("querying data range: %w", err)
	}
	return minTS.Int64, maxTS.Int64, nil
}

func (s *sqlStore) GetSyncState(ctx context.Context, collection string) (int64, bool, error) {
	var through int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT synced_through FROM sync_state WHERE collection = ?`), collection).Scan(&through)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("getting sync state for %s: %w", collection, err)
	}
	return through, true, nil
}

func (s *sqlStore) SetSyncState(ctx context.Context, collection string, syncedThrough int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO sync_state (collection, synced_through, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET
			synced_through=excluded.synced_through,
			updated_at=excluded.updated_at`),
		collection, syncedThrough, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting sync state for %s: %w", collection, err)
	}
	return nil
}

func (s *sqlStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_results`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}
	return count, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// --- Shared helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (*source.Row, error) {
	var (
		r             source.Row
		status        string
		blue, cover sql.NullFloat64
	)
	if err := sc.Scan(&r.Timestamp, &status, &blue, &cover); err != nil {
		return nil, err
	}
	if err := r.Status.UnmarshalText([]byte(status)); err != nil {
		return nil, fmt.Errorf("result %d: %w", r.Timestamp, err)
	}
	r.SeaBlueness = floatPtr(blue)
	r.CloudCoverage = floatPtr(cover)
	return &r, nil
}

func scanRows(rows *sql.Rows) ([]source.Row, error) {
	var result []source.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// replacePlaceholders converts ? to $1, $2, $3 etc for postgres.
func replacePlaceholders(query string) string {
	result := make([]byte, 0, len(query))
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, fmt.Sprintf("$%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
