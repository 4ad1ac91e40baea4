package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chadmayfield/aquachroma/internal/source"
	"github.com/chadmayfield/aquachroma/internal/source/sourcetest"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func TestSQLiteStore_SaveAndGetLatest(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rows := []source.Row{
		{Timestamp: 1718020800, Status: source.StatusCompleted, SeaBlueness: ptr(0.82), CloudCoverage: ptr(0.1)},
		{Timestamp: 1718017200, Status: source.StatusNight},
	}
	if err := s.SaveResults(ctx, rows); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	got, err := s.GetLatest(ctx)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got == nil {
		t.Fatal("expected result, got nil")
	}
	if got.Timestamp != 1718020800 || got.Status != source.StatusCompleted {
		t.Errorf("latest = %+v", got)
	}
	if got.SeaBlueness == nil || *got.SeaBlueness != 0.82 {
		t.Errorf("sea_blueness = %v, want 0.82", got.SeaBlueness)
	}
}

func TestSQLiteStore_Upsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.SaveResults(ctx, []source.Row{{Timestamp: 100, Status: source.StatusCompleted, SeaBlueness: ptr(0.5)}}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveResults(ctx, []source.Row{{Timestamp: 100, Status: source.StatusCompleted, SeaBlueness: ptr(0.9)}}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	got, _ := s.GetLatest(ctx)
	if got == nil || got.SeaBlueness == nil || *got.SeaBlueness != 0.9 {
		t.Errorf("latest = %+v, want sea_blueness 0.9", got)
	}
}

func TestSQLiteStore_BatchInsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rows := sourcetest.Sequential(250, 1)
	if err := s.SaveResults(ctx, rows); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 250 {
		t.Errorf("count = %d, want 250", n)
	}
}

func TestSQLiteStore_RejectsInvalidStatus(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.SaveResults(context.Background(), []source.Row{{Timestamp: 1, Status: "pending"}})
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
	if n, _ := s.Count(context.Background()); n != 0 {
		t.Errorf("count = %d, want 0 after rejected batch", n)
	}
}

func TestSQLiteStore_GetDataRange(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	oldest, newest, err := s.GetDataRange(ctx)
	if err != nil {
		t.Fatalf("GetDataRange on empty store: %v", err)
	}
	if oldest != 0 || newest != 0 {
		t.Errorf("empty range = %d..%d, want 0..0", oldest, newest)
	}

	if err := s.SaveResults(ctx, sourcetest.Sequential(500, 200)); err != nil {
		t.Fatal(err)
	}
	oldest, newest, err = s.GetDataRange(ctx)
	if err != nil {
		t.Fatalf("GetDataRange: %v", err)
	}
	if oldest != 200 || newest != 500 {
		t.Errorf("range = %d..%d, want 200..500", oldest, newest)
	}
}

func TestSQLiteStore_NoResults(t *testing.T) {
	s := newTestSQLiteStore(t)
	got, err := s.GetLatest(context.Background())
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSQLiteStore_FetchPage(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := s.SaveResults(ctx, sourcetest.Sequential(20, 1)); err != nil {
		t.Fatal(err)
	}

	rows, err := s.FetchPage(ctx, source.Query{Collection: source.DefaultCollection, Before: 15, Since: 5, Limit: 4})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	want := []int64{14, 13, 12, 11}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, ts := range want {
		if rows[i].Timestamp != ts {
			t.Errorf("rows[%d].Timestamp = %d, want %d", i, rows[i].Timestamp, ts)
		}
	}
}

func TestSQLiteStore_WalkAsSource(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := s.SaveResults(ctx, sourcetest.Sequential(2500, 1)); err != nil {
		t.Fatal(err)
	}

	var total int
	pages, err := source.Pager{Source: s}.Walk(ctx, 1_000_000, 0, func(page []source.Row) error {
		total += len(page)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if pages != 3 || total != 2500 {
		t.Errorf("pages = %d total = %d, want 3 and 2500", pages, total)
	}
}

func TestSQLiteStore_UnknownCollection(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.FetchPage(context.Background(), source.Query{Collection: "observations", Before: 10, Limit: 1})
	if !errors.Is(err, source.ErrUnknownCollection) {
		t.Errorf("err = %v, want ErrUnknownCollection", err)
	}
}

func TestSQLiteStore_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perms.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close() //nolint:errcheck

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestReplacePlaceholders(t *testing.T) {
	got := replacePlaceholders("WHERE timestamp < ? AND timestamp >= ? LIMIT ?")
	want := "WHERE timestamp < $1 AND timestamp >= $2 LIMIT $3"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSQLiteStore_SyncState(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetSyncState(ctx, table); err != nil || ok {
		t.Fatalf("GetSyncState on empty store: ok=%v err=%v", ok, err)
	}

	if err := s.SetSyncState(ctx, table, 1718020800); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}
	if err := s.SetSyncState(ctx, table, 1718024400); err != nil {
		t.Fatalf("SetSyncState update: %v", err)
	}
	got, ok, err := s.GetSyncState(ctx, table)
	if err != nil || !ok || got != 1718024400 {
		t.Errorf("GetSyncState = %d ok=%v err=%v, want 1718024400", got, ok, err)
	}

	if _, ok, _ := s.GetSyncState(ctx, "other"); ok {
		t.Error("sync state leaked across collections")
	}
}
