package source_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chadmayfield/aquachroma/internal/source"
	"github.com/chadmayfield/aquachroma/internal/source/sourcetest"
)

func TestPager_Walk(t *testing.T) {
	tests := []struct {
		name      string
		rows      []source.Row
		pageSize  int
		since     int64
		wantPages int
		wantRows  int
	}{
		{name: "three pages", rows: sourcetest.Sequential(5000, 2501), pageSize: 1000, wantPages: 3, wantRows: 2500},
		{name: "exact multiple", rows: sourcetest.Sequential(20, 11), pageSize: 5, wantPages: 2, wantRows: 10},
		{name: "empty", rows: nil, pageSize: 5, wantPages: 0, wantRows: 0},
		{name: "since bound", rows: sourcetest.Sequential(100, 1), pageSize: 10, since: 91, wantPages: 1, wantRows: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := sourcetest.NewMemory(tt.rows...)
			p := source.Pager{Source: src, PageSize: tt.pageSize}

			var got []source.Row
			pages, err := p.Walk(context.Background(), 1<<40, tt.since, func(page []source.Row) error {
				got = append(got, page...)
				return nil
			})
			if err != nil {
				t.Fatalf("Walk: %v", err)
			}
			if pages != tt.wantPages {
				t.Errorf("pages = %d, want %d", pages, tt.wantPages)
			}
			if len(got) != tt.wantRows {
				t.Errorf("rows = %d, want %d", len(got), tt.wantRows)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Timestamp >= got[i-1].Timestamp {
					t.Fatalf("not strictly descending at %d: %d then %d", i, got[i-1].Timestamp, got[i].Timestamp)
				}
			}
		})
	}
}

func TestPager_WalkCursorQueries(t *testing.T) {
	src := sourcetest.NewMemory(sourcetest.Sequential(30, 1)...)
	p := source.Pager{Source: src, PageSize: 10}

	if _, err := p.Walk(context.Background(), 100, 0, func([]source.Row) error { return nil }); err != nil {
		t.Fatal(err)
	}

	calls := src.Calls()
	wantBefore := []int64{100, 21, 11, 1}
	if len(calls) != len(wantBefore) {
		t.Fatalf("calls = %d, want %d", len(calls), len(wantBefore))
	}
	for i, q := range calls {
		if q.Before != wantBefore[i] {
			t.Errorf("call %d before = %d, want %d", i, q.Before, wantBefore[i])
		}
		if q.Collection != source.DefaultCollection || q.Limit != 10 {
			t.Errorf("call %d = %+v", i, q)
		}
	}
}

func TestPager_WalkErrors(t *testing.T) {
	t.Run("source error", func(t *testing.T) {
		boom := errors.New("boom")
		src := sourcetest.NewMemory(sourcetest.Sequential(30, 1)...)
		src.FailOn, src.Err = 2, boom

		pages, err := source.Pager{Source: src, PageSize: 10}.Walk(context.Background(), 100, 0, func([]source.Row) error { return nil })
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
		if pages != 1 {
			t.Errorf("pages = %d, want 1", pages)
		}
	})

	t.Run("callback error", func(t *testing.T) {
		stop := errors.New("stop")
		src := sourcetest.NewMemory(sourcetest.Sequential(30, 1)...)
		_, err := source.Pager{Source: src, PageSize: 10}.Walk(context.Background(), 100, 0, func([]source.Row) error { return stop })
		if !errors.Is(err, stop) {
			t.Fatalf("err = %v, want stop", err)
		}
	})

	t.Run("cursor does not advance", func(t *testing.T) {
		_, err := source.Pager{Source: stuckSource{}, PageSize: 1}.Walk(context.Background(), 100, 0, func([]source.Row) error { return nil })
		if err == nil {
			t.Fatal("expected error for non-advancing cursor")
		}
	})

	t.Run("row without status", func(t *testing.T) {
		src := sourcetest.NewMemory(source.Row{Timestamp: 5, Status: source.StatusCompleted}, source.Row{Timestamp: 4})
		called := false
		_, err := source.Pager{Source: src, PageSize: 10}.Walk(context.Background(), 100, 0, func([]source.Row) error {
			called = true
			return nil
		})
		if err == nil {
			t.Fatal("expected error for empty status")
		}
		if called {
			t.Error("page with invalid status handed to callback")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := sourcetest.NewMemory(sourcetest.Sequential(30, 1)...)
		_, err := source.Pager{Source: src}.Walk(ctx, 100, 0, func([]source.Row) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}

// stuckSource ignores the cursor and always returns the same row.
type stuckSource struct{}

func (stuckSource) FetchPage(context.Context, source.Query) ([]source.Row, error) {
	return []source.Row{{Timestamp: 500, Status: source.StatusNight}}, nil
}

func TestBoundaryTie(t *testing.T) {
	if source.BoundaryTie([]source.Row{{Timestamp: 3}, {Timestamp: 2}}) {
		t.Error("distinct timestamps reported as tie")
	}
	if !source.BoundaryTie([]source.Row{{Timestamp: 3}, {Timestamp: 2}, {Timestamp: 2}}) {
		t.Error("tie not detected")
	}
	if source.BoundaryTie([]source.Row{{Timestamp: 2}}) {
		t.Error("single row reported as tie")
	}
}

func TestStatus_UnmarshalText(t *testing.T) {
	var s source.Status
	if err := s.UnmarshalText([]byte("night")); err != nil || s != source.StatusNight {
		t.Errorf("night: s=%q err=%v", s, err)
	}
	if err := s.UnmarshalText([]byte("pending")); err == nil {
		t.Error("expected error for unknown status")
	}
}
