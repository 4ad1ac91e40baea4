// Package sourcetest provides an in-memory PagedSource for tests.
package sourcetest

import (
	"context"
	"sort"
	"sync"

	"github.com/chadmayfield/aquachroma/internal/source"
)

// Memory serves rows from memory with the same filtering and ordering as a
// real table. FailOn makes the n-th FetchPage call (1-based) return Err.
type Memory struct {
	mu     sync.Mutex
	rows   []source.Row
	calls  []source.Query
	FailOn int
	Err    error
	// OnFetch, when set, runs before each page is served.
	OnFetch func(call int, q source.Query)
}

// NewMemory creates a source holding rows.
func NewMemory(rows ...source.Row) *Memory {
	m := &Memory{}
	m.Add(rows...)
	return m
}

// Add inserts rows.
func (m *Memory) Add(rows ...source.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	sort.SliceStable(m.rows, func(i, j int) bool { return m.rows[i].Timestamp > m.rows[j].Timestamp })
}

// Calls returns the queries received so far.
func (m *Memory) Calls() []source.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]source.Query(nil), m.calls...)
}

// FetchPage implements source.PagedSource.
func (m *Memory) FetchPage(ctx context.Context, q source.Query) ([]source.Row, error) {
	m.mu.Lock()
	m.calls = append(m.calls, q)
	call := len(m.calls)
	hook := m.OnFetch
	m.mu.Unlock()

	if hook != nil {
		hook(call, q)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailOn > 0 && call == m.FailOn {
		return nil, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []source.Row
	for _, r := range m.rows {
		if r.Timestamp < q.Before && r.Timestamp >= q.Since {
			out = append(out, r)
			if len(out) == q.Limit {
				break
			}
		}
	}
	return out, nil
}

// Sequential returns completed rows with timestamps from high down to low.
func Sequential(high, low int64) []source.Row {
	rows := make([]source.Row, 0, high-low+1)
	for ts := high; ts >= low; ts-- {
		v := float64(ts%100) / 100
		rows = append(rows, source.Row{Timestamp: ts, Status: source.StatusCompleted, SeaBlueness: &v, CloudCoverage: &v})
	}
	return rows
}
