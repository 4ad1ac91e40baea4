package source

import (
	"context"
	"fmt"
)

// DefaultPageSize is the number of rows requested per page.
const DefaultPageSize = 1000

// Pager walks a PagedSource newest-first using the timestamp as cursor.
type Pager struct {
	Source     PagedSource
	Collection string
	PageSize   int
}

// PageFunc receives each non-empty page in order. Returning an error stops
// the walk.
type PageFunc func(page []Row) error

// Walk requests pages with timestamp < cursor and timestamp >= since,
// starting at cursor = before and moving the cursor to the smallest
// timestamp of each page. It stops on an empty page or on a page shorter
// than PageSize. Rows sharing the boundary timestamp with the last row of a
// full page are not returned, because the next request is strictly below it.
func (p Pager) Walk(ctx context.Context, before, since int64, fn PageFunc) (pages int, err error) {
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	collection := p.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	cursor := before
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		rows, err := p.Source.FetchPage(ctx, Query{
			Collection: collection,
			Before:     cursor,
			Since:      since,
			Limit:      size,
		})
		if err != nil {
			return pages, fmt.Errorf("fetching page %d: %w", pages+1, err)
		}
		if len(rows) == 0 {
			return pages, nil
		}
		if len(rows) > size {
			return pages, fmt.Errorf("page %d: source returned %d rows, limit was %d", pages+1, len(rows), size)
		}
		if err := CheckRows(rows); err != nil {
			return pages, fmt.Errorf("page %d: %w", pages+1, err)
		}

		low := rows[0].Timestamp
		for _, r := range rows[1:] {
			low = min(low, r.Timestamp)
		}
		if low >= cursor {
			return pages, fmt.Errorf("page %d: source returned timestamp %d not below cursor %d", pages+1, low, cursor)
		}

		pages++
		if err := fn(rows); err != nil {
			return pages, err
		}

		cursor = low
		if len(rows) < size {
			return pages, nil
		}
	}
}

// BoundaryTie reports whether a full page ends with two rows sharing the
// same timestamp, the case where the next page may silently skip rows.
func BoundaryTie(page []Row) bool {
	n := len(page)
	return n >= 2 && page[n-1].Timestamp == page[n-2].Timestamp
}
