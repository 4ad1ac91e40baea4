package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Getter is the subset of the backend client the proxy source needs.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

// ProxySource reads pages through the backend REST proxy, which answers
// GET /api/results with the standard envelope around an array of rows.
type ProxySource struct {
	client Getter
	path   string
}

const proxyResultsPath = "/api/results"

// NewProxySource creates a source backed by the given client.
func NewProxySource(client Getter) *ProxySource {
	return &ProxySource{client: client, path: proxyResultsPath}
}

// FetchPage implements PagedSource.
func (p *ProxySource) FetchPage(ctx context.Context, q Query) ([]Row, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	v := url.Values{}
	v.Set("collection", q.Collection)
	v.Set("before", strconv.FormatInt(q.Before, 10))
	v.Set("since", strconv.FormatInt(q.Since, 10))
	v.Set("limit", strconv.Itoa(q.Limit))

	var rows []Row
	if err := p.client.Get(ctx, p.path, v, &rows); err != nil {
		return nil, fmt.Errorf("querying %s via proxy: %w", q.Collection, err)
	}
	if err := CheckRows(rows); err != nil {
		return nil, fmt.Errorf("decoding %s page: %w", q.Collection, err)
	}
	return rows, nil
}
