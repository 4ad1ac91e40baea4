package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	supabaseTimeout = 30 * time.Second
	maxPageBody     = 32 << 20
)

// SupabaseSource reads pages straight from a Supabase table through its
// PostgREST endpoint.
type SupabaseSource struct {
	restURL string
	key     string
	client  *http.Client
	limiter *rate.Limiter
}

// SupabaseOption configures a SupabaseSource.
type SupabaseOption func(*SupabaseSource)

// WithRequestsPerSecond paces page requests. Zero or negative disables pacing.
func WithRequestsPerSecond(rps float64) SupabaseOption {
	return func(s *SupabaseSource) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithSupabaseHTTPClient replaces the default HTTP client.
func WithSupabaseHTTPClient(c *http.Client) SupabaseOption {
	return func(s *SupabaseSource) { s.client = c }
}

// NewSupabaseSource creates a source for the project at projectURL
// authenticated with the anon or service key.
func NewSupabaseSource(projectURL, key string, opts ...SupabaseOption) (*SupabaseSource, error) {
	if projectURL == "" || key == "" {
		return nil, fmt.Errorf("supabase url and key are required")
	}
	u, err := url.Parse(projectURL)
	if err != nil {
		return nil, fmt.Errorf("parsing supabase url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("supabase url %q must be http or https", projectURL)
	}

	s := &SupabaseSource{
		restURL: strings.TrimRight(u.String(), "/") + "/rest/v1/",
		key:     key,
		client:  &http.Client{Timeout: supabaseTimeout},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SupabaseError is the PostgREST error body.
type SupabaseError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *SupabaseError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("supabase: %s (code %s, status %d)", msg, e.Code, e.Status)
	}
	return fmt.Sprintf("supabase: %s (status %d)", msg, e.Status)
}

// FetchPage implements PagedSource.
func (s *SupabaseSource) FetchPage(ctx context.Context, q Query) ([]Row, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL(q), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Collection, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body := io.LimitReader(resp.Body, maxPageBody)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &SupabaseError{Status: resp.StatusCode}
		_ = json.NewDecoder(body).Decode(se)
		se.Status = resp.StatusCode
		return nil, se
	}

	var rows []Row
	if err := json.NewDecoder(body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding %s page: %w", q.Collection, err)
	}
	if err := CheckRows(rows); err != nil {
		return nil, fmt.Errorf("decoding %s page: %w", q.Collection, err)
	}
	return rows, nil
}

// pageURL builds the PostgREST query. Both timestamp filters are sent as
// separate parameters, which PostgREST combines with AND.
func (s *SupabaseSource) pageURL(q Query) string {
	v := url.Values{}
	v.Set("select", strings.Join(Columns, ","))
	v.Add("timestamp", "lt."+strconv.FormatInt(q.Before, 10))
	v.Add("timestamp", "gte."+strconv.FormatInt(q.Since, 10))
	v.Set("order", "timestamp.desc")
	v.Set("limit", strconv.Itoa(q.Limit))
	return s.restURL + url.PathEscape(q.Collection) + "?" + v.Encode()
}
