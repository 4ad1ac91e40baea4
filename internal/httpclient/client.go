// Package httpclient is the shared client for the analysis backend. Every
// response is expected in the {code, msg, data} envelope; the client returns
// only the data field and turns every other outcome into an *Error.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chadmayfield/aquachroma/internal/notify"
)

// CodeOK is the business code signalling success.
const CodeOK = 200

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 10 << 20
)

// Envelope is the standard backend response wrapper.
type Envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// RequestInterceptor may modify an outgoing request or abort it with an error.
type RequestInterceptor func(req *http.Request) (*http.Request, error)

// StatusValidator decides which HTTP statuses reach the response interceptor.
type StatusValidator func(status int) bool

// PermissiveStatus lets every status from 200 to 600 through so that the
// response interceptor handles them uniformly.
func PermissiveStatus(status int) bool {
	return status >= 200 && status <= 600
}

// Client is a base-URL bound HTTP client with interceptor hooks.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	validateStatus StatusValidator
	interceptors   []RequestInterceptor
	notifier       notify.Notifier
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithStatusValidator overrides PermissiveStatus.
func WithStatusValidator(v StatusValidator) Option {
	return func(c *Client) { c.validateStatus = v }
}

// WithInterceptor appends a request interceptor.
func WithInterceptor(i RequestInterceptor) Option {
	return func(c *Client) { c.interceptors = append(c.interceptors, i) }
}

// WithNotifier sets where business and status failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL:        u,
		http:           &http.Client{Timeout: defaultTimeout},
		validateStatus: PermissiveStatus,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Get issues a GET and decodes the envelope data into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body and decodes the envelope data into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do sends one request. It never retries.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	for _, intercept := range c.interceptors {
		req, err = intercept(req)
		if err != nil {
			return c.onError(&Error{Kind: KindTransport, Method: method, Path: path, Err: fmt.Errorf("request interceptor: %w", err)})
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.onError(&Error{Kind: KindTransport, Method: method, Path: path, Err: err})
	}
	defer resp.Body.Close() //nolint:errcheck

	if !c.validateStatus(resp.StatusCode) {
		return c.onError(&Error{
			Kind:   KindStatus,
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Msg:    fmt.Sprintf("request failed with status code %d", resp.StatusCode),
		})
	}

	return c.onResponse(ctx, method, path, resp, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing path %q: %w", path, err)
	}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	u := base.ResolveReference(ref)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// onResponse unwraps the envelope. HTTP 200 with business code 200 is the
// only success; everything else is reported and returned as an *Error.
func (c *Client) onResponse(ctx context.Context, method, path string, resp *http.Response, out any) error {
	var env Envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&env)

	if resp.StatusCode == http.StatusOK {
		if decodeErr != nil {
			return c.onError(&Error{Kind: KindDecode, Method: method, Path: path, Status: resp.StatusCode, Err: decodeErr})
		}
		if env.Code != CodeOK {
			msg := env.Msg
			if msg == "" {
				msg = "operation failed"
			}
			e := &Error{Kind: KindBusiness, Method: method, Path: path, Status: resp.StatusCode, Code: env.Code, Msg: msg}
			c.report(ctx, e)
			return c.onError(e)
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return c.onError(&Error{Kind: KindDecode, Method: method, Path: path, Status: resp.StatusCode, Err: err})
			}
		}
		return nil
	}

	msg := ""
	if decodeErr == nil {
		msg = env.Msg
	}
	if msg == "" {
		msg = fmt.Sprintf("request error, status: %d", resp.StatusCode)
	}
	e := &Error{Kind: KindStatus, Method: method, Path: path, Status: resp.StatusCode, Code: env.Code, Msg: msg}
	c.report(ctx, e)
	return c.onError(e)
}

func (c *Client) report(ctx context.Context, e *Error) {
	if c.notifier == nil {
		return
	}
	notify.Error(ctx, c.notifier, e.Msg)
	e.notified = true
}

// onError is the error hook: it logs and passes the error through.
func (c *Client) onError(e *Error) error {
	c.logger.Debug("backend request failed",
		"method", e.Method,
		"path", e.Path,
		"kind", e.Kind.String(),
		"status", e.Status,
		"error", e.Error(),
	)
	return e
}
