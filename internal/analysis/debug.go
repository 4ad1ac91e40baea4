package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/chadmayfield/aquachroma/internal/httpclient"
	"github.com/chadmayfield/aquachroma/internal/notify"
)

const (
	debugAnalyzePath   = "/api/debug/analyze/"
	defaultDebugMethod = http.MethodGet
)

// Requester sends one request to the analysis backend and decodes the
// envelope data into out. *httpclient.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) error
}

// WithDebugMethod selects GET or POST for the debug trigger.
func WithDebugMethod(method string) Option {
	return func(s *Store) {
		switch m := strings.ToUpper(method); m {
		case http.MethodGet, http.MethodPost:
			s.debugMethod = m
		}
	}
}

// TriggerDebugAnalysis asks the backend to re-run the analysis for
// timestamp and returns its payload. It is fire-and-forget: one request, no
// retry, no deduplication. On failure the payload is nil and the error has
// already been reported through the notifier.
func (s *Store) TriggerDebugAnalysis(ctx context.Context, timestamp int64) (json.RawMessage, error) {
	var err error
	switch {
	case timestamp <= 0:
		err = fmt.Errorf("invalid timestamp %d", timestamp)
	case s.backend == nil:
		err = errors.New("no analysis backend configured")
	}
	if err != nil {
		notify.Error(ctx, s.notifier, failureMessage("trigger debug analysis", err))
		return nil, err
	}

	path := debugAnalyzePath + strconv.FormatInt(timestamp, 10)
	var payload json.RawMessage
	if err := s.backend.Do(ctx, s.debugMethod, path, nil, nil, &payload); err != nil {
		s.logger.Error("triggering debug analysis failed", "timestamp", timestamp, "error", err)
		if !httpclient.Notified(err) {
			notify.Error(ctx, s.notifier, failureMessage("trigger debug analysis", err))
		}
		return nil, fmt.Errorf("triggering debug analysis for %d: %w", timestamp, err)
	}

	s.logger.Info("debug analysis triggered", "timestamp", timestamp, "method", s.debugMethod)
	notify.Success(ctx, s.notifier, "debug analysis triggered")
	return payload, nil
}
