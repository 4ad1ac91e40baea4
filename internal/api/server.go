package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/chadmayfield/aquachroma/internal/notify"
	"github.com/chadmayfield/aquachroma/internal/store"
)

// Server is the dashboard API server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer creates a new API server with all routes registered. An empty
// corsOrigin disables CORS headers.
func NewServer(results Results, rec *notify.Recorder, corsOrigin string, logger *slog.Logger) *Server {
	h := &Handlers{
		Results:   results,
		Recorder:  rec,
		Logger:    logger,
		StartTime: time.Now(),
	}
	if u, err := url.Parse(corsOrigin); err == nil && u.Host != "" {
		h.OriginPatterns = []string{u.Host}
	}

	var handler http.Handler = routes(h)
	handler = ContentType(handler)
	handler = SecurityHeaders(handler)
	handler = CORS(corsOrigin)(handler)
	handler = Logger(logger)(handler)
	handler = RequestID(handler)
	handler = Recovery(handler)

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, handlers: h}
}

func routes(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/results", h.ListResults)
	mux.HandleFunc("GET /api/v1/results/latest", h.GetLatestResult)
	mux.HandleFunc("POST /api/v1/results/refresh", h.RefreshResults)
	mux.HandleFunc("GET /api/v1/results/stream", h.StreamResults)
	mux.HandleFunc("POST /api/v1/debug/analyze/{timestamp}", h.TriggerDebugAnalysis)
	mux.HandleFunc("GET /api/v1/notifications", h.ListNotifications)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	return mux
}

// ListenAndServe starts the HTTP server. Blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer.Addr = addr
	s.handlers.Logger.Info("api server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// SetVersion sets the version string for the health endpoint.
func (s *Server) SetVersion(v string) { s.handlers.Version = v }

// SetLookbackDays sets the window used by refresh requests without ?days=.
func (s *Server) SetLookbackDays(days int) { s.handlers.LookbackDays = days }

// SetSourceDriver names the result source in the health endpoint.
func (s *Server) SetSourceDriver(driver string) { s.handlers.SourceDriver = driver }

// SetMirror reports the local mirror in the health endpoint.
func (s *Server) SetMirror(m store.Store, driver, path string) {
	s.handlers.Mirror = m
	s.handlers.StorageDriver = driver
	s.handlers.StoragePath = path
}
