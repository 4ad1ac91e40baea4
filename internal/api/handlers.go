package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/chadmayfield/aquachroma/internal/analysis"
	"github.com/chadmayfield/aquachroma/internal/httpclient"
	"github.com/chadmayfield/aquachroma/internal/notify"
	"github.com/chadmayfield/aquachroma/internal/source"
	"github.com/chadmayfield/aquachroma/internal/store"
)

const (
	defaultLimit = 1000
	maxLimit     = 10000
)

// Results is the result state served by the dashboard. *analysis.Store
// satisfies it.
type Results interface {
	Snapshot() analysis.Snapshot
	Start(ctx context.Context, lookbackDays int) uint64
	Subscribe() (<-chan analysis.Snapshot, func())
	TriggerDebugAnalysis(ctx context.Context, timestamp int64) (json.RawMessage, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Results      Results
	Recorder     *notify.Recorder
	Mirror       store.Store // optional
	Logger       *slog.Logger
	StartTime    time.Time
	LookbackDays int

	SourceDriver  string
	StorageDriver string
	StoragePath   string
	Version       string

	// OriginPatterns are the hosts allowed to open the result stream
	// cross-origin.
	OriginPatterns []string
}

// response is the envelope every endpoint answers with.
type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Code: httpclient.CodeOK, Msg: "ok", Data: v}); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Code: status, Msg: msg}); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// ListResults handles GET /api/v1/results
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	var status source.Status
	if v := q.Get("status"); v != "" {
		if err := status.UnmarshalText([]byte(v)); err != nil {
			writeError(w, http.StatusBadRequest, "status must be 'completed' or 'night'")
			return
		}
	}

	snap := h.Results.Snapshot()
	results := snap.Results
	if status != "" {
		filtered := make([]analysis.Result, 0, len(results))
		for _, res := range results {
			if res.Status == status {
				filtered = append(filtered, res)
			}
		}
		results = filtered
	}

	total := len(results)
	if offset >= len(results) {
		results = []analysis.Result{}
	} else {
		results = results[offset:]
	}
	if limit < len(results) {
		results = results[:limit]
	}

	type resultsResponse struct {
		Results         []analysis.Result `json:"results"`
		Total           int               `json:"total"`
		Limit           int               `json:"limit"`
		Offset          int               `json:"offset"`
		Loading         bool              `json:"loading"`
		LoadingProgress int               `json:"loading_progress"`
		Generation      uint64            `json:"generation"`
		UpdatedAt       time.Time         `json:"updated_at,omitzero"`
	}

	writeJSON(w, http.StatusOK, resultsResponse{
		Results:         results,
		Total:           total,
		Limit:           limit,
		Offset:          offset,
		Loading:         snap.Loading,
		LoadingProgress: snap.LoadingProgress,
		Generation:      snap.Generation,
		UpdatedAt:       snap.UpdatedAt,
	})
}

// GetLatestResult handles GET /api/v1/results/latest
func (h *Handlers) GetLatestResult(w http.ResponseWriter, r *http.Request) {
	snap := h.Results.Snapshot()
	if len(snap.Results) == 0 {
		writeError(w, http.StatusNotFound, "no results loaded")
		return
	}
	writeJSON(w, http.StatusOK, snap.Results[0])
}

// RefreshResults handles POST /api/v1/results/refresh
func (h *Handlers) RefreshResults(w http.ResponseWriter, r *http.Request) {
	days := h.LookbackDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = n
	}

	// The fetch outlives the request.
	gen := h.Results.Start(context.WithoutCancel(r.Context()), days)
	h.Logger.Info("refresh requested", "generation", gen, "lookback_days", days)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"generation":    gen,
		"lookback_days": days,
	})
}

// TriggerDebugAnalysis handles POST /api/v1/debug/analyze/{timestamp}
func (h *Handlers) TriggerDebugAnalysis(w http.ResponseWriter, r *http.Request) {
	ts, err := strconv.ParseInt(r.PathValue("timestamp"), 10, 64)
	if err != nil || ts <= 0 {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	payload, err := h.Results.TriggerDebugAnalysis(r.Context(), ts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	type debugResponse struct {
		Timestamp       int64           `json:"timestamp"`
		OutputDirectory string          `json:"output_directory"`
		Payload         json.RawMessage `json:"payload,omitempty"`
	}
	writeJSON(w, http.StatusOK, debugResponse{
		Timestamp:       ts,
		OutputDirectory: analysis.OutputDirectory(ts),
		Payload:         payload,
	})
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	recent := []notify.Notification{}
	if h.Recorder != nil {
		recent = h.Recorder.Recent()
	}
	writeJSON(w, http.StatusOK, recent)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type resultsHealth struct {
		Source          string `json:"source"`
		Count           int    `json:"count"`
		Loading         bool   `json:"loading"`
		LoadingProgress int    `json:"loading_progress"`
		Generation      uint64 `json:"generation"`
		LastUpdated     string `json:"last_updated,omitempty"`
		Newest          string `json:"newest,omitempty"`
	}
	type dbHealth struct {
		Driver        string `json:"driver"`
		Status        string `json:"status"`
		SizeBytes     int64  `json:"size_bytes,omitempty"`
		TotalResults  int    `json:"total_results"`
		Oldest        string `json:"oldest,omitempty"`
		Newest        string `json:"newest,omitempty"`
		SyncedThrough string `json:"synced_through,omitempty"`
	}
	type healthResponse struct {
		Status   string        `json:"status"`
		Version  string        `json:"version"`
		Uptime   string        `json:"uptime"`
		Results  resultsHealth `json:"results"`
		Database *dbHealth     `json:"database,omitempty"`
	}

	snap := h.Results.Snapshot()
	resp := healthResponse{
		Status:  "healthy",
		Version: h.Version,
		Uptime:  formatUptime(time.Since(h.StartTime)),
		Results: resultsHealth{
			Source:          h.SourceDriver,
			Count:           len(snap.Results),
			Loading:         snap.Loading,
			LoadingProgress: snap.LoadingProgress,
			Generation:      snap.Generation,
		},
	}
	if !snap.UpdatedAt.IsZero() {
		resp.Results.LastUpdated = snap.UpdatedAt.Format(time.RFC3339)
	}
	if len(snap.Results) > 0 {
		resp.Results.Newest = time.Unix(snap.Results[0].Timestamp, 0).UTC().Format(time.RFC3339)
	}

	// Mirror health (path omitted to avoid exposing filesystem details).
	if h.Mirror != nil {
		db := &dbHealth{Driver: h.StorageDriver, Status: "ok"}
		if count, err := h.Mirror.Count(r.Context()); err != nil {
			db.Status = "error"
			resp.Status = "degraded"
			h.Logger.Warn("mirror health check failed", "error", err)
		} else {
			db.TotalResults = count
		}
		if oldest, newest, err := h.Mirror.GetDataRange(r.Context()); err == nil && newest > 0 {
			db.Oldest = time.Unix(oldest, 0).UTC().Format(time.RFC3339)
			db.Newest = time.Unix(newest, 0).UTC().Format(time.RFC3339)
		}
		if mark, ok, err := h.Mirror.GetSyncState(r.Context(), source.DefaultCollection); err == nil && ok {
			db.SyncedThrough = time.Unix(mark, 0).UTC().Format(time.RFC3339)
		}
		if h.StorageDriver == "sqlite" && h.StoragePath != "" {
			if info, err := os.Stat(h.StoragePath); err == nil {
				db.SizeBytes = info.Size()
			}
		}
		resp.Database = db
	}

	writeJSON(w, http.StatusOK, resp)
}
