package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/chadmayfield/aquachroma/internal/analysis"
	"github.com/chadmayfield/aquachroma/internal/httpclient"
)

const streamWriteTimeout = 10 * time.Second

// StreamResults handles GET /api/v1/results/stream. It upgrades to a
// WebSocket, sends the current snapshot, then one snapshot per state change.
// Client messages are ignored.
func (h *Handlers) StreamResults(w http.ResponseWriter, r *http.Request) {
	// Long-lived connection: drop the server's per-request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.Logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	ctx := conn.CloseRead(r.Context())

	snaps, unsubscribe := h.Results.Subscribe()
	defer unsubscribe()

	if err := writeSnapshot(ctx, conn, h.Results.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap, ok := <-snaps:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "")
				return
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				h.Logger.Debug("result stream closed", "error", err)
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap analysis.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, response{Code: httpclient.CodeOK, Msg: "snapshot", Data: snap})
}
