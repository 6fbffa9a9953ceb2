package fanout

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

const writeTimeout = 5 * time.Second

// Handler exposes the hub over WebSocket.
type Handler struct {
	hub    *Hub
	logger *slog.Logger
	// OriginPatterns restricts browser origins allowed to connect; empty
	// means same-origin only.
	originPatterns []string
}

// NewHandler creates the fanout transport handler.
func NewHandler(hub *Hub, logger *slog.Logger, originPatterns []string) *Handler {
	return &Handler{hub: hub, logger: logger, originPatterns: originPatterns}
}

// Register mounts the WebSocket endpoint.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ws/leaderboard", h.stream)
}

// stream upgrades the connection and forwards leaderboard events until the
// client disconnects. A write slower than writeTimeout closes the connection;
// buffered events the client never drained are simply lost.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(h.originPatterns) > 0 {
		opts.OriginPatterns = h.originPatterns
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.DebugContext(r.Context(), "websocket accept failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.hub.Subscribe(TopicLeaderboard)
	defer h.hub.Unsubscribe(sub)

	// Read pump: the client sends nothing we care about, but reading is the
	// only way to observe close frames and pings.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readClosed:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case event, ok := <-sub.C:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write failed")
				return
			}
		}
	}
}
