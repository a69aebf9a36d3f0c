package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const eventWriteTimeout = 5 * time.Second

// handleEvents streams the learner's progress events as JSON text frames until
// the client goes away. Client frames are ignored.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	learner := r.PathValue("learner")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "learner_id", learner, "error", err)
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := h.events.Subscribe(learner)
	defer unsubscribe()
	slog.Debug("event stream opened", "learner_id", learner)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			slog.Debug("event stream closed", "learner_id", learner)
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("event stream write failed", "learner_id", learner, "error", err)
				return
			}
		}
	}
}
