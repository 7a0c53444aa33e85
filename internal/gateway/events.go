// ABOUTME: Live event streaming over SSE and WebSocket backed by the fan-out
// ABOUTME: Each connection becomes a channel subscriber removed on disconnect

package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/pairwatch/internal/fanout"
)

const wsWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already gates the endpoint; origins are not restricted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsSSE streams fan-out events as server-sent events until the
// client disconnects.
func (g *Gateway) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := fanout.NewChannelSubscriber(r.Context())
	g.fanout.Subscribe(sub)
	defer g.fanout.Unsubscribe(sub.ID())

	g.logger.Debug("SSE subscriber connected", "subscriber_id", sub.ID())

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.Events():
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

// handleEventsWS streams the same fan-out envelopes over a WebSocket.
func (g *Gateway) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := fanout.NewChannelSubscriber(r.Context())
	g.fanout.Subscribe(sub)
	defer g.fanout.Unsubscribe(sub.ID())

	g.logger.Debug("websocket subscriber connected", "subscriber_id", sub.ID())

	// Reader goroutine drains control frames and surfaces disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case frame, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.logger.Debug("websocket write failed", "subscriber_id", sub.ID(), "error", err)
				return
			}
		}
	}
}
