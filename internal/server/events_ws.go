package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tradedesk/papertrader/internal/events"
)

const wsWriteTimeout = 10 * time.Second

// EventsWSHandler streams events to clients over a WebSocket.
type EventsWSHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsWSHandler creates a new WebSocket event handler
func NewEventsWSHandler(bus *events.Bus, log zerolog.Logger) *EventsWSHandler {
	return &EventsWSHandler{
		bus: bus,
		log: log.With().Str("handler", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws
//
// Accepts the same ?types= filter as the SSE stream.
func (h *EventsWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is already checked by the CORS middleware
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	types := parseEventTypes(r.URL.Query().Get("types"))
	sub := h.bus.Subscribe(types...)
	defer h.bus.Unsubscribe(sub)

	h.log.Debug().Int("type_filter", len(types)).Msg("WebSocket client connected")

	ctx := r.Context()

	// Drain incoming frames so pings and close frames are processed
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case ev, open := <-sub.C:
			if !open {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				h.logCloseError(err)
				return
			}

		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logCloseError(err)
				return
			}
		}
	}
}

func (h *EventsWSHandler) write(ctx context.Context, conn *websocket.Conn, ev events.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}

func (h *EventsWSHandler) logCloseError(err error) {
	if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		h.log.Debug().Msg("WebSocket client disconnected")
		return
	}
	h.log.Warn().Err(err).Msg("WebSocket write failed")
}
