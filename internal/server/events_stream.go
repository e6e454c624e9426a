package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/events"
)

// EventsStreamHandler streams events to clients over Server-Sent Events.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler creates a new SSE handler
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("handler", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream
//
// Clients may filter with ?types=TRADE_EXECUTED,PRICE_UPDATED. Without a
// filter every event is delivered.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	types := parseEventTypes(r.URL.Query().Get("types"))
	sub := h.bus.Subscribe(types...)
	defer h.bus.Unsubscribe(sub)

	h.log.Debug().Int("type_filter", len(types)).Msg("SSE client connected")

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Msg("SSE client disconnected")
			return

		case ev, open := <-sub.C:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to marshal event")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// parseEventTypes converts a comma-separated filter into event types
func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}

	var types []events.EventType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(strings.ToUpper(part))
		if part != "" {
			types = append(types, events.EventType(part))
		}
	}
	return types
}
