package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradedesk/papertrader/internal/events"
)

func waitForSubscriber(t *testing.T, bus *events.Bus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bus.SubscriberCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscriber never connected")
}

func TestEventsStream_DeliversEvents(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	handler := NewEventsStreamHandler(bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()

	waitForSubscriber(t, bus)
	bus.Publish("trading", events.TradeExecuted, &events.TradeExecutedData{
		OrderID: "abc", Symbol: "INFY", Side: "BUY", Quantity: 10,
	})

	// Give the handler a moment to flush the frame, then disconnect
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"connected"`)
	assert.Contains(t, body, "TRADE_EXECUTED")
	assert.Contains(t, body, `"INFY"`)

	assert.Zero(t, bus.SubscriberCount(), "subscription released on disconnect")
}

func TestEventsStream_TypeFilter(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	handler := NewEventsStreamHandler(bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/stream?types=price_updated", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()

	waitForSubscriber(t, bus)
	bus.Publish("trading", events.TradeExecuted, &events.TradeExecutedData{OrderID: "abc"})
	bus.Publish("market", events.PriceUpdated, &events.PriceUpdatedData{Count: 3})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, "PRICE_UPDATED")
	assert.NotContains(t, body, "TRADE_EXECUTED")
}

func TestParseEventTypes(t *testing.T) {
	assert.Nil(t, parseEventTypes(""))

	types := parseEventTypes("trade_executed, PRICE_UPDATED ,")
	require.Len(t, types, 2)
	assert.Equal(t, events.TradeExecuted, types[0])
	assert.Equal(t, events.PriceUpdated, types[1])
}

func TestParseEventTypes_Whitespace(t *testing.T) {
	types := parseEventTypes("  ,  ")
	assert.Empty(t, types)
}
