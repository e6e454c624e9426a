package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	defer bus.Unsubscribe(sub1)
	defer bus.Unsubscribe(sub2)

	bus.Publish("trading", TradeExecuted, &TradeExecutedData{Symbol: "INFY", Side: "BUY"})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, TradeExecuted, ev.Type)
			assert.Equal(t, "trading", ev.Module)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	sub := bus.Subscribe(PriceUpdated)
	defer bus.Unsubscribe(sub)

	bus.Publish("trading", TradeExecuted, nil)
	bus.Publish("market", PriceUpdated, &PriceUpdatedData{Count: 3})

	select {
	case ev := <-sub.C:
		require.Equal(t, PriceUpdated, ev.Type, "filtered subscriber must only see its types")
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected second event: %s", ev.Type)
	default:
	}
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish("market", PriceUpdated, nil)
	}

	assert.Equal(t, uint64(10), bus.DroppedCount())

	received := 0
	for {
		select {
		case <-sub.C:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Double unsubscribe is a no-op
	bus.Unsubscribe(sub)
}
