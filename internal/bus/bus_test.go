package bus

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/model"
)

func TestMarketBusDeliversInSourceOrder(t *testing.T) {
	b := NewMarketBus(4, nil)
	sub := b.Subscribe("strategy-a")

	for i := 0; i < 3; i++ {
		b.Publish(model.MarketEvent{Pair: "BTC/USDT", Timestamp: time.Now(), Last: decimal.NewFromInt(int64(i))})
	}

	for i := 0; i < 3; i++ {
		select {
		case evt := <-sub:
			assert.True(t, evt.Last.Equal(decimal.NewFromInt(int64(i))))
		default:
			t.Fatalf("expected event %d", i)
		}
	}
}

func TestMarketBusDropsOldestOnOverflow(t *testing.T) {
	b := NewMarketBus(2, nil)
	sub := b.Subscribe("slow")

	for i := 0; i < 5; i++ {
		b.Publish(model.MarketEvent{Pair: "BTC/USDT", Last: decimal.NewFromInt(int64(i))})
	}

	count := 0
	for {
		select {
		case <-sub:
			count++
		default:
			require.LessOrEqual(t, count, 2)
			return
		}
	}
}

func TestMarketBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewMarketBus(2, nil)
	sub := b.Subscribe("x")
	b.Unsubscribe("x")
	_, ok := <-sub
	assert.False(t, ok)
}
