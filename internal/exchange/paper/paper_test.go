package paper

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/model"
)

func TestSubmitOrderBuyAppliesSlippage(t *testing.T) {
	c := New(10) // 10 bps
	c.Observe(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(19990), Ask: decimal.NewFromInt(20000)})

	fill, err := c.SubmitOrder(context.Background(), model.Order{
		Pair: "BTC/USDT", Side: model.Buy, Quantity: decimal.NewFromFloat(0.04),
	})
	require.NoError(t, err)
	assert.True(t, fill.ExecutedPrice.Equal(decimal.NewFromInt(20020)), "expected 20020 got %s", fill.ExecutedPrice)
}

func TestSubmitOrderSellAppliesSlippage(t *testing.T) {
	c := New(10)
	c.Observe(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(19990), Ask: decimal.NewFromInt(20000)})

	fill, err := c.SubmitOrder(context.Background(), model.Order{
		Pair: "BTC/USDT", Side: model.Sell, Quantity: decimal.NewFromFloat(0.04),
	})
	require.NoError(t, err)
	expected := decimal.NewFromInt(19990).Mul(decimal.NewFromFloat(0.999))
	assert.True(t, expected.Equal(fill.ExecutedPrice))
}

func TestSubmitOrderWithoutMarketDataFails(t *testing.T) {
	c := New(10)
	_, err := c.SubmitOrder(context.Background(), model.Order{Pair: "ETH/USDT", Side: model.Buy, Quantity: decimal.NewFromInt(1)})
	assert.Error(t, err)
}
