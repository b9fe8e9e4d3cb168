package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTradeRoundTripZeroSlippage(t *testing.T) {
	p := Position{
		Pair:     "BTC/USDT",
		Side:     Buy,
		Entry:    decimal.NewFromInt(20000),
		Quantity: decimal.NewFromFloat(0.04),
		Mode:     Paper,
		OpenedAt: time.Now(),
	}

	trade := NewTrade(p, decimal.NewFromInt(20000), time.Now(), "t1")
	assert.True(t, trade.PnLUSD.IsZero(), "round-trip at same price should net zero pnl")
}

func TestNewTradeStopLossScenario(t *testing.T) {
	p := Position{
		Pair:     "BTC/USDT",
		Side:     Buy,
		Entry:    decimal.NewFromInt(20000),
		Quantity: decimal.NewFromFloat(0.04),
		Mode:     Live,
		OpenedAt: time.Now(),
	}
	trade := NewTrade(p, decimal.NewFromInt(19200), time.Now(), "t2")
	expected := decimal.NewFromInt(-32)
	assert.True(t, expected.Equal(trade.PnLUSD), "expected -32 got %s", trade.PnLUSD)
}

func TestNewTradeTakeProfitScenario(t *testing.T) {
	p := Position{
		Pair:     "BTC/USDT",
		Side:     Buy,
		Entry:    decimal.NewFromInt(20000),
		Quantity: decimal.NewFromFloat(0.04),
		Mode:     Live,
		OpenedAt: time.Now(),
	}
	trade := NewTrade(p, decimal.NewFromInt(22100), time.Now(), "t3")
	expected := decimal.NewFromInt(84)
	assert.True(t, expected.Equal(trade.PnLUSD), "expected 84 got %s", trade.PnLUSD)
}

func TestParseModeRejectsUnknown(t *testing.T) {
	_, err := ParseMode("testnet")
	require.ErrorIs(t, err, ErrInvalidMode)

	m, err := ParseMode("paper")
	require.NoError(t, err)
	assert.Equal(t, Paper, m)
}

func TestPortfolioAccountingDrawdown(t *testing.T) {
	p := PortfolioAccounting{PeakValue: decimal.NewFromInt(10000), CurrentValue: decimal.NewFromInt(7999)}
	dd := p.Drawdown()
	assert.True(t, dd.GreaterThanOrEqual(decimal.NewFromFloat(0.20)), "drawdown %s should trip 20%% threshold", dd)
}
