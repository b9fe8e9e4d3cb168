package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/bus"
	"market_maker/internal/logging"
	"market_maker/internal/model"
)

type fakeLedger struct{ positions []model.Position }

func (f *fakeLedger) Positions() []model.Position { return f.positions }

type fakeState struct{ state model.EngineState }

func (f *fakeState) Current() model.EngineState { return f.state }

func testLogger(t *testing.T) logging.Logger {
	l, err := logging.New("error")
	require.NoError(t, err)
	return l
}

func newManager(t *testing.T, cfg model.RiskConfig, ledger PositionSource, state *fakeState) (*Manager, chan model.Order, <-chan model.Event) {
	orders := make(chan model.Order, model.MaxOpenOrders*2)
	events := bus.NewEventBus(32, testLogger(t))
	sub := events.Subscribe("test")
	m := New(cfg, ledger, state, events, orders, testLogger(t))
	m.SeedPortfolio(decimal.NewFromInt(10000))
	return m, orders, sub
}

func happyConfig() model.RiskConfig {
	return model.RiskConfig{
		StopLossPct:         decimal.NewFromFloat(0.05),
		TakeProfitPct:       decimal.NewFromFloat(0.10),
		MaxExposurePerTrade: decimal.NewFromInt(1000),
		MaxDrawdownPct:      decimal.NewFromFloat(0.20),
	}
}

// Scenario 1: happy buy.
func TestHappyBuyEmitsOrder(t *testing.T) {
	state := &fakeState{state: model.Running}
	m, orders, _ := newManager(t, happyConfig(), &fakeLedger{}, state)

	m.OnMarketEvent(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(19990), Ask: decimal.NewFromInt(20000)})
	m.OnSignal(model.Signal{Side: model.Buy, Pair: "BTC/USDT", Quantity: decimal.NewFromFloat(0.04), Strategy: "test"})

	select {
	case order := <-orders:
		assert.Equal(t, model.Buy, order.Side)
		assert.Equal(t, model.OriginStrategy, order.Origin)
		assert.Equal(t, 1, m.OpenOrderCount())
	default:
		t.Fatal("expected an approved order")
	}
}

// Scenario 2: exposure rejection.
func TestExposureRejection(t *testing.T) {
	state := &fakeState{state: model.Running}
	m, orders, events := newManager(t, happyConfig(), &fakeLedger{}, state)

	m.OnMarketEvent(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(19990), Ask: decimal.NewFromInt(20000)})
	m.OnSignal(model.Signal{Side: model.Buy, Pair: "BTC/USDT", Quantity: decimal.NewFromFloat(0.06), Strategy: "test"})

	select {
	case <-orders:
		t.Fatal("over-exposed signal must not produce an order")
	default:
	}
	evt := <-events
	require.NotNil(t, evt.Rejection)
	assert.Equal(t, model.ExposureLimitExceeded, evt.Rejection.Reason)
	assert.Equal(t, 0, m.OpenOrderCount())
}

// Scenario 3: stop-loss trigger.
func TestStopLossTrigger(t *testing.T) {
	state := &fakeState{state: model.Running}
	pos := model.Position{Pair: "BTC/USDT", Side: model.Buy, Entry: decimal.NewFromInt(20000), Quantity: decimal.NewFromFloat(0.04)}
	m, orders, events := newManager(t, happyConfig(), &fakeLedger{positions: []model.Position{pos}}, state)

	m.OnMarketEvent(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(19000), Ask: decimal.NewFromInt(19010)})

	select {
	case order := <-orders:
		assert.Equal(t, model.Sell, order.Side)
		assert.Equal(t, model.OriginStopLoss, order.Origin)
	default:
		t.Fatal("expected a stop-loss close order")
	}
	evt := <-events
	require.NotNil(t, evt.Trigger)
	assert.Equal(t, model.StopLossTriggered, evt.Trigger.Kind)
}

// Scenario 4: take-profit trigger.
func TestTakeProfitTrigger(t *testing.T) {
	state := &fakeState{state: model.Running}
	pos := model.Position{Pair: "BTC/USDT", Side: model.Buy, Entry: decimal.NewFromInt(20000), Quantity: decimal.NewFromFloat(0.04)}
	m, orders, events := newManager(t, happyConfig(), &fakeLedger{positions: []model.Position{pos}}, state)

	m.OnMarketEvent(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(22100), Ask: decimal.NewFromInt(22110)})

	select {
	case order := <-orders:
		assert.Equal(t, model.OriginTakeProfit, order.Origin)
	default:
		t.Fatal("expected a take-profit close order")
	}
	evt := <-events
	require.NotNil(t, evt.Trigger)
	assert.Equal(t, model.TakeProfitTriggered, evt.Trigger.Kind)
}

// Scenario 5: drawdown halt then reset.
func TestDrawdownHaltThenReset(t *testing.T) {
	state := &fakeState{state: model.Running}
	m, orders, events := newManager(t, happyConfig(), &fakeLedger{}, state)
	m.SeedPortfolio(decimal.NewFromInt(10000))

	m.OnPortfolioValuation(decimal.NewFromInt(7999))
	assert.True(t, m.Halted())
	evt := <-events
	require.NotNil(t, evt.Trigger)
	assert.Equal(t, model.DrawdownHalt, evt.Trigger.Kind)

	m.OnMarketEvent(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(19990), Ask: decimal.NewFromInt(20000)})
	m.OnSignal(model.Signal{Side: model.Buy, Pair: "BTC/USDT", Quantity: decimal.NewFromFloat(0.04), Strategy: "test"})
	select {
	case <-orders:
		t.Fatal("must reject signal-path orders while halted")
	default:
	}
	rejected := <-events
	require.NotNil(t, rejected.Rejection)
	assert.Equal(t, model.DrawdownHalted, rejected.Rejection.Reason)

	m.ResetDrawdown()
	assert.False(t, m.Halted())

	m.OnSignal(model.Signal{Side: model.Buy, Pair: "BTC/USDT", Quantity: decimal.NewFromFloat(0.04), Strategy: "test"})
	select {
	case order := <-orders:
		assert.Equal(t, model.Buy, order.Side)
	default:
		t.Fatal("expected order to pass after reset")
	}
}

// Scenario 6: hard ceiling.
func TestHardCeiling(t *testing.T) {
	state := &fakeState{state: model.Running}
	m, orders, events := newManager(t, happyConfig(), &fakeLedger{}, state)
	m.OnMarketEvent(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(19990), Ask: decimal.NewFromInt(20000)})

	for i := 0; i < model.MaxOpenOrders; i++ {
		m.OnSignal(model.Signal{Side: model.Buy, Pair: "BTC/USDT", Quantity: decimal.NewFromFloat(0.001), Strategy: "test"})
		<-orders
	}
	assert.Equal(t, model.MaxOpenOrders, m.OpenOrderCount())

	m.OnSignal(model.Signal{Side: model.Buy, Pair: "BTC/USDT", Quantity: decimal.NewFromFloat(0.001), Strategy: "test"})
	select {
	case <-orders:
		t.Fatal("must reject once at the hard ceiling")
	default:
	}
	evt := <-events
	require.NotNil(t, evt.Rejection)
	assert.Equal(t, model.HardCeilingReached, evt.Rejection.Reason)
}

func TestEmitClosingOrdersIssuesOneCloseOrderPerOpenPosition(t *testing.T) {
	state := &fakeState{state: model.Stopping()}
	pos := model.Position{Pair: "BTC/USDT", Side: model.Buy, Entry: decimal.NewFromInt(20000), Quantity: decimal.NewFromFloat(0.04)}
	m, orders, _ := newManager(t, happyConfig(), &fakeLedger{positions: []model.Position{pos}}, state)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	remaining := m.EmitClosingOrders(ctx)

	select {
	case order := <-orders:
		assert.Equal(t, model.Sell, order.Side)
		assert.Equal(t, model.OriginShutdownClose, order.Origin)
	default:
		t.Fatal("expected an unconditional close order")
	}
	// The fake ledger never removes the position once closed, so the
	// drain window always expires with it still reported open.
	assert.Len(t, remaining, 1)
}

func TestSignalDroppedSilentlyWhenNotRunning(t *testing.T) {
	state := &fakeState{state: model.Paused}
	m, orders, events := newManager(t, happyConfig(), &fakeLedger{}, state)
	m.OnMarketEvent(model.MarketEvent{Pair: "BTC/USDT", Bid: decimal.NewFromInt(19990), Ask: decimal.NewFromInt(20000)})

	m.OnSignal(model.Signal{Side: model.Buy, Pair: "BTC/USDT", Quantity: decimal.NewFromFloat(0.01), Strategy: "test"})

	select {
	case <-orders:
		t.Fatal("must not emit an order while paused")
	default:
	}
	select {
	case <-events:
		t.Fatal("must not emit a rejection event while paused or stopped — it's a silent drop")
	default:
	}
}
