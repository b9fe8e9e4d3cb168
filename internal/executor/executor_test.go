package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/bus"
	"market_maker/internal/ledger"
	"market_maker/internal/logging"
	"market_maker/internal/model"
)

type memStore struct {
	mu        sync.Mutex
	positions map[model.PositionKey]model.Position
	trades    []model.Trade
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[model.PositionKey]model.Position)}
}

func (s *memStore) InsertPosition(ctx context.Context, p model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Key()] = p
	return nil
}

func (s *memStore) DeletePositionAndInsertTrade(ctx context.Context, key model.PositionKey, t model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, key)
	s.trades = append(s.trades, t)
	return nil
}

func (s *memStore) LoadPositions(ctx context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) RealizedPnL24h(ctx context.Context, mode model.Mode) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeClient struct {
	mu        sync.Mutex
	submitted []model.Order
	failNext  bool
}

func (c *fakeClient) SubmitOrder(ctx context.Context, order model.Order) (model.Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return model.Fill{}, errors.New("exchange rejected")
	}
	c.submitted = append(c.submitted, order)
	return model.Fill{
		Pair: order.Pair, Side: order.Side,
		ExecutedPrice: order.ReferencePrice, ExecutedQty: order.Quantity,
		ExecutedAt: time.Now(), Mode: model.Paper, Origin: order.Origin,
	}, nil
}

func (c *fakeClient) OpenPositions(ctx context.Context) ([]model.Position, error) {
	return nil, nil
}

type fakeSettlement struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSettlement) OnOrderSettled() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func testLogger(t *testing.T) logging.Logger {
	l, err := logging.New("error")
	require.NoError(t, err)
	return l
}

func TestExecutorAppliesFillAndEmitsOrderFilled(t *testing.T) {
	client := &fakeClient{}
	l := ledger.New(newMemStore(), testLogger(t))
	events := bus.NewEventBus(16, testLogger(t))
	sub := events.Subscribe("test")
	settled := &fakeSettlement{}

	e := New(client, l, events, settled, nil, testLogger(t))

	orders := make(chan model.Order, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx, orders)

	orders <- model.Order{Pair: "BTC/USDT", Side: model.Buy, Quantity: decimal.NewFromFloat(0.04), ReferencePrice: decimal.NewFromInt(20020), Origin: model.OriginStrategy}

	evt := <-sub
	require.NotNil(t, evt.OrderFilled)
	assert.Equal(t, "BTC/USDT", evt.OrderFilled.Order.Pair)

	assert.Eventually(t, func() bool {
		_, ok := l.PositionFor(model.PositionKey{Pair: "BTC/USDT", Side: model.Buy, Mode: model.Paper})
		return ok
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		settled.mu.Lock()
		defer settled.mu.Unlock()
		return settled.calls == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
}

func TestExecutorOpensShortOnStrategySellOrigin(t *testing.T) {
	client := &fakeClient{}
	l := ledger.New(newMemStore(), testLogger(t))
	events := bus.NewEventBus(16, testLogger(t))
	sub := events.Subscribe("test")
	settled := &fakeSettlement{}

	e := New(client, l, events, settled, nil, testLogger(t))

	orders := make(chan model.Order, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, orders)

	orders <- model.Order{Pair: "BTC/USDT", Side: model.Sell, Quantity: decimal.NewFromFloat(0.04), ReferencePrice: decimal.NewFromInt(20020), Origin: model.OriginStrategy}

	<-sub

	assert.Eventually(t, func() bool {
		pos, ok := l.PositionFor(model.PositionKey{Pair: "BTC/USDT", Side: model.Sell, Mode: model.Paper})
		return ok && pos.Side == model.Sell
	}, time.Second, 10*time.Millisecond, "a sell-to-open signal must open a short, not silently fail to persist")
}

func TestExecutorClosesShortOnStopLossOrigin(t *testing.T) {
	client := &fakeClient{}
	store := newMemStore()
	require.NoError(t, store.InsertPosition(context.Background(), model.Position{
		ID: "p1", Pair: "BTC/USDT", Side: model.Sell,
		Entry: decimal.NewFromInt(20000), Quantity: decimal.NewFromFloat(0.04), Mode: model.Paper,
	}))
	l := ledger.New(store, testLogger(t))
	require.NoError(t, l.Load(context.Background()))
	events := bus.NewEventBus(16, testLogger(t))
	sub := events.Subscribe("test")
	settled := &fakeSettlement{}

	e := New(client, l, events, settled, nil, testLogger(t))

	orders := make(chan model.Order, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, orders)

	// Buy-to-close the short: side is Buy, but origin says close.
	orders <- model.Order{Pair: "BTC/USDT", Side: model.Buy, Quantity: decimal.NewFromFloat(0.04), ReferencePrice: decimal.NewFromInt(21000), Origin: model.OriginStopLoss}

	<-sub

	assert.Eventually(t, func() bool {
		_, ok := l.PositionFor(model.PositionKey{Pair: "BTC/USDT", Side: model.Sell, Mode: model.Paper})
		return !ok
	}, time.Second, 10*time.Millisecond, "a buy-to-close fill must close the short, not open a phantom long")
}

func TestExecutorEmitsOrderFailedOnSubmissionError(t *testing.T) {
	client := &fakeClient{failNext: true}
	l := ledger.New(newMemStore(), testLogger(t))
	events := bus.NewEventBus(16, testLogger(t))
	sub := events.Subscribe("test")
	settled := &fakeSettlement{}

	e := New(client, l, events, settled, nil, testLogger(t))

	orders := make(chan model.Order, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, orders)

	orders <- model.Order{Pair: "ETH/USDT", Side: model.Buy, Quantity: decimal.NewFromInt(1), ReferencePrice: decimal.NewFromInt(2000)}

	evt := <-sub
	require.NotNil(t, evt.OrderFailed)
	assert.Equal(t, "ETH/USDT", evt.OrderFailed.Order.Pair)
}
