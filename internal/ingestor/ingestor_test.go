package ingestor

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
	"market_maker/internal/exchange"
	"market_maker/internal/logging"
	"market_maker/internal/model"
)

// fakeStream mirrors the real Stream's reconnect contract: each Connect
// allocates a fresh frames channel, and Close (simulating a dropped
// connection) closes the current one so a blocked reader observes it.
type fakeStream struct {
	mu        sync.Mutex
	connected bool
	failFirst bool
	frames    chan exchange.RawFrame
	connects  int
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan exchange.RawFrame, 16)}
}

func (s *fakeStream) Connect(ctx context.Context, pairs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFirst {
		s.failFirst = false
		return errors.New("dial failed")
	}
	s.connected = true
	s.connects++
	s.frames = make(chan exchange.RawFrame, 16)
	return nil
}

func (s *fakeStream) Frames() <-chan exchange.RawFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.frames)
	return nil
}

func (s *fakeStream) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

type fakeSource struct {
	positions []model.Position
	err       error
}

func (f *fakeSource) OpenPositions(ctx context.Context) ([]model.Position, error) {
	return f.positions, f.err
}

type fakeReconciler struct {
	mu        sync.Mutex
	observed  []model.MarketEvent
	orphaned  []model.Position
	reconcile func([]model.Position) ([]model.Position, error)
	calls     int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, exchangePositions []model.Position) ([]model.Position, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.reconcile != nil {
		return f.reconcile(exchangePositions)
	}
	return f.orphaned, nil
}

func (f *fakeReconciler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeReconciler) ObserveMarketEvent(evt model.MarketEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, evt)
}

func testLogger(t *testing.T) logging.Logger {
	l, err := logging.New("error")
	require.NoError(t, err)
	return l
}

func TestStartPublishesDecodedFrames(t *testing.T) {
	stream := newFakeStream()
	source := &fakeSource{}
	recon := &fakeReconciler{}
	marketBus := bus.NewMarketBus(16, testLogger(t))
	sub := marketBus.Subscribe("test")

	ig := New(stream, source, marketBus, bus.NewEventBus(16, testLogger(t)), recon, []string{"BTC/USDT"}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ig.Start(ctx))

	stream.frames <- exchange.RawFrame{Pair: "BTC/USDT", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}

	select {
	case evt := <-sub:
		assert.Equal(t, "BTC/USDT", evt.Pair)
	case <-time.After(time.Second):
		t.Fatal("expected a published market event")
	}
}

func TestStartReturnsErrorAndPublishesStreamUnavailableOnConnectFailure(t *testing.T) {
	stream := newFakeStream()
	stream.failFirst = true
	source := &fakeSource{}
	recon := &fakeReconciler{}
	events := bus.NewEventBus(16, testLogger(t))
	sub := events.Subscribe("test")

	ig := New(stream, source, bus.NewMarketBus(16, testLogger(t)), events, recon, []string{"BTC/USDT"}, testLogger(t))

	err := ig.Start(context.Background())
	require.Error(t, err)

	evt := <-sub
	require.NotNil(t, evt.StreamUnavailable)
}

func TestFramesChannelCloseTriggersReconnectAndReaudit(t *testing.T) {
	stream := newFakeStream()
	source := &fakeSource{}
	recon := &fakeReconciler{}
	marketBus := bus.NewMarketBus(16, testLogger(t))

	ig := New(stream, source, marketBus, bus.NewEventBus(16, testLogger(t)), recon, []string{"BTC/USDT"}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ig.Start(ctx))
	require.Equal(t, 1, stream.Connects())
	require.Equal(t, 1, recon.Calls())

	// Simulate a dropped connection: the real Stream closes its frames
	// channel when the read loop observes a socket error, which must be
	// enough on its own to drive the ingestor into reconnect().
	require.NoError(t, stream.Close())

	assert.Eventually(t, func() bool {
		return stream.Connects() == 2
	}, 3*time.Second, 10*time.Millisecond, "a closed frames channel must trigger a reconnect")

	assert.Eventually(t, func() bool {
		return recon.Calls() == 2
	}, 3*time.Second, 10*time.Millisecond, "reconnect must re-run the position audit")
}

func TestAuditPositionsLogsOrphanedPosition(t *testing.T) {
	stream := newFakeStream()
	source := &fakeSource{positions: []model.Position{{Pair: "ETH/USDT", Side: model.Buy, Quantity: decimal.NewFromFloat(0.5)}}}
	recon := &fakeReconciler{orphaned: []model.Position{{Pair: "BTC/USDT", Side: model.Buy}}}
	events := bus.NewEventBus(16, testLogger(t))
	sub := events.Subscribe("test")

	ig := New(stream, source, bus.NewMarketBus(16, testLogger(t)), events, recon, []string{"BTC/USDT", "ETH/USDT"}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ig.Start(ctx))

	evt := <-sub
	require.NotNil(t, evt.OrphanedPosition)
	assert.Equal(t, "BTC/USDT", evt.OrphanedPosition.Position.Pair)
}
