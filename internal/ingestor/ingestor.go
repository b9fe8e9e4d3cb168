// Package ingestor implements the Market Ingestor (spec §4.2, C2): owns
// the exchange stream lifecycle, decodes frames into MarketEvents,
// publishes them on the broadcast bus, and drives reconnect-triggered
// position reconciliation.
package ingestor

import (
	"context"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"market_maker/internal/bus"
	"market_maker/internal/exchange"
	"market_maker/internal/ledger"
	"market_maker/internal/logging"
	"market_maker/internal/model"
)

const connectTimeout = 5 * time.Second

// Reconciler is the narrow surface the ingestor needs on the ledger for
// post-reconnect position audits (spec §4.2, §4.3).
type Reconciler interface {
	Reconcile(ctx context.Context, exchangePositions []model.Position) ([]model.Position, error)
	ObserveMarketEvent(evt model.MarketEvent)
}

var _ Reconciler = (*ledger.Ledger)(nil)

// Ingestor owns a StreamClient plus the narrow read-only PositionSource
// capability (never the full exchange.Client — spec §4.1 visibility
// constraint) and fans decoded frames into the market bus.
type Ingestor struct {
	stream   exchange.StreamClient
	source   exchange.PositionSource
	bus      *bus.MarketBus
	events   *bus.EventBus
	ledger   Reconciler
	logger   logging.Logger
	pairs    []string

	reconnectAttempt int
}

// New creates an Ingestor.
func New(stream exchange.StreamClient, source exchange.PositionSource, marketBus *bus.MarketBus, events *bus.EventBus, ledger Reconciler, pairs []string, logger logging.Logger) *Ingestor {
	return &Ingestor{
		stream: stream, source: source, bus: marketBus, events: events,
		ledger: ledger, pairs: pairs, logger: logger,
	}
}

// Start connects the stream within the spec's 5s startup bound, runs the
// initial position audit, then enters the read/reconnect loop until ctx
// is cancelled. If the initial connection does not complete in time it
// publishes a StreamUnavailable event and returns the connect error.
func (ig *Ingestor) Start(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ig.stream.Connect(connectCtx, ig.pairs); err != nil {
		ig.publish(model.Event{StreamUnavailable: &model.StreamUnavailableEvent{Detail: err.Error()}})
		return err
	}

	ig.auditPositions(ctx)
	go ig.rolloverDrill(ctx)
	go ig.readLoop(ctx)
	return nil
}

// readLoop drains decoded frames and republishes them as MarketEvents,
// reconnecting with exponential backoff and full jitter on stream
// failure (spec §4.2).
func (ig *Ingestor) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			ig.stream.Close()
			return
		case frame, ok := <-ig.stream.Frames():
			if !ok {
				ig.reconnect(ctx)
				return
			}
			evt := model.MarketEvent{
				Pair: frame.Pair, Timestamp: time.Now(),
				Bid: frame.Bid, Ask: frame.Ask, Last: frame.Last, Volume: frame.Volume,
			}
			ig.ledger.ObserveMarketEvent(evt)
			ig.bus.Publish(evt)
		}
	}
}

func (ig *Ingestor) reconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := backoff(ig.reconnectAttempt)
		ig.reconnectAttempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := ig.stream.Connect(connectCtx, ig.pairs)
		cancel()
		if err != nil {
			ig.logger.Warn("ingestor: reconnect failed", "error", err, "attempt", ig.reconnectAttempt)
			continue
		}

		ig.reconnectAttempt = 0
		ig.auditPositions(ctx)
		go ig.readLoop(ctx)
		return
	}
}

// rolloverDrill forces a reconnect at the scheduled 24h session cadence
// even if the stream is otherwise healthy, matching the exchange's own
// session rollover (spec §4.2).
func (ig *Ingestor) rolloverDrill(ctx context.Context) {
	c := cron.New()
	_, err := c.AddFunc("@every 24h", func() {
		ig.logger.Info("ingestor: running scheduled 24h session rollover reconnect")
		ig.stream.Close()
	})
	if err != nil {
		ig.logger.Error("ingestor: failed to schedule rollover drill", "error", err)
		return
	}
	c.Start()
	<-ctx.Done()
	c.Stop()
}

// auditPositions compares the ledger's open positions against the
// exchange's, adopting any exchange positions the ledger doesn't know
// about and logging any local-only position as OrphanedPosition
// (spec §4.2, §4.3, scenario 7).
func (ig *Ingestor) auditPositions(ctx context.Context) {
	positions, err := ig.source.OpenPositions(ctx)
	if err != nil {
		ig.logger.Error("ingestor: position audit failed", "error", err)
		return
	}

	orphaned, err := ig.ledger.Reconcile(ctx, positions)
	if err != nil {
		ig.logger.Error("ingestor: reconcile failed", "error", err)
		return
	}
	for _, p := range orphaned {
		ig.logger.Warn("OrphanedPosition", "pair", p.Pair, "side", p.Side.String())
		ig.publish(model.Event{OrphanedPosition: &model.OrphanedPositionEvent{Position: p}})
	}
}

func (ig *Ingestor) publish(evt model.Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	if ig.events != nil {
		ig.events.Publish(evt)
	}
}

// backoff computes the spec §4.2 reconnect delay: exponential starting
// at 1s, capped at 60s, full jitter.
func backoff(attempt int) time.Duration {
	base := time.Second
	capDur := 60 * time.Second
	d := base << uint(minInt(attempt, 6))
	if d > capDur {
		d = capDur
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
