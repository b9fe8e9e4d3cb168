// Package executor implements the Order Executor (spec §4.6, C6): the
// sole consumer of the approved-order channel and the sole caller of the
// Exchange Client capability. It never retries a failed submission —
// retry policy is a higher-level concern the spec keeps upstream.
package executor

import (
	"context"
	"time"

	"github.com/alitto/pond"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"market_maker/internal/bus"
	"market_maker/internal/exchange"
	"market_maker/internal/ledger"
	"market_maker/internal/logging"
	"market_maker/internal/model"
	"market_maker/internal/telemetry"
)

const submitTimeout = 10 * time.Second

// SettlementObserver is notified whenever an order settles (fill or
// failure) so the risk manager can decrement its optimistic open-order
// count (spec §4.5.1, §4.6).
type SettlementObserver interface {
	OnOrderSettled()
}

// Executor consumes approved orders and submits them to the exchange.
// Orders are processed strictly FIFO per pair via a pair-sharded worker
// pool (spec §4.6: "a single slow submission must not block unrelated
// pairs"), grounded on the teacher's pkg/concurrency worker pool.
type Executor struct {
	client   exchange.Client
	ledger   *ledger.Ledger
	events   *bus.EventBus
	settled  SettlementObserver
	logger   logging.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	limiter  *rate.Limiter
	pool     *pond.WorkerPool
}

// New creates an Executor. client is the full submit+read capability —
// handed ONLY here, never to any other component (spec §4.1, §9).
func New(client exchange.Client, ledger *ledger.Ledger, events *bus.EventBus, settled SettlementObserver, metrics *telemetry.Metrics, logger logging.Logger) *Executor {
	return &Executor{
		client:  client,
		ledger:  ledger,
		events:  events,
		settled: settled,
		logger:  logger,
		metrics: metrics,
		tracer:  telemetry.GetTracer("order-executor"),
		limiter: rate.NewLimiter(rate.Limit(25), 30),
		pool:    pond.New(16, 1024, pond.MinWorkers(1)),
	}
}

// Run consumes orders until ctx is cancelled or the channel closes,
// dispatching each to the worker assigned to its pair so that FIFO order
// is preserved within a pair but unrelated pairs never block each other.
func (e *Executor) Run(ctx context.Context, orders <-chan model.Order) {
	shards := make(map[string]*pond.WorkerPool)

	for {
		select {
		case <-ctx.Done():
			for _, s := range shards {
				s.StopAndWait()
			}
			e.pool.StopAndWait()
			return
		case order, ok := <-orders:
			if !ok {
				for _, s := range shards {
					s.StopAndWait()
				}
				e.pool.StopAndWait()
				return
			}
			shard, ok := shards[order.Pair]
			if !ok {
				shard = pond.New(1, 256, pond.MinWorkers(1))
				shards[order.Pair] = shard
			}
			o := order
			shard.Submit(func() { e.handle(ctx, o) })
		}
	}
}

func (e *Executor) handle(ctx context.Context, order model.Order) {
	ctx, span := e.tracer.Start(ctx, "ExecuteOrder",
		trace.WithAttributes(attribute.String("pair", order.Pair), attribute.String("side", order.Side.String())))
	defer span.End()

	if err := e.limiter.Wait(ctx); err != nil {
		e.fail(ctx, order, "rate limiter: "+err.Error())
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	start := time.Now()
	fill, err := e.client.SubmitOrder(submitCtx, order)
	if e.metrics != nil {
		e.metrics.RecordSubmitLatency(ctx, order.Pair, float64(time.Since(start).Milliseconds()))
	}

	if err != nil {
		e.fail(ctx, order, err.Error())
		return
	}

	// Origin, not side, determines open-vs-close intent: a strategy
	// signal opens exposure on either side (a Sell opens a short), while
	// every other origin (stop-loss, take-profit, drawdown liquidation,
	// shutdown close) always closes an existing position.
	var applyErr error
	if order.Origin == model.OriginStrategy {
		_, applyErr = e.ledger.ApplyOpenFill(ctx, fill)
	} else {
		_, applyErr = e.ledger.ApplyCloseFill(ctx, fill)
	}
	if applyErr != nil {
		e.logger.Error("executor: failed to apply fill to ledger", "pair", order.Pair, "error", applyErr)
	}

	if e.metrics != nil {
		e.metrics.RecordOrderFilled(ctx, order.Pair)
	}
	e.publish(model.Event{OrderFilled: &model.OrderFilledEvent{Order: order, Fill: fill}})
	if e.settled != nil {
		e.settled.OnOrderSettled()
	}
}

func (e *Executor) fail(ctx context.Context, order model.Order, reason string) {
	e.logger.Warn("executor: order submission failed", "pair", order.Pair, "side", order.Side.String(), "reason", reason)
	e.publish(model.Event{OrderFailed: &model.OrderFailedEvent{Order: order, Reason: reason}})
	if e.settled != nil {
		e.settled.OnOrderSettled()
	}
}

func (e *Executor) publish(evt model.Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	if e.events != nil {
		e.events.Publish(evt)
	}
}
