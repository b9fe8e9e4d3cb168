// Package risk implements the Risk Manager (spec §4.5, C5): the
// mandatory, non-bypassable gateway between strategy signals and
// executable orders. Every Order the executor ever sees was constructed
// here (spec §8, no-bypass invariant).
package risk

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/bus"
	"market_maker/internal/logging"
	"market_maker/internal/model"
)

// substate is the Risk Manager's own internal halt/normal state,
// independent of the engine-level EngineState (spec §4.5, glossary
// "Halted").
type substate int

const (
	normal substate = iota
	halted
)

// PositionSource is the read-only view of the Position Ledger the risk
// manager needs for price-monitor evaluation (spec §4.5, §5: "reference
// to PositionLedger (read-only)").
type PositionSource interface {
	Positions() []model.Position
}

// StateSource reports whether the engine is currently Running, so the
// risk manager can gate on EngineState without owning it (spec §4.5.1
// rule 1; EngineState is owned solely by the supervisor).
type StateSource interface {
	Current() model.EngineState
}

// Manager is the Risk Manager. It holds config, mutable portfolio
// accounting, and reads (never writes) the Position Ledger.
type Manager struct {
	logger   logging.Logger
	ledger   PositionSource
	state    StateSource
	events   *bus.EventBus
	orders   chan model.Order

	mu        sync.Mutex
	config    model.RiskConfig
	portfolio model.PortfolioAccounting
	sub       substate

	lastPrice map[string]model.MarketEvent
}

// New creates a Risk Manager. orders is the bounded, single-consumer
// channel the executor reads from (spec §5, sized MAX_OPEN_ORDERS*2).
func New(cfg model.RiskConfig, ledger PositionSource, state StateSource, events *bus.EventBus, orders chan model.Order, logger logging.Logger) *Manager {
	return &Manager{
		logger:    logger,
		ledger:    ledger,
		state:     state,
		events:    events,
		orders:    orders,
		config:    cfg,
		sub:       normal,
		lastPrice: make(map[string]model.MarketEvent),
	}
}

// SeedPortfolio sets the starting portfolio valuation as both current and
// peak value. The entrypoint calls it at startup with the configured
// initial portfolio value; no portfolio state is persisted.
func (m *Manager) SeedPortfolio(value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolio.CurrentValue = value
	m.portfolio.PeakValue = value
}

// OpenOrderCount returns the current optimistic in-flight order count.
func (m *Manager) OpenOrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portfolio.OpenOrderCount
}

// OnOrderSettled decrements the optimistic open-order count on fill or
// submission failure (spec §4.5.1, §4.6).
func (m *Manager) OnOrderSettled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.portfolio.OpenOrderCount > 0 {
		m.portfolio.OpenOrderCount--
	}
}

// ResetDrawdown clears the Halted substate and reseeds peak_value to the
// current valuation (spec §4.5.3). Called only by the supervisor in
// response to an operator ResetDrawdown command.
func (m *Manager) ResetDrawdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sub = normal
	m.portfolio.PeakValue = m.portfolio.CurrentValue
}

// Halted reports whether the risk manager's internal substate currently
// blocks new exposure.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub == halted
}

// OnPortfolioValuation updates current_value and evaluates the drawdown
// circuit breaker (spec §4.5.3).
func (m *Manager) OnPortfolioValuation(value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.portfolio.CurrentValue = value
	if m.state.Current() == model.Running && value.GreaterThan(m.portfolio.PeakValue) {
		m.portfolio.PeakValue = value
	}

	if m.sub == halted {
		return
	}
	drawdown := m.portfolio.Drawdown()
	if drawdown.GreaterThanOrEqual(m.config.MaxDrawdownPct) {
		m.sub = halted
		m.publish(model.Event{Trigger: &model.TriggerEvent{Kind: model.DrawdownHalt, Detail: drawdown.String()}})
	}
}

// OnSignal evaluates a strategy signal against the ordered §4.5.1 rules.
// The first failing rule determines rejection; only a signal that passes
// all five results in an Order reaching the executor.
func (m *Manager) OnSignal(signal model.Signal) {
	m.mu.Lock()

	// Rule 1: engine state gate.
	if m.state.Current() != model.Running {
		m.mu.Unlock()
		return
	}
	if m.sub == halted {
		m.mu.Unlock()
		m.reject(signal, model.DrawdownHalted, "risk manager halted by drawdown circuit breaker")
		return
	}

	// Rule 2: hard ceiling.
	if m.portfolio.OpenOrderCount >= model.MaxOpenOrders {
		m.mu.Unlock()
		m.reject(signal, model.HardCeilingReached, "open_order_count at ceiling")
		return
	}

	// Rule 3: quantity validity.
	qf, _ := signal.Quantity.Float64()
	if !signal.Quantity.IsPositive() || math.IsNaN(qf) || math.IsInf(qf, 0) {
		m.mu.Unlock()
		m.reject(signal, model.InvalidQuantity, "quantity must be a positive, finite number")
		return
	}

	evt, known := m.lastPrice[signal.Pair]
	if !known {
		m.mu.Unlock()
		m.reject(signal, model.UnknownPair, "no market data for pair")
		return
	}
	referencePrice := evt.Ask
	if signal.Side == model.Sell {
		referencePrice = evt.Bid
	}

	// Rule 4: exposure.
	maxExposure := m.config.MaxExposurePerTrade
	if m.config.MaxExposureIsPercent {
		maxExposure = m.portfolio.CurrentValue.Mul(m.config.MaxExposurePerTrade)
	}
	notional := signal.Quantity.Mul(referencePrice)
	if notional.GreaterThan(maxExposure) {
		m.mu.Unlock()
		m.reject(signal, model.ExposureLimitExceeded, "notional exceeds max_exposure_per_trade")
		return
	}

	// Rule 5: stop-loss proximity (buys only).
	if signal.Side == model.Buy {
		band := referencePrice.Mul(decimal.NewFromInt(1).Sub(m.config.StopLossPct))
		if band.GreaterThanOrEqual(referencePrice.Sub(evt.Spread())) {
			m.mu.Unlock()
			m.reject(signal, model.StopLossProximity, "entry within stop-loss band given current spread")
			return
		}
	}

	m.portfolio.OpenOrderCount++
	m.mu.Unlock()

	order := model.Order{
		Pair: signal.Pair, Side: signal.Side, Quantity: signal.Quantity,
		ReferencePrice: referencePrice, Kind: model.Market, Origin: model.OriginStrategy,
	}
	m.submit(order)
}

// OnMarketEvent records the latest price and runs the price-monitor
// rules (stop-loss / take-profit) over every open position for this pair
// (spec §4.5.2).
func (m *Manager) OnMarketEvent(evt model.MarketEvent) {
	m.mu.Lock()
	m.lastPrice[evt.Pair] = evt
	m.mu.Unlock()

	for _, pos := range m.ledger.Positions() {
		if pos.Pair != evt.Pair {
			continue
		}
		m.evaluatePriceMonitor(pos, evt)
	}
}

func (m *Manager) evaluatePriceMonitor(pos model.Position, evt model.MarketEvent) {
	if m.state.Current() != model.Running {
		return
	}

	if pos.Side == model.Buy {
		lossPct := pos.Entry.Sub(evt.Bid).Div(pos.Entry)
		if lossPct.GreaterThanOrEqual(m.config.StopLossPct) {
			m.triggerClose(pos, model.OriginStopLoss, model.StopLossTriggered)
			return
		}
		gainPct := evt.Bid.Sub(pos.Entry).Div(pos.Entry)
		if gainPct.GreaterThanOrEqual(m.config.TakeProfitPct) {
			m.triggerClose(pos, model.OriginTakeProfit, model.TakeProfitTriggered)
		}
		return
	}

	// Short: buy-to-close.
	lossPct := evt.Ask.Sub(pos.Entry).Div(pos.Entry)
	if lossPct.GreaterThanOrEqual(m.config.StopLossPct) {
		m.triggerClose(pos, model.OriginStopLoss, model.StopLossTriggered)
		return
	}
	gainPct := pos.Entry.Sub(evt.Ask).Div(pos.Entry)
	if gainPct.GreaterThanOrEqual(m.config.TakeProfitPct) {
		m.triggerClose(pos, model.OriginTakeProfit, model.TakeProfitTriggered)
	}
}

// triggerClose emits an unconditional closing order. Triggered orders
// bypass rules 3 and 4 of §4.5.1 but never rule 2 (hard ceiling is
// always enforced — spec §9 open-question resolution) and never rule 1
// beyond the Running gate already checked by the caller.
func (m *Manager) triggerClose(pos model.Position, origin model.OrderOrigin, kind model.TriggerKind) {
	closeSide := model.Sell
	if pos.Side == model.Sell {
		closeSide = model.Buy
	}

	m.mu.Lock()
	if m.portfolio.OpenOrderCount >= model.MaxOpenOrders {
		m.mu.Unlock()
		m.reject(model.Signal{Side: closeSide, Pair: pos.Pair, Quantity: pos.Quantity}, model.HardCeilingReached, "triggered close denied: hard ceiling")
		return
	}
	m.portfolio.OpenOrderCount++
	m.mu.Unlock()

	m.publish(model.Event{Trigger: &model.TriggerEvent{Kind: kind, Pair: pos.Pair}})

	order := model.Order{
		Pair: pos.Pair, Side: closeSide, Quantity: pos.Quantity,
		ReferencePrice: pos.Entry, Kind: model.Market, Origin: origin,
	}
	m.submit(order)
}

// EmitClosingOrders issues an unconditional closing order for every
// currently open position and waits for the ledger to drain them, used
// by the supervisor during the Stopping phase (spec §4.7). It never
// checks EngineState — the supervisor only calls this once it has
// already left Running — and it still respects the hard ceiling via the
// normal optimistic open-order-count bookkeeping. Returns the positions
// still open when ctx is done, so the caller can report
// StopTimeoutOrphans.
func (m *Manager) EmitClosingOrders(ctx context.Context) []model.Position {
	for _, pos := range m.ledger.Positions() {
		m.emitUnconditionalClose(pos)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return m.ledger.Positions()
		case <-ticker.C:
			remaining := m.ledger.Positions()
			if len(remaining) == 0 {
				return nil
			}
		}
	}
}

func (m *Manager) emitUnconditionalClose(pos model.Position) {
	closeSide := model.Sell
	if pos.Side == model.Sell {
		closeSide = model.Buy
	}

	m.mu.Lock()
	if m.portfolio.OpenOrderCount >= model.MaxOpenOrders {
		m.mu.Unlock()
		m.reject(model.Signal{Side: closeSide, Pair: pos.Pair, Quantity: pos.Quantity}, model.HardCeilingReached, "shutdown close denied: hard ceiling")
		return
	}
	m.portfolio.OpenOrderCount++
	m.mu.Unlock()

	order := model.Order{
		Pair: pos.Pair, Side: closeSide, Quantity: pos.Quantity,
		ReferencePrice: pos.Entry, Kind: model.Market, Origin: model.OriginShutdownClose,
	}
	m.submit(order)
}

// submit blocks on the bounded order channel if full — intentional
// backpressure per spec §5: dropping market observations is preferable
// to queueing stale orders, so it is the event bus that drops, not here.
func (m *Manager) submit(order model.Order) {
	m.orders <- order
}

func (m *Manager) reject(signal model.Signal, reason model.RejectionReason, detail string) {
	m.publish(model.Event{Rejection: &model.RejectionEvent{SignalRef: signal, Reason: reason, Detail: detail}})
}

func (m *Manager) publish(evt model.Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	if m.events != nil {
		m.events.Publish(evt)
	}
}
