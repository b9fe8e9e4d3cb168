// Package ledger implements the Position Ledger (spec §4.3, C3): the
// single source of truth for open positions and completed trades, backed
// by a write-through SQLite store (spec §6, Persisted state).
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market_maker/internal/logging"
	"market_maker/internal/model"
)

// Store is the persistence boundary the ledger writes through. Writes
// within a single fill are grouped into one transaction so the position
// removal and trade insertion succeed or fail atomically (spec §4.3).
type Store interface {
	InsertPosition(ctx context.Context, p model.Position) error
	DeletePositionAndInsertTrade(ctx context.Context, key model.PositionKey, t model.Trade) error
	LoadPositions(ctx context.Context) ([]model.Position, error)
	RealizedPnL24h(ctx context.Context, mode model.Mode) (decimal.Decimal, error)
}

// DivergenceHandler is invoked when an in-memory fill cannot be persisted
// (spec §4.3, §7 Consistency errors) — wired to the supervisor so it can
// halt new orders.
type DivergenceHandler func(fill model.Fill, err error)

// Ledger is the in-memory + persisted Position Ledger.
type Ledger struct {
	store  Store
	logger logging.Logger

	mu        sync.RWMutex
	positions map[model.PositionKey]model.Position
	lastPrice map[string]model.MarketEvent

	onDivergence DivergenceHandler
}

// New creates an empty ledger bound to the given store.
func New(store Store, logger logging.Logger) *Ledger {
	return &Ledger{
		store:     store,
		logger:    logger,
		positions: make(map[model.PositionKey]model.Position),
		lastPrice: make(map[string]model.MarketEvent),
	}
}

// OnDivergence registers the callback invoked on persistence failure after
// a successful fill.
func (l *Ledger) OnDivergence(h DivergenceHandler) { l.onDivergence = h }

// Load restores positions from the store at startup.
func (l *Ledger) Load(ctx context.Context) error {
	positions, err := l.store.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load positions: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		l.positions[p.Key()] = p
	}
	return nil
}

// ObserveMarketEvent records the latest price for unrealized-PnL snapshots.
func (l *Ledger) ObserveMarketEvent(evt model.MarketEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPrice[evt.Pair] = evt
}

// ApplyOpenFill applies a fill that opens exposure: a buy opens or adds
// to a long, a sell opens or adds to a short, keyed by the fill's own
// side — never hardcoded — so the ledger tracks both books (spec §4.3).
func (l *Ledger) ApplyOpenFill(ctx context.Context, fill model.Fill) (string, error) {
	key := model.PositionKey{Pair: fill.Pair, Side: fill.Side, Mode: fill.Mode}

	l.mu.Lock()
	existing, ok := l.positions[key]
	var pos model.Position
	if ok {
		total := existing.Quantity.Add(fill.ExecutedQty)
		weighted := existing.Entry.Mul(existing.Quantity).Add(fill.ExecutedPrice.Mul(fill.ExecutedQty)).Div(total)
		pos = existing
		pos.Entry = weighted
		pos.Quantity = total
	} else {
		pos = model.Position{
			ID:       uuid.NewString(),
			Pair:     fill.Pair,
			Side:     fill.Side,
			Entry:    fill.ExecutedPrice,
			Quantity: fill.ExecutedQty,
			Mode:     fill.Mode,
			OpenedAt: fill.ExecutedAt,
		}
	}
	l.mu.Unlock()

	if err := l.store.InsertPosition(ctx, pos); err != nil {
		if l.onDivergence != nil {
			l.onDivergence(fill, err)
		}
		return "", fmt.Errorf("ledger: persist position: %w", err)
	}

	l.mu.Lock()
	l.positions[key] = pos
	l.mu.Unlock()

	return pos.ID, nil
}

// ApplyCloseFill closes the position the fill's opposite side opened: a
// sell closes a long, a buy closes a short. The closing fill's side is
// never the position's side (spec §4.3), so the lookup key inverts it.
func (l *Ledger) ApplyCloseFill(ctx context.Context, fill model.Fill) (model.Trade, error) {
	positionSide := model.Buy
	if fill.Side == model.Buy {
		positionSide = model.Sell
	}
	key := model.PositionKey{Pair: fill.Pair, Side: positionSide, Mode: fill.Mode}

	l.mu.RLock()
	pos, ok := l.positions[key]
	l.mu.RUnlock()
	if !ok {
		return model.Trade{}, fmt.Errorf("ledger: no open position for %s/%s/%s", fill.Pair, positionSide, fill.Mode)
	}

	trade := model.NewTrade(pos, fill.ExecutedPrice, fill.ExecutedAt, uuid.NewString())

	if err := l.store.DeletePositionAndInsertTrade(ctx, key, trade); err != nil {
		if l.onDivergence != nil {
			l.onDivergence(fill, err)
		}
		return model.Trade{}, fmt.Errorf("ledger: persist close: %w", err)
	}

	l.mu.Lock()
	delete(l.positions, key)
	l.mu.Unlock()

	return trade, nil
}

// Snapshot returns a lock-light read of current state for dashboards
// (spec §4.3).
func (l *Ledger) Snapshot(ctx context.Context) model.Snapshot {
	l.mu.RLock()
	positions := make([]model.Position, 0, len(l.positions))
	unrealized := make(map[string]decimal.Decimal, len(l.positions))
	for _, p := range l.positions {
		positions = append(positions, p)
		if evt, ok := l.lastPrice[p.Pair]; ok {
			unrealized[p.Pair] = unrealizedPnL(p, evt)
		}
	}
	l.mu.RUnlock()

	realized, err := l.store.RealizedPnL24h(ctx, model.Live)
	if err != nil {
		realized = decimal.Zero
	}

	return model.Snapshot{
		Positions:        positions,
		UnrealizedPnLUSD: unrealized,
		RealizedPnL24h:   realized,
	}
}

func unrealizedPnL(p model.Position, evt model.MarketEvent) decimal.Decimal {
	ref := evt.Bid
	if p.Side == model.Sell {
		ref = evt.Ask
	}
	sign := decimal.NewFromInt(p.Side.Sign())
	return ref.Sub(p.Entry).Mul(p.Quantity).Mul(sign)
}

// Positions returns a snapshot slice of all open positions.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// PositionFor returns the open position at key, if any.
func (l *Ledger) PositionFor(key model.PositionKey) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[key]
	return p, ok
}

// Reconcile idempotently merges exchange-reported positions into the
// ledger. It never deletes a position without an explicit close fill; a
// ledger position absent from the exchange is reported via orphaned, and
// an exchange position the ledger didn't know about is adopted (spec
// §4.2, §4.3, §8 idempotence invariant).
func (l *Ledger) Reconcile(ctx context.Context, exchangePositions []model.Position) (orphaned []model.Position, err error) {
	exchangeKeys := make(map[model.PositionKey]model.Position, len(exchangePositions))
	for _, p := range exchangePositions {
		exchangeKeys[p.Key()] = p
	}

	l.mu.Lock()
	for key, pos := range l.positions {
		if _, known := exchangeKeys[key]; !known {
			orphaned = append(orphaned, pos)
		}
	}
	var toAdopt []model.Position
	for key, pos := range exchangeKeys {
		if _, known := l.positions[key]; !known {
			l.positions[key] = pos
			toAdopt = append(toAdopt, pos)
		}
	}
	l.mu.Unlock()

	for _, p := range toAdopt {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.OpenedAt.IsZero() {
			p.OpenedAt = time.Now()
		}
		if e := l.store.InsertPosition(ctx, p); e != nil {
			l.logger.Error("ledger: failed to persist adopted position", "pair", p.Pair, "error", e)
		}
	}

	return orphaned, nil
}
