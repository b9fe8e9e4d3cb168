// Package paper implements a synchronous, always-succeeding exchange
// client used to run the full pipeline without touching a live venue
// (spec §4.1, §9 "paper mode parity"). It is the only place paper/live
// divergence lives; risk manager, strategy engine, executor and ledger
// are mode-agnostic.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market_maker/internal/model"
)

const basisPoints = 10000

// Client is a paper-trading ExchangeClient. Buys fill at
// ask*(1+slippageBps/10000), sells fill at bid*(1-slippageBps/10000),
// against the most recently observed MarketEvent for the pair.
type Client struct {
	slippageBps int64

	mu        sync.RWMutex
	lastEvent map[string]model.MarketEvent
	positions map[model.PositionKey]model.Position
}

// New creates a paper client with the given slippage in basis points
// (config.LoadConfig defaults slippage_bps to 10 when the key is absent).
func New(slippageBps int64) *Client {
	return &Client{
		slippageBps: slippageBps,
		lastEvent:   make(map[string]model.MarketEvent),
		positions:   make(map[model.PositionKey]model.Position),
	}
}

// Observe feeds the client the latest market data for a pair; the
// entrypoint forwards every MarketEvent from its own market-bus
// subscription so paper fills have a price to use.
func (c *Client) Observe(evt model.MarketEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEvent[evt.Pair] = evt
}

// SubmitOrder fills synchronously against the last observed price and
// never fails transport (spec §4.1).
func (c *Client) SubmitOrder(_ context.Context, order model.Order) (model.Fill, error) {
	c.mu.RLock()
	evt, ok := c.lastEvent[order.Pair]
	c.mu.RUnlock()
	if !ok {
		return model.Fill{}, fmt.Errorf("paper client: no market data for %s", order.Pair)
	}

	slip := decimal.NewFromInt(c.slippageBps).Div(decimal.NewFromInt(basisPoints))
	var price decimal.Decimal
	if order.Side == model.Buy {
		price = evt.Ask.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		price = evt.Bid.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	fill := model.Fill{
		Pair:          order.Pair,
		Side:          order.Side,
		ExecutedPrice: price,
		ExecutedQty:   order.Quantity,
		ExecutedAt:    time.Now(),
		ExchangeID:    "paper-" + uuid.NewString(),
		ClientOrderID: order.ClientOrderID,
		Mode:          model.Paper,
		Origin:        order.Origin,
	}

	c.mu.Lock()
	c.applyFillLocked(fill)
	c.mu.Unlock()

	return fill, nil
}

// applyFillLocked keeps the paper client's own position view in sync so
// OpenPositions reflects what SubmitOrder has done, independent of the
// ledger (mirrors how a real exchange tracks its own book).
func (c *Client) applyFillLocked(fill model.Fill) {
	key := model.PositionKey{Pair: fill.Pair, Side: fill.Side, Mode: model.Paper}
	opposite := model.PositionKey{Pair: fill.Pair, Side: oppositeSide(fill.Side), Mode: model.Paper}

	if pos, ok := c.positions[opposite]; ok {
		// Closing fill against an open position on the other side.
		delete(c.positions, opposite)
		_ = pos
		return
	}

	if existing, ok := c.positions[key]; ok {
		existing.Quantity = existing.Quantity.Add(fill.ExecutedQty)
		c.positions[key] = existing
		return
	}

	c.positions[key] = model.Position{
		ID:       uuid.NewString(),
		Pair:     fill.Pair,
		Side:     fill.Side,
		Entry:    fill.ExecutedPrice,
		Quantity: fill.ExecutedQty,
		Mode:     model.Paper,
		OpenedAt: fill.ExecutedAt,
	}
}

func oppositeSide(s model.Side) model.Side {
	if s == model.Buy {
		return model.Sell
	}
	return model.Buy
}

// OpenPositions returns the paper client's own view of open positions.
func (c *Client) OpenPositions(_ context.Context) ([]model.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out, nil
}
