// Package strategy implements the Strategy Engine (spec §4.4, C4): a
// registry of pluggable strategies, each fed a per-pair event slice, each
// producing optional trading signals funnelled into a single channel
// consumed by the risk manager.
package strategy

import (
	"market_maker/internal/logging"
	"market_maker/internal/model"
)

// Strategy evaluates a rolling per-pair event history and optionally
// proposes a signal. Evaluate must be pure with respect to its own
// interior state — no I/O, no side effects observable outside the
// strategy — but may keep bounded rolling state keyed by pair.
type Strategy interface {
	Name() string
	Evaluate(pair string, events []model.MarketEvent) (model.Signal, bool)
}

// maxEventsPerPair bounds the rolling window of events a strategy sees per pair
// so memory doesn't grow unboundedly over a long-running process.
const maxEventsPerPair = 256

// Engine hosts a registry of strategies, routes per-pair events to the
// strategies configured for that pair, and funnels every resulting
// signal into a single output channel for the risk manager.
type Engine struct {
	logger  logging.Logger
	signals chan model.Signal

	byPair map[string][]Strategy
	events map[string][]model.MarketEvent
}

// New creates an Engine. signals is the bounded, single-consumer channel
// the risk manager reads from (spec §5).
func New(logger logging.Logger, signals chan model.Signal) *Engine {
	return &Engine{
		logger:  logger,
		signals: signals,
		byPair:  make(map[string][]Strategy),
		events:  make(map[string][]model.MarketEvent),
	}
}

// Register associates a strategy with a pair. Strategies configured for
// different pairs see disjoint event streams (spec §4.4).
func (e *Engine) Register(pair string, s Strategy) {
	e.byPair[pair] = append(e.byPair[pair], s)
}

// OnMarketEvent routes evt to every strategy registered for its pair,
// appending to that pair's bounded rolling window and publishing any
// resulting signal. Blocks on the bounded signal channel if full, which
// is the intended backpressure path (spec §5).
func (e *Engine) OnMarketEvent(evt model.MarketEvent) {
	strategies, ok := e.byPair[evt.Pair]
	if !ok {
		return
	}

	window := append(e.events[evt.Pair], evt)
	if len(window) > maxEventsPerPair {
		window = window[len(window)-maxEventsPerPair:]
	}
	e.events[evt.Pair] = window

	for _, s := range strategies {
		signal, ok := s.Evaluate(evt.Pair, window)
		if !ok {
			continue
		}
		e.logger.Debug("strategy emitted signal", "strategy", s.Name(), "pair", evt.Pair, "side", signal.Side.String())
		e.signals <- signal
	}
}
