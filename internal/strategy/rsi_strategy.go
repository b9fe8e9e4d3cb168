package strategy

import (
	"github.com/shopspring/decimal"

	"market_maker/internal/model"
	"market_maker/internal/strategy/indicator"
)

// RSIStrategy is a mean-reversion strategy: buy on an oversold crossing,
// sell on an overbought crossing, sized at a fixed quantity per pair.
type RSIStrategy struct {
	period   int
	quantity decimal.Decimal

	byPair map[string]*indicator.RSI
}

// NewRSIStrategy builds an RSI mean-reversion strategy trading `quantity`
// units per signal.
func NewRSIStrategy(period int, quantity decimal.Decimal) *RSIStrategy {
	return &RSIStrategy{period: period, quantity: quantity, byPair: make(map[string]*indicator.RSI)}
}

func (s *RSIStrategy) Name() string { return "rsi_mean_reversion" }

func (s *RSIStrategy) Evaluate(pair string, events []model.MarketEvent) (model.Signal, bool) {
	if len(events) == 0 {
		return model.Signal{}, false
	}
	rsi, ok := s.byPair[pair]
	if !ok {
		rsi = indicator.NewRSI(s.period)
		s.byPair[pair] = rsi
	}

	last := events[len(events)-1]
	_, ready, signal := rsi.Update(last.Last)
	if !ready {
		return model.Signal{}, false
	}

	switch signal {
	case indicator.RSIOversold:
		return model.Signal{Side: model.Buy, Pair: pair, Quantity: s.quantity, Strategy: s.Name()}, true
	case indicator.RSIOverbought:
		return model.Signal{Side: model.Sell, Pair: pair, Quantity: s.quantity, Strategy: s.Name()}, true
	default:
		return model.Signal{}, false
	}
}
