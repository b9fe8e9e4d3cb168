package strategy

import (
	"github.com/shopspring/decimal"

	"market_maker/internal/model"
	"market_maker/internal/strategy/indicator"
)

// MACDStrategy is a trend-following strategy: buy on a bullish crossing,
// sell on a bearish crossing.
type MACDStrategy struct {
	fast, slow, signalPeriod int
	quantity                 decimal.Decimal

	byPair map[string]*indicator.MACD
}

// NewMACDStrategy builds a MACD crossing strategy trading `quantity`
// units per signal.
func NewMACDStrategy(fast, slow, signalPeriod int, quantity decimal.Decimal) *MACDStrategy {
	return &MACDStrategy{
		fast: fast, slow: slow, signalPeriod: signalPeriod,
		quantity: quantity, byPair: make(map[string]*indicator.MACD),
	}
}

func (s *MACDStrategy) Name() string { return "macd_trend" }

func (s *MACDStrategy) Evaluate(pair string, events []model.MarketEvent) (model.Signal, bool) {
	if len(events) == 0 {
		return model.Signal{}, false
	}
	macd, ok := s.byPair[pair]
	if !ok {
		macd = indicator.NewMACD(s.fast, s.slow, s.signalPeriod)
		s.byPair[pair] = macd
	}

	last := events[len(events)-1]
	_, _, ready, signal := macd.Update(last.Last)
	if !ready {
		return model.Signal{}, false
	}

	switch signal {
	case indicator.MACDBullish:
		return model.Signal{Side: model.Buy, Pair: pair, Quantity: s.quantity, Strategy: s.Name()}, true
	case indicator.MACDBearish:
		return model.Signal{Side: model.Sell, Pair: pair, Quantity: s.quantity, Strategy: s.Name()}, true
	default:
		return model.Signal{}, false
	}
}
