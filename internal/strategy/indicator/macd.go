package indicator

import "github.com/shopspring/decimal"

// MACDSignal is the edge-triggered output of MACD.Update.
type MACDSignal int

const (
	MACDNone MACDSignal = iota
	MACDBullish
	MACDBearish
)

// MACD computes the classical moving-average-convergence-divergence line
// (fast EMA − slow EMA) and a signal line (EMA of the MACD line), emitting
// exactly on the crossing tick between them.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int

	fastEMA decimal.Decimal
	slowEMA decimal.Decimal
	sigEMA  decimal.Decimal

	haveFast, haveSlow, haveSignal bool
	samples                        int

	prevMACD, prevSignal decimal.Decimal
	haveCross            bool
}

// NewMACD builds a MACD with the given fast/slow/signal EMA periods.
func NewMACD(fast, slow, signalPeriod int) *MACD {
	return &MACD{fastPeriod: fast, slowPeriod: slow, signalPeriod: signalPeriod}
}

func ema(prev, price decimal.Decimal, period int, have bool) decimal.Decimal {
	k := decimal.NewFromFloat(2.0 / float64(period+1))
	if !have {
		return price
	}
	return price.Sub(prev).Mul(k).Add(prev)
}

// Update feeds the next price sample. ok is true once both EMAs and the
// signal EMA have stabilized, requiring at least slow+signal samples
// (spec §4.4).
func (m *MACD) Update(price decimal.Decimal) (macdLine, signalLine decimal.Decimal, ok bool, signal MACDSignal) {
	m.samples++

	m.fastEMA = ema(m.fastEMA, price, m.fastPeriod, m.haveFast)
	m.haveFast = true
	m.slowEMA = ema(m.slowEMA, price, m.slowPeriod, m.haveSlow)
	m.haveSlow = true

	if m.samples < m.slowPeriod {
		return decimal.Zero, decimal.Zero, false, MACDNone
	}

	macd := m.fastEMA.Sub(m.slowEMA)
	m.sigEMA = ema(m.sigEMA, macd, m.signalPeriod, m.haveSignal)
	m.haveSignal = true

	if m.samples < m.slowPeriod+m.signalPeriod {
		return macd, m.sigEMA, false, MACDNone
	}

	signal = MACDNone
	if m.haveCross {
		if m.prevMACD.LessThanOrEqual(m.prevSignal) && macd.GreaterThan(m.sigEMA) {
			signal = MACDBullish
		} else if m.prevMACD.GreaterThanOrEqual(m.prevSignal) && macd.LessThan(m.sigEMA) {
			signal = MACDBearish
		}
	}
	m.prevMACD = macd
	m.prevSignal = m.sigEMA
	m.haveCross = true

	return macd, m.sigEMA, true, signal
}
