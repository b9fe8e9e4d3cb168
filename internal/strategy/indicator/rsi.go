// Package indicator implements the reference technical indicators the
// strategy engine ships (spec §4.4): RSI and MACD, both edge-triggered on
// crossings rather than level predicates to suppress flapping on noisy
// series.
package indicator

import "github.com/shopspring/decimal"

// RSISignal is the edge-triggered output of RSI.Update.
type RSISignal int

const (
	// RSINone means no crossing occurred this tick, or the rolling window
	// hasn't filled yet.
	RSINone RSISignal = iota
	RSIOversold
	RSIOverbought
)

var (
	hundred    = decimal.NewFromInt(100)
	defaultOB  = decimal.NewFromInt(70)
	defaultOS  = decimal.NewFromInt(30)
)

// RSI computes Wilder-smoothed relative strength index over a rolling
// window, keyed per pair by the strategy that owns it.
type RSI struct {
	period      int
	overbought  decimal.Decimal
	oversold    decimal.Decimal

	prevPrice   decimal.Decimal
	havePrev    bool
	avgGain     decimal.Decimal
	avgLoss     decimal.Decimal
	samples     int

	prevValue   decimal.Decimal
	haveValue   bool
}

// NewRSI builds an RSI with the standard 70/30 thresholds.
func NewRSI(period int) *RSI {
	return NewRSIWithThresholds(period, defaultOB, defaultOS)
}

// NewRSIWithThresholds builds an RSI with caller-supplied overbought /
// oversold thresholds.
func NewRSIWithThresholds(period int, overbought, oversold decimal.Decimal) *RSI {
	return &RSI{period: period, overbought: overbought, oversold: oversold}
}

// Update feeds the next price sample and returns the current RSI value
// (valid only once ok is true, which takes `period` price changes, i.e.
// at least period+1 samples) plus any crossing signal.
func (r *RSI) Update(price decimal.Decimal) (value decimal.Decimal, ok bool, signal RSISignal) {
	if !r.havePrev {
		r.prevPrice = price
		r.havePrev = true
		return decimal.Zero, false, RSINone
	}

	change := price.Sub(r.prevPrice)
	r.prevPrice = price

	gain := decimal.Zero
	loss := decimal.Zero
	if change.IsPositive() {
		gain = change
	} else if change.IsNegative() {
		loss = change.Neg()
	}

	r.samples++
	if r.samples <= r.period {
		r.avgGain = r.avgGain.Add(gain)
		r.avgLoss = r.avgLoss.Add(loss)
		if r.samples < r.period {
			return decimal.Zero, false, RSINone
		}
		r.avgGain = r.avgGain.Div(decimal.NewFromInt(int64(r.period)))
		r.avgLoss = r.avgLoss.Div(decimal.NewFromInt(int64(r.period)))
	} else {
		n := decimal.NewFromInt(int64(r.period))
		r.avgGain = r.avgGain.Mul(n.Sub(decimal.NewFromInt(1))).Add(gain).Div(n)
		r.avgLoss = r.avgLoss.Mul(n.Sub(decimal.NewFromInt(1))).Add(loss).Div(n)
	}

	var rsi decimal.Decimal
	if r.avgLoss.IsZero() {
		rsi = hundred
	} else {
		rs := r.avgGain.Div(r.avgLoss)
		rsi = hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	}

	signal = RSINone
	if r.haveValue {
		if r.prevValue.GreaterThanOrEqual(r.oversold) && rsi.LessThan(r.oversold) {
			signal = RSIOversold
		} else if r.prevValue.LessThanOrEqual(r.overbought) && rsi.GreaterThan(r.overbought) {
			signal = RSIOverbought
		}
	}
	r.prevValue = rsi
	r.haveValue = true

	return rsi, true, signal
}
