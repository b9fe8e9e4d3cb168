package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidMode is returned when TRADING_MODE is neither "live" nor "paper".
var ErrInvalidMode = errors.New("invalid trading mode")

// MaxOpenOrders is the hard ceiling on concurrently in-flight approved
// orders. It is a compile-time constant per spec §3 ("not user-configurable").
const MaxOpenOrders = 32

// RiskConfig holds the operator-tunable risk parameters (spec §3). All
// fractional fields are expressed as decimal fractions (0.05 == 5%).
type RiskConfig struct {
	StopLossPct          decimal.Decimal
	TakeProfitPct        decimal.Decimal
	MaxExposurePerTrade  decimal.Decimal
	MaxExposureIsPercent bool
	MaxDrawdownPct       decimal.Decimal
}

// Validate enforces the positivity invariants spec §3 requires.
func (c RiskConfig) Validate() error {
	if !c.StopLossPct.IsPositive() {
		return errors.New("risk: stop_loss_pct must be > 0")
	}
	if !c.TakeProfitPct.IsPositive() {
		return errors.New("risk: take_profit_pct must be > 0")
	}
	if !c.MaxExposurePerTrade.IsPositive() {
		return errors.New("risk: max_exposure_per_trade must be > 0")
	}
	if !c.MaxDrawdownPct.IsPositive() {
		return errors.New("risk: max_drawdown_pct must be > 0")
	}
	return nil
}

// PortfolioAccounting is the mutable risk-side bookkeeping of spec §3.
type PortfolioAccounting struct {
	CurrentValue   decimal.Decimal
	PeakValue      decimal.Decimal
	OpenOrderCount int
}

// Drawdown computes (peak - current) / peak, zero when peak is zero.
func (p PortfolioAccounting) Drawdown() decimal.Decimal {
	if p.PeakValue.IsZero() {
		return decimal.Zero
	}
	return p.PeakValue.Sub(p.CurrentValue).Div(p.PeakValue)
}
