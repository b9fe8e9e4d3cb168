// Package model holds the core trading data types shared across the
// ingestor, strategy engine, risk manager, executor and ledger.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a signal, order or position.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Sign returns +1 for Buy and -1 for Sell, used in PnL sign conventions.
func (s Side) Sign() int64 {
	if s == Buy {
		return 1
	}
	return -1
}

// Mode is the trading mode a position or trade was opened under.
type Mode int

const (
	Live Mode = iota
	Paper
)

func (m Mode) String() string {
	if m == Live {
		return "live"
	}
	return "paper"
}

// ParseMode validates the configured trading mode. An unrecognized mode is
// a startup configuration error (spec §7).
func ParseMode(s string) (Mode, error) {
	switch s {
	case "live":
		return Live, nil
	case "paper":
		return Paper, nil
	default:
		return 0, ErrInvalidMode
	}
}

// MarketEvent is an immutable snapshot of a single pair at a single instant.
type MarketEvent struct {
	Pair      string
	Timestamp time.Time
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Volume    decimal.NullDecimal
}

// Spread is Ask - Bid; used by the risk manager's stop-loss proximity rule.
func (m MarketEvent) Spread() decimal.Decimal {
	return m.Ask.Sub(m.Bid)
}

// Signal is a strategy's proposal to buy or sell. Not yet risk-approved.
type Signal struct {
	Side     Side
	Pair     string
	Quantity decimal.Decimal
	Strategy string
}

// OrderKind distinguishes market vs. limit execution.
type OrderKind int

const (
	Market OrderKind = iota
	Limit
)

// OrderOrigin records why an Order was constructed, for audit and for the
// risk manager's rule-bypass bookkeeping (spec §4.5.2).
type OrderOrigin int

const (
	OriginStrategy OrderOrigin = iota
	OriginStopLoss
	OriginTakeProfit
	OriginDrawdownLiquidation
	OriginShutdownClose
)

func (o OrderOrigin) String() string {
	switch o {
	case OriginStrategy:
		return "strategy"
	case OriginStopLoss:
		return "stop_loss"
	case OriginTakeProfit:
		return "take_profit"
	case OriginDrawdownLiquidation:
		return "drawdown_liquidation"
	case OriginShutdownClose:
		return "shutdown_close"
	default:
		return "unknown"
	}
}

// Order is a signal that has passed every applicable risk rule. Only the
// risk manager may construct one; only the executor may consume one.
type Order struct {
	Pair           string
	Side           Side
	Quantity       decimal.Decimal
	ReferencePrice decimal.Decimal
	Kind           OrderKind
	Origin         OrderOrigin
	ClientOrderID  string
}

// Fill is the exchange's confirmation of an executed order.
type Fill struct {
	Pair           string
	Side           Side
	ExecutedPrice  decimal.Decimal
	ExecutedQty    decimal.Decimal
	ExecutedAt     time.Time
	ExchangeID     string
	ClientOrderID  string
	Mode           Mode
	Origin         OrderOrigin
}

// Position is an open exposure: one pair, one side, held until closed.
type Position struct {
	ID        string
	Pair      string
	Side      Side
	Entry     decimal.Decimal
	Quantity  decimal.Decimal
	Mode      Mode
	OpenedAt  time.Time
}

// Key identifies the (pair, side, mode) slot a position occupies; spec §3
// permits at most one open position per key.
func (p Position) Key() PositionKey {
	return PositionKey{Pair: p.Pair, Side: p.Side, Mode: p.Mode}
}

// PositionKey is the uniqueness key for open positions.
type PositionKey struct {
	Pair string
	Side Side
	Mode Mode
}

// Trade is a closed position with realized PnL, immutable once written.
type Trade struct {
	ID         string
	Pair       string
	Side       Side
	Entry      decimal.Decimal
	Exit       decimal.Decimal
	Quantity   decimal.Decimal
	PnLUSD     decimal.Decimal
	Mode       Mode
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// NewTrade closes a position at exitPrice, computing realized PnL per
// spec §3: pnl_usd = (exit - entry) * quantity * sign(side).
func NewTrade(p Position, exitPrice decimal.Decimal, closedAt time.Time, id string) Trade {
	sign := decimal.NewFromInt(p.Side.Sign())
	pnl := p.Entry.Neg().Add(exitPrice).Mul(p.Quantity).Mul(sign)
	return Trade{
		ID:       id,
		Pair:     p.Pair,
		Side:     p.Side,
		Entry:    p.Entry,
		Exit:     exitPrice,
		Quantity: p.Quantity,
		PnLUSD:   pnl,
		Mode:     p.Mode,
		OpenedAt: p.OpenedAt,
		ClosedAt: closedAt,
	}
}

// EngineState is the tagged lifecycle state owned solely by the supervisor.
type EngineState int

const (
	Stopped EngineState = iota
	Running
	Paused
	Halted
	stopping // internal transient phase, never externally observed as final
)

// Stopping returns the transient phase entered on a Stop command while
// the supervisor drains in-flight orders (spec §4.7). It is never a
// stable resting state: the engine always settles to Stopped next.
func Stopping() EngineState { return stopping }

func (s EngineState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Halted:
		return "Halted"
	case stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// RejectionReason is the closed set of reasons a signal may be denied.
type RejectionReason int

const (
	ExposureLimitExceeded RejectionReason = iota
	StopLossProximity
	HardCeilingReached
	DrawdownHalted
	UnknownPair
	InvalidQuantity
)

func (r RejectionReason) String() string {
	switch r {
	case ExposureLimitExceeded:
		return "ExposureLimitExceeded"
	case StopLossProximity:
		return "StopLossProximity"
	case HardCeilingReached:
		return "HardCeilingReached"
	case DrawdownHalted:
		return "DrawdownHalted"
	case UnknownPair:
		return "UnknownPair"
	case InvalidQuantity:
		return "InvalidQuantity"
	default:
		return "Unknown"
	}
}

// TriggerKind is the closed set of circuit/price-monitor trigger events.
type TriggerKind int

const (
	StopLossTriggered TriggerKind = iota
	TakeProfitTriggered
	DrawdownHalt
)

func (k TriggerKind) String() string {
	switch k {
	case StopLossTriggered:
		return "StopLossTriggered"
	case TakeProfitTriggered:
		return "TakeProfitTriggered"
	case DrawdownHalt:
		return "DrawdownHalt"
	default:
		return "Unknown"
	}
}

// Command is the typed command the supervisor accepts from external
// collaborators (chat-bot, dashboard) per spec §6.
type Command int

const (
	CmdStart Command = iota
	CmdStop
	CmdPause
	CmdResume
	CmdResetDrawdown
)

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "Start"
	case CmdStop:
		return "Stop"
	case CmdPause:
		return "Pause"
	case CmdResume:
		return "Resume"
	case CmdResetDrawdown:
		return "ResetDrawdown"
	default:
		return "Unknown"
	}
}

// CommandResult acknowledges a command, optionally carrying a denial reason.
type CommandResult struct {
	Accepted bool
	Denial   string
}
