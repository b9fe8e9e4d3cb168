package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the sum type broadcast on the event bus (spec §6, Event interface).
// Exactly one of the fields is non-nil.
type Event struct {
	Time                  time.Time
	Market                *MarketEvent
	Rejection             *RejectionEvent
	Trigger               *TriggerEvent
	OrderFilled           *OrderFilledEvent
	OrderFailed           *OrderFailedEvent
	StateChanged          *StateChangedEvent
	PersistenceDivergence *PersistenceDivergenceEvent
	OrphanedPosition      *OrphanedPositionEvent
	LaggedConsumer        *LaggedConsumerEvent
	StreamUnavailable     *StreamUnavailableEvent
	StopTimeoutOrphans    *StopTimeoutOrphansEvent
}

// RejectionEvent reports a signal denied by the risk manager.
type RejectionEvent struct {
	SignalRef Signal
	Reason    RejectionReason
	Detail    string
}

// TriggerEvent reports a risk-manager-initiated close or halt.
type TriggerEvent struct {
	Kind   TriggerKind
	Pair   string
	Detail string
}

// OrderFilledEvent reports a successfully executed order.
type OrderFilledEvent struct {
	Order Order
	Fill  Fill
}

// OrderFailedEvent reports an order the executor could not place.
type OrderFailedEvent struct {
	Order  Order
	Reason string
}

// StateChangedEvent reports an EngineState transition by the supervisor.
type StateChangedEvent struct {
	From EngineState
	To   EngineState
}

// PersistenceDivergenceEvent is fatal: a fill was applied in memory but
// failed to persist (spec §4.3, §7).
type PersistenceDivergenceEvent struct {
	Fill Fill
	Err  string
}

// OrphanedPositionEvent reports a local-only position absent from the
// exchange during reconciliation (spec §4.2).
type OrphanedPositionEvent struct {
	Position Position
}

// LaggedConsumerEvent reports a slow broadcast subscriber that dropped
// events (spec §4.2).
type LaggedConsumerEvent struct {
	Subscriber string
	Dropped    int
}

// StreamUnavailableEvent reports the ingestor failing to connect within
// the startup window (spec §4.2).
type StreamUnavailableEvent struct {
	Detail string
}

// StopTimeoutOrphansEvent reports positions left open after the bounded
// stop-drain window expired (spec §4.7).
type StopTimeoutOrphansEvent struct {
	Positions []Position
}

// Snapshot is the synchronous read exposed to dashboards (spec §6).
type Snapshot struct {
	State            EngineState
	Positions        []Position
	UnrealizedPnLUSD map[string]decimal.Decimal
	RealizedPnL24h   decimal.Decimal
	OpenOrderCount   int
	CurrentDrawdown  decimal.Decimal
	Health           map[string]string
}
