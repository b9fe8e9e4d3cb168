// Package exchange defines the ExchangeClient capability abstraction
// (spec §4.1, C1) and its two concrete implementations: a live Binance
// client and a paper-trading simulator. The concrete client instance is
// held only by the order executor (internal/executor) — every other
// component reaches market data through the ingestor's broadcast bus,
// never through this interface directly. That asymmetry of visibility is
// the structural guarantee that the risk manager cannot be bypassed
// (spec §4.1, §9).
package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"market_maker/internal/apperrors"
	"market_maker/internal/model"
)

// Client is the capability interface for submitting orders and inspecting
// account state on a single exchange.
type Client interface {
	// SubmitOrder places order and blocks until the exchange acknowledges
	// it or the context deadline expires. Never retried automatically by
	// the implementation — retry policy belongs to the caller (spec §4.1).
	SubmitOrder(ctx context.Context, order model.Order) (model.Fill, error)

	// OpenPositions lists positions the exchange currently reports open,
	// used for startup and post-reconnect reconciliation (spec §4.2).
	OpenPositions(ctx context.Context) ([]model.Position, error)
}

// PositionSource is the narrow, read-only slice of Client the ingestor is
// allowed to hold for post-reconnect reconciliation (spec §4.2). It
// cannot submit orders, so handing it to the ingestor never weakens the
// risk-manager non-bypass guarantee.
type PositionSource interface {
	OpenPositions(ctx context.Context) ([]model.Position, error)
}

// StreamClient is the half of the exchange capability the market ingestor
// holds: the raw frame stream. Kept separate from Client so that only
// internal/executor can ever obtain a value satisfying Client.
type StreamClient interface {
	// Connect establishes the underlying stream and must return (or the
	// caller must time it out) within spec's 5s startup bound.
	Connect(ctx context.Context, pairs []string) error
	// Frames yields decoded raw frames for the ingestor to translate into
	// model.MarketEvent values.
	Frames() <-chan RawFrame
	Close() error
}

// RawFrame is an exchange-specific wire frame, decoded just enough for the
// ingestor to build a model.MarketEvent (spec §6, "aggregated trades and
// klines").
type RawFrame struct {
	Pair   string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Volume decimal.NullDecimal
}

// AsSubmissionError classifies a lower-level transport/auth error into the
// spec §4.1 SubmissionError taxonomy.
func AsSubmissionError(err error) *apperrors.SubmissionError {
	if err == nil {
		return nil
	}
	var se *apperrors.SubmissionError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, apperrors.ErrInsufficientFunds):
		return &apperrors.SubmissionError{Kind: apperrors.InsufficientFunds, Err: err}
	case errors.Is(err, apperrors.ErrOrderRejected):
		return &apperrors.SubmissionError{Kind: apperrors.Rejected, Reason: err.Error(), Err: err}
	default:
		return &apperrors.SubmissionError{Kind: apperrors.Transport, Retryable: true, Err: err}
	}
}
