package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"market_maker/internal/exchange"
	"market_maker/internal/logging"
)

const defaultStreamURL = "wss://fstream.binance.com/stream"

// Stream is the gorilla/websocket-backed StreamClient for Binance
// bookTicker (best bid/ask) frames. It does not reconnect by itself: a
// dropped connection closes Frames() and the caller reconnects. Backoff
// gives the exponential, full-jitter delay schedule capped at 60s
// (spec §4.2).
type Stream struct {
	url    string
	logger logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan exchange.RawFrame

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStream creates a Binance market-data stream client.
func NewStream(logger logging.Logger) *Stream {
	return &Stream{
		url:    defaultStreamURL,
		logger: logger,
		frames: make(chan exchange.RawFrame, 1024),
	}
}

// Connect subscribes to the combined bookTicker stream for pairs. Callers
// enforce the spec's 5s connection-establishment bound themselves via
// context deadline.
func (s *Stream) Connect(ctx context.Context, pairs []string) error {
	streams := make([]string, 0, len(pairs))
	for _, p := range pairs {
		streams = append(streams, strings.ToLower(strings.ReplaceAll(p, "/", ""))+"@bookTicker")
	}
	url := fmt.Sprintf("%s?streams=%s", s.url, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("binance stream: dial: %w", err)
	}

	// A fresh frames channel per connection: the previous one (if any)
	// was closed by the readLoop it belonged to on disconnect, and a
	// closed channel can never be reopened.
	frames := make(chan exchange.RawFrame, 1024)

	s.mu.Lock()
	s.conn = conn
	s.frames = frames
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	s.ctx = runCtx
	s.cancel = cancel

	go s.readLoop(conn, frames)
	return nil
}

// readLoop drains conn until it errors (remote close, network failure,
// or a local Close() call) and always closes frames on the way out, so
// a blocked Frames() receiver observes the disconnect instead of
// hanging forever (spec §4.2: reconnect must be observable).
func (s *Stream) readLoop(conn *websocket.Conn, frames chan exchange.RawFrame) {
	defer conn.Close()
	defer close(frames)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("binance stream read failed", "error", err)
			}
			return
		}

		var env struct {
			Stream string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		var tick bookTicker
		if err := json.Unmarshal(env.Data, &tick); err != nil {
			continue
		}

		bid, _ := decimal.NewFromString(tick.BidPrice)
		ask, _ := decimal.NewFromString(tick.AskPrice)

		select {
		case frames <- exchange.RawFrame{Pair: tick.Symbol, Bid: bid, Ask: ask, Last: bid.Add(ask).Div(decimal.NewFromInt(2))}:
		default:
			if s.logger != nil {
				s.logger.Warn("binance stream: frame buffer full, dropping")
			}
		}
	}
}

type bookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

// Frames returns the current connection's decoded frame channel. It is
// closed when that connection ends, so a caller ranging or selecting on
// it observes disconnects directly instead of relying on a read error.
func (s *Stream) Frames() <-chan exchange.RawFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close tears down the connection, which unblocks readLoop's
// ReadMessage and lets it close the frames channel.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Backoff computes the spec §4.2 reconnect delay: exponential starting at
// 1s, capped at 60s, full jitter (uniform in [0, cap)).
func Backoff(attempt int, jitter func(n int64) int64) time.Duration {
	base := time.Second
	capDur := 60 * time.Second
	d := base << uint(minInt(attempt, 6)) // 2^6 * 1s = 64s already exceeds cap
	if d > capDur {
		d = capDur
	}
	if jitter == nil {
		return d
	}
	return time.Duration(jitter(int64(d)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
