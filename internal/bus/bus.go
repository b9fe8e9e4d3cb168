// Package bus implements the typed channels connecting every core
// subsystem (spec §5, §8 Event Bus).
//
// Three channel shapes are used:
//   - MarketBus: broadcast, bounded ring, lossy for lagging subscribers.
//   - bounded point-to-point channels (signals, orders, commands): created
//     directly by callers with make(chan T, n) — no wrapper needed.
//   - EventBus: broadcast, bounded ring, lossy for lagging subscribers,
//     used for the external Event interface (spec §6).
package bus

import (
	"sync"

	"market_maker/internal/logging"
	"market_maker/internal/model"
)

const defaultRingSize = 256

// MarketBus fans a stream of MarketEvents out to many subscribers. A slow
// subscriber drops its oldest buffered event rather than blocking the
// publisher (spec §4.2, §5, §9).
type MarketBus struct {
	mu       sync.RWMutex
	subs     map[string]chan model.MarketEvent
	ringSize int
	logger   logging.Logger
}

// NewMarketBus creates a broadcast bus with the given per-subscriber ring size.
func NewMarketBus(ringSize int, logger logging.Logger) *MarketBus {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &MarketBus{
		subs:     make(map[string]chan model.MarketEvent),
		ringSize: ringSize,
		logger:   logger,
	}
}

// Subscribe attaches a new named subscriber and returns its receive channel.
// Subscribers may attach/detach freely (spec §6).
func (b *MarketBus) Subscribe(name string) <-chan model.MarketEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan model.MarketEvent, b.ringSize)
	b.subs[name] = ch
	return ch
}

// Unsubscribe detaches and closes a subscriber's channel.
func (b *MarketBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[name]; ok {
		delete(b.subs, name)
		close(ch)
	}
}

// Publish fans out an event in source order to every subscriber. A full
// subscriber channel has its oldest entry dropped to make room, and a
// LaggedConsumer warning is logged (spec §4.2).
func (b *MarketBus) Publish(evt model.MarketEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Ring is full: drop the oldest buffered event for this
			// subscriber only, then deliver the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
			if b.logger != nil {
				b.logger.Warn("LaggedConsumer", "subscriber", name, "pair", evt.Pair)
			}
		}
	}
}

// EventBus broadcasts external-facing events (spec §6 Event interface).
// Lossy to slow consumers, exactly like MarketBus, but never on the order
// path — only the order/signal channels in package supervisor/risk/executor
// gate trading, and those are never dropped.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[string]chan model.Event
	ringSize int
	logger   logging.Logger
}

// NewEventBus creates a broadcast event bus with the given ring size.
func NewEventBus(ringSize int, logger logging.Logger) *EventBus {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &EventBus{
		subs:     make(map[string]chan model.Event),
		ringSize: ringSize,
		logger:   logger,
	}
}

// Subscribe attaches a new named subscriber.
func (b *EventBus) Subscribe(name string) <-chan model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan model.Event, b.ringSize)
	b.subs[name] = ch
	return ch
}

// Unsubscribe detaches and closes a subscriber's channel.
func (b *EventBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[name]; ok {
		delete(b.subs, name)
		close(ch)
	}
}

// Publish fans an event out to every subscriber, dropping oldest on overflow.
func (b *EventBus) Publish(evt model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
			if b.logger != nil {
				b.logger.Warn("LaggedConsumer", "subscriber", name, "bus", "event")
			}
		}
	}
}
