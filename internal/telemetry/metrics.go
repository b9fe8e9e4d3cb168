package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names exposed on the Prometheus exporter.
const (
	MetricOrdersPlacedTotal   = "market_maker_orders_placed_total"
	MetricOrdersFilledTotal   = "market_maker_orders_filled_total"
	MetricOrdersRejectedTotal = "market_maker_orders_rejected_total"
	MetricSubmitLatencyMS     = "market_maker_submit_latency_ms"
	MetricOpenOrderCount      = "market_maker_open_order_count"
	MetricDrawdownRatio       = "market_maker_drawdown_ratio"
	MetricCircuitBreakerOpen  = "market_maker_circuit_breaker_open"
)

// Metrics holds every instrument the kernel emits, grounded on the
// teacher's MetricsHolder pattern (pkg/telemetry/metrics.go) but scoped
// to the signal-path/order-path concerns of this kernel.
type Metrics struct {
	OrdersPlaced   metric.Int64Counter
	OrdersFilled   metric.Int64Counter
	OrdersRejected metric.Int64Counter
	SubmitLatency  metric.Float64Histogram

	openOrderGauge     metric.Int64ObservableGauge
	drawdownGauge       metric.Float64ObservableGauge
	circuitBreakerGauge metric.Int64ObservableGauge

	mu             sync.RWMutex
	openOrderCount int64
	drawdownRatio  float64
	circuitOpen    int64
}

// NewMetrics registers every instrument against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.OrdersPlaced, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders approved by the risk manager"))
	if err != nil {
		return nil, err
	}
	m.OrdersFilled, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders filled by the exchange"))
	if err != nil {
		return nil, err
	}
	m.OrdersRejected, err = meter.Int64Counter(MetricOrdersRejectedTotal, metric.WithDescription("Total signals rejected by the risk manager"))
	if err != nil {
		return nil, err
	}
	m.SubmitLatency, err = meter.Float64Histogram(MetricSubmitLatencyMS, metric.WithDescription("Exchange order submission latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	m.openOrderGauge, err = meter.Int64ObservableGauge(MetricOpenOrderCount, metric.WithDescription("Current open order count"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openOrderCount)
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.drawdownGauge, err = meter.Float64ObservableGauge(MetricDrawdownRatio, metric.WithDescription("Current portfolio drawdown ratio"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.drawdownRatio)
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.circuitBreakerGauge, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Risk manager circuit breaker state (1=halted, 0=normal)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.circuitOpen)
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetOpenOrderCount updates the value the open-order gauge reports.
func (m *Metrics) SetOpenOrderCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrderCount = int64(n)
}

// SetDrawdown updates the value the drawdown gauge reports.
func (m *Metrics) SetDrawdown(ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawdownRatio = ratio
}

// SetCircuitBreakerOpen updates the circuit-breaker gauge.
func (m *Metrics) SetCircuitBreakerOpen(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open {
		m.circuitOpen = 1
	} else {
		m.circuitOpen = 0
	}
}

// RecordOrderPlaced increments the orders-placed counter for pair.
func (m *Metrics) RecordOrderPlaced(ctx context.Context, pair string) {
	m.OrdersPlaced.Add(ctx, 1, metric.WithAttributes(attribute.String("pair", pair)))
}

// RecordOrderFilled increments the orders-filled counter for pair.
func (m *Metrics) RecordOrderFilled(ctx context.Context, pair string) {
	m.OrdersFilled.Add(ctx, 1, metric.WithAttributes(attribute.String("pair", pair)))
}

// RecordOrderRejected increments the orders-rejected counter by reason.
func (m *Metrics) RecordOrderRejected(ctx context.Context, reason string) {
	m.OrdersRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSubmitLatency records a completed submission's latency in ms.
func (m *Metrics) RecordSubmitLatency(ctx context.Context, pair string, ms float64) {
	m.SubmitLatency.Record(ctx, ms, metric.WithAttributes(attribute.String("pair", pair)))
}
