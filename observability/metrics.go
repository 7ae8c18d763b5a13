package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nhbmarket/native/market"
)

// MarketMetrics wraps the collectors tracking marketplace activity.
type MarketMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	settled    *prometheus.CounterVec
	volume     *prometheus.CounterVec
	lastPrice  *prometheus.GaugeVec
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

var settlementLegs = []string{"fee", "royalty", "mileage", "seller"}

// Market returns the lazily-initialised market metrics registry.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = newMarketMetrics()
		prometheus.MustRegister(marketRegistry.collectors()...)
	})
	return marketRegistry
}

// NewMarketMetrics builds an unregistered set of collectors and registers them
// with reg. It is used by tests and by processes running several engines.
func NewMarketMetrics(reg prometheus.Registerer) *MarketMetrics {
	m := newMarketMetrics()
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func newMarketMetrics() *MarketMetrics {
	return &MarketMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nhb",
			Subsystem: "market",
			Name:      "operations_total",
			Help:      "Count of market operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nhb",
			Subsystem: "market",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for market operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nhb",
			Subsystem: "market",
			Name:      "settlements_total",
			Help:      "Count of settled trades segmented by kind (sale, offer, auction).",
		}, []string{"kind"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nhb",
			Subsystem: "market",
			Name:      "settled_amount_total",
			Help:      "Settled amounts segmented by kind and payout leg.",
		}, []string{"kind", "leg"}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nhb",
			Subsystem: "market",
			Name:      "last_price",
			Help:      "Price of the most recent settlement per kind.",
		}, []string{"kind"}),
	}
}

func (m *MarketMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.operations, m.latency, m.settled, m.volume, m.lastPrice}
}

// ObserveOperation records the outcome and latency of one engine operation.
func (m *MarketMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = labelOr(op, "unknown")
	m.operations.WithLabelValues(op, labelOr(outcome, "unknown")).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordSettlement accumulates the payout legs of a settled trade.
func (m *MarketMetrics) RecordSettlement(kind string, split market.Split) {
	if m == nil {
		return
	}
	kind = labelOr(kind, "unknown")
	m.settled.WithLabelValues(kind).Inc()
	amounts := []*big.Int{split.Fee, split.Royalty, split.Mileage, split.Seller}
	for i, leg := range settlementLegs {
		if v := bigToFloat(amounts[i]); v > 0 {
			m.volume.WithLabelValues(kind, leg).Add(v)
		}
	}
	m.lastPrice.WithLabelValues(kind).Set(bigToFloat(split.Price))
}

func labelOr(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
