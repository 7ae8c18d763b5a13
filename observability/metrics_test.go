package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"nhbmarket/core/events"
	"nhbmarket/native/market"
)

func TestMarketMetricsRecordSettlement(t *testing.T) {
	m := NewMarketMetrics(prometheus.NewRegistry())
	split := market.Split{
		Price:   big.NewInt(400),
		Fee:     big.NewInt(10),
		Royalty: big.NewInt(16),
		Mileage: big.NewInt(4),
		Seller:  big.NewInt(370),
	}
	m.RecordSettlement("sale", split)
	m.RecordSettlement("Sale ", split)

	if got := testutil.ToFloat64(m.settled.WithLabelValues("sale")); got != 2 {
		t.Fatalf("expected 2 settlements, got %v", got)
	}
	if got := testutil.ToFloat64(m.volume.WithLabelValues("sale", "seller")); got != 740 {
		t.Fatalf("expected seller volume 740, got %v", got)
	}
	if got := testutil.ToFloat64(m.volume.WithLabelValues("sale", "fee")); got != 20 {
		t.Fatalf("expected fee volume 20, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastPrice.WithLabelValues("sale")); got != 400 {
		t.Fatalf("expected last price 400, got %v", got)
	}
}

func TestMarketMetricsObserveOperation(t *testing.T) {
	m := NewMarketMetrics(prometheus.NewRegistry())
	m.ObserveOperation("buy", "ok", 5*time.Millisecond)
	m.ObserveOperation("buy", "rejected", time.Millisecond)
	m.ObserveOperation("", "", 0)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("buy", "ok")); got != 1 {
		t.Fatalf("expected one ok buy, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("unknown", "unknown")); got != 1 {
		t.Fatalf("expected unlabelled operation to fall back to unknown, got %v", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 2 {
		t.Fatalf("expected two latency series, got %d", got)
	}

	var nilMetrics *MarketMetrics
	nilMetrics.ObserveOperation("buy", "ok", time.Second)
	nilMetrics.RecordSettlement("sale", market.Split{})
}

func TestEventMetricsCountsByType(t *testing.T) {
	m := NewEventMetrics(prometheus.NewRegistry())
	fanout := events.Fanout{m, &events.Recorder{}}
	fanout.Emit(events.MileageCallerUpdated{})
	fanout.Emit(events.MileageCallerUpdated{})

	if got := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeMileageCallerUpdated)); got != 2 {
		t.Fatalf("expected two events, got %v", got)
	}
}

func TestBigToFloat(t *testing.T) {
	if bigToFloat(nil) != 0 {
		t.Fatalf("nil must map to zero")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	if got := bigToFloat(huge); got != 0 {
		t.Fatalf("overflowing values must map to zero, got %v", got)
	}
}
