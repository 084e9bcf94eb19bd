package observability

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestEscrowMetricsRecordOperations(t *testing.T) {
	m := Escrow()
	before := testutil.ToFloat64(m.operations.WithLabelValues("release", "conflict"))
	m.ObserveOperation("release", "conflict", 3*time.Millisecond)
	m.ObserveOperation("release", "conflict", time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("release", "conflict")) - before; got != 2 {
		t.Fatalf("expected 2 conflicts recorded, got %v", got)
	}

	blank := testutil.ToFloat64(m.operations.WithLabelValues("create", "unspecified"))
	m.ObserveOperation("create", " ", 0)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("create", "unspecified")) - blank; got != 1 {
		t.Fatalf("expected unspecified outcome, got %v", got)
	}
}

func TestEscrowMetricsAmountsSkipNonPositive(t *testing.T) {
	m := Escrow()
	before := testutil.ToFloat64(m.amounts.WithLabelValues("BRL", "refunded"))
	m.AddAmount("brl", "refunded", decimal.RequireFromString("7000.00"))
	m.AddAmount("BRL", "refunded", decimal.Zero)
	m.AddAmount("BRL", "refunded", decimal.RequireFromString("-5"))
	if got := testutil.ToFloat64(m.amounts.WithLabelValues("BRL", "refunded")) - before; got != 7000 {
		t.Fatalf("expected 7000 added, got %v", got)
	}
}

func TestEscrowMetricsEvents(t *testing.T) {
	m := Escrow()
	before := testutil.ToFloat64(m.events.WithLabelValues("escrow.frozen"))
	m.RecordEvent("escrow.frozen")
	if got := testutil.ToFloat64(m.events.WithLabelValues("escrow.frozen")) - before; got != 1 {
		t.Fatalf("expected one event, got %v", got)
	}
}

func TestHTTPMetricsSplitErrors(t *testing.T) {
	m := HTTP()
	okBefore := testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/escrows/{id}", http.MethodGet, "success"))
	errBefore := testutil.ToFloat64(m.errors.WithLabelValues("/api/v1/escrows/{id}", http.MethodGet, "404"))
	m.Observe("/api/v1/escrows/{id}", http.MethodGet, http.StatusOK, time.Millisecond)
	m.Observe("/api/v1/escrows/{id}", http.MethodGet, http.StatusNotFound, time.Millisecond)
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/escrows/{id}", http.MethodGet, "success")) - okBefore; got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("/api/v1/escrows/{id}", http.MethodGet, "404")) - errBefore; got != 1 {
		t.Fatalf("expected one 404, got %v", got)
	}

	throttled := testutil.ToFloat64(m.throttles.WithLabelValues("unknown"))
	m.RecordThrottle("")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("unknown")) - throttled; got != 1 {
		t.Fatalf("expected throttle under unknown route, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *EscrowMetrics
	m.ObserveOperation("create", "ok", time.Millisecond)
	m.RecordEvent("escrow.created")
	m.AddAmount("BRL", "deposited", decimal.NewFromInt(1))
}
