package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordIngest("accepted")
	m.RecordJob("acked")
	m.RecordDelivery("success", 0.1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	want := map[string]bool{
		"fanout_ingest_total":             false,
		"fanout_jobs_total":               false,
		"fanout_deliveries_total":         false,
		"fanout_delivery_latency_seconds": false,
		"fanout_dlq_size":                 false,
		"fanout_pending_jobs":             false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("%s not registered", name)
		}
	}
}

func TestRecordDelivery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDelivery("success", 0.5)
	m.RecordDelivery("success", 1.2)
	m.RecordDelivery("failed", 0.3)

	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("success")); got != 2 {
		t.Fatalf("success = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed = %f, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetPending(100)
	m.SetDLQSize(41)
	m.RecordDeadLetter()

	if got := testutil.ToFloat64(m.PendingJobs); got != 100 {
		t.Fatalf("pending = %f", got)
	}
	if got := testutil.ToFloat64(m.DLQSize); got != 42 {
		t.Fatalf("dlq size = %f", got)
	}
	if got := testutil.ToFloat64(m.DeadLetteredTotal); got != 1 {
		t.Fatalf("dead lettered = %f", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordIngest("accepted")
	m.RecordDelivery("failed", 1)
	m.SetPending(1)
}

func TestNilTracerReturnsContextSpan(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartDispatchSpan(context.Background(), "job", "evt", "acc", 1)
	if span.SpanContext().IsValid() {
		t.Fatal("nil tracer should not produce a recording span")
	}
	tr.EndDeliverySpan(span, 200, 1, "")
	_ = ctx
}

func TestTracerFromProvider(t *testing.T) {
	tr := NewTracerFromProvider(noop.NewTracerProvider())
	_, span := tr.StartDeliverySpan(context.Background(), "evt", 1, "http://example.com")
	EndSpan(span, nil)
}
