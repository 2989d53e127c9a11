package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounterObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AudioBytes.Add(ctx, 4096, metric.WithAttributes(attribute.String("session", "S1")))
	m.AudioBytes.Add(ctx, 1024, metric.WithAttributes(attribute.String("session", "S1")))

	rm := collect(t, reader)
	md := findMetric(rm, "relay.audio.bytes")
	if md == nil {
		t.Fatal("relay.audio.bytes not found")
	}

	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("relay.audio.bytes data type = %T, want Sum[int64]", md.Data)
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(sum.DataPoints))
	}
	if sum.DataPoints[0].Value != 5120 {
		t.Errorf("audio bytes sum = %d, want 5120", sum.DataPoints[0].Value)
	}
}

func TestRecordTranscriptMessage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscriptMessage(ctx, "S1", "final_transcript")
	m.RecordTranscriptMessage(ctx, "S1", "ip_transcript")
	m.RecordTranscriptMessage(ctx, "S1", "final_transcript")

	rm := collect(t, reader)
	md := findMetric(rm, "relay.transcript.messages")
	if md == nil {
		t.Fatal("relay.transcript.messages not found")
	}

	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", md.Data)
	}
	// One data point per (session, kind) pair.
	if len(sum.DataPoints) != 2 {
		t.Fatalf("got %d data points, want 2", len(sum.DataPoints))
	}
}

func TestGaugeUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRooms.Add(ctx, 1)
	m.ActiveRooms.Add(ctx, 1)
	m.ActiveRooms.Add(ctx, -1)

	rm := collect(t, reader)
	md := findMetric(rm, "relay.active_rooms")
	if md == nil {
		t.Fatal("relay.active_rooms not found")
	}

	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", md.Data)
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("active rooms = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
