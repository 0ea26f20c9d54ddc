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

func TestCounters_Record(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(attribute.String("session_id", "s1"))
	m.PacketsEmitted.Add(ctx, 3, attrs)
	m.YieldStarts.Add(ctx, 1, attrs)
	m.FreezeStarts.Add(ctx, 1, attrs)
	m.HeartbeatsEmitted.Add(ctx, 2, attrs)
	m.MissingFrameEvents.Add(ctx, 1, attrs)

	rm := collect(t, reader)
	cases := []struct {
		name string
		want int64
	}{
		{"cadence.packets.emitted", 3},
		{"cadence.yield.starts", 1},
		{"cadence.freeze.starts", 1},
		{"cadence.heartbeats.emitted", 2},
		{"cadence.heartbeats.missing_events", 1},
	}
	for _, tc := range cases {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Errorf("metric %q not found", tc.name)
			continue
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok {
			t.Errorf("%q: unexpected data type %T", tc.name, met.Data)
			continue
		}
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total != tc.want {
			t.Errorf("%q: want %d, got %d", tc.name, tc.want, total)
		}
	}
}

func TestRecordYieldEnd(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordYieldEnd(ctx, "s1", 0.25, 7)

	rm := collect(t, reader)

	hist := findMetric(rm, "cadence.yield.duration")
	if hist == nil {
		t.Fatal("cadence.yield.duration not found")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	if len(h.DataPoints) != 1 || h.DataPoints[0].Count != 1 {
		t.Errorf("yield duration: want 1 sample, got %+v", h.DataPoints)
	}

	skipped := findMetric(rm, "cadence.frames.skipped")
	if skipped == nil {
		t.Fatal("cadence.frames.skipped not found")
	}
	sum := skipped.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 7 {
		t.Errorf("frames skipped: want 7, got %+v", sum.DataPoints)
	}
}

func TestRecordCancel(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCancel(ctx, "USER_BARGE_IN", 0.050, true)
	m.RecordCancel(ctx, "USER_BARGE_IN", 0.150, false)

	rm := collect(t, reader)

	hist := findMetric(rm, "cadence.cancel.duration")
	if hist == nil {
		t.Fatal("cadence.cancel.duration not found")
	}
	h := hist.Data.(metricdata.Histogram[float64])
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("cancel duration samples: want 2, got %d", count)
	}

	timeouts := findMetric(rm, "cadence.cancel.timeouts")
	if timeouts == nil {
		t.Fatal("cadence.cancel.timeouts not found")
	}
	sum := timeouts.Data.(metricdata.Sum[int64])
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 1 {
		t.Errorf("cancel timeouts: want 1 (only the incomplete fan-out), got %d", total)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "cadence.active_sessions")
	if met == nil {
		t.Fatal("cadence.active_sessions not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions: want 1, got %+v", sum.DataPoints)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics must return the same instance")
	}
}
