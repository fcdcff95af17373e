package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

func sumWhere(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTick(ctx, "processed")
	m.RecordTick(ctx, "processed")
	m.RecordTick(ctx, "skipped")
	m.RecordTranscript(ctx, "empty")
	m.RecordAction(ctx, "export", errors.New("disk full"))
	m.RecordAction(ctx, "export", nil)
	m.RecordTransition(ctx, "idle", "direct")
	m.RecordBreaker(ctx, "stt-google", "open")

	rm := collect(t, reader)

	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"voicebot.poll.ticks", "status", "processed", 2},
		{"voicebot.poll.ticks", "status", "skipped", 1},
		{"voicebot.transcripts", "outcome", "empty", 1},
		{"voicebot.actions", "status", "error", 1},
		{"voicebot.actions", "status", "ok", 1},
		{"voicebot.mode.transitions", "to", "direct", 1},
		{"voicebot.breaker.transitions", "to", "open", 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.value, func(t *testing.T) {
			met := findMetric(rm, tt.metric)
			if met == nil {
				t.Fatalf("metric %q not found", tt.metric)
			}
			if got := sumWhere(t, met, tt.key, tt.value); got != tt.want {
				t.Fatalf("%s{%s=%s} = %d, want %d", tt.metric, tt.key, tt.value, got, tt.want)
			}
		})
	}
}

func TestSTTDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordSTT(context.Background(), "google", 1500*time.Millisecond, nil)

	met := findMetric(collect(t, reader), "voicebot.stt.duration")
	if met == nil {
		t.Fatal("stt duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected data %T", met.Data)
	}
	if got := hist.DataPoints[0].Sum; got != 1.5 {
		t.Fatalf("sum = %v, want 1.5", got)
	}
}

func TestDiscard(t *testing.T) {
	m := Discard()
	m.RecordTick(context.Background(), "processed")
	m.ActiveSessions.Add(context.Background(), 1)
}
