// Package observe holds the OpenTelemetry instruments recorded by the voice
// pipeline. Tests build their own [Metrics] on a ManualReader; production code
// uses the global provider installed by [InitProvider].
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/user/discord-voicebot"

type Metrics struct {
	// status: skipped, processed, coalesced, cancelled
	PollTicks metric.Int64Counter

	// backend, status
	STTDuration metric.Float64Histogram

	// outcome: text, empty, error, no_speech
	Transcripts metric.Int64Counter

	// kind, status
	Actions metric.Int64Counter

	// from, to
	ModeTransitions metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter

	// breaker, to
	BreakerTransitions metric.Int64Counter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PollTicks, err = m.Int64Counter("voicebot.poll.ticks",
		metric.WithDescription("Poller ticks by status."),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("voicebot.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voicebot.transcripts",
		metric.WithDescription("Classified transcription outcomes."),
	); err != nil {
		return nil, err
	}
	if met.Actions, err = m.Int64Counter("voicebot.actions",
		metric.WithDescription("Dispatched actions by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ModeTransitions, err = m.Int64Counter("voicebot.mode.transitions",
		metric.WithDescription("Conversation mode changes."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicebot.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voicebot.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Discard returns instruments backed by a no-op provider.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

func (m *Metrics) RecordTick(ctx context.Context, status string) {
	m.PollTicks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordSTT(ctx context.Context, backend string, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.STTDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

func (m *Metrics) RecordTranscript(ctx context.Context, outcome string) {
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordAction(ctx context.Context, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Actions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.ModeTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

func (m *Metrics) RecordBreaker(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", name),
			attribute.String("to", to),
		),
	)
}
