package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebot/internal/observe"
	"github.com/user/discord-voicebot/internal/resilience"
)

// Transcriber converts one WAV payload into text. An empty string with a nil
// error means nothing was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, payload []byte, language string) (string, error)
	Close() error
}

// Guarded wraps a backend with a circuit breaker and latency metrics.
type Guarded struct {
	backend string
	inner   Transcriber
	breaker *resilience.Breaker
	metrics *observe.Metrics
}

func NewGuarded(backend string, inner Transcriber, breaker *resilience.Breaker, metrics *observe.Metrics) *Guarded {
	if metrics == nil {
		metrics = observe.Discard()
	}

	breaker.OnStateChange(func(from, to resilience.State) {
		metrics.RecordBreaker(context.Background(), backend, to.String())
		if to == resilience.StateOpen {
			sentry.CaptureMessage(fmt.Sprintf("%s transcription circuit opened", backend))
		}
	})

	return &Guarded{
		backend: backend,
		inner:   inner,
		breaker: breaker,
		metrics: metrics,
	}
}

func (g *Guarded) Transcribe(ctx context.Context, payload []byte, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var text string

	start := time.Now()
	err := g.breaker.Execute(func() error {
		var err error
		text, err = g.inner.Transcribe(ctx, payload, language)
		// A cancelled session says nothing about the backend.
		if ctx.Err() != nil {
			return resilience.ErrAbandoned
		}
		return err
	})
	if errors.Is(err, resilience.ErrAbandoned) {
		return "", ctx.Err()
	}
	g.metrics.RecordSTT(ctx, g.backend, time.Since(start), err)

	if err != nil {
		return "", fmt.Errorf("%s transcription failed: %w", g.backend, err)
	}

	log.Debug().
		Str("backend", g.backend).
		Dur("took", time.Since(start)).
		Int("chars", len(text)).
		Msg("Transcribed payload")

	return text, nil
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}
