package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebot/internal/command"
	"github.com/user/discord-voicebot/internal/logging"
	"github.com/user/discord-voicebot/internal/observe"
)

const (
	msgExportFailed   = "Es gab einen Fehler beim Speichern der letzten 30 Sekunden."
	msgChannelMissing = "Der Zielkanal für das Speichern der Audiodatei konnte nicht gefunden werden."
	msgSendFailed     = "Es gab einen Fehler beim automatischen Senden der Audiodatei."
)

// ErrChannelUnavailable is returned by a Notifier when the target channel is
// missing or cannot receive files.
var ErrChannelUnavailable = errors.New("target channel unavailable")

type Speaker interface {
	PlayCue(ctx context.Context, cue command.CueID) error
	Say(ctx context.Context, text string) error
}

type Responder interface {
	Respond(ctx context.Context, input string) (string, error)
}

type Exporter interface {
	// ExportRollingWindow persists the rolling window and returns its path.
	ExportRollingWindow(ctx context.Context) (string, error)
}

type Notifier interface {
	SendFile(ctx context.Context, path string) error
}

// Completion reports the result of one executed action. Path is set for
// export and notify actions.
type Completion struct {
	SessionID string
	Action    command.Action
	Path      string
	Err       error
	Took      time.Duration
}

type CompletionHandler func(ctx context.Context, c Completion)

// Dispatcher executes action plans on a single worker so that plans never
// overlap and run in submission order.
type Dispatcher struct {
	speaker   Speaker
	responder Responder
	exporter  Exporter
	notifier  Notifier

	sessionID  string
	onComplete CompletionHandler
	metrics    *observe.Metrics

	queue     chan []command.Action
	closeOnce sync.Once
	done      chan struct{}
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan []command.Action, n)
		}
	}
}

func WithCompletionHandler(h CompletionHandler) Option {
	return func(d *Dispatcher) { d.onComplete = h }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithSessionID(id string) Option {
	return func(d *Dispatcher) { d.sessionID = id }
}

// New builds a dispatcher. responder may be nil, in which case forwarded
// text is dropped with a warning.
func New(speaker Speaker, responder Responder, exporter Exporter, notifier Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		speaker:   speaker,
		responder: responder,
		exporter:  exporter,
		notifier:  notifier,
		queue:     make(chan []command.Action, 8),
		done:      make(chan struct{}),
		metrics:   observe.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.onComplete == nil {
		d.onComplete = d.defaultCompletion
	}
	return d
}

// Submit queues a plan without blocking. It reports false when the queue is
// full and the plan was dropped.
func (d *Dispatcher) Submit(actions []command.Action) bool {
	if len(actions) == 0 {
		return true
	}

	select {
	case <-d.done:
		return false
	default:
	}

	select {
	case d.queue <- actions:
		return true
	default:
		log.Warn().
			Str("session_id", d.sessionID).
			Int("actions", len(actions)).
			Msg("Dispatch queue full, dropping plan")
		return false
	}
}

// Run executes queued plans until ctx is cancelled or Close is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		case plan := <-d.queue:
			d.Execute(ctx, plan)
		}
	}
}

func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// Execute runs one plan synchronously. A failed export abandons the rest of
// the plan.
func (d *Dispatcher) Execute(ctx context.Context, plan []command.Action) {
	var exported string

	for _, action := range plan {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		c := Completion{SessionID: d.sessionID, Action: action}

		switch action.Kind {
		case command.ActionPlayCue:
			c.Err = d.speaker.PlayCue(ctx, action.Cue)

		case command.ActionForwardToAgent:
			c.Err = d.forward(ctx, action.Text)

		case command.ActionExportRollingWindow:
			exported, c.Err = d.exporter.ExportRollingWindow(ctx)
			c.Path = exported

		case command.ActionNotifyChannel:
			c.Path = exported
			if exported == "" {
				c.Err = errors.New("nothing exported to send")
			} else {
				c.Err = d.notifier.SendFile(ctx, exported)
			}

		case command.ActionNone:
			continue
		}

		c.Took = time.Since(start)
		d.onComplete(ctx, c)

		if c.Err != nil && action.Kind == command.ActionExportRollingWindow {
			return
		}
	}
}

func (d *Dispatcher) forward(ctx context.Context, input string) error {
	if d.responder == nil {
		return errors.New("no response agent configured")
	}

	log.Info().
		Int("code", logging.CodeAgentInput).
		Str("session_id", d.sessionID).
		Str("input", input).
		Msg("Forwarding to agent")

	reply, err := d.responder.Respond(ctx, input)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	log.Info().
		Int("code", logging.CodeAgentReply).
		Str("session_id", d.sessionID).
		Str("reply", reply).
		Msg("Agent replied")

	if reply == "" {
		return nil
	}
	if err := d.speaker.Say(ctx, reply); err != nil {
		return fmt.Errorf("speak reply: %w", err)
	}
	return nil
}

// defaultCompletion logs the result, reports failures to Sentry, records
// metrics and speaks a diagnostic for failed exports and notifications.
func (d *Dispatcher) defaultCompletion(ctx context.Context, c Completion) {
	d.metrics.RecordAction(ctx, c.Action.Kind.String(), c.Err)

	if c.Err == nil {
		switch c.Action.Kind {
		case command.ActionExportRollingWindow:
			log.Info().
				Int("code", logging.CodeExportSaved).
				Str("session_id", c.SessionID).
				Str("path", c.Path).
				Msg("Rolling window saved")
		case command.ActionNotifyChannel:
			log.Info().
				Int("code", logging.CodeFileSent).
				Str("session_id", c.SessionID).
				Str("path", c.Path).
				Msg("Recording sent to channel")
		default:
			log.Debug().
				Str("session_id", c.SessionID).
				Str("action", c.Action.String()).
				Dur("took", c.Took).
				Msg("Action completed")
		}
		return
	}

	if ctx.Err() != nil {
		return
	}

	sentry.CaptureException(c.Err)

	code, diagnostic := failureCode(c)
	log.WithLevel(failureLevel(c)).
		Err(c.Err).
		Int("code", code).
		Str("session_id", c.SessionID).
		Str("action", c.Action.String()).
		Str("path", c.Path).
		Msg("Action failed")

	if diagnostic == "" {
		return
	}
	if err := d.speaker.Say(ctx, diagnostic); err != nil {
		log.Error().
			Err(err).
			Int("code", logging.CodeSpeakFailed).
			Str("session_id", c.SessionID).
			Msg("Failed to speak diagnostic")
	}
}

// failureLevel reports a missing or non-text channel at warn level.
func failureLevel(c Completion) zerolog.Level {
	if c.Action.Kind == command.ActionNotifyChannel && errors.Is(c.Err, ErrChannelUnavailable) {
		return zerolog.WarnLevel
	}
	return zerolog.ErrorLevel
}

func failureCode(c Completion) (int, string) {
	switch c.Action.Kind {
	case command.ActionPlayCue:
		if c.Action.Cue == command.CueTrigger {
			return logging.CodeCueFailed, ""
		}
		return logging.CodeCommandCue, ""
	case command.ActionForwardToAgent:
		return logging.CodeSpeakFailed, ""
	case command.ActionExportRollingWindow:
		return logging.CodeExportFailed, msgExportFailed
	case command.ActionNotifyChannel:
		if errors.Is(c.Err, ErrChannelUnavailable) {
			return logging.CodeChannelMissing, msgChannelMissing
		}
		return logging.CodeSendFailed, msgSendFailed
	default:
		return logging.CodeSpeakFailed, ""
	}
}
