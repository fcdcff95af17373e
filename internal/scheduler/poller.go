package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/discord-voicebot/internal/command"
	"github.com/user/discord-voicebot/internal/observe"
	"github.com/user/discord-voicebot/internal/store"
	"github.com/user/discord-voicebot/internal/stt"
)

// Source hands out the audio accumulated since the previous flush.
type Source interface {
	FlushPrimary() (payload []byte, ok bool)
}

// SpeechGate lets a tick skip transcription for payloads without speech.
type SpeechGate interface {
	ContainsSpeech(payload []byte) (bool, error)
}

type Submitter interface {
	Submit(actions []command.Action) bool
}

type Journal interface {
	AppendUtterance(u store.Utterance) error
}

type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusProcessed Status = "processed"
	StatusCancelled Status = "cancelled"
	StatusCoalesced Status = "coalesced"
)

// Result describes one tick.
type Result struct {
	Status     Status
	Outcome    stt.Outcome
	Transition command.Transition
}

// Poller flushes a session's audio on a fixed interval and feeds it through
// transcription, classification and the command machine. Ticks never
// overlap: at most one tick waits while another runs, and further ticks are
// coalesced into it.
type Poller struct {
	interval  time.Duration
	language  string
	sessionID string

	source      Source
	transcriber stt.Transcriber
	adapter     *stt.Adapter
	machine     *command.Machine
	dispatcher  Submitter

	gate    SpeechGate
	journal Journal
	metrics *observe.Metrics
	now     func() time.Time

	mutex sync.Mutex
}

type Option func(*Poller)

func WithSpeechGate(g SpeechGate) Option {
	return func(p *Poller) { p.gate = g }
}

func WithJournal(j Journal) Option {
	return func(p *Poller) { p.journal = j }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

func WithSessionID(id string) Option {
	return func(p *Poller) { p.sessionID = id }
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

func New(
	interval time.Duration,
	language string,
	source Source,
	transcriber stt.Transcriber,
	adapter *stt.Adapter,
	machine *command.Machine,
	dispatcher Submitter,
	opts ...Option,
) *Poller {
	p := &Poller{
		interval:    interval,
		language:    language,
		source:      source,
		transcriber: transcriber,
		adapter:     adapter,
		machine:     machine,
		dispatcher:  dispatcher,
		metrics:     observe.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ticks until ctx is cancelled. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	pending := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-pending:
				p.Tick(gctx)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case pending <- struct{}{}:
				default:
					p.metrics.RecordTick(gctx, string(StatusCoalesced))
					log.Debug().
						Str("session_id", p.sessionID).
						Msg("Previous tick still running, coalescing")
				}
			}
		}
	})

	log.Debug().
		Str("session_id", p.sessionID).
		Dur("interval", p.interval).
		Msg("Poller started")

	err := g.Wait()

	log.Debug().Str("session_id", p.sessionID).Msg("Poller stopped")
	return err
}

// Tick runs one poll cycle synchronously. A tick whose context is cancelled
// while transcribing is abandoned without stepping the machine.
func (p *Poller) Tick(ctx context.Context) Result {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if ctx.Err() != nil {
		return p.finish(ctx, Result{Status: StatusCancelled})
	}

	payload, ok := p.source.FlushPrimary()
	if !ok {
		return p.finish(ctx, Result{Status: StatusSkipped})
	}

	var (
		text   string
		err    error
		speech = true
	)
	if p.gate != nil {
		var gateErr error
		speech, gateErr = p.gate.ContainsSpeech(payload)
		if gateErr != nil {
			log.Warn().
				Err(gateErr).
				Str("session_id", p.sessionID).
				Msg("Speech gate failed, transcribing anyway")
			speech = true
		}
	}
	if speech {
		text, err = p.transcriber.Transcribe(ctx, payload, p.language)
	}

	if ctx.Err() != nil {
		return p.finish(ctx, Result{Status: StatusCancelled})
	}

	outcome := p.adapter.Classify(text, err)
	label := outcome.Kind.String()
	if !speech {
		label = "no_speech"
	}
	p.metrics.RecordTranscript(ctx, label)

	tr := p.machine.Step(outcome)
	if tr.Changed() {
		p.metrics.RecordTransition(ctx, tr.From.String(), tr.To.String())
	}
	if !p.dispatcher.Submit(tr.Actions) {
		log.Warn().
			Str("session_id", p.sessionID).
			Int("actions", len(tr.Actions)).
			Msg("Actions dropped")
	}

	if outcome.Kind == stt.OutcomeText {
		p.journalUtterance(outcome, tr)
	}

	return p.finish(ctx, Result{Status: StatusProcessed, Outcome: outcome, Transition: tr})
}

func (p *Poller) finish(ctx context.Context, r Result) Result {
	p.metrics.RecordTick(context.WithoutCancel(ctx), string(r.Status))
	return r
}

func (p *Poller) journalUtterance(o stt.Outcome, tr command.Transition) {
	if p.journal == nil {
		return
	}

	actions := make([]string, 0, len(tr.Actions))
	for _, a := range tr.Actions {
		actions = append(actions, a.String())
	}

	err := p.journal.AppendUtterance(store.Utterance{
		SessionID:  p.sessionID,
		Timestamp:  p.now(),
		Text:       o.Text,
		ModeBefore: tr.From.String(),
		ModeAfter:  tr.To.String(),
		Actions:    actions,
		TimedOut:   tr.TimedOut,
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", p.sessionID).
			Msg("Failed to journal transcript")
	}
}
