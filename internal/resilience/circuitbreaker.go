package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrAbandoned marks a call that was given up by its caller. It counts as
// neither success nor failure, and a half-open probe slot is released.
var ErrAbandoned = errors.New("call abandoned")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	Name string

	// Consecutive failures before opening. Default 5.
	MaxFailures int

	// Time spent open before a probe is allowed. Default 30s.
	ResetTimeout time.Duration

	// Successful probes needed to close again. Default 1.
	HalfOpenMax int
}

// Breaker is a closed/open/half-open circuit breaker around a backend call.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mutex         sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probes        int
	probeSuccess  int
	onStateChange func(from, to State)
}

func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          time.Now,
		state:        StateClosed,
	}
}

// WithClock replaces the time source. Used by tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// OnStateChange registers a callback invoked with the lock held.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.onStateChange = fn
}

// Execute runs fn unless the breaker is open. Errors from fn are returned
// unchanged and count as failures, except ErrAbandoned.
func (b *Breaker) Execute(fn func() error) error {
	b.mutex.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mutex.Unlock()
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probes = 0
		b.probeSuccess = 0
	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			b.mutex.Unlock()
			return ErrCircuitOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mutex.Unlock()

	err := fn()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch {
	case errors.Is(err, ErrAbandoned):
		if probing && b.state == StateHalfOpen {
			b.probes--
		}
	case err != nil:
		b.recordFailure(probing)
	default:
		b.recordSuccess(probing)
	}
	return err
}

func (b *Breaker) recordFailure(probing bool) {
	if probing {
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.maxFailures && b.state == StateClosed {
		b.open()
	}
}

func (b *Breaker) recordSuccess(probing bool) {
	if !probing {
		b.failures = 0
		return
	}

	// A failed probe may already have reopened the breaker.
	if b.state != StateHalfOpen {
		return
	}
	b.probeSuccess++
	if b.probeSuccess >= b.halfOpenMax {
		b.failures = 0
		b.transition(StateClosed)
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	ev := log.Info()
	if to == StateOpen {
		ev = log.Warn().Int("failures", b.failures)
	}
	ev.Str("breaker", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

// State reports the current state. An open breaker whose reset timeout has
// elapsed reports half-open; the transition itself happens on Execute.
func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) Reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.failures = 0
	b.probes = 0
	b.probeSuccess = 0
	b.transition(StateClosed)
}
