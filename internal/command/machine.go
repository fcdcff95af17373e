package command

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebot/internal/logging"
	"github.com/user/discord-voicebot/internal/stt"
)

const (
	KeywordGarmin = "garmin"
	KeywordExport = "video speichern"
	KeywordSong   = "lied"
)

// Transition describes the effect of one Step. Actions run in order.
type Transition struct {
	From     Mode
	To       Mode
	Actions  []Action
	TimedOut bool
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

// Machine maps transcripts to conversation modes and actions. One Machine
// belongs to one session and is stepped from a single goroutine.
type Machine struct {
	trigger string
	timeout time.Duration
	now     func() time.Time

	mode            Mode
	lastInteraction time.Time
	sessionID       string
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithSessionID tags log lines.
func WithSessionID(id string) Option {
	return func(m *Machine) { m.sessionID = id }
}

func NewMachine(trigger string, timeout time.Duration, opts ...Option) *Machine {
	m := &Machine{
		trigger: strings.ToLower(strings.TrimSpace(trigger)),
		timeout: timeout,
		now:     time.Now,
		mode:    ModeIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Mode() Mode {
	return m.mode
}

// LastInteraction is zero until the first matched command.
func (m *Machine) LastInteraction() time.Time {
	return m.lastInteraction
}

// Step applies one classified transcript. Rules are tried in priority order
// and the first match wins. Forwarding in direct mode does not refresh the
// interaction time, so a direct conversation expires a fixed time after its
// trigger.
func (m *Machine) Step(o stt.Outcome) Transition {
	tr := Transition{From: m.mode, To: m.mode}

	switch o.Kind {
	case stt.OutcomeEmpty:
		return tr
	case stt.OutcomeError:
		log.Error().
			Err(o.Err).
			Int("code", logging.CodeTranscription).
			Str("session_id", m.sessionID).
			Msg("Transcription failed")
		return tr
	}

	text := o.Normalized
	if text == "" {
		text = strings.ToLower(o.Text)
	}
	now := m.now()

	switch {
	case m.mode == ModeDirectConversation:
		tr.Actions = []Action{ForwardToAgent(o.Text)}

	case m.trigger != "" && strings.Contains(text, m.trigger):
		log.Info().
			Int("code", logging.CodeTrigger).
			Str("session_id", m.sessionID).
			Str("text", o.Text).
			Msg("Trigger phrase detected")
		m.enter(ModeDirectConversation, now)
		tr.Actions = []Action{PlayCue(CueTrigger)}

	case strings.Contains(text, KeywordGarmin):
		log.Info().
			Int("code", logging.CodeGarmin).
			Str("session_id", m.sessionID).
			Msg("Command conversation started")
		m.enter(ModeCommandConversation, now)
		tr.Actions = []Action{PlayCue(CueGarmin)}

	case m.mode == ModeCommandConversation && strings.Contains(text, KeywordExport):
		log.Info().
			Int("code", logging.CodeExportCommand).
			Str("session_id", m.sessionID).
			Msg("Export command recognized")
		m.enter(ModeIdle, now)
		tr.Actions = []Action{
			{Kind: ActionExportRollingWindow},
			PlayCue(CueConfirm),
			{Kind: ActionNotifyChannel},
		}

	case m.mode == ModeCommandConversation && strings.Contains(text, KeywordSong):
		log.Info().
			Int("code", logging.CodeSong).
			Str("session_id", m.sessionID).
			Msg("Song command recognized")
		m.enter(ModeIdle, now)
		tr.Actions = []Action{PlayCue(CueSong)}

	default:
		log.Info().
			Int("code", logging.CodePending).
			Str("session_id", m.sessionID).
			Str("mode", m.mode.String()).
			Str("text", o.Text).
			Msg("Waiting for command")
	}

	// Only forwarding and unmatched text leave the timestamp stale.
	if tr.Actions == nil || tr.Actions[0].Kind == ActionForwardToAgent {
		tr.TimedOut = m.expire(now)
	}

	tr.To = m.mode
	return tr
}

func (m *Machine) enter(mode Mode, now time.Time) {
	m.mode = mode
	m.lastInteraction = now
}

func (m *Machine) expire(now time.Time) bool {
	if m.lastInteraction.IsZero() || now.Sub(m.lastInteraction) <= m.timeout {
		return false
	}

	if m.mode == ModeIdle {
		return false
	}

	log.Info().
		Int("code", logging.CodeTimeout).
		Str("session_id", m.sessionID).
		Str("mode", m.mode.String()).
		Dur("idle_for", now.Sub(m.lastInteraction)).
		Msg("Conversation timed out")
	m.mode = ModeIdle
	return true
}
