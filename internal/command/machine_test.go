package command

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/user/discord-voicebot/internal/stt"
)

const testTimeout = 30 * time.Second

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMachine() (*Machine, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewMachine("Hey Bot", testTimeout, WithClock(c.now)), c
}

func text(s string) stt.Outcome {
	return stt.Outcome{Kind: stt.OutcomeText, Text: s, Normalized: strings.ToLower(s)}
}

func TestStepIgnoresEmptyAndError(t *testing.T) {
	m, _ := newTestMachine()
	m.Step(text("garmin"))

	for _, o := range []stt.Outcome{
		{Kind: stt.OutcomeEmpty},
		{Kind: stt.OutcomeError, Err: errors.New("quota")},
	} {
		tr := m.Step(o)
		if tr.Changed() || len(tr.Actions) != 0 {
			t.Fatalf("%v: transition = %+v", o.Kind, tr)
		}
	}
	if m.Mode() != ModeCommandConversation {
		t.Fatalf("mode = %v", m.Mode())
	}
}

func TestStepRules(t *testing.T) {
	tests := []struct {
		name    string
		setup   []string
		input   string
		want    Mode
		actions []Action
	}{
		{
			name:    "trigger from idle",
			input:   "hey bot wie geht's",
			want:    ModeDirectConversation,
			actions: []Action{PlayCue(CueTrigger)},
		},
		{
			name:    "garmin from idle",
			input:   "OK Garmin",
			want:    ModeCommandConversation,
			actions: []Action{PlayCue(CueGarmin)},
		},
		{
			name:  "export in command mode",
			setup: []string{"garmin"},
			input: "kannst du das video speichern jetzt",
			want:  ModeIdle,
			actions: []Action{
				{Kind: ActionExportRollingWindow},
				PlayCue(CueConfirm),
				{Kind: ActionNotifyChannel},
			},
		},
		{
			name:    "song in command mode",
			setup:   []string{"garmin"},
			input:   "spiel ein lied",
			want:    ModeIdle,
			actions: []Action{PlayCue(CueSong)},
		},
		{
			name:  "export ignored when idle",
			input: "video speichern",
			want:  ModeIdle,
		},
		{
			name:  "song ignored when idle",
			input: "ein lied bitte",
			want:  ModeIdle,
		},
		{
			name:    "garmin beats export keyword",
			setup:   []string{"garmin"},
			input:   "garmin video speichern",
			want:    ModeCommandConversation,
			actions: []Action{PlayCue(CueGarmin)},
		},
		{
			name:    "trigger beats garmin",
			input:   "hey bot garmin",
			want:    ModeDirectConversation,
			actions: []Action{PlayCue(CueTrigger)},
		},
		{
			name:    "direct forwards everything",
			setup:   []string{"hey bot"},
			input:   "Garmin, Video speichern",
			want:    ModeDirectConversation,
			actions: []Action{ForwardToAgent("Garmin, Video speichern")},
		},
		{
			name:  "unmatched in command mode",
			setup: []string{"garmin"},
			input: "was ist das",
			want:  ModeCommandConversation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMachine()
			for _, s := range tt.setup {
				m.Step(text(s))
			}

			tr := m.Step(text(tt.input))
			if tr.To != tt.want || m.Mode() != tt.want {
				t.Fatalf("mode = %v (transition to %v), want %v", m.Mode(), tr.To, tt.want)
			}
			if !reflect.DeepEqual(tr.Actions, tt.actions) {
				t.Fatalf("actions = %v, want %v", tr.Actions, tt.actions)
			}
		})
	}
}

func TestStepRefreshesInteraction(t *testing.T) {
	m, c := newTestMachine()
	if !m.LastInteraction().IsZero() {
		t.Fatal("expected no interaction yet")
	}

	m.Step(text("garmin"))
	first := m.LastInteraction()
	if !first.Equal(c.now()) {
		t.Fatalf("last interaction = %v", first)
	}

	c.advance(10 * time.Second)
	m.Step(text("lied"))
	if !m.LastInteraction().Equal(c.now()) {
		t.Fatal("song command should refresh the interaction time")
	}
}

func TestTimeoutInCommandMode(t *testing.T) {
	m, c := newTestMachine()
	m.Step(text("garmin"))

	c.advance(testTimeout + time.Second)
	tr := m.Step(text("nichts erkanntes"))

	if !tr.TimedOut || tr.To != ModeIdle || tr.From != ModeCommandConversation {
		t.Fatalf("transition = %+v", tr)
	}
	if len(tr.Actions) != 0 {
		t.Fatalf("actions = %v, want none", tr.Actions)
	}
}

func TestNoTimeoutAtBoundary(t *testing.T) {
	m, c := newTestMachine()
	m.Step(text("garmin"))

	c.advance(testTimeout)
	tr := m.Step(text("hmm"))
	if tr.TimedOut || m.Mode() != ModeCommandConversation {
		t.Fatalf("timed out at exactly the timeout: %+v", tr)
	}
}

func TestTriggerThenTimeout(t *testing.T) {
	m, c := newTestMachine()
	m.Step(text("Hey Bot hallo"))
	t0 := m.LastInteraction()

	c.advance(10 * time.Second)
	tr := m.Step(text("erzähl mir was"))
	if tr.TimedOut || m.Mode() != ModeDirectConversation {
		t.Fatalf("early forward: %+v", tr)
	}
	if !m.LastInteraction().Equal(t0) {
		t.Fatal("forwarding must not refresh the interaction time")
	}

	c.advance(testTimeout)
	tr = m.Step(text("und noch etwas"))
	if !reflect.DeepEqual(tr.Actions, []Action{ForwardToAgent("und noch etwas")}) {
		t.Fatalf("actions = %v", tr.Actions)
	}
	if !tr.TimedOut || m.Mode() != ModeIdle {
		t.Fatalf("expected downgrade to idle after forward, got %+v", tr)
	}
}

func TestTimeoutWhenIdleIsSilent(t *testing.T) {
	m, c := newTestMachine()
	m.Step(text("garmin"))
	m.Step(text("lied"))

	c.advance(time.Hour)
	tr := m.Step(text("hallo"))
	if tr.TimedOut || tr.Changed() {
		t.Fatalf("idle machine reported timeout: %+v", tr)
	}
}

func TestEmptyTriggerNeverMatches(t *testing.T) {
	c := &clock{t: time.Now()}
	m := NewMachine("  ", testTimeout, WithClock(c.now))

	if tr := m.Step(text("irgendwas")); tr.To != ModeIdle {
		t.Fatalf("blank trigger matched: %+v", tr)
	}
}
