package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/user/discord-voicebot/internal/audio"
	"github.com/user/discord-voicebot/internal/command"
	"github.com/user/discord-voicebot/internal/observe"
	"github.com/user/discord-voicebot/internal/store"
	"github.com/user/discord-voicebot/internal/stt"
)

type fakeTranscriber struct {
	texts []string
	err   error
	hook  func()

	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, payload []byte, language string) (string, error) {
	n := f.calls.Add(1)
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.texts) == 0 {
		return "", nil
	}
	return f.texts[int(n-1)%len(f.texts)], nil
}

func (f *fakeTranscriber) Close() error { return nil }

type fakeSubmitter struct {
	mutex sync.Mutex
	plans [][]command.Action
}

func (s *fakeSubmitter) Submit(actions []command.Action) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(actions) > 0 {
		s.plans = append(s.plans, actions)
	}
	return true
}

type fakeJournal struct {
	mutex   sync.Mutex
	entries []store.Utterance
}

func (j *fakeJournal) AppendUtterance(u store.Utterance) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.entries = append(j.entries, u)
	return nil
}

func (j *fakeJournal) texts() []string {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	out := make([]string, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Text)
	}
	return out
}

type gate struct {
	speech bool
	err    error
}

func (g gate) ContainsSpeech(payload []byte) (bool, error) { return g.speech, g.err }

type harness struct {
	capture     *audio.Capture
	transcriber *fakeTranscriber
	machine     *command.Machine
	submitter   *fakeSubmitter
	journal     *fakeJournal
	poller      *Poller
}

func newHarness(t *testing.T, tr *fakeTranscriber, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		capture:     audio.NewCapture(audio.DiscordFormat, audio.WindowCapacity(1, audio.DiscordFormat)),
		transcriber: tr,
		machine:     command.NewMachine("hey bot", 30*time.Second),
		submitter:   &fakeSubmitter{},
		journal:     &fakeJournal{},
	}
	opts = append([]Option{WithJournal(h.journal), WithSessionID("test")}, opts...)
	h.poller = New(10*time.Millisecond, "de-DE", h.capture, tr, stt.NewAdapter(), h.machine, h.submitter, opts...)
	return h
}

func (h *harness) feed() {
	h.capture.Ingest(audio.Chunk{PCM: make([]byte, 3840)})
}

func TestTickSkipsEmptyBuffer(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{texts: []string{"garmin"}})

	if r := h.poller.Tick(context.Background()); r.Status != StatusSkipped {
		t.Fatalf("status = %v", r.Status)
	}
	if h.transcriber.calls.Load() != 0 {
		t.Fatal("transcriber called for empty buffer")
	}
}

func TestTickProcessesTranscript(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{texts: []string{"OK Garmin"}})
	h.feed()

	r := h.poller.Tick(context.Background())
	if r.Status != StatusProcessed || r.Outcome.Kind != stt.OutcomeText {
		t.Fatalf("result = %+v", r)
	}
	if h.machine.Mode() != command.ModeCommandConversation {
		t.Fatalf("mode = %v", h.machine.Mode())
	}
	if len(h.submitter.plans) != 1 || h.submitter.plans[0][0].Cue != command.CueGarmin {
		t.Fatalf("plans = %v", h.submitter.plans)
	}
	if h.capture.PendingBytes() != 0 {
		t.Fatal("primary buffer not flushed")
	}

	if len(h.journal.entries) != 1 {
		t.Fatalf("journal entries = %d", len(h.journal.entries))
	}
	e := h.journal.entries[0]
	if e.Text != "OK Garmin" || e.ModeBefore != "idle" || e.ModeAfter != "command" || e.SessionID != "test" {
		t.Fatalf("journal entry = %+v", e)
	}
}

func TestTickTranscriptionError(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{err: errors.New("unavailable")})
	h.feed()

	r := h.poller.Tick(context.Background())
	if r.Outcome.Kind != stt.OutcomeError || r.Transition.Changed() {
		t.Fatalf("result = %+v", r)
	}
	if len(h.submitter.plans) != 0 || len(h.journal.entries) != 0 {
		t.Fatal("error outcome must not dispatch or journal")
	}
}

func TestTickSpeechGate(t *testing.T) {
	tests := []struct {
		name      string
		gate      gate
		wantCalls int32
		wantKind  stt.OutcomeKind
	}{
		{"no speech skips transcriber", gate{speech: false}, 0, stt.OutcomeEmpty},
		{"speech transcribes", gate{speech: true}, 1, stt.OutcomeText},
		{"gate error transcribes", gate{err: errors.New("bad frame")}, 1, stt.OutcomeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeTranscriber{texts: []string{"hallo"}}, WithSpeechGate(tt.gate))
			h.feed()

			r := h.poller.Tick(context.Background())
			if got := h.transcriber.calls.Load(); got != tt.wantCalls {
				t.Fatalf("transcriber calls = %d, want %d", got, tt.wantCalls)
			}
			if r.Outcome.Kind != tt.wantKind {
				t.Fatalf("outcome = %v, want %v", r.Outcome.Kind, tt.wantKind)
			}
		})
	}
}

func TestTickAbandonedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, &fakeTranscriber{texts: []string{"garmin"}, hook: cancel})
	h.feed()

	if r := h.poller.Tick(ctx); r.Status != StatusCancelled {
		t.Fatalf("status = %v", r.Status)
	}
	if h.machine.Mode() != command.ModeIdle {
		t.Fatal("cancelled tick must not step the machine")
	}
	if len(h.submitter.plans) != 0 {
		t.Fatal("cancelled tick must not dispatch")
	}

	if r := h.poller.Tick(ctx); r.Status != StatusCancelled {
		t.Fatalf("tick after cancel = %v", r.Status)
	}
}

func TestRunNeverOverlapsTicks(t *testing.T) {
	tr := &fakeTranscriber{
		texts: []string{"hallo"},
		hook:  func() { time.Sleep(25 * time.Millisecond) },
	}
	h := newHarness(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	stop := time.After(200 * time.Millisecond)
feed:
	for {
		select {
		case <-stop:
			break feed
		case <-time.After(2 * time.Millisecond):
			h.feed()
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if tr.calls.Load() == 0 {
		t.Fatal("no ticks processed")
	}
	if peak := tr.maxSeen.Load(); peak != 1 {
		t.Fatalf("max concurrent transcriptions = %d, want 1", peak)
	}
}

// blockingTranscriber holds its first call until release is closed and
// names each payload by its PCM size.
type blockingTranscriber struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, payload []byte, language string) (string, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
		select {
		case <-b.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	switch len(payload) - 44 {
	case 3840:
		return "OK Garmin", nil
	case 7680:
		return "ein Lied bitte", nil
	}
	return "", nil
}

func (b *blockingTranscriber) Close() error { return nil }

func tickCount(t *testing.T, reader *sdkmetric.ManualReader, status Status) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voicebot.poll.ticks" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("status")); ok && v.AsString() == string(status) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRunCoalescesTicksWhileBusy(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	tr := &blockingTranscriber{started: make(chan struct{}), release: make(chan struct{})}
	capture := audio.NewCapture(audio.DiscordFormat, audio.WindowCapacity(1, audio.DiscordFormat))
	machine := command.NewMachine("hey bot", 30*time.Second)
	submitter := &fakeSubmitter{}
	journal := &fakeJournal{}

	p := New(10*time.Millisecond, "de-DE", capture, tr, stt.NewAdapter(), machine, submitter,
		WithJournal(journal), WithMetrics(metrics), WithSessionID("test"))

	capture.Ingest(audio.Chunk{PCM: make([]byte, 3840)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick never started")
	}

	// Let many intervals pass while the first transcription is stuck.
	time.Sleep(100 * time.Millisecond)
	capture.Ingest(audio.Chunk{PCM: make([]byte, 7680)})
	close(tr.release)

	deadline := time.After(2 * time.Second)
	for len(journal.texts()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("journal = %v, want two entries", journal.texts())
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if got := tr.calls.Load(); got != 2 {
		t.Fatalf("transcriber calls = %d, want 2", got)
	}
	if got := tickCount(t, reader, StatusProcessed); got != 2 {
		t.Fatalf("processed ticks = %d, want 2", got)
	}
	if got := tickCount(t, reader, StatusCoalesced); got < 1 {
		t.Fatalf("coalesced ticks = %d, want at least 1", got)
	}

	texts := journal.texts()
	if texts[0] != "OK Garmin" || texts[1] != "ein Lied bitte" {
		t.Fatalf("journal order = %v", texts)
	}

	submitter.mutex.Lock()
	defer submitter.mutex.Unlock()
	if len(submitter.plans) != 2 ||
		submitter.plans[0][0].Cue != command.CueGarmin ||
		submitter.plans[1][0].Cue != command.CueSong {
		t.Fatalf("plans = %v", submitter.plans)
	}
}
