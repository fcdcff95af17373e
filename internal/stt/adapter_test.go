package stt

import (
	"errors"
	"testing"
)

func TestClassifyText(t *testing.T) {
	a := NewAdapter()
	o := a.Classify("  Hallo GARMIN  ", nil)

	if o.Kind != OutcomeText {
		t.Fatalf("kind = %v", o.Kind)
	}
	if o.Text != "Hallo GARMIN" || o.Normalized != "hallo garmin" {
		t.Fatalf("text=%q normalized=%q", o.Text, o.Normalized)
	}
}

func TestClassifyEmptyDebounce(t *testing.T) {
	a := NewAdapter()
	signals := 0
	a.OnNoSpeech = func() { signals++ }

	for i := 0; i < 5; i++ {
		if o := a.Classify("", nil); o.Kind != OutcomeEmpty {
			t.Fatalf("kind = %v", o.Kind)
		}
	}
	if signals != 1 {
		t.Fatalf("signals = %d, want 1 for one streak", signals)
	}

	a.Classify("hallo", nil)
	if a.noSpeech {
		t.Fatal("text should clear the debounce flag")
	}

	a.Classify("   ", nil)
	if signals != 2 {
		t.Fatalf("signals = %d, want 2 after a new streak", signals)
	}
}

func TestClassifyErrorLeavesDebounce(t *testing.T) {
	a := NewAdapter()
	signals := 0
	a.OnNoSpeech = func() { signals++ }

	a.Classify("", nil)
	o := a.Classify("ignored", errors.New("boom"))
	if o.Kind != OutcomeError || o.Err == nil {
		t.Fatalf("outcome = %+v", o)
	}
	if !a.noSpeech {
		t.Fatal("error must not reset the debounce flag")
	}

	a.Classify("", nil)
	if signals != 1 {
		t.Fatalf("signals = %d, want 1", signals)
	}
}
