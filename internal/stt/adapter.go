package stt

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebot/internal/logging"
)

type OutcomeKind int

const (
	OutcomeText OutcomeKind = iota
	OutcomeEmpty
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeText:
		return "text"
	case OutcomeEmpty:
		return "empty"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is a classified transcription result. Normalized is the lowercased
// text used for phrase matching; Text keeps the original casing.
type Outcome struct {
	Kind       OutcomeKind
	Text       string
	Normalized string
	Err        error
}

// Adapter classifies transcriber results for one session and debounces
// consecutive empty results so that "no speech" is reported once per streak.
// It is not safe for concurrent use; the poller owns it.
type Adapter struct {
	noSpeech bool

	// OnNoSpeech runs on the first empty result of a streak.
	OnNoSpeech func()
}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Classify(text string, err error) Outcome {
	if err != nil {
		return Outcome{Kind: OutcomeError, Err: err}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		if !a.noSpeech {
			a.noSpeech = true
			log.Warn().Int("code", logging.CodeTranscription).Msg("No speech recognized")
			if a.OnNoSpeech != nil {
				a.OnNoSpeech()
			}
		}
		return Outcome{Kind: OutcomeEmpty}
	}

	a.noSpeech = false
	return Outcome{
		Kind:       OutcomeText,
		Text:       trimmed,
		Normalized: strings.ToLower(trimmed),
	}
}
