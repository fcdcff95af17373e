package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebot/internal/audio"
)

// VoskTranscriber runs offline recognition. The model is fixed to one
// language, so the language argument is ignored. Calls are serialized because
// a recognizer is stateful.
type VoskTranscriber struct {
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	sampleRate int

	mutex sync.Mutex
}

type VoskResult struct {
	Text string `json:"text"`
}

func NewVoskTranscriber(modelPath string, sampleRate int) (*VoskTranscriber, error) {
	log.Info().Str("model_path", modelPath).Msg("Loading Vosk model")

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load Vosk model from %s: %w", modelPath, err)
	}

	recognizer, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("failed to create Vosk recognizer: %w", err)
	}

	log.Info().Msg("Vosk model loaded successfully")

	return &VoskTranscriber{
		model:      model,
		recognizer: recognizer,
		sampleRate: sampleRate,
	}, nil
}

func (v *VoskTranscriber) Transcribe(ctx context.Context, payload []byte, _ string) (string, error) {
	format, pcm, err := audio.DecodeWAV(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}
	if format.SampleRate != v.sampleRate {
		return "", fmt.Errorf("payload sample rate %d does not match recognizer rate %d", format.SampleRate, v.sampleRate)
	}
	if format.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if len(pcm) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.recognizer.AcceptWaveform(pcm) == -1 {
		v.recognizer.Reset()
		return "", fmt.Errorf("failed to process audio payload")
	}

	// Each payload is an independent utterance.
	jsonResult := v.recognizer.FinalResult()

	var result VoskResult
	if err := json.Unmarshal([]byte(jsonResult), &result); err != nil {
		return "", fmt.Errorf("failed to parse Vosk result %q: %w", jsonResult, err)
	}

	log.Debug().Str("text", result.Text).Msg("Vosk transcription completed")

	return result.Text, nil
}

func (v *VoskTranscriber) Close() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.recognizer != nil {
		v.recognizer.Free()
		v.recognizer = nil
	}
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
	return nil
}
