package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog/log"
)

var initOnce sync.Once

type DeepgramTranscriber struct {
	model     string
	punctuate bool
	dg        *api.Client
}

type Option func(*interfaces.ClientOptions)

// WithHost points the client at a different API host.
func WithHost(host string) Option {
	return func(o *interfaces.ClientOptions) { o.Host = host }
}

func NewDeepgramTranscriber(apiKey, model string, opts ...Option) *DeepgramTranscriber {
	initOnce.Do(client.InitWithDefault)

	cOptions := &interfaces.ClientOptions{}
	for _, opt := range opts {
		opt(cOptions)
	}

	return &DeepgramTranscriber{
		model:     model,
		punctuate: true,
		dg:        api.New(client.NewREST(apiKey, cOptions)),
	}
}

func (d *DeepgramTranscriber) options(language string) *interfaces.PreRecordedTranscriptionOptions {
	return &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    language,
		Punctuate:   d.punctuate,
		SmartFormat: true,
	}
}

// Transcribe sends the WAV payload to the pre-recorded endpoint and returns
// the first alternative of the first channel.
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, payload []byte, language string) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}

	log.Debug().
		Str("model", d.model).
		Int("audio_size_bytes", len(payload)).
		Msg("Making Deepgram API request")

	res, err := d.dg.FromStream(ctx, bytes.NewReader(payload), d.options(language))
	if err != nil {
		return "", fmt.Errorf("deepgram request failed: %w", err)
	}

	text, confidence := firstAlternative(res)
	log.Debug().
		Str("transcript", text).
		Float64("confidence", confidence).
		Msg("Received transcription")

	return text, nil
}

func firstAlternative(res *msginterfaces.PreRecordedResponse) (string, float64) {
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
		return "", 0
	}
	alts := res.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return "", 0
	}
	return alts[0].Transcript, alts[0].Confidence
}

func (d *DeepgramTranscriber) Close() error {
	return nil
}
