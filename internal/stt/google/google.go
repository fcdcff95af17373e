package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebot/internal/audio"
	"google.golang.org/api/option"
)

// Transcriber uses synchronous Recognize, which accepts up to one minute of
// audio per request. Flushed payloads are a single poll interval long.
type Transcriber struct {
	client *speech.Client
}

func NewTranscriber(ctx context.Context, credentialsFile string) (*Transcriber, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	log.Info().Msg("Google Speech client initialized")
	return &Transcriber{client: client}, nil
}

func (t *Transcriber) Transcribe(ctx context.Context, payload []byte, language string) (string, error) {
	req, err := recognizeRequest(payload, language)
	if err != nil {
		return "", err
	}
	if req == nil {
		return "", nil
	}

	resp, err := t.client.Recognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	return joinResults(resp), nil
}

func (t *Transcriber) Close() error {
	return t.client.Close()
}

// recognizeRequest strips the WAV header and describes the raw PCM. A nil
// request means there is no audio to send.
func recognizeRequest(payload []byte, language string) (*speechpb.RecognizeRequest, error) {
	format, pcm, err := audio.DecodeWAV(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if format.BytesPerSample != 2 {
		return nil, fmt.Errorf("unsupported sample width %d", format.BytesPerSample)
	}
	if len(pcm) == 0 {
		return nil, nil
	}

	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(format.SampleRate),
			AudioChannelCount:          int32(format.Channels),
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	}, nil
}

func joinResults(resp *speechpb.RecognizeResponse) string {
	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
