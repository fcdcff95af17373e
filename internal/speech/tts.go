package speech

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

type GoogleTTS struct {
	client *texttospeech.Client
}

func NewGoogleTTS(ctx context.Context, credentialsFile string) (*GoogleTTS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	log.Info().Msg("Google Text-to-Speech client initialized")
	return &GoogleTTS{client: client}, nil
}

func (g *GoogleTTS) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	resp, err := g.client.SynthesizeSpeech(ctx, synthesisRequest(text, language))
	if err != nil {
		return nil, fmt.Errorf("text-to-speech: %w", err)
	}
	return resp.GetAudioContent(), nil
}

func synthesisRequest(text, language string) *texttospeechpb.SynthesizeSpeechRequest {
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  1.0,
		},
	}
}

func (g *GoogleTTS) Close() error {
	return g.client.Close()
}
