package google

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/user/discord-voicebot/internal/audio"
)

func TestRecognizeRequest(t *testing.T) {
	pcm := make([]byte, 3840)
	req, err := recognizeRequest(audio.EncodeWAV(pcm, audio.DiscordFormat), "de-DE")
	if err != nil {
		t.Fatalf("recognizeRequest: %v", err)
	}

	cfg := req.GetConfig()
	if cfg.GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Fatalf("encoding = %v", cfg.GetEncoding())
	}
	if cfg.GetSampleRateHertz() != 48000 || cfg.GetAudioChannelCount() != 2 {
		t.Fatalf("rate=%d channels=%d", cfg.GetSampleRateHertz(), cfg.GetAudioChannelCount())
	}
	if cfg.GetLanguageCode() != "de-DE" {
		t.Fatalf("language = %q", cfg.GetLanguageCode())
	}
	if got := len(req.GetAudio().GetContent()); got != len(pcm) {
		t.Fatalf("content len = %d, want raw pcm %d", got, len(pcm))
	}
}

func TestRecognizeRequestEmpty(t *testing.T) {
	req, err := recognizeRequest(audio.EncodeWAV(nil, audio.DiscordFormat), "de-DE")
	if err != nil || req != nil {
		t.Fatalf("got %v, %v", req, err)
	}

	if _, err := recognizeRequest([]byte("garbage"), "de-DE"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestJoinResults(t *testing.T) {
	resp := &speechpb.RecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "Garmin "}}},
			{},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "Video speichern"}, {Transcript: "wieder"}}},
		},
	}
	if got := joinResults(resp); got != "Garmin Video speichern" {
		t.Fatalf("joined = %q", got)
	}
	if got := joinResults(&speechpb.RecognizeResponse{}); got != "" {
		t.Fatalf("empty response = %q", got)
	}
}
