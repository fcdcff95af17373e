package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/user/discord-voicebot/internal/audio"
	"github.com/user/discord-voicebot/internal/dispatch"
	"github.com/user/discord-voicebot/internal/store"
)

func TestFindUserChannel(t *testing.T) {
	guild := &discordgo.Guild{
		VoiceStates: []*discordgo.VoiceState{
			{UserID: "other", ChannelID: "c1"},
			{UserID: "target", ChannelID: "c2"},
		},
	}

	if got := findUserChannel(guild, "target"); got != "c2" {
		t.Fatalf("channel = %q, want c2", got)
	}
	if got := findUserChannel(guild, "absent"); got != "" {
		t.Fatalf("channel = %q, want none", got)
	}
}

func TestCheckTextChannel(t *testing.T) {
	tests := []struct {
		name    string
		channel *discordgo.Channel
		err     error
		wantErr bool
	}{
		{"text channel", &discordgo.Channel{ID: "1", Type: discordgo.ChannelTypeGuildText}, nil, false},
		{"voice channel", &discordgo.Channel{ID: "1", Type: discordgo.ChannelTypeGuildVoice}, nil, true},
		{"lookup failed", nil, errors.New("404"), true},
		{"missing", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTextChannel(tt.channel, tt.err)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, dispatch.ErrChannelUnavailable) {
				t.Fatalf("err = %v, want ErrChannelUnavailable", err)
			}
		})
	}
}

func TestWindowExporter(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	capture := audio.NewCapture(audio.DiscordFormat, audio.WindowCapacity(1, audio.DiscordFormat))
	capture.Ingest(audio.Chunk{PCM: make([]byte, 3840)})

	at := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)
	e := &windowExporter{capture: capture, store: fs, now: func() time.Time { return at }}

	path, err := e.ExportRollingWindow(context.Background())
	if err != nil {
		t.Fatalf("ExportRollingWindow: %v", err)
	}
	if filepath.Base(path) != "audio_20240501-123045.wav" {
		t.Fatalf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	format, pcm, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if format != audio.DiscordFormat || len(pcm) != 3840 {
		t.Fatalf("format = %+v, pcm = %d bytes", format, len(pcm))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.ExportRollingWindow(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSummarizeTranscript(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	count, mode, err := summarizeTranscript(fs, "silent")
	if err != nil || count != 0 || mode != "" {
		t.Fatalf("no journal: count=%d mode=%q err=%v", count, mode, err)
	}

	for _, after := range []string{"command", "idle"} {
		if err := fs.AppendUtterance(store.Utterance{SessionID: "s1", Text: "garmin", ModeAfter: after}); err != nil {
			t.Fatalf("AppendUtterance: %v", err)
		}
	}

	count, mode, err = summarizeTranscript(fs, "s1")
	if err != nil {
		t.Fatalf("summarizeTranscript: %v", err)
	}
	if count != 2 || mode != "idle" {
		t.Fatalf("count=%d mode=%q, want 2/idle", count, mode)
	}
}
