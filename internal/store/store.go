package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/user/discord-voicebot/internal/logging"
)

const recordingLayout = "20060102-150405"

// Utterance is one journaled transcript together with the mode change it
// caused.
type Utterance struct {
	ID         uuid.UUID `json:"id"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"ts"`
	Text       string    `json:"text"`
	ModeBefore string    `json:"mode_before"`
	ModeAfter  string    `json:"mode_after"`
	Actions    []string  `json:"actions,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
}

type FileStore struct {
	baseDir string

	mutex sync.Mutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if _, err := os.Stat(baseDir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create saves directory: %w", err)
		}
		log.Info().
			Int("code", logging.CodeDirCreated).
			Str("dir", baseDir).
			Msg("Created saves directory")
	}

	if err := os.MkdirAll(filepath.Join(baseDir, "transcripts"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	return &FileStore{
		baseDir: baseDir,
	}, nil
}

// RecordingPath returns the file name a recording taken at t is saved under.
func (s *FileStore) RecordingPath(t time.Time) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("audio_%s.wav", t.Format(recordingLayout)))
}

// SaveRecording writes a WAV payload. Two saves within the same second
// overwrite each other, matching the one-second filename resolution.
func (s *FileStore) SaveRecording(wav []byte, at time.Time) (string, error) {
	path := s.RecordingPath(at)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, wav, 0644); err != nil {
		return "", fmt.Errorf("failed to write recording: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize recording: %w", err)
	}

	log.Debug().
		Str("file", path).
		Int("size", len(wav)).
		Msg("Saved recording")

	return path, nil
}

func (s *FileStore) transcriptPath(sessionID string) string {
	return filepath.Join(s.baseDir, "transcripts", fmt.Sprintf("%s.jsonl", sessionID))
}

// AppendUtterance adds one line to the session's transcript journal.
func (s *FileStore) AppendUtterance(u Utterance) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	file, err := os.OpenFile(s.transcriptPath(u.SessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(u); err != nil {
		return fmt.Errorf("failed to encode utterance: %w", err)
	}
	return nil
}

func (s *FileStore) LoadTranscript(sessionID string) ([]Utterance, error) {
	file, err := os.Open(s.transcriptPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var utterances []Utterance
	decoder := json.NewDecoder(file)

	for decoder.More() {
		var u Utterance
		if err := decoder.Decode(&u); err != nil {
			return nil, fmt.Errorf("failed to decode utterance: %w", err)
		}
		utterances = append(utterances, u)
	}

	return utterances, nil
}
