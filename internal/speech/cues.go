package speech

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/user/discord-voicebot/internal/audio"
	"github.com/user/discord-voicebot/internal/command"
)

// CatalogFile is the on-disk shape of a cue catalog:
//
//	cues:
//	  trigger: source/dup.mp3
//	  confirm: /opt/sounds/ok.mp3
type CatalogFile struct {
	Cues map[command.CueID]string `yaml:"cues"`
}

func defaultCues() map[command.CueID]string {
	return map[command.CueID]string{
		command.CueTrigger: "source/dup.mp3",
		command.CueGarmin:  "source/dup.mp3",
		command.CueConfirm: "source/dupdup.mp3",
		command.CueSong:    "source/ssong.mp3",
	}
}

func knownCue(id command.CueID) bool {
	switch id {
	case command.CueTrigger, command.CueGarmin, command.CueConfirm, command.CueSong:
		return true
	}
	return false
}

// ParseCatalog overlays the entries of a YAML catalog on the defaults.
func ParseCatalog(data []byte) (map[command.CueID]string, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse cue catalog: %w", err)
	}

	cues := defaultCues()
	for id, path := range file.Cues {
		if !knownCue(id) {
			return nil, fmt.Errorf("unknown cue %q", id)
		}
		if path == "" {
			return nil, fmt.Errorf("cue %q has an empty path", id)
		}
		cues[id] = path
	}
	return cues, nil
}

// CueLibrary maps cue IDs to MP3 files and caches their decoded PCM. It is
// shared by all sessions.
type CueLibrary struct {
	paths  map[command.CueID]string
	format audio.Format

	mutex sync.Mutex
	cache map[command.CueID][]byte
}

// LoadCueLibrary reads the catalog at path, or uses the defaults when path is
// empty.
func LoadCueLibrary(path string, format audio.Format) (*CueLibrary, error) {
	paths := defaultCues()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read cue catalog: %w", err)
		}
		if paths, err = ParseCatalog(data); err != nil {
			return nil, err
		}
	}

	for id, p := range paths {
		if _, err := os.Stat(p); err != nil {
			log.Warn().Str("cue", string(id)).Str("file", p).Msg("Cue file not found")
		}
	}

	return NewCueLibrary(paths, format), nil
}

func NewCueLibrary(paths map[command.CueID]string, format audio.Format) *CueLibrary {
	return &CueLibrary{
		paths:  paths,
		format: format,
		cache:  make(map[command.CueID][]byte),
	}
}

// PCM returns the decoded cue in the library's format.
func (l *CueLibrary) PCM(id command.CueID) ([]byte, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if pcm, ok := l.cache[id]; ok {
		return pcm, nil
	}

	path, ok := l.paths[id]
	if !ok {
		return nil, fmt.Errorf("no file for cue %q", id)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cue %q: %w", id, err)
	}
	defer f.Close()

	pcm, err := DecodeMP3(f, l.format)
	if err != nil {
		return nil, fmt.Errorf("decode cue %q: %w", id, err)
	}

	l.cache[id] = pcm
	return pcm, nil
}
