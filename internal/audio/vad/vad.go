package vad

import (
	"fmt"
	"math"
	"sync"

	"github.com/maxhawkins/go-webrtcvad"
	"github.com/user/discord-voicebot/internal/audio"
)

const frameDuration = 20 // ms

// Detector decides whether a WAV payload contains any speech. It runs the
// WebRTC VAD over 20 ms mono frames and falls back to an RMS threshold for
// frames the VAD rejects.
type Detector struct {
	vad          *webrtcvad.VAD
	rmsThreshold float64
	minFrames    int

	mutex sync.Mutex
}

type Option func(*Detector)

// WithMinSpeechFrames sets how many voiced frames a payload needs.
func WithMinSpeechFrames(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minFrames = n
		}
	}
}

func WithRMSThreshold(threshold float64) Option {
	return func(d *Detector) {
		d.rmsThreshold = threshold
	}
}

func New(mode int, opts ...Option) (*Detector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create vad: %w", err)
	}

	// 0-3, 3 is most aggressive
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set vad mode %d: %w", mode, err)
	}

	d := &Detector{
		vad:          v,
		rmsThreshold: 500.0,
		minFrames:    3,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ContainsSpeech reports whether at least the configured number of frames in
// the payload are voiced.
func (d *Detector) ContainsSpeech(payload []byte) (bool, error) {
	format, pcm, err := audio.DecodeWAV(payload)
	if err != nil {
		return false, fmt.Errorf("failed to decode payload: %w", err)
	}
	if format.BytesPerSample != 2 {
		return false, fmt.Errorf("unsupported sample width %d", format.BytesPerSample)
	}
	if format.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}

	frameBytes := format.SampleRate * frameDuration / 1000 * 2
	if frameBytes == 0 {
		return false, fmt.Errorf("invalid sample rate %d", format.SampleRate)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	voiced := 0
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		if d.isSpeech(pcm[off:off+frameBytes], format.SampleRate) {
			voiced++
			if voiced >= d.minFrames {
				return true, nil
			}
		}
	}
	return false, nil
}

func (d *Detector) isSpeech(frame []byte, sampleRate int) bool {
	active, err := d.vad.Process(sampleRate, frame)
	if err != nil {
		return d.rmsIsSpeech(audio.BytesToInt16s(frame))
	}
	return active
}

func (d *Detector) rmsIsSpeech(pcm []int16) bool {
	return RMS(pcm) > d.rmsThreshold
}

// RMS is the root mean square amplitude of the samples.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range pcm {
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
