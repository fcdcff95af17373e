package audio

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
}

// DiscordFormat is what the voice gateway delivers after Opus decoding:
// 48 kHz, stereo, 16-bit.
var DiscordFormat = Format{SampleRate: 48000, Channels: 2, BytesPerSample: 2}

// FrameBytes is the size of one sample frame across all channels.
func (f Format) FrameBytes() int {
	return f.Channels * f.BytesPerSample
}


// WindowCapacity returns the byte capacity of a window of the given length.
func WindowCapacity(seconds int, f Format) int {
	return seconds * f.SampleRate * f.BytesPerSample * f.Channels
}

// Chunk is one delivery unit of PCM from the voice connection. The PCM slice
// must not be modified after the chunk is handed to a Capture.
type Chunk struct {
	SSRC   uint32
	UserID string
	PCM    []byte
}

// Sink receives decoded chunks from an audio source.
type Sink interface {
	Ingest(chunk Chunk)
}
