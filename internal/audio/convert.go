package audio

// StereoToMono averages interleaved 16-bit L/R pairs into a mono stream.
func StereoToMono(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i, j := 0, 0; i+3 < len(pcm); i, j = i+4, j+2 {
		l := int32(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		r := int32(int16(uint16(pcm[i+2]) | uint16(pcm[i+3])<<8))
		m := int16((l + r) / 2)
		out[j] = byte(m)
		out[j+1] = byte(m >> 8)
	}
	return out
}

// Int16sToBytes converts samples to little-endian bytes.
func Int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to samples. A trailing odd byte
// is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return pcm
}

// SplitFrames cuts interleaved PCM into frames of frameSamples samples. The
// last frame is zero-padded.
func SplitFrames(pcm []byte, frameSamples int) [][]int16 {
	samples := BytesToInt16s(pcm)
	if frameSamples <= 0 || len(samples) == 0 {
		return nil
	}

	frames := make([][]int16, 0, (len(samples)+frameSamples-1)/frameSamples)
	for off := 0; off < len(samples); off += frameSamples {
		frame := make([]int16, frameSamples)
		copy(frame, samples[off:])
		frames = append(frames, frame)
	}
	return frames
}
