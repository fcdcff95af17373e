package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

var errNotWAV = errors.New("not a RIFF/WAVE payload")

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	bitsPerSample := f.BytesPerSample * 8
	byteRate := uint32(f.SampleRate * f.Channels * f.BytesPerSample)
	blockAlign := uint16(f.Channels * f.BytesPerSample)
	dataLen := uint32(len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36)+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV parses a PCM WAV payload and returns its format and sample data.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, errNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return Format{}, nil, fmt.Errorf("wav chunk %q truncated: need %d bytes, have %d", id, size, len(data)-body)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("wav fmt chunk too short: %d", size)
			}
			if tag := binary.LittleEndian.Uint16(data[body : body+2]); tag != 1 {
				return Format{}, nil, fmt.Errorf("unsupported wav format tag %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			f.BytesPerSample = int(binary.LittleEndian.Uint16(data[body+14:body+16])) / 8
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, fmt.Errorf("wav data chunk before fmt chunk")
			}
			return f, data[body : body+size], nil
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}

	return Format{}, nil, fmt.Errorf("wav payload has no data chunk")
}
