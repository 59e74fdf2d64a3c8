// Package media persists synthesised audio as WAV files and serves them
// back to the browser extension over HTTP. Finalised turns and TTS output
// both land here; the returned reference is the URL path the extension can
// fetch.
package media

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical PCM WAV header in bytes.
const WAVHeaderSize = 44

// WAVFormat describes the PCM encoding parameters written into a WAV header.
type WAVFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultWAVFormat is 16 kHz mono 16-bit, the daemon's canonical format for
// both captured utterances and model-synthesised speech.
var DefaultWAVFormat = WAVFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// ErrNotWAV is returned by ParseWAVHeader for data that is not a RIFF/WAVE
// container.
var ErrNotWAV = errors.New("media: not a RIFF/WAVE container")

// EncodeWAV wraps raw PCM data in a standard uncompressed WAV container.
// The output is exactly WAVHeaderSize bytes of header followed by pcm. The
// RIFF size field is 36 + len(pcm) and the data chunk size is len(pcm).
func EncodeWAV(pcm []byte, f WAVFormat) []byte {
	blockAlign := f.Channels * f.BitsPerSample / 8
	byteRate := f.SampleRate * blockAlign

	out := make([]byte, WAVHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM, no compression
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(f.BitsPerSample))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[WAVHeaderSize:], pcm)
	return out
}

// ParseWAVHeader reads the format parameters and data size back out of a
// canonical WAV header produced by [EncodeWAV].
func ParseWAVHeader(data []byte) (WAVFormat, int, error) {
	if len(data) < WAVHeaderSize {
		return WAVFormat{}, 0, fmt.Errorf("media: header too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVFormat{}, 0, ErrNotWAV
	}
	f := WAVFormat{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}
	dataSize := int(binary.LittleEndian.Uint32(data[40:44]))
	return f, dataSize, nil
}
