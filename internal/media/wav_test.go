package media

import (
	"strings"
	"testing"
)

func TestEncodeWAV_HeaderSizes(t *testing.T) {
	t.Parallel()
	pcm := make([]byte, 3200)
	wav := EncodeWAV(pcm, DefaultWAVFormat)

	if len(wav) != WAVHeaderSize+len(pcm) {
		t.Fatalf("total length = %d, want %d", len(wav), WAVHeaderSize+len(pcm))
	}

	f, dataSize, err := ParseWAVHeader(wav)
	if err != nil {
		t.Fatalf("ParseWAVHeader: %v", err)
	}
	if dataSize != len(pcm) {
		t.Errorf("data chunk size = %d, want %d", dataSize, len(pcm))
	}
	// RIFF size = 36 + data size.
	riffSize := int(uint32(wav[4]) | uint32(wav[5])<<8 | uint32(wav[6])<<16 | uint32(wav[7])<<24)
	if riffSize != 36+len(pcm) {
		t.Errorf("RIFF size = %d, want %d", riffSize, 36+len(pcm))
	}
	if f != DefaultWAVFormat {
		t.Errorf("round-tripped format = %+v, want %+v", f, DefaultWAVFormat)
	}
}

func TestEncodeWAV_EmptyPCM(t *testing.T) {
	t.Parallel()
	wav := EncodeWAV(nil, DefaultWAVFormat)
	if len(wav) != WAVHeaderSize {
		t.Fatalf("empty PCM should yield bare header, got %d bytes", len(wav))
	}
	_, dataSize, err := ParseWAVHeader(wav)
	if err != nil {
		t.Fatalf("ParseWAVHeader: %v", err)
	}
	if dataSize != 0 {
		t.Errorf("data size = %d, want 0", dataSize)
	}
}

func TestEncodeWAV_RoundTripFormats(t *testing.T) {
	t.Parallel()
	formats := []WAVFormat{
		{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
		{SampleRate: 24000, Channels: 1, BitsPerSample: 16},
		{SampleRate: 48000, Channels: 2, BitsPerSample: 16},
	}
	for _, f := range formats {
		got, _, err := ParseWAVHeader(EncodeWAV([]byte{0, 0}, f))
		if err != nil {
			t.Fatalf("format %+v: %v", f, err)
		}
		if got != f {
			t.Errorf("round-trip %+v yielded %+v", f, got)
		}
	}
}

func TestParseWAVHeader_RejectsGarbage(t *testing.T) {
	t.Parallel()
	data := make([]byte, 64)
	copy(data, "not a wave file at all")
	if _, _, err := ParseWAVHeader(data); err == nil {
		t.Fatal("expected error for non-WAV data")
	}
}

func TestStore_SaveAndCount(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ref, err := s.SavePCM(make([]byte, 320), DefaultWAVFormat)
	if err != nil {
		t.Fatalf("SavePCM: %v", err)
	}
	if !strings.HasPrefix(ref, "/media/") || !strings.HasSuffix(ref, ".wav") {
		t.Errorf("reference %q has unexpected shape", ref)
	}
	if got := s.CountFiles(); got != 1 {
		t.Errorf("CountFiles = %d, want 1", got)
	}
}
