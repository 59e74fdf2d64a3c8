// Package audio provides the PCM utilities shared by the capture pipeline,
// the transcription providers, and the media store: sample-type conversion,
// resampling, energy measurement, and detector frame alignment.
//
// All PCM in this package is 16-bit signed little-endian unless a function
// says otherwise. The daemon's canonical capture format is 16 kHz mono.
package audio

import "time"

// CaptureRate is the canonical sample rate for microphone capture and for
// everything downstream of it (wake-word detection, transcription, turn
// audio).
const CaptureRate = 16000

// Frame is a chunk of microphone samples flowing through the capture
// pipeline. Chunk sizes are whatever the recorder hands out; nothing
// guarantees alignment to the wake-word detector's frame length — that is
// the FrameAligner's job.
type Frame struct {
	// Samples holds signed 16-bit PCM samples, mono.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
