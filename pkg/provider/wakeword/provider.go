// Package wakeword defines the Detector interface for wake-word engines.
//
// A detector consumes fixed-length frames of 16-bit mono PCM and reports
// when the wake phrase was spoken. Frame length is dictated by the engine;
// the capture pipeline re-chunks microphone audio to match.
//
// Detectors are stateful stream processors and need not be safe for
// concurrent use; the capture pipeline drives each detector from a single
// goroutine.
package wakeword

// Detector is the abstraction over any wake-word engine.
type Detector interface {
	// FrameLength returns the exact number of samples Process expects.
	FrameLength() int

	// SampleRate returns the sample rate in Hz the engine was built for.
	SampleRate() int

	// Process analyses one frame and reports whether the wake word
	// completed within it. Passing a frame of the wrong length returns
	// an error.
	Process(frame []int16) (bool, error)

	// Close releases engine resources. The detector is unusable afterwards.
	Close() error
}
