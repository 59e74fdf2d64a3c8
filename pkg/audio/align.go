package audio

// FrameAligner re-chunks an irregular sample stream into frames of exactly
// frameLength samples. Samples that do not fill a whole frame are retained
// until the next Push call — never discarded, never emitted twice.
//
// Wake-word engines only accept buffers of their exact frame length, so
// every byte of microphone input must pass through an aligner before the
// detector sees it.
//
// Not safe for concurrent use; create one per stream.
type FrameAligner struct {
	frameLength int
	pending     []int16
}

// NewFrameAligner creates an aligner that emits frames of frameLength
// samples. frameLength must be positive.
func NewFrameAligner(frameLength int) *FrameAligner {
	if frameLength <= 0 {
		panic("audio: frame length must be positive")
	}
	return &FrameAligner{
		frameLength: frameLength,
		pending:     make([]int16, 0, frameLength),
	}
}

// Push appends samples to the internal buffer and returns zero or more
// complete frames. Each returned frame has exactly frameLength samples and
// is backed by its own array.
func (a *FrameAligner) Push(samples []int16) [][]int16 {
	a.pending = append(a.pending, samples...)

	var frames [][]int16
	for len(a.pending) >= a.frameLength {
		frame := make([]int16, a.frameLength)
		copy(frame, a.pending[:a.frameLength])
		frames = append(frames, frame)
		a.pending = a.pending[a.frameLength:]
	}

	// Re-base the pending slice so consumed frames can be collected.
	if len(frames) > 0 {
		rest := make([]int16, len(a.pending), a.frameLength)
		copy(rest, a.pending)
		a.pending = rest
	}
	return frames
}

// Pending returns the number of buffered samples awaiting a full frame.
func (a *FrameAligner) Pending() int {
	return len(a.pending)
}

// Reset discards all buffered samples.
func (a *FrameAligner) Reset() {
	a.pending = a.pending[:0]
}
