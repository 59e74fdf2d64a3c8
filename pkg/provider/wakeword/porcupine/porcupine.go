// Package porcupine provides a wake-word detector backed by Picovoice
// Porcupine (https://picovoice.ai/platform/porcupine/), an on-device engine
// with pre-trained keywords such as "jarvis" and "computer".
package porcupine

import (
	"errors"
	"fmt"
	"strings"

	pv "github.com/Picovoice/porcupine/binding/go/v3"

	"github.com/tubevox/tubevox/pkg/provider/wakeword"
)

// DefaultSensitivity balances misses against false triggers.
const DefaultSensitivity = 0.5

// Ensure Detector implements wakeword.Detector at compile time.
var _ wakeword.Detector = (*Detector)(nil)

// Option is a functional option for Detector.
type Option func(*config)

type config struct {
	sensitivity float32
	keywordPath string
}

// WithSensitivity sets the detection sensitivity in [0.0, 1.0]. Higher values
// reduce misses at the cost of more false triggers.
func WithSensitivity(s float32) Option {
	return func(c *config) {
		c.sensitivity = s
	}
}

// WithKeywordPath uses a custom trained keyword file (.ppn) instead of a
// built-in keyword name.
func WithKeywordPath(path string) Option {
	return func(c *config) {
		c.keywordPath = path
	}
}

// Detector implements wakeword.Detector using the Porcupine engine.
type Detector struct {
	engine pv.Porcupine
	closed bool
}

// New creates and initialises a Porcupine Detector. accessKey is the
// Picovoice console key and must be non-empty. keyword names a built-in
// keyword ("jarvis", "computer", "porcupine", ...) and is ignored when
// WithKeywordPath is given.
func New(accessKey, keyword string, opts ...Option) (*Detector, error) {
	if accessKey == "" {
		return nil, errors.New("porcupine: accessKey must not be empty")
	}

	cfg := &config{sensitivity: DefaultSensitivity}
	for _, o := range opts {
		o(cfg)
	}

	engine := pv.Porcupine{
		AccessKey:     accessKey,
		Sensitivities: []float32{cfg.sensitivity},
	}
	if cfg.keywordPath != "" {
		engine.KeywordPaths = []string{cfg.keywordPath}
	} else {
		kw, err := builtInKeyword(keyword)
		if err != nil {
			return nil, err
		}
		engine.BuiltInKeywords = []pv.BuiltInKeyword{kw}
	}

	if err := engine.Init(); err != nil {
		return nil, fmt.Errorf("porcupine: init engine: %w", err)
	}
	return &Detector{engine: engine}, nil
}

// FrameLength implements wakeword.Detector. Porcupine requires exactly this
// many samples per Process call.
func (d *Detector) FrameLength() int {
	return pv.FrameLength
}

// SampleRate implements wakeword.Detector.
func (d *Detector) SampleRate() int {
	return pv.SampleRate
}

// Process implements wakeword.Detector.
func (d *Detector) Process(frame []int16) (bool, error) {
	if d.closed {
		return false, errors.New("porcupine: detector is closed")
	}
	if len(frame) != pv.FrameLength {
		return false, fmt.Errorf("porcupine: frame length %d, want %d", len(frame), pv.FrameLength)
	}
	idx, err := d.engine.Process(frame)
	if err != nil {
		return false, fmt.Errorf("porcupine: process frame: %w", err)
	}
	return idx >= 0, nil
}

// Close implements wakeword.Detector. Safe to call more than once.
func (d *Detector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.engine.Delete()
}

// builtInKeyword maps a keyword name to the Porcupine built-in constant.
func builtInKeyword(name string) (pv.BuiltInKeyword, error) {
	kw := pv.BuiltInKeyword(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range pv.BuiltInKeywords {
		if kw == known {
			return kw, nil
		}
	}
	return "", fmt.Errorf("porcupine: unknown built-in keyword %q", name)
}
