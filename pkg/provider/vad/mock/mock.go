// Package mock provides test doubles for the vad package interfaces.
//
// Use Detector to script per-frame classifications into the segmenter, and
// Scorer to feed fixed probabilities through a [vad.Model].
package mock

import (
	"sync"

	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/provider/vad"
)

// Detector is a scripted implementation of vad.Detector. Each IsSpeech call
// consumes the next value from Script; once the script is exhausted, Default
// is returned.
type Detector struct {
	mu sync.Mutex

	// Script holds the classifications to return, in call order.
	Script []bool

	// Default is returned after Script runs out.
	Default bool

	// Calls counts IsSpeech invocations.
	Calls int

	// Resets counts Reset invocations.
	Resets int

	pos int
}

var _ vad.Detector = (*Detector)(nil)

// IsSpeech returns the next scripted classification.
func (d *Detector) IsSpeech(audio.Frame, bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++
	if d.pos < len(d.Script) {
		v := d.Script[d.pos]
		d.pos++
		return v
	}
	return d.Default
}

// Reset records the call. The script position is not rewound; a reset
// between segments must not replay classifications.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Resets++
}

// Scorer is a scripted implementation of vad.Scorer. Each Score call
// consumes the next value from Scores; once exhausted, the last value
// repeats. Err, when set, is returned by every Score call.
type Scorer struct {
	mu sync.Mutex

	Scores []float64
	Err    error

	// Resets counts Reset invocations.
	Resets int

	// Closed reports whether Close was called.
	Closed bool

	pos int
}

var _ vad.Scorer = (*Scorer)(nil)

// Score returns the next scripted probability.
func (s *Scorer) Score(audio.Frame) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	if len(s.Scores) == 0 {
		return 0, nil
	}
	v := s.Scores[s.pos]
	if s.pos < len(s.Scores)-1 {
		s.pos++
	}
	return v, nil
}

// Reset records the call.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resets++
}

// Close records the call.
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
