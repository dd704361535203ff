// Package mock provides a scripted test double for the tts.Synthesizer
// interface.
//
// Configure the samples to return, then hand the Synthesizer to the code
// under test:
//
//	s := &mock.Synthesizer{
//	    Samples: [][]float32{make([]float32, 1600)},
//	}
//	pcm, rate, err := s.Synthesize(ctx, "hello there")
//
// Every call is recorded in Texts, so tests can assert what was spoken and
// in what order.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer. The zero value
// returns no audio for every call.
type Synthesizer struct {
	mu sync.Mutex

	// Samples is the sequence of sample slices returned by successive
	// Synthesize calls. The last entry repeats once the script runs out; an
	// empty script yields nil samples.
	Samples [][]float32

	// Rate is the sample rate reported with every result. Zero defaults to
	// audio.TargetRate.
	Rate int

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// Delay pauses each Synthesize call before returning, honoring ctx.
	Delay time.Duration

	// Texts records the text of every Synthesize call in order.
	Texts []string

	// CloseCallCount counts Close invocations.
	CloseCallCount int

	pos int
}

// Synthesize records the call and returns the next scripted sample slice.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Texts = append(s.Texts, text)
	if s.Err != nil {
		return nil, 0, s.Err
	}
	rate := s.Rate
	if rate == 0 {
		rate = audio.TargetRate
	}
	if len(s.Samples) == 0 {
		return nil, rate, nil
	}
	i := min(s.pos, len(s.Samples)-1)
	s.pos++
	return s.Samples[i], rate, nil
}

// Close increments CloseCallCount and returns nil.
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// CallCount reports how many Synthesize calls have been recorded.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Texts)
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
