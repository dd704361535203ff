// Package mock provides a scripted test double for the stt package.
//
// Pre-populate Texts with the transcripts the consumer should receive; each
// Transcribe call returns the next entry and records the call, so tests can
// assert which segments reached transcription.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/vocantra/vocantra/pkg/provider/stt"
)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Texts are returned by successive Transcribe calls in order. After the
	// script is exhausted the last entry repeats; an empty script yields "".
	Texts []string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Delay, if positive, makes each Transcribe call block for that long or
	// until the context is cancelled, simulating slow inference.
	Delay time.Duration

	// Calls records the sample count of every Transcribe call in order.
	Calls []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	pos int
}

// Transcribe records the call and returns the next scripted text or Err.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, len(samples))
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Texts) == 0 {
		return "", nil
	}
	i := m.pos
	if i >= len(m.Texts) {
		i = len(m.Texts) - 1
	}
	m.pos++
	return m.Texts[i], nil
}

// Close records the call and returns nil.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return nil
}

// CallCount returns the number of Transcribe calls so far. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)
