// Package mock provides in-memory implementations of the [audio.Source] and
// [audio.Player] interfaces for use in unit tests.
//
// Both mocks are safe for concurrent use. They record every method call so
// tests can assert on call counts and arguments, and they expose exported
// fields the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	app.Start(src)
//	src.Feed(make([]float32, 480)) // deliver one capture chunk
package mock

import (
	"sync"

	"github.com/vocantra/vocantra/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Chunks passed to
// [Source.Feed] are delivered synchronously to the callback registered via
// Start, on the caller's goroutine.
type Source struct {
	mu sync.Mutex

	// Rate and Channels are reported by Format. Zero values default to
	// [audio.TargetRate] mono.
	Rate     int
	Channels int

	// StartError is returned by Start; when set the source never runs.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// StartCallCount and StopCallCount record lifecycle calls.
	StartCallCount int
	StopCallCount  int

	onChunk func([]float32)
	running bool
}

var _ audio.Source = (*Source)(nil)

// Format implements [audio.Source].
func (s *Source) Format() (rate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rate, channels = s.Rate, s.Channels
	if rate == 0 {
		rate = audio.TargetRate
	}
	if channels == 0 {
		channels = 1
	}
	return rate, channels
}

// Start implements [audio.Source]. It records the callback for Feed.
func (s *Source) Start(onChunk func(samples []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCallCount++
	if s.StartError != nil {
		return s.StartError
	}
	s.onChunk = onChunk
	s.running = true
	return nil
}

// Stop implements [audio.Source]. Chunks fed after Stop are discarded.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCallCount++
	s.running = false
	s.onChunk = nil
	return s.StopError
}

// Running reports whether Start has been called and Stop has not.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Feed delivers one capture chunk to the callback registered via Start.
// Chunks fed while the source is stopped are dropped silently, mirroring a
// device that has already released its buffers.
func (s *Source) Feed(chunk []float32) {
	s.mu.Lock()
	cb := s.onChunk
	s.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player] that records every chunk
// it is asked to play.
type Player struct {
	mu sync.Mutex

	// PlayError is returned by every Play call.
	PlayError error

	// Chunks records a copy of the samples from every Play call, in order.
	Chunks [][]float32

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player]. The samples are copied before recording,
// so the caller may reuse its buffer.
func (p *Player) Play(samples []float32) error {
	cp := append([]float32(nil), samples...)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayError != nil {
		return p.PlayError
	}
	p.Chunks = append(p.Chunks, cp)
	return nil
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// PlayCallCount returns the number of successful Play calls so far.
func (p *Player) PlayCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Chunks)
}

// PlayedSamples returns the total number of samples played.
func (p *Player) PlayedSamples() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Chunks {
		n += len(c)
	}
	return n
}
