// Package resilience shields the voice loop from failing speech and language
// backends.
//
// [Breaker] is a three-state circuit breaker. While closed every call goes
// through and consecutive failures are counted; at the threshold the breaker
// opens and rejects calls with [ErrOpen] until the cooldown passes. The first
// call after the cooldown runs as a single probe: success closes the breaker,
// failure re-opens it. A probe in flight blocks further probes.
//
// Context cancellation is neutral. The talker walking away mid-reply is not
// backend failure and must never open the breaker.
//
// The guards in this package ([Transcriber], [Synthesizer], [LLM]) wrap the
// pipeline's provider interfaces with a Breaker each, so a dead cloud service
// fails in microseconds instead of stalling every utterance on a network
// timeout. All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the backend while the breaker is open.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects all calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen admits one probe call to test whether the backend
	// recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults.
type BreakerConfig struct {
	// Name labels the breaker in log lines ("stt", "tts", "llm").
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default 4.
	Threshold int

	// Cooldown is how long the breaker rejects calls after opening, before
	// the next call is admitted as a probe. Default 15s.
	Cooldown time.Duration
}

// Breaker implements the circuit breaker state machine. The zero value is not
// usable; construct with [NewBreaker].
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker builds a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 4
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
	}
}

// Do runs fn if the breaker admits the call and feeds its outcome back into
// the state machine. In the open state fn is not called and Do returns
// [ErrOpen]. A fn error of [context.Canceled] is passed through without
// counting as a failure.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err)
	return err
}

// admit decides whether a call may proceed, performing the open to half-open
// transition when the cooldown has elapsed. On success the caller owes a
// matching settle.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = false
		slog.Info("circuit half-open", "breaker", b.name)
	}

	if b.state == StateHalfOpen {
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

// settle closes out an admitted call. Cancellation only releases the probe
// slot; any other outcome goes through report.
func (b *Breaker) settle(err error) {
	if errors.Is(err, context.Canceled) {
		b.mu.Lock()
		b.probing = false
		b.mu.Unlock()
		return
	}
	b.report(err)
}

// report feeds one backend outcome into the state machine. The LLM guard
// calls this directly for failures that surface mid-stream, after the
// admitting call has already returned.
func (b *Breaker) report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == StateHalfOpen {
			b.state = StateClosed
			slog.Info("circuit closed", "breaker", b.name)
		}
		b.failures = 0
		b.probing = false
		return
	}

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.probing = false
		slog.Warn("circuit re-opened", "breaker", b.name)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = time.Now()
		slog.Warn("circuit opened", "breaker", b.name, "failures", b.failures)
	}
}

// State returns the breaker's current mode. An open breaker whose cooldown
// has elapsed reports [StateHalfOpen]; the stored transition happens on the
// next admitted call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	slog.Info("circuit reset", "breaker", b.name)
}
