// Package aec removes played-back audio from the microphone signal.
//
// The canceller is a normalized least-mean-squares (NLMS) adaptive filter:
// it learns the acoustic path from speaker to microphone and subtracts its
// estimate of the echo from each captured frame, so the VAD does not mistake
// the assistant's own voice for the user.
//
// Ownership is split across exactly two goroutines. The capture side calls
// [Canceller.Process]; the playback side feeds far-end audio through
// [Canceller.QueueRender], which never blocks. The two sides meet only at an
// internal ring buffer, so the canceller itself is never shared by reference
// beyond that pair.
package aec

import (
	"encoding/binary"
	"log/slog"
	"math"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/vocantra/vocantra/pkg/audio"
)

const (
	// DefaultTaps is the adaptive filter length: 1024 taps cover a 64 ms echo
	// tail at the pipeline rate.
	DefaultTaps = 1024

	// DefaultStep is the NLMS adaptation rate. Higher converges faster but
	// tracks noise; 0.5 is a conventional middle ground.
	DefaultStep = 0.5

	// DefaultRenderBuffer is how much queued far-end audio the render ring
	// holds before new playback audio overwrites alignment.
	DefaultRenderBuffer = 4 * time.Second

	// epsilon keeps the normalization divisor away from zero during silence.
	epsilon = 1e-6

	// normRefresh is how often (in samples) the running input-energy sum is
	// recomputed exactly; the incremental update drifts over long runs.
	normRefresh = 1 << 16
)

// Canceller is an NLMS echo canceller. See the package documentation for the
// two-goroutine ownership contract.
type Canceller struct {
	taps int
	step float64

	w    []float64 // filter weights
	x    []float64 // circular far-end delay line
	xPos int       // index of the newest far-end sample
	norm float64   // running sum of squares over the delay line
	seen int       // samples processed since the last exact norm refresh

	render *ringbuffer.RingBuffer

	// Per-side scratch buffers; each is touched by only one goroutine.
	encBuf []byte // playback side, QueueRender
	decBuf []byte // capture side, Process
	far    []float32
}

// Option configures a Canceller during construction.
type Option func(*Canceller)

// WithTaps sets the adaptive filter length in samples.
func WithTaps(n int) Option {
	return func(c *Canceller) { c.taps = n }
}

// WithStep sets the NLMS adaptation rate.
func WithStep(mu float64) Option {
	return func(c *Canceller) { c.step = mu }
}

// WithRenderBuffer sets how much far-end audio the render ring can hold.
func WithRenderBuffer(d time.Duration) Option {
	return func(c *Canceller) {
		samples := int(d * audio.TargetRate / time.Second)
		if samples < audio.FrameSamples {
			samples = audio.FrameSamples
		}
		c.render = ringbuffer.New(samples * 4).SetBlocking(false)
	}
}

// New constructs a Canceller with sensible defaults for 16 kHz speech.
func New(opts ...Option) *Canceller {
	c := &Canceller{
		taps: DefaultTaps,
		step: DefaultStep,
	}
	for _, o := range opts {
		o(c)
	}
	if c.taps < 1 {
		c.taps = DefaultTaps
	}
	if c.step <= 0 {
		c.step = DefaultStep
	}
	if c.render == nil {
		WithRenderBuffer(DefaultRenderBuffer)(c)
	}
	c.w = make([]float64, c.taps)
	c.x = make([]float64, c.taps)
	return c
}

// QueueRender hands far-end (playback) samples to the canceller. It never
// blocks: when the ring is full the stale backlog is discarded first, since
// far-end audio the capture side has fallen that far behind on is useless
// for alignment anyway.
func (c *Canceller) QueueRender(samples []float32) {
	if len(samples) == 0 {
		return
	}
	need := len(samples) * 4
	if cap(c.encBuf) < need {
		c.encBuf = make([]byte, need)
	}
	buf := c.encBuf[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	if _, err := c.render.Write(buf); err != nil {
		c.render.Reset()
		if _, err := c.render.Write(buf); err != nil {
			slog.Debug("render queue rejected oversized chunk", "samples", len(samples))
		}
	}
}

// Process subtracts the estimated echo from one captured frame. The result
// is written in place and frame is returned for convenience. Far-end samples
// missing from the render ring are treated as silence, which leaves the
// filter unchanged for those positions.
func (c *Canceller) Process(frame audio.Frame) audio.Frame {
	n := len(frame)
	if n == 0 {
		return frame
	}
	c.fillFar(n)

	for i := 0; i < n; i++ {
		// Advance the delay line with the aligned far-end sample.
		c.xPos++
		if c.xPos == c.taps {
			c.xPos = 0
		}
		in := float64(c.far[i])
		evicted := c.x[c.xPos]
		c.x[c.xPos] = in
		c.norm += in*in - evicted*evicted

		c.seen++
		if c.seen >= normRefresh {
			c.refreshNorm()
		}

		d := float64(frame[i])
		if c.norm < epsilon {
			// Delay line is effectively silent: no echo to model.
			continue
		}

		// Echo estimate: dot product of weights against the delay line,
		// newest sample first.
		var y float64
		idx := c.xPos
		for j := 0; j < c.taps; j++ {
			y += c.w[j] * c.x[idx]
			idx--
			if idx < 0 {
				idx = c.taps - 1
			}
		}

		e := d - y
		g := c.step * e / (c.norm + epsilon)
		idx = c.xPos
		for j := 0; j < c.taps; j++ {
			c.w[j] += g * c.x[idx]
			idx--
			if idx < 0 {
				idx = c.taps - 1
			}
		}

		frame[i] = float32(e)
	}
	return frame
}

// Reset discards the learned echo path and all queued far-end audio.
func (c *Canceller) Reset() {
	for i := range c.w {
		c.w[i] = 0
	}
	for i := range c.x {
		c.x[i] = 0
	}
	c.xPos = 0
	c.norm = 0
	c.seen = 0
	c.render.Reset()
}

// fillFar pulls n aligned far-end samples from the render ring into c.far,
// zero-padding whatever the ring cannot supply.
func (c *Canceller) fillFar(n int) {
	if cap(c.far) < n {
		c.far = make([]float32, n)
		c.decBuf = make([]byte, n*4)
	}
	c.far = c.far[:n]
	buf := c.decBuf[:n*4]

	read := 0
	if c.render.Length() > 0 {
		read, _ = c.render.Read(buf)
	}
	for i := 0; i < read/4; i++ {
		c.far[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	for i := read / 4; i < n; i++ {
		c.far[i] = 0
	}
}

// refreshNorm recomputes the delay-line energy exactly, clearing the drift
// the incremental add-subtract update accumulates.
func (c *Canceller) refreshNorm() {
	var sum float64
	for _, v := range c.x {
		sum += v * v
	}
	c.norm = sum
	c.seen = 0
}
