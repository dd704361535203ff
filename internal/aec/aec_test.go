package aec

import (
	"math/rand"
	"testing"
	"time"

	"github.com/vocantra/vocantra/pkg/audio"
)

// noise returns n deterministic pseudo-random samples in [-1, 1).
func noise(seed int64, n int) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func energy(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum
}

// runEcho feeds far-end noise and an echoed microphone signal (far delayed by
// delay samples, scaled by gain) through the canceller frame by frame and
// returns the cleaned output.
func runEcho(c *Canceller, far []float32, delay int, gain float32) []float32 {
	out := make([]float32, 0, len(far))
	for off := 0; off+audio.FrameSamples <= len(far); off += audio.FrameSamples {
		chunk := far[off : off+audio.FrameSamples]
		c.QueueRender(chunk)

		mic := make(audio.Frame, audio.FrameSamples)
		for i := range mic {
			src := off + i - delay
			if src >= 0 {
				mic[i] = far[src] * gain
			}
		}
		out = append(out, c.Process(mic)...)
	}
	return out
}

func TestProcessWithoutRenderIsIdentity(t *testing.T) {
	t.Parallel()

	c := New()
	in := noise(1, audio.FrameSamples)
	frame := make(audio.Frame, len(in))
	copy(frame, in)

	got := c.Process(frame)
	for i := range got {
		if got[i] != in[i] {
			t.Fatalf("sample %d changed from %v to %v with no render audio", i, in[i], got[i])
		}
	}
}

func TestDirectEchoConverges(t *testing.T) {
	t.Parallel()

	c := New(WithTaps(256))
	far := noise(2, audio.TargetRate) // one second
	out := runEcho(c, far, 0, 0.8)

	// After convergence the residual in the last quarter should be far below
	// the echo energy.
	tail := len(out) * 3 / 4
	echoTail := make([]float32, len(out)-tail)
	for i := range echoTail {
		echoTail[i] = far[tail+i] * 0.8
	}
	ratio := energy(out[tail:]) / energy(echoTail)
	if ratio > 0.05 {
		t.Errorf("residual/echo energy ratio = %.4f, want < 0.05", ratio)
	}
}

func TestDelayedEchoConverges(t *testing.T) {
	t.Parallel()

	c := New(WithTaps(256))
	far := noise(3, audio.TargetRate)
	out := runEcho(c, far, 100, 0.5)

	tail := len(out) * 3 / 4
	echoTail := make([]float32, len(out)-tail)
	for i := range echoTail {
		echoTail[i] = far[tail+i-100] * 0.5
	}
	ratio := energy(out[tail:]) / energy(echoTail)
	if ratio > 0.1 {
		t.Errorf("residual/echo energy ratio = %.4f, want < 0.1", ratio)
	}
}

func TestNearEndSpeechSurvives(t *testing.T) {
	t.Parallel()

	// With no far-end audio at all, near-end speech must pass unchanged even
	// after the filter has adapted to an earlier echo.
	c := New(WithTaps(256))
	far := noise(4, audio.TargetRate/2)
	runEcho(c, far, 0, 0.8)

	speech := noise(5, audio.FrameSamples)
	frame := make(audio.Frame, len(speech))
	copy(frame, speech)
	got := c.Process(frame)

	// The delay line still rings with old far-end samples for one filter
	// length, so compare energy rather than exact samples.
	if r := energy(got) / energy(speech); r < 0.5 {
		t.Errorf("near-end energy ratio = %.3f, want mostly preserved", r)
	}
}

func TestQueueRenderNeverBlocks(t *testing.T) {
	t.Parallel()

	c := New(WithRenderBuffer(50 * time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		chunk := noise(6, audio.FrameSamples)
		// Far more audio than the ring can hold.
		for i := 0; i < 200; i++ {
			c.QueueRender(chunk)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("QueueRender blocked on a full render ring")
	}
}

func TestResetRestoresIdentity(t *testing.T) {
	t.Parallel()

	c := New(WithTaps(256))
	far := noise(7, audio.TargetRate/2)
	runEcho(c, far, 0, 0.8)

	c.Reset()

	in := noise(8, audio.FrameSamples)
	frame := make(audio.Frame, len(in))
	copy(frame, in)
	got := c.Process(frame)
	for i := range got {
		if got[i] != in[i] {
			t.Fatalf("sample %d changed after reset with no render audio", i)
		}
	}
}
