// Package audio defines the sample formats and buffer types shared by every
// stage of the voice pipeline.
//
// The pipeline operates on a single fixed format: 16 kHz mono float32 samples,
// chopped into 30 ms frames of 480 samples each ([TargetRate], [FrameSamples],
// [FrameDuration]). The [Resampler] converts whatever the capture device
// delivers into that format; everything downstream (VAD, segmentation,
// transcription) assumes it.
package audio

import (
	"fmt"
	"math"
	"time"
)

const (
	// TargetRate is the fixed sample rate of the pipeline in Hz.
	TargetRate = 16000

	// FrameSamples is the number of samples in one pipeline frame.
	FrameSamples = 480

	// FrameDuration is the wall-clock length of one frame (30 ms).
	FrameDuration = FrameSamples * time.Second / TargetRate
)

// Frame is one fixed-length block of mono samples at [TargetRate]. Frames are
// immutable once produced; stages that need to retain audio copy it out.
type Frame []float32

// RMS returns the root-mean-square energy of the frame. Samples are expected
// in [-1, 1], so the result is also in [0, 1].
func (f Frame) RMS() float64 {
	if len(f) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(f)))
}

// Segment is one finished utterance produced by the segmenter. StartSample and
// EndSample are running sample indices on the capture timeline; Samples may be
// longer than the index span because segments carry pre-roll audio from just
// before the detected onset.
type Segment struct {
	Samples     []float32
	StartSample int
	EndSample   int
}

// Duration returns the playback length of the segment audio.
func (s Segment) Duration() time.Duration {
	return time.Duration(len(s.Samples)) * time.Second / TargetRate
}

// Start returns the capture-timeline position of the segment start.
func (s Segment) Start() time.Duration {
	return time.Duration(s.StartSample) * time.Second / TargetRate
}

// End returns the capture-timeline position of the segment end.
func (s Segment) End() time.Duration {
	return time.Duration(s.EndSample) * time.Second / TargetRate
}

// Transcript is the text produced from one [Segment], positioned on the
// capture timeline. Immutable.
type Transcript struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Line renders the transcript in the sink format, e.g. "[1.5-3.2] hello".
func (t Transcript) Line() string {
	return fmt.Sprintf("[%.1f-%.1f] %s", t.Start.Seconds(), t.End.Seconds(), t.Text)
}
