package vad

import (
	"log/slog"
	"sync"

	"github.com/vocantra/vocantra/pkg/audio"
)

// Default probability thresholds for the model detector.
const (
	DefaultModelEnter = 0.30
	DefaultModelStay  = 0.25
)

// Model classifies frames by asking a [Scorer] for a speech probability and
// applying asymmetric hysteresis to it: probability must reach the enter
// threshold to start speech and only needs to hold the lower stay threshold
// to continue it.
type Model struct {
	scorer Scorer
	enter  float64
	stay   float64

	warnScore sync.Once
}

var _ Detector = (*Model)(nil)

// ModelOption configures a [Model] detector.
type ModelOption func(*Model)

// WithModelThresholds overrides the enter/stay probability thresholds.
func WithModelThresholds(enter, stay float64) ModelOption {
	return func(m *Model) {
		m.enter = enter
		m.stay = stay
	}
}

// NewModel creates a model detector over scorer with [DefaultModelEnter] and
// [DefaultModelStay] unless overridden.
func NewModel(scorer Scorer, opts ...ModelOption) *Model {
	m := &Model{scorer: scorer, enter: DefaultModelEnter, stay: DefaultModelStay}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsSpeech implements [Detector]. A scoring failure classifies the frame as
// non-speech: a dropped frame of detection costs at most one frame of onset
// latency, which the segmenter's pre-roll absorbs.
func (m *Model) IsSpeech(frame audio.Frame, speaking bool) bool {
	p, err := m.scorer.Score(frame)
	if err != nil {
		m.warnScore.Do(func() {
			slog.Warn("vad scorer failed, frames score as silence until it recovers", "err", err)
		})
		return false
	}
	threshold := m.enter
	if speaking {
		threshold = m.stay
	}
	return p >= threshold
}

// Reset implements [Detector].
func (m *Model) Reset() {
	m.scorer.Reset()
}

// Close releases the underlying scorer. Not part of [Detector]; callers that
// own the detector's lifecycle reach it via a type assertion.
func (m *Model) Close() error {
	return m.scorer.Close()
}
