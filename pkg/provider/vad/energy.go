package vad

import "github.com/vocantra/vocantra/pkg/audio"

// Default RMS thresholds for the energy detector. Samples are normalized to
// [-1, 1], so these are small absolute values: quiet room noise sits well
// below 0.006 on a typical microphone.
const (
	DefaultEnergyEnter = 0.01
	DefaultEnergyStay  = 0.006
)

// Energy is the threshold fallback detector: a frame is speech when its RMS
// energy clears the threshold for the current hysteresis side. It carries no
// state between frames.
type Energy struct {
	enter float64
	stay  float64
}

var _ Detector = (*Energy)(nil)

// EnergyOption configures an [Energy] detector.
type EnergyOption func(*Energy)

// WithEnergyThresholds overrides the enter/stay RMS thresholds. enter should
// be strictly greater than stay; equal values disable the hysteresis.
func WithEnergyThresholds(enter, stay float64) EnergyOption {
	return func(e *Energy) {
		e.enter = enter
		e.stay = stay
	}
}

// NewEnergy creates an energy detector with [DefaultEnergyEnter] and
// [DefaultEnergyStay] unless overridden.
func NewEnergy(opts ...EnergyOption) *Energy {
	e := &Energy{enter: DefaultEnergyEnter, stay: DefaultEnergyStay}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsSpeech implements [Detector].
func (e *Energy) IsSpeech(frame audio.Frame, speaking bool) bool {
	threshold := e.enter
	if speaking {
		threshold = e.stay
	}
	return frame.RMS() >= threshold
}

// Reset implements [Detector]. The energy detector is stateless, so this is
// a no-op.
func (e *Energy) Reset() {}
