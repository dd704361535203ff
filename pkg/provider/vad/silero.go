package vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/vocantra/vocantra/pkg/audio"
)

// sileroWindow is the frame size the Silero runtime expects at 16 kHz. The
// pipeline's 480-sample frames do not line up with it, so the scorer carries
// a rebuffer between the two.
const sileroWindow = 512

// Silero scores frames with the Silero VAD ONNX model. The runtime reports
// speech start/end events rather than raw probabilities, so Score collapses
// to 1 while a speech stream is active and 0 otherwise; the graded
// thresholds in [Model] then act as a plain gate. Construction loads the
// model, which is the expensive part; per-frame scoring is cheap.
type Silero struct {
	det    *speech.Detector
	carry  []float32
	active bool
}

var _ Scorer = (*Silero)(nil)

// SileroOption configures a [Silero] scorer.
type SileroOption func(*speech.DetectorConfig)

// WithSileroThreshold overrides the runtime's internal speech probability
// threshold. Defaults to [DefaultModelEnter] so the model enters speech at
// the same point the pipeline does.
func WithSileroThreshold(t float32) SileroOption {
	return func(cfg *speech.DetectorConfig) {
		cfg.Threshold = t
	}
}

// NewSilero loads the ONNX model at modelPath. A missing or unreadable model
// is a startup failure; callers are expected to fall back to [Energy] only
// by explicit configuration, not silently.
func NewSilero(modelPath string, opts ...SileroOption) (*Silero, error) {
	cfg := speech.DetectorConfig{
		ModelPath:  modelPath,
		SampleRate: audio.TargetRate,
		Threshold:  DefaultModelEnter,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	det, err := speech.NewDetector(cfg)
	if err != nil {
		return nil, fmt.Errorf("vad: load silero model %q: %w", modelPath, err)
	}
	return &Silero{det: det, carry: make([]float32, 0, sileroWindow*2)}, nil
}

// Score implements [Scorer].
func (s *Silero) Score(frame audio.Frame) (float64, error) {
	s.carry = append(s.carry, frame...)

	off := 0
	for len(s.carry)-off >= sileroWindow {
		window := s.carry[off : off+sileroWindow]
		off += sileroWindow

		event, err := s.det.DetectStreamFrame(window)
		if err != nil {
			// The runtime signals a desynced stream this way; recover by
			// resetting rather than poisoning every later frame.
			if err.Error() == "unexpected speech end" {
				s.det.Reset()
				s.active = false
				continue
			}
			s.compact(off)
			return 0, fmt.Errorf("vad: silero inference: %w", err)
		}
		if event != nil {
			if event.IsStart {
				s.active = true
			}
			if event.IsEnd {
				s.active = false
			}
		}
	}
	s.compact(off)

	if s.active {
		return 1, nil
	}
	return 0, nil
}

func (s *Silero) compact(off int) {
	if off == 0 {
		return
	}
	n := copy(s.carry, s.carry[off:])
	s.carry = s.carry[:n]
}

// Reset implements [Scorer].
func (s *Silero) Reset() {
	s.carry = s.carry[:0]
	s.active = false
	s.det.Reset()
}

// Close implements [Scorer].
func (s *Silero) Close() error {
	if s.det == nil {
		return nil
	}
	err := s.det.Destroy()
	s.det = nil
	return err
}
