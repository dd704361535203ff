// Package vad classifies audio frames as speech or non-speech.
//
// The [Detector] interface is deliberately small: one classification call per
// frame plus a reset between utterances. Two implementations ship with the
// package, selected once at construction so the per-frame path carries no
// variant dispatch beyond a single interface call:
//
//   - [Model] scores frames with a learned model behind the [Scorer]
//     interface (production backend: Silero via
//     github.com/streamer45/silero-vad-go, see [NewSilero]).
//   - [Energy] is the dependency-free RMS fallback for environments without
//     the ONNX runtime.
//
// Both apply asymmetric hysteresis: the threshold to enter speech is strictly
// higher than the threshold to remain in speech, which stops the classifier
// flapping at the edges of an utterance. The segmenter passes its current
// speaking state into [Detector.IsSpeech] so the detector can pick the right
// side of the hysteresis.
package vad

import (
	"github.com/vocantra/vocantra/pkg/audio"
)

// Detector classifies one frame at a time. Not safe for concurrent use; the
// segmentation goroutine owns it.
type Detector interface {
	// IsSpeech reports whether frame contains speech. speaking carries the
	// segmenter's current state: when true, the lower "remain in speech"
	// threshold applies; when false, the higher "enter speech" threshold.
	IsSpeech(frame audio.Frame, speaking bool) bool

	// Reset clears internal smoothing state. Called by the segmenter whenever
	// a segment is finalized, so one utterance cannot bleed detection state
	// into the next.
	Reset()
}

// Scorer produces a per-frame speech probability for [Model]. It is the
// narrow interface to the learned model: samples in, a score in [0, 1] out.
type Scorer interface {
	// Score returns the speech probability of frame.
	Score(frame audio.Frame) (float64, error)

	// Reset clears model state between utterances.
	Reset()

	// Close releases model resources. Safe to call more than once.
	Close() error
}
