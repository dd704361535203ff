// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer wraps a speech synthesis service (a local Coqui server, the
// ElevenLabs API) and renders one utterance per call. The pipeline already
// cuts assistant replies into sentence-sized chunks before speaking them, so
// Synthesize is synchronous: it returns the complete PCM for the given text
// together with its native sample rate, and the playback stage converts to
// the output device rate.
package tts

import "context"

// Synthesizer is the abstraction over any text-to-speech backend.
//
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	// Synthesize renders text as mono PCM samples in [-1, 1] and reports the
	// sample rate of the returned audio. Empty or whitespace-only text returns
	// (nil, 0, nil) without contacting the backend.
	//
	// Synthesize blocks until the utterance is fully rendered or ctx is
	// cancelled.
	Synthesize(ctx context.Context, text string) (samples []float32, rate int, err error)

	// Close releases any resources held by the synthesizer. The synthesizer
	// must not be used after Close returns.
	Close() error
}
