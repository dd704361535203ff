// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Transcription in this pipeline is segment-synchronous: the segmenter hands
// over one complete utterance and the backend returns its text in a single
// call. Backends wrap either a local whisper.cpp model (CGO bindings or a
// whisper-server instance) or a hosted API such as Deepgram.
package stt

import "context"

// Transcriber converts one finished speech segment into text.
//
// Transcribe may take substantial wall-clock time for long segments; the
// context bounds it. An empty string with a nil error means the backend heard
// no words. samples are mono float32 PCM at the pipeline rate.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)

	// Close releases model or connection resources. Transcribe must not be
	// called after Close.
	Close() error
}
