package resilience

import (
	"context"
	"fmt"

	"github.com/vocantra/vocantra/pkg/provider/llm"
	"github.com/vocantra/vocantra/pkg/provider/stt"
	"github.com/vocantra/vocantra/pkg/provider/tts"
)

// ─── STT ─────────────────────────────────────────────────────────────────────

// Transcriber wraps an [stt.Transcriber] with a [Breaker]. While the breaker
// is open every Transcribe call returns [ErrOpen] immediately; the pipeline
// logs the failure and moves on to the next segment.
type Transcriber struct {
	inner stt.Transcriber
	br    *Breaker
}

var _ stt.Transcriber = (*Transcriber)(nil)

// NewTranscriber guards inner with br.
func NewTranscriber(inner stt.Transcriber, br *Breaker) *Transcriber {
	return &Transcriber{inner: inner, br: br}
}

func (t *Transcriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	var text string
	err := t.br.Do(func() error {
		var err error
		text, err = t.inner.Transcribe(ctx, samples)
		return err
	})
	return text, err
}

// Close passes through; lifecycle calls are not breaker-guarded.
func (t *Transcriber) Close() error { return t.inner.Close() }

// ─── TTS ─────────────────────────────────────────────────────────────────────

// Synthesizer wraps a [tts.Synthesizer] with a [Breaker]. A reply whose
// synthesis is rejected comes out silent, which beats blocking the playback
// queue behind a dead backend.
type Synthesizer struct {
	inner tts.Synthesizer
	br    *Breaker
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer guards inner with br.
func NewSynthesizer(inner tts.Synthesizer, br *Breaker) *Synthesizer {
	return &Synthesizer{inner: inner, br: br}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	var (
		samples []float32
		rate    int
	)
	err := s.br.Do(func() error {
		var err error
		samples, rate, err = s.inner.Synthesize(ctx, text)
		return err
	})
	return samples, rate, err
}

// Close passes through; lifecycle calls are not breaker-guarded.
func (s *Synthesizer) Close() error { return s.inner.Close() }

// ─── LLM ─────────────────────────────────────────────────────────────────────

// LLM wraps an [llm.Provider] with a [Breaker]. Streaming needs two-phase
// accounting: the breaker admits the call when the stream starts, but the
// outcome is only known once the stream ends, because backend errors after
// the first chunk arrive as a chunk with FinishReason "error" rather than as
// a return value. The guard relays the stream and settles the breaker when
// the relay finishes.
type LLM struct {
	inner llm.Provider
	br    *Breaker
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM guards inner with br.
func NewLLM(inner llm.Provider, br *Breaker) *LLM {
	return &LLM{inner: inner, br: br}
}

// StreamCompletion starts the guarded stream. The returned channel mirrors
// the inner one and must be drained like any provider stream.
func (g *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if err := g.br.admit(); err != nil {
		return nil, err
	}
	inner, err := g.inner.StreamCompletion(ctx, req)
	if err != nil {
		g.br.settle(err)
		return nil, err
	}

	out := make(chan llm.Chunk, 8)
	go func() {
		defer close(out)
		var streamErr error
		for c := range inner {
			if c.FinishReason == "error" {
				streamErr = fmt.Errorf("llm stream: %s", c.Text)
			}
			select {
			case out <- c:
			case <-ctx.Done():
				for range inner {
				}
				g.br.settle(context.Canceled)
				return
			}
		}
		if ctx.Err() != nil {
			// A cancelled request can surface as an error chunk; do not
			// charge the backend for the user hanging up.
			g.br.settle(context.Canceled)
			return
		}
		g.br.settle(streamErr)
	}()
	return out, nil
}

func (g *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.br.Do(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

// CountTokens is local estimation with no network round trip, so it bypasses
// the breaker.
func (g *LLM) CountTokens(messages []llm.Message) (int, error) {
	return g.inner.CountTokens(messages)
}

// Capabilities bypasses the breaker; the result is static metadata.
func (g *LLM) Capabilities() llm.ModelCapabilities {
	return g.inner.Capabilities()
}
