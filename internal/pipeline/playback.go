package pipeline

import (
	"context"
	"log/slog"

	"github.com/vocantra/vocantra/pkg/audio"
)

const (
	// playChunk is how many samples playback writes per device call: 1600
	// samples is 100 ms at the pipeline rate, the halt-latency bound.
	playChunk = 1600

	// duckThreshold is the microphone RMS above which the user counts as
	// talking over the assistant; duckGain is the playback gain multiplier
	// applied while they do.
	duckThreshold = 0.015
	duckGain      = 0.25
)

// playbackLoop writes queued utterances to the output device. A halt signal
// flushes everything queued; cancellation discards the remainder of the
// stream until the control goroutine closes it.
func (p *Pipeline) playbackLoop(ctx context.Context) error {
	for {
		select {
		case utter, ok := <-p.speech:
			if !ok {
				return nil
			}
			p.playUtterance(ctx, utter)
		case <-p.halt:
			p.flushSpeech()
		case <-ctx.Done():
			// In-flight replies may still be queuing; the control goroutine
			// closes the channel once the last of them finishes.
			audio.Drain(p.speech)
			return nil
		}
	}
}

// playUtterance writes one synthesized utterance in short chunks so a halt,
// a cancelled context or a voice-off toggle takes effect within playChunk
// samples. Gain is applied per chunk, so ducking follows the microphone
// level while the utterance plays.
func (p *Pipeline) playUtterance(ctx context.Context, samples []float32) {
	if p.player == nil {
		return
	}
	p.st.SetTTSPlaying(true)
	defer func() {
		p.st.SetTTSPlaying(false)
		p.st.SetTTSLevel(0)
	}()

	for off := 0; off < len(samples); off += playChunk {
		select {
		case <-p.halt:
			p.flushSpeech()
			return
		case <-ctx.Done():
			return
		default:
		}
		if !p.st.TTSEnabled() {
			return
		}

		end := min(off+playChunk, len(samples))
		chunk := audio.Scale(samples[off:end], p.gain())
		p.st.SetTTSLevel(audio.Frame(chunk).RMS())
		if p.canc != nil && p.st.AECEnabled() {
			p.canc.QueueRender(chunk)
		}
		if err := p.player.Play(chunk); err != nil {
			slog.Error("playback failed, dropping utterance", "err", err)
			return
		}
	}
}

// gain is the per-chunk playback gain: the configured volume, ducked while
// the microphone hears the user over the assistant. Ducking only applies
// with crosstalk on; without it the microphone is suppressed during playback
// and its level reads zero anyway.
func (p *Pipeline) gain() float32 {
	g := p.st.TTSVolume()
	if p.st.CrosstalkEnabled() && p.st.MicLevel() > duckThreshold {
		g *= duckGain
	}
	return float32(g)
}

// flushSpeech discards every queued utterance without closing the channel.
func (p *Pipeline) flushSpeech() {
	for {
		select {
		case _, ok := <-p.speech:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
