package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vocantra/vocantra/internal/command"
	"github.com/vocantra/vocantra/internal/state"
	"github.com/vocantra/vocantra/pkg/audio"
)

// controlLoop is the single consumer of finalized transcripts: it applies
// the wake gate, classifies control phrases, mutates runtime state and routes
// pass-through text to the current mode's consumer. During the shutdown drain
// it still persists sink-mode transcripts but starts no new replies.
func (p *Pipeline) controlLoop(ctx context.Context) error {
	for {
		select {
		case tr, ok := <-p.transcripts:
			if !ok {
				return nil
			}
			p.metrics.QueueAdd(ctx, "transcripts", -1)
			p.handleTranscript(ctx, tr)
		case <-ctx.Done():
			for tr := range p.transcripts {
				p.metrics.QueueAdd(ctx, "transcripts", -1)
				p.sinkOnly(tr)
			}
			return nil
		}
	}
}

// handleTranscript processes one finalized transcript end to end.
func (p *Pipeline) handleTranscript(ctx context.Context, tr audio.Transcript) {
	m := p.matcher.Load()
	text := tr.Text

	if p.wakeRequired() {
		// Stop phrases are exempt from the wake gate: halting playback must
		// never require the lead-in.
		if res := m.Match(text); res.Op == command.OpStop {
			p.applyCommand(ctx, res)
			return
		}
		rest, ok := m.DetectWake(text)
		if !ok {
			slog.Debug("discarding input, wake phrase required", "text", text)
			return
		}
		p.metrics.RecordCommandMatch(ctx, "wake")
		p.st.UpdateLastInteraction()
		if strings.TrimSpace(rest) == "" {
			slog.Info("wake phrase accepted, conversation window open")
			return
		}
		text = rest
	} else {
		p.st.UpdateLastInteraction()
	}

	res := m.Match(text)
	if res.Op == command.OpPassThrough {
		tr.Text = res.Text
		p.routeText(ctx, tr)
		return
	}
	p.applyCommand(ctx, res)
}

// wakeRequired reports whether input must begin with the wake phrase: wake
// detection is on, and either the assistant is paused or the conversation
// window has lapsed.
func (p *Pipeline) wakeRequired() bool {
	if !p.st.WakeEnabled() {
		return false
	}
	return p.st.Mode() == state.ModePaused || p.st.InWakeTimeout()
}

// applyCommand executes one classified control phrase against the runtime
// state.
func (p *Pipeline) applyCommand(ctx context.Context, res command.Result) {
	kind := "builtin"
	switch res.Op {
	case command.OpStop:
		kind = "stop"
	case command.OpCustom, command.OpToggleMic, command.OpToggleTTS,
		command.OpToggleCrosstalk, command.OpToggleWake, command.OpToggleAEC:
		kind = "custom"
	}
	p.metrics.RecordCommandMatch(ctx, kind)
	slog.Info("command matched", "phrase", res.Phrase, "kind", kind)

	switch res.Op {
	case command.OpStop:
		p.haltPlayback()
	case command.OpMicMute:
		p.st.SetMicMuted(true)
	case command.OpMicUnmute:
		p.st.SetMicMuted(false)
	case command.OpTTSOn:
		p.st.SetTTSEnabled(true)
	case command.OpTTSOff:
		p.st.SetTTSEnabled(false)
	case command.OpCrosstalkOn:
		p.st.SetCrosstalkEnabled(true)
	case command.OpCrosstalkOff:
		p.st.SetCrosstalkEnabled(false)
	case command.OpWakeOn:
		p.st.SetWakeEnabled(true)
	case command.OpWakeOff:
		p.st.SetWakeEnabled(false)
	case command.OpShutdown:
		slog.Info("shutdown requested by voice")
		if p.shutdown != nil {
			p.shutdown()
		}
	case command.OpSetMode:
		p.setMode(res.Mode)
	case command.OpToggleMic:
		p.st.SetMicMuted(!p.st.MicMuted())
	case command.OpToggleTTS:
		p.st.SetTTSEnabled(!p.st.TTSEnabled())
	case command.OpToggleCrosstalk:
		p.st.SetCrosstalkEnabled(!p.st.CrosstalkEnabled())
	case command.OpToggleWake:
		p.st.SetWakeEnabled(!p.st.WakeEnabled())
	case command.OpToggleAEC:
		p.st.SetAECEnabled(!p.st.AECEnabled())
	case command.OpCustom:
		if p.onCustom != nil {
			p.onCustom(res.Action)
		} else {
			slog.Info("custom command", "action", res.Action)
		}
	}
}

// setMode switches the application mode. Entering Paused also silences the
// assistant: going to sleep mid-reply stops the reply.
func (p *Pipeline) setMode(m state.Mode) {
	old := p.st.Mode()
	if old == m {
		return
	}
	p.st.SetMode(m)
	slog.Info("mode switched", "from", old, "to", m)
	if m == state.ModePaused {
		p.haltPlayback()
	}
}

// routeText delivers pass-through text to the current mode's consumer.
func (p *Pipeline) routeText(ctx context.Context, tr audio.Transcript) {
	switch p.st.Mode() {
	case state.ModeChat:
		p.startReply(ctx, tr.Text)
	case state.ModeTranscribe, state.ModeNoteTaking:
		p.sink(tr)
	case state.ModeCommand:
		slog.Debug("no command matched, input dropped", "text", tr.Text)
	case state.ModePaused:
		slog.Debug("paused, input dropped", "text", tr.Text)
	}
}

// sink persists one finalized transcript to the note store, the consumer for
// the transcribe and note-taking modes.
func (p *Pipeline) sink(tr audio.Transcript) {
	slog.Info("transcript", "line", tr.Line())
	if p.store == nil {
		return
	}
	if err := p.store.Append(tr); err != nil {
		slog.Error("note append failed", "err", err)
	}
}

// sinkOnly is the drain-phase consumer: sink-mode transcripts are still
// persisted, everything else is discarded.
func (p *Pipeline) sinkOnly(tr audio.Transcript) {
	if p.wakeRequired() {
		return
	}
	switch p.st.Mode() {
	case state.ModeTranscribe, state.ModeNoteTaking:
		p.sink(tr)
	}
}

// haltPlayback stops the current utterance, flushes queued speech and aborts
// any in-flight reply generation.
func (p *Pipeline) haltPlayback() {
	p.st.SetCancelRequested(true)
	select {
	case p.halt <- struct{}{}:
	default: // a halt is already pending
	}
}
