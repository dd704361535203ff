// Package state holds the process-wide runtime state shared by every
// pipeline stage.
//
// Each field lives in its own atomic cell: flags toggle independently, level
// meters update from the audio path, and the mode switches without touching
// anything else. No multi-field transaction exists anywhere, so readers on
// the capture callback never wait on a lock, and a reader may observe any
// interleaving of recent single-field writes (each field is old-or-new, never
// torn).
//
// A [State] is constructed once at startup from configuration and passed by
// shared reference to the components that need it. It is not a package
// global.
package state

import (
	"math"
	"sync/atomic"
	"time"
)

// Mode is the current application mode. Transitions are unconditional: any
// mode may follow any other.
type Mode int32

const (
	// ModeChat routes finalized text to the conversational LLM.
	ModeChat Mode = iota

	// ModePaused suspends processing until the wake phrase is heard.
	ModePaused

	// ModeTranscribe writes finalized text to the transcript sink without
	// LLM dispatch.
	ModeTranscribe

	// ModeNoteTaking appends finalized text to the note store.
	ModeNoteTaking

	// ModeCommand interprets input as control phrases only.
	ModeCommand
)

// String returns the lower-case mode name used in logs and configuration.
func (m Mode) String() string {
	switch m {
	case ModeChat:
		return "chat"
	case ModePaused:
		return "paused"
	case ModeTranscribe:
		return "transcribe"
	case ModeNoteTaking:
		return "notes"
	case ModeCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Options are the initial values for a [State]. Values are stored as given;
// the config layer supplies the defaults (TTS on, full volume, chat mode).
type Options struct {
	Mode             Mode
	MicMuted         bool
	TTSEnabled       bool
	CrosstalkEnabled bool
	AECEnabled       bool
	WakeEnabled      bool
	TTSVolume        float64

	// WakeTimeout is the conversation window: how long after the last
	// interaction input is accepted without repeating the wake phrase.
	WakeTimeout time.Duration
}

// State is the shared runtime state. All methods are safe for concurrent use
// and lock-free.
type State struct {
	micMuted         atomic.Bool
	ttsEnabled       atomic.Bool
	ttsPlaying       atomic.Bool
	crosstalkEnabled atomic.Bool
	aecEnabled       atomic.Bool
	wakeEnabled      atomic.Bool
	inConversation   atomic.Bool
	llmGenerating    atomic.Bool
	cancelRequested  atomic.Bool

	micLevel  atomic.Uint64 // float64 bits
	ttsVolume atomic.Uint64 // float64 bits
	ttsLevel  atomic.Uint64 // float64 bits

	lastInteraction atomic.Int64 // unix nanos, 0 = never
	mode            atomic.Int32

	wakeTimeout time.Duration
}

// New creates a State initialised from opts.
func New(opts Options) *State {
	s := &State{wakeTimeout: opts.WakeTimeout}
	s.micMuted.Store(opts.MicMuted)
	s.ttsEnabled.Store(opts.TTSEnabled)
	s.crosstalkEnabled.Store(opts.CrosstalkEnabled)
	s.aecEnabled.Store(opts.AECEnabled)
	s.wakeEnabled.Store(opts.WakeEnabled)
	s.mode.Store(int32(opts.Mode))
	s.SetTTSVolume(opts.TTSVolume)
	return s
}

// ─── Flags ───────────────────────────────────────────────────────────────────

// MicMuted reports whether microphone input is muted.
func (s *State) MicMuted() bool { return s.micMuted.Load() }

// SetMicMuted mutes or unmutes microphone input.
func (s *State) SetMicMuted(v bool) { s.micMuted.Store(v) }

// TTSEnabled reports whether replies are synthesized at all.
func (s *State) TTSEnabled() bool { return s.ttsEnabled.Load() }

// SetTTSEnabled enables or disables speech synthesis.
func (s *State) SetTTSEnabled(v bool) { s.ttsEnabled.Store(v) }

// TTSPlaying reports whether synthesized audio is currently sounding.
func (s *State) TTSPlaying() bool { return s.ttsPlaying.Load() }

// SetTTSPlaying is maintained by the playback loop around each utterance.
func (s *State) SetTTSPlaying(v bool) { s.ttsPlaying.Store(v) }

// CrosstalkEnabled reports whether microphone input keeps processing while
// playback sounds.
func (s *State) CrosstalkEnabled() bool { return s.crosstalkEnabled.Load() }

// SetCrosstalkEnabled toggles processing-during-playback.
func (s *State) SetCrosstalkEnabled(v bool) { s.crosstalkEnabled.Store(v) }

// AECEnabled reports whether the echo canceller is active.
func (s *State) AECEnabled() bool { return s.aecEnabled.Load() }

// SetAECEnabled toggles the echo canceller.
func (s *State) SetAECEnabled(v bool) { s.aecEnabled.Store(v) }

// WakeEnabled reports whether the wake phrase is required outside an active
// conversation.
func (s *State) WakeEnabled() bool { return s.wakeEnabled.Load() }

// SetWakeEnabled toggles the wake phrase requirement.
func (s *State) SetWakeEnabled(v bool) { s.wakeEnabled.Store(v) }

// InConversation reports whether a conversation window is open.
func (s *State) InConversation() bool { return s.inConversation.Load() }

// SetInConversation opens or closes the conversation window.
func (s *State) SetInConversation(v bool) { s.inConversation.Store(v) }

// LLMGenerating reports whether a completion stream is in flight.
func (s *State) LLMGenerating() bool { return s.llmGenerating.Load() }

// SetLLMGenerating is maintained by the conversation loop around each
// completion.
func (s *State) SetLLMGenerating(v bool) { s.llmGenerating.Store(v) }

// CancelRequested reports whether the user asked to cancel the in-flight
// generation and playback.
func (s *State) CancelRequested() bool { return s.cancelRequested.Load() }

// SetCancelRequested raises or clears the cancel request.
func (s *State) SetCancelRequested(v bool) { s.cancelRequested.Store(v) }

// ─── Levels ──────────────────────────────────────────────────────────────────

// MicLevel returns the most recent microphone input level in [0, 1].
func (s *State) MicLevel() float64 { return math.Float64frombits(s.micLevel.Load()) }

// SetMicLevel stores the microphone level, clamped to [0, 1].
func (s *State) SetMicLevel(v float64) { s.micLevel.Store(math.Float64bits(clamp01(v))) }

// TTSVolume returns the playback volume in [0, 1].
func (s *State) TTSVolume() float64 { return math.Float64frombits(s.ttsVolume.Load()) }

// SetTTSVolume stores the playback volume, clamped to [0, 1].
func (s *State) SetTTSVolume(v float64) { s.ttsVolume.Store(math.Float64bits(clamp01(v))) }

// TTSLevel returns the most recent playback output level in [0, 1].
func (s *State) TTSLevel() float64 { return math.Float64frombits(s.ttsLevel.Load()) }

// SetTTSLevel stores the playback output level, clamped to [0, 1].
func (s *State) SetTTSLevel(v float64) { s.ttsLevel.Store(math.Float64bits(clamp01(v))) }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ─── Mode & conversation window ──────────────────────────────────────────────

// Mode returns the current application mode.
func (s *State) Mode() Mode { return Mode(s.mode.Load()) }

// SetMode switches the application mode. No mode forbids any transition.
func (s *State) SetMode(m Mode) { s.mode.Store(int32(m)) }

// LastInteraction returns the time of the last accepted interaction, or the
// zero time if none has happened yet.
func (s *State) LastInteraction() time.Time {
	ns := s.lastInteraction.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// UpdateLastInteraction stamps the interaction time and opens the
// conversation window. These are two independent atomic writes, not a
// transaction: a reader may briefly see the new timestamp with the old
// conversation flag. Both converge within one scheduling quantum and nothing
// depends on observing them jointly.
func (s *State) UpdateLastInteraction() {
	s.lastInteraction.Store(time.Now().UnixNano())
	s.inConversation.Store(true)
}

// InWakeTimeout reports whether the conversation window has expired: more
// than the configured wake timeout has passed since the last interaction. A
// state that has never seen an interaction is always in timeout.
func (s *State) InWakeTimeout() bool {
	last := s.lastInteraction.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) > s.wakeTimeout
}

// ShouldProcessAudio reports whether captured audio should flow into the
// pipeline right now: not muted, and either crosstalk is on or nothing is
// playing. This is the duck/suppress-while-speaking gate, derived on every
// read rather than stored.
func (s *State) ShouldProcessAudio() bool {
	return !s.micMuted.Load() && (s.crosstalkEnabled.Load() || !s.ttsPlaying.Load())
}
