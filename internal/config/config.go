// Package config provides the configuration schema, loader, and provider
// registry for the Vocantra voice front end.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vocantra/vocantra/internal/command"
	"github.com/vocantra/vocantra/internal/state"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the slog level, defaulting to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Mode selects the application mode finalized text is routed through.
type Mode string

const (
	// ModeChat routes text to the conversational LLM and speaks the reply.
	ModeChat Mode = "chat"

	// ModePaused suspends routing until the wake phrase is heard.
	ModePaused Mode = "paused"

	// ModeTranscribe forwards text to the transcript sink.
	ModeTranscribe Mode = "transcribe"

	// ModeNotes appends text to the note store.
	ModeNotes Mode = "notes"

	// ModeCommand interprets input as control phrases only.
	ModeCommand Mode = "command"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeChat, ModePaused, ModeTranscribe, ModeNotes, ModeCommand:
		return true
	}
	return false
}

// State converts m to the runtime representation. Unknown values map to chat.
func (m Mode) State() state.Mode {
	switch m {
	case ModePaused:
		return state.ModePaused
	case ModeTranscribe:
		return state.ModeTranscribe
	case ModeNotes:
		return state.ModeNoteTaking
	case ModeCommand:
		return state.ModeCommand
	default:
		return state.ModeChat
	}
}

// Duration is a time.Duration that decodes from YAML strings like "500ms"
// or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root configuration structure for Vocantra.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	App       AppConfig       `yaml:"app"`
	Audio     AudioConfig     `yaml:"audio"`
	Providers ProvidersConfig `yaml:"providers"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Commands  CommandsConfig  `yaml:"commands"`
	Chat      ChatConfig      `yaml:"chat"`
	Notes     NotesConfig     `yaml:"notes"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AppConfig holds logging and the initial runtime-state values.
type AppConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Mode is the mode the application starts in.
	Mode Mode `yaml:"mode"`

	// MicMuted starts the microphone muted.
	MicMuted bool `yaml:"mic_muted"`

	// TTSEnabled controls whether replies are spoken. Omitted means on.
	TTSEnabled *bool `yaml:"tts_enabled"`

	// CrosstalkEnabled keeps the microphone processing while playback sounds.
	CrosstalkEnabled bool `yaml:"crosstalk_enabled"`

	// WakeEnabled requires the wake phrase outside an active conversation.
	WakeEnabled bool `yaml:"wake_enabled"`

	// WakeTimeout is the conversation window: how long after the last
	// interaction input is accepted without repeating the wake phrase.
	WakeTimeout Duration `yaml:"wake_timeout"`

	// TTSVolume is the playback gain in [0, 1]. 0 selects the default (1.0);
	// to silence replies set tts_enabled: false instead.
	TTSVolume float64 `yaml:"tts_volume"`
}

// AudioConfig holds capture-device settings.
type AudioConfig struct {
	// Rate is the capture sample rate in Hz. The pipeline resamples to its
	// internal 16 kHz regardless, so capturing at 16000 avoids the resampler.
	Rate int `yaml:"rate"`

	// Channels is the capture channel count; multi-channel input is
	// downmixed by arithmetic mean.
	Channels int `yaml:"channels"`

	// AECEnabled turns on acoustic echo cancellation between playback and
	// capture. Only useful when playback comes out of open speakers.
	AECEnabled bool `yaml:"aec_enabled"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "whisper-native").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For local-server
	// providers (whisper-server, coqui, ollama) it is the server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o",
	// a ggml model path for whisper-native, an ONNX path for silero).
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`
}

// SegmenterConfig tunes the utterance segmenter. Zero values select the
// segmenter's built-in defaults.
type SegmenterConfig struct {
	// PreRollFrames is the capacity of the pre-speech ring prepended to each
	// segment (default 10 frames = 300 ms).
	PreRollFrames int `yaml:"pre_roll_frames"`

	// OnsetFrames is how many consecutive speech frames confirm an utterance
	// start (default 3).
	OnsetFrames int `yaml:"onset_frames"`

	// TrailingSilenceFrames is how many consecutive non-speech frames end an
	// utterance (default 15 frames = 450 ms).
	TrailingSilenceFrames int `yaml:"trailing_silence_frames"`

	// MaxUtterance force-finalizes an utterance at this length (default 10s).
	MaxUtterance Duration `yaml:"max_utterance"`

	// MinSegment discards utterances shorter than this (default 500ms).
	MinSegment Duration `yaml:"min_segment"`

	// PreviewInterval is the minimum audio time between in-progress preview
	// snapshots (default 500ms).
	PreviewInterval Duration `yaml:"preview_interval"`
}

// CommandsConfig holds the spoken-phrase tables. The whole section is safe to
// hot-reload (see [Diff]).
type CommandsConfig struct {
	// WakePhrase is the lead-in required outside an active conversation.
	WakePhrase string `yaml:"wake_phrase"`

	// StopPhrases halt playback immediately when heard.
	StopPhrases []string `yaml:"stop_phrases"`

	// Custom is the phrase→action table checked after the built-in commands.
	Custom []CommandEntry `yaml:"custom"`
}

// CommandEntry is one configured phrase→action pair. Action forms:
// "mode:<chat|paused|transcribe|notes|command>",
// "toggle:<mic|tts|crosstalk|wake|aec>", or "custom:<payload>".
type CommandEntry struct {
	Phrase string `yaml:"phrase"`
	Action string `yaml:"action"`
}

// ChatConfig tunes the conversational LLM loop.
type ChatConfig struct {
	// SystemPrompt is prepended to every LLM request.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature is the sampling temperature. 0 uses the provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the reply length. 0 uses the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// HistoryLimit bounds the number of messages kept in the conversation
	// window (default 16). The window is additionally trimmed to fit the
	// model's context size.
	HistoryLimit int `yaml:"history_limit"`
}

// NotesConfig holds settings for the persistent transcript/note store.
type NotesConfig struct {
	// Dir is the badger database directory. Empty keeps notes in memory for
	// the lifetime of the process.
	Dir string `yaml:"dir"`
}

// MetricsConfig enables the observability HTTP listener.
type MetricsConfig struct {
	// ListenAddr serves Prometheus /metrics plus health probes when non-empty
	// (e.g., "127.0.0.1:9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`
}

// StateOptions converts the configured initial values into the runtime
// state's constructor options.
func (c *Config) StateOptions() state.Options {
	ttsEnabled := true
	if c.App.TTSEnabled != nil {
		ttsEnabled = *c.App.TTSEnabled
	}
	return state.Options{
		Mode:             c.App.Mode.State(),
		MicMuted:         c.App.MicMuted,
		TTSEnabled:       ttsEnabled,
		CrosstalkEnabled: c.App.CrosstalkEnabled,
		AECEnabled:       c.Audio.AECEnabled,
		WakeEnabled:      c.App.WakeEnabled,
		TTSVolume:        c.App.TTSVolume,
		WakeTimeout:      time.Duration(c.App.WakeTimeout),
	}
}

// Table converts the custom command entries into the matcher's table.
// Malformed entries are skipped with a warning; a bad phrase must not keep
// the rest of the configuration from loading.
func (c CommandsConfig) Table() []command.Command {
	out := make([]command.Command, 0, len(c.Custom))
	for i, e := range c.Custom {
		cmd, err := command.Parse(e.Phrase, e.Action)
		if err != nil {
			slog.Warn("skipping malformed command entry",
				"index", i,
				"phrase", e.Phrase,
				"action", e.Action,
				"err", err,
			)
			continue
		}
		out = append(out, cmd)
	}
	return out
}

// MatcherConfig assembles the full matcher configuration from the section.
func (c CommandsConfig) MatcherConfig() command.Config {
	return command.Config{
		StopPhrases: c.StopPhrases,
		WakePhrase:  c.WakePhrase,
		Commands:    c.Table(),
	}
}
