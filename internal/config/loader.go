package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper-native", "whisper-server", "deepgram"},
	"tts": {"coqui", "elevenlabs"},
	"vad": {"energy", "silero"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields after decode. Sections whose consumers
// carry their own defaults (the segmenter, the providers) stay zero here.
func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = LogInfo
	}
	if cfg.App.Mode == "" {
		cfg.App.Mode = ModeChat
	}
	if cfg.App.TTSEnabled == nil {
		t := true
		cfg.App.TTSEnabled = &t
	}
	if cfg.App.TTSVolume == 0 {
		cfg.App.TTSVolume = 1.0
	}
	if cfg.App.WakeTimeout == 0 {
		cfg.App.WakeTimeout = Duration(30 * time.Second)
	}
	if cfg.Audio.Rate == 0 {
		cfg.Audio.Rate = 16000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Providers.VAD.Name == "" {
		// The energy detector needs no model file, so it is the safe default.
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = 16
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Soft problems are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// App
	if cfg.App.LogLevel != "" && !cfg.App.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("app.log_level %q is invalid; valid values: debug, info, warn, error", cfg.App.LogLevel))
	}
	if cfg.App.Mode != "" && !cfg.App.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("app.mode %q is invalid; valid values: chat, paused, transcribe, notes, command", cfg.App.Mode))
	}
	if cfg.App.TTSVolume < 0 || cfg.App.TTSVolume > 1 {
		errs = append(errs, fmt.Errorf("app.tts_volume %.2f is out of range [0, 1]", cfg.App.TTSVolume))
	}
	if cfg.App.WakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("app.wake_timeout must not be negative"))
	}

	// Audio
	if cfg.Audio.Rate < 0 {
		errs = append(errs, fmt.Errorf("audio.rate %d must be positive", cfg.Audio.Rate))
	}
	if cfg.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be positive", cfg.Audio.Channels))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// The pipeline cannot exist without transcription.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt.name is required"))
	}

	// Provider availability warnings.
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; chat mode cannot generate replies")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; replies will not be spoken")
	}

	// Segmenter: zero means the built-in default, non-zero must be sane.
	if cfg.Segmenter.PreRollFrames < 0 {
		errs = append(errs, fmt.Errorf("segmenter.pre_roll_frames must not be negative"))
	}
	if cfg.Segmenter.OnsetFrames < 0 {
		errs = append(errs, fmt.Errorf("segmenter.onset_frames must not be negative"))
	}
	if cfg.Segmenter.TrailingSilenceFrames < 0 {
		errs = append(errs, fmt.Errorf("segmenter.trailing_silence_frames must not be negative"))
	}
	if cfg.Segmenter.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance must not be negative"))
	}
	if cfg.Segmenter.MinSegment < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_segment must not be negative"))
	}
	if cfg.Segmenter.MinSegment > 0 && cfg.Segmenter.MaxUtterance > 0 &&
		cfg.Segmenter.MinSegment >= cfg.Segmenter.MaxUtterance {
		errs = append(errs, fmt.Errorf("segmenter.min_segment must be shorter than segmenter.max_utterance"))
	}

	// Commands: wake requirement without a phrase can never be satisfied.
	if cfg.App.WakeEnabled && cfg.Commands.WakePhrase == "" {
		errs = append(errs, fmt.Errorf("app.wake_enabled requires commands.wake_phrase"))
	}

	// Malformed command entries are reported here as warnings; [CommandsConfig.Table]
	// skips them again at build time so a bad phrase never blocks startup.
	for i, e := range cfg.Commands.Custom {
		if e.Phrase == "" {
			slog.Warn("command entry has an empty phrase and will be ignored", "index", i)
		}
	}

	// Chat
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}
	if cfg.Chat.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("chat.max_tokens must not be negative"))
	}
	if cfg.Chat.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("chat.history_limit must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
