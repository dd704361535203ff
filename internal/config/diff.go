package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the log level,
// the spoken-phrase tables, and the playback volume. Everything else
// (providers, audio device, segmenter tuning) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CommandsChanged is true when the wake phrase, stop phrases, or custom
	// table differ. The consumer rebuilds the matcher from the new section.
	CommandsChanged bool

	TTSVolumeChanged bool
	NewTTSVolume     float64
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.CommandsChanged || d.TTSVolumeChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.App.LogLevel != new.App.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.App.LogLevel
	}

	if commandsChanged(old.Commands, new.Commands) {
		d.CommandsChanged = true
	}

	if old.App.TTSVolume != new.App.TTSVolume {
		d.TTSVolumeChanged = true
		d.NewTTSVolume = new.App.TTSVolume
	}

	return d
}

// commandsChanged reports whether any part of the phrase tables differs.
func commandsChanged(old, new CommandsConfig) bool {
	if old.WakePhrase != new.WakePhrase {
		return true
	}
	if !slices.Equal(old.StopPhrases, new.StopPhrases) {
		return true
	}
	return !slices.Equal(old.Custom, new.Custom)
}
