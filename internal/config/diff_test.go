package config_test

import (
	"testing"

	"github.com/vocantra/vocantra/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		App: config.AppConfig{LogLevel: config.LogInfo, TTSVolume: 1.0},
		Commands: config.CommandsConfig{
			WakePhrase:  "hey vocantra",
			StopPhrases: []string{"stop"},
			Custom: []config.CommandEntry{
				{Phrase: "note mode", Action: "mode:notes"},
			},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Error("expected Any()=false for identical configs")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.CommandsChanged {
		t.Error("expected CommandsChanged=false for identical configs")
	}
	if d.TTSVolumeChanged {
		t.Error("expected TTSVolumeChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{App: config.AppConfig{LogLevel: config.LogInfo}}
	new := &config.Config{App: config.AppConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if !d.Any() {
		t.Error("expected Any()=true")
	}
}

func TestDiff_TTSVolumeChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{App: config.AppConfig{TTSVolume: 1.0}}
	new := &config.Config{App: config.AppConfig{TTSVolume: 0.5}}

	d := config.Diff(old, new)
	if !d.TTSVolumeChanged {
		t.Error("expected TTSVolumeChanged=true")
	}
	if d.NewTTSVolume != 0.5 {
		t.Errorf("expected NewTTSVolume=0.5, got %.2f", d.NewTTSVolume)
	}
}

func TestDiff_WakePhraseChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Commands: config.CommandsConfig{WakePhrase: "hey vocantra"}}
	new := &config.Config{Commands: config.CommandsConfig{WakePhrase: "okay vocantra"}}

	d := config.Diff(old, new)
	if !d.CommandsChanged {
		t.Error("expected CommandsChanged=true for wake phrase edit")
	}
}

func TestDiff_StopPhraseAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{Commands: config.CommandsConfig{StopPhrases: []string{"stop"}}}
	new := &config.Config{Commands: config.CommandsConfig{StopPhrases: []string{"stop", "be quiet"}}}

	d := config.Diff(old, new)
	if !d.CommandsChanged {
		t.Error("expected CommandsChanged=true for stop phrase addition")
	}
}

func TestDiff_CustomEntryEdited(t *testing.T) {
	t.Parallel()
	old := &config.Config{Commands: config.CommandsConfig{
		Custom: []config.CommandEntry{{Phrase: "note mode", Action: "mode:notes"}},
	}}
	new := &config.Config{Commands: config.CommandsConfig{
		Custom: []config.CommandEntry{{Phrase: "note mode", Action: "mode:command"}},
	}}

	d := config.Diff(old, new)
	if !d.CommandsChanged {
		t.Error("expected CommandsChanged=true for custom entry edit")
	}
}

func TestDiff_CustomEntryRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{Commands: config.CommandsConfig{
		Custom: []config.CommandEntry{
			{Phrase: "note mode", Action: "mode:notes"},
			{Phrase: "save that", Action: "custom:save"},
		},
	}}
	new := &config.Config{Commands: config.CommandsConfig{
		Custom: []config.CommandEntry{
			{Phrase: "note mode", Action: "mode:notes"},
		},
	}}

	d := config.Diff(old, new)
	if !d.CommandsChanged {
		t.Error("expected CommandsChanged=true for custom entry removal")
	}
}

func TestDiff_RestartOnlyFieldsIgnored(t *testing.T) {
	t.Parallel()
	// Provider and audio changes need a restart; the diff must not report them.
	old := &config.Config{
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "whisper-native"}},
		Audio:     config.AudioConfig{Rate: 16000},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "deepgram"}},
		Audio:     config.AudioConfig{Rate: 48000},
	}

	d := config.Diff(old, new)
	if d.Any() {
		t.Error("expected Any()=false for restart-only field changes")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		App:      config.AppConfig{LogLevel: config.LogInfo, TTSVolume: 1.0},
		Commands: config.CommandsConfig{StopPhrases: []string{"stop"}},
	}
	new := &config.Config{
		App:      config.AppConfig{LogLevel: config.LogWarn, TTSVolume: 0.3},
		Commands: config.CommandsConfig{StopPhrases: []string{"halt"}},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.CommandsChanged {
		t.Error("expected CommandsChanged=true")
	}
	if !d.TTSVolumeChanged {
		t.Error("expected TTSVolumeChanged=true")
	}
	if d.NewLogLevel != config.LogWarn {
		t.Errorf("expected NewLogLevel=warn, got %q", d.NewLogLevel)
	}
	if d.NewTTSVolume != 0.3 {
		t.Errorf("expected NewTTSVolume=0.3, got %.2f", d.NewTTSVolume)
	}
}
