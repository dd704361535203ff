// Package app wires all Vocantra subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the voice pipeline until the context is cancelled
// or a spoken command asks for shutdown, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithSource,
// WithPlayer, etc.). When an option is not provided, New opens real devices
// and stores from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocantra/vocantra/internal/aec"
	"github.com/vocantra/vocantra/internal/command"
	"github.com/vocantra/vocantra/internal/config"
	"github.com/vocantra/vocantra/internal/notes"
	"github.com/vocantra/vocantra/internal/observe"
	"github.com/vocantra/vocantra/internal/pipeline"
	"github.com/vocantra/vocantra/internal/resilience"
	"github.com/vocantra/vocantra/internal/segment"
	"github.com/vocantra/vocantra/internal/state"
	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/audio/device"
	"github.com/vocantra/vocantra/pkg/provider/llm"
	"github.com/vocantra/vocantra/pkg/provider/stt"
	"github.com/vocantra/vocantra/pkg/provider/tts"
	"github.com/vocantra/vocantra/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry;
// the pipeline requires STT and VAD, the rest degrade gracefully.
type Providers struct {
	LLM llm.Provider
	STT stt.Transcriber
	TTS tts.Synthesizer
	VAD vad.Detector
}

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	st       *state.State
	metrics  *observe.Metrics
	store    *notes.Store
	canc     *aec.Canceller
	source   audio.Source
	player   audio.Player
	pipe     *pipeline.Pipeline
	watcher  *config.Watcher
	listener *observe.Listener

	// logLevel, when set, is retargeted on config hot reload.
	logLevel  *slog.LevelVar
	watchPath string

	// quit is closed when a spoken command asks for shutdown.
	quit     chan struct{}
	quitOnce sync.Once

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of opening the microphone.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithPlayer injects a playback sink instead of opening the speaker.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithNotesStore injects a notes store instead of opening one from config.
// The caller keeps ownership; Shutdown will not close an injected store.
func WithNotesStore(s *notes.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics bundle instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the App the process log level so config hot reload can
// adjust it.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithHotReload watches path and applies the hot-reloadable config subset
// (log level, command tables, TTS volume) when the file changes.
func WithHotReload(path string) Option {
	return func(a *App) { a.watchPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: runtime state, provider
// guards, the notes store, audio devices, the pipeline, the config watcher
// and the observability listener.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	guarded := *providers
	a := &App{
		cfg:       cfg,
		providers: &guarded,
		quit:      make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Runtime state ─────────────────────────────────────────────────
	a.st = state.New(cfg.StateOptions())

	// ── 2. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 3. Provider guards ───────────────────────────────────────────────
	a.guardProviders()

	// ── 4. Notes store ───────────────────────────────────────────────────
	if err := a.initNotes(); err != nil {
		return nil, fmt.Errorf("app: init notes: %w", err)
	}

	// ── 5. Echo canceller ────────────────────────────────────────────────
	// Always present: AEC can be enabled at runtime by voice command even
	// when it starts disabled.
	a.canc = aec.New()

	// ── 6. Audio devices ─────────────────────────────────────────────────
	if err := a.initDevices(); err != nil {
		return nil, fmt.Errorf("app: init devices: %w", err)
	}

	// ── 7. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 8. Config hot reload ─────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}

	// ── 9. Observability listener ────────────────────────────────────────
	a.initListener()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// guardProviders wraps each remote backend in a circuit breaker so a dead
// cloud service fails fast instead of stalling the capture loop on network
// timeouts. VAD runs in-process and needs no guard. The app owns closing the
// providers it was handed.
func (a *App) guardProviders() {
	if a.providers.STT != nil {
		a.providers.STT = resilience.NewTranscriber(a.providers.STT,
			resilience.NewBreaker(resilience.BreakerConfig{Name: "stt"}))
		a.closers = append(a.closers, a.providers.STT.Close)
	}
	if a.providers.TTS != nil {
		a.providers.TTS = resilience.NewSynthesizer(a.providers.TTS,
			resilience.NewBreaker(resilience.BreakerConfig{Name: "tts"}))
		a.closers = append(a.closers, a.providers.TTS.Close)
	}
	if a.providers.LLM != nil {
		a.providers.LLM = resilience.NewLLM(a.providers.LLM,
			resilience.NewBreaker(resilience.BreakerConfig{Name: "llm"}))
	}
}

// initNotes opens the configured notes store. An empty directory keeps notes
// in memory for the lifetime of the process.
func (a *App) initNotes() error {
	if a.store != nil {
		return nil
	}
	var opts []notes.Option
	if a.cfg.Notes.Dir == "" {
		opts = append(opts, notes.WithInMemory())
	}
	store, err := notes.Open(a.cfg.Notes.Dir, opts...)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initDevices opens PortAudio capture and playback unless doubles were
// injected. The speaker only opens when a synthesizer is configured; without
// TTS there is nothing to play.
func (a *App) initDevices() error {
	needMic := a.source == nil
	needSpeaker := a.player == nil && a.providers.TTS != nil
	if !needMic && !needSpeaker {
		return nil
	}

	if err := device.Init(); err != nil {
		return err
	}
	if needMic {
		mic, err := device.OpenMic(a.cfg.Audio.Rate, a.cfg.Audio.Channels)
		if err != nil {
			device.Terminate()
			return err
		}
		a.source = mic
	}
	if needSpeaker {
		spk, err := device.OpenSpeaker()
		if err != nil {
			device.Terminate()
			return err
		}
		a.player = spk
		a.closers = append(a.closers, spk.Close)
	}
	a.closers = append(a.closers, device.Terminate)
	return nil
}

// initPipeline builds the five-stage pipeline from the assembled parts.
func (a *App) initPipeline() error {
	pipe, err := pipeline.New(pipeline.Config{
		State:       a.st,
		Metrics:     a.metrics,
		Source:      a.source,
		Player:      a.player,
		Detector:    a.providers.VAD,
		Transcriber: a.providers.STT,
		LLM:         a.providers.LLM,
		Synthesizer: a.providers.TTS,
		Notes:       a.store,
		Canceller:   a.canc,
		Matcher:     command.NewMatcher(a.cfg.Commands.MatcherConfig()),
		Segmenter:   segmenterOptions(a.cfg.Segmenter),
		Chat: pipeline.ChatConfig{
			SystemPrompt: a.cfg.Chat.SystemPrompt,
			Temperature:  a.cfg.Chat.Temperature,
			MaxTokens:    a.cfg.Chat.MaxTokens,
			HistoryLimit: a.cfg.Chat.HistoryLimit,
		},
		OnShutdown: a.requestShutdown,
	})
	if err != nil {
		return err
	}
	a.pipe = pipe
	return nil
}

// initWatcher starts polling the config file when hot reload is on. The
// 2-second interval keeps edits near-immediate without hammering the disk.
func (a *App) initWatcher() error {
	if a.watchPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.watchPath, a.applyConfig, config.WithInterval(2*time.Second))
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// initListener sets up the metrics/health HTTP listener when configured. The
// readiness checker probes the notes store, the one subsystem with durable
// backing.
func (a *App) initListener() {
	if a.cfg.Metrics.ListenAddr == "" {
		return
	}
	a.listener = observe.NewListener(a.cfg.Metrics.ListenAddr, a.metrics, observe.Checker{
		Name: "notes",
		Check: func(context.Context) error {
			_, err := a.store.Sessions()
			return err
		},
	})
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return a.listener.Shutdown(ctx)
	})
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// applyConfig is the watcher callback. It computes the diff and applies the
// hot-reloadable subset: log level, command tables and TTS volume.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CommandsChanged {
		a.pipe.SwapMatcher(command.NewMatcher(new.Commands.MatcherConfig()))
		slog.Info("command tables reloaded")
	}
	if d.TTSVolumeChanged {
		a.st.SetTTSVolume(d.NewTTSVolume)
		slog.Info("tts volume changed", "volume", d.NewTTSVolume)
	}
}

// requestShutdown is the pipeline's shutdown-command hook.
func (a *App) requestShutdown() {
	a.quitOnce.Do(func() { close(a.quit) })
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the observability listener and the pipeline and blocks until
// ctx is cancelled or a spoken command asks for shutdown. A clean stop
// returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.listener != nil {
		if err := a.listener.Start(); err != nil {
			return fmt.Errorf("app: start metrics listener: %w", err)
		}
		slog.Info("metrics listener up", "addr", a.listener.Addr())
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return a.pipe.Run(egCtx)
	})
	eg.Go(func() error {
		select {
		case <-egCtx.Done():
		case <-a.quit:
			slog.Info("shutdown requested by voice command")
			cancel()
		}
		return nil
	})

	slog.Info("app running",
		"mode", a.st.Mode(),
		"wake_enabled", a.st.WakeEnabled(),
		"tts_enabled", a.st.TTSEnabled(),
	)
	return eg.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// segmenterOptions maps the configured knobs onto segmenter options, letting
// zero values fall through to the segmenter defaults.
func segmenterOptions(sc config.SegmenterConfig) []segment.Option {
	var opts []segment.Option
	if sc.PreRollFrames > 0 {
		opts = append(opts, segment.WithPreRoll(sc.PreRollFrames))
	}
	if sc.OnsetFrames > 0 {
		opts = append(opts, segment.WithOnsetFrames(sc.OnsetFrames))
	}
	if sc.TrailingSilenceFrames > 0 {
		opts = append(opts, segment.WithTrailingSilence(sc.TrailingSilenceFrames))
	}
	if d := time.Duration(sc.MaxUtterance); d > 0 {
		opts = append(opts, segment.WithMaxUtterance(d))
	}
	if d := time.Duration(sc.MinSegment); d > 0 {
		opts = append(opts, segment.WithMinSegment(d))
	}
	if d := time.Duration(sc.PreviewInterval); d > 0 {
		opts = append(opts, segment.WithPreviewInterval(d))
	}
	return opts
}
