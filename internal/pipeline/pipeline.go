// Package pipeline wires capture, segmentation, transcription, command
// interpretation and the reply path into one running voice loop.
//
// Data moves through bounded channels between dedicated stage goroutines:
//
//	capture ──frames──▶ segmentation ──segments──▶ transcription
//	                                                    │
//	                                               transcripts
//	                                                    ▼
//	playback ◀──speech── reply ◀─────────────────── control
//
// Every stage owns its outbound channel and closes it once its inbound side
// is exhausted, so shutdown cascades from the top: cancelling the run context
// stops the capture source and closes the frame channel, and each later stage
// drains what is already buffered before returning. Queued segments still get
// transcribed and sink-mode transcripts still get persisted during the drain;
// only new replies are not started.
//
// Single-goroutine resources stay pinned: the resampler belongs to the
// capture callback, the segmenter and echo canceller to the segmentation
// goroutine, the transcriber to the transcription goroutine. Stages share
// nothing but channels and the lock-free runtime [state.State].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocantra/vocantra/internal/aec"
	"github.com/vocantra/vocantra/internal/command"
	"github.com/vocantra/vocantra/internal/notes"
	"github.com/vocantra/vocantra/internal/observe"
	"github.com/vocantra/vocantra/internal/segment"
	"github.com/vocantra/vocantra/internal/state"
	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/provider/llm"
	"github.com/vocantra/vocantra/pkg/provider/stt"
	"github.com/vocantra/vocantra/pkg/provider/tts"
	"github.com/vocantra/vocantra/pkg/provider/vad"
)

const (
	// frameBuf is the capture→segmentation channel depth: 100 frames of
	// 30 ms each, three seconds of headroom before capture feels
	// backpressure.
	frameBuf = 100

	// segmentBuf and transcriptBuf bound the hand-offs between the slower
	// stages. Depth 8 absorbs a transcription stall without hoarding
	// unbounded audio.
	segmentBuf    = 8
	transcriptBuf = 8

	// speechBuf bounds synthesized utterances waiting for the speaker; the
	// reply path blocks once it is this far ahead of playback.
	speechBuf = 8
)

// Config carries the pipeline's collaborators. State, Source, Detector and
// Transcriber are required; every nil optional disables its feature.
type Config struct {
	State   *state.State
	Metrics *observe.Metrics // nil uses observe.DefaultMetrics

	Source      audio.Source
	Player      audio.Player    // nil disables playback
	Detector    vad.Detector
	Transcriber stt.Transcriber
	LLM         llm.Provider    // nil disables chat replies
	Synthesizer tts.Synthesizer // nil disables synthesis
	Notes       *notes.Store    // nil disables the transcript sink
	Canceller   *aec.Canceller  // nil disables echo cancellation

	// Matcher classifies transcripts into commands. Nil means an empty
	// matcher: no stop phrases, no wake phrase, everything passes through.
	Matcher *command.Matcher

	// Segmenter options are forwarded to the segmenter during construction.
	Segmenter []segment.Option

	Chat ChatConfig

	// OnCustom receives the payload of matched custom commands. Nil payloads
	// are just logged.
	OnCustom func(action string)

	// OnShutdown is invoked when a shutdown phrase is matched, typically the
	// run context's cancel function.
	OnShutdown func()
}

// Pipeline owns the stage goroutines and the channels between them. Create
// one with [New], drive it with [Run]; a Pipeline cannot be reused after Run
// returns.
type Pipeline struct {
	st      *state.State
	metrics *observe.Metrics

	src    audio.Source
	player audio.Player
	sttP   stt.Transcriber
	llmP   llm.Provider
	ttsP   tts.Synthesizer
	store  *notes.Store
	canc   *aec.Canceller

	matcher atomic.Pointer[command.Matcher]

	chat     ChatConfig
	onCustom func(action string)
	shutdown func()

	seg       *segment.Segmenter
	resampler *audio.Resampler
	aecWasOn  bool // segmentation goroutine only

	frames      chan audio.Frame
	segments    chan audio.Segment
	transcripts chan audio.Transcript
	speech      chan []float32
	halt        chan struct{}

	histMu  sync.Mutex
	history []llm.Message

	// replyWG tracks in-flight reply generations so the control goroutine
	// can close the speech channel only after the last sender is gone.
	replyWG sync.WaitGroup
}

// New validates cfg and builds a Pipeline with its channels, resampler and
// segmenter wired but no goroutines running.
func New(cfg Config) (*Pipeline, error) {
	var errs []error
	if cfg.State == nil {
		errs = append(errs, errors.New("pipeline: state is nil"))
	}
	if cfg.Source == nil {
		errs = append(errs, errors.New("pipeline: audio source is nil"))
	}
	if cfg.Detector == nil {
		errs = append(errs, errors.New("pipeline: vad detector is nil"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("pipeline: transcriber is nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p := &Pipeline{
		st:       cfg.State,
		metrics:  cfg.Metrics,
		src:      cfg.Source,
		player:   cfg.Player,
		sttP:     cfg.Transcriber,
		llmP:     cfg.LLM,
		ttsP:     cfg.Synthesizer,
		store:    cfg.Notes,
		canc:     cfg.Canceller,
		chat:     cfg.Chat,
		onCustom: cfg.OnCustom,
		shutdown: cfg.OnShutdown,

		frames:      make(chan audio.Frame, frameBuf),
		segments:    make(chan audio.Segment, segmentBuf),
		transcripts: make(chan audio.Transcript, transcriptBuf),
		speech:      make(chan []float32, speechBuf),
		halt:        make(chan struct{}, 1),
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	m := cfg.Matcher
	if m == nil {
		m = command.NewMatcher(command.Config{})
	}
	p.matcher.Store(m)

	rate, channels := cfg.Source.Format()
	rs, err := audio.NewResampler(rate, channels, func(f audio.Frame) { p.frames <- f })
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p.resampler = rs

	segOpts := append([]segment.Option{
		segment.WithPreviewDropped(p.countPreviewDrop),
	}, cfg.Segmenter...)
	seg, err := segment.New(cfg.Detector, p.emitSegment, segOpts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p.seg = seg
	return p, nil
}

// SwapMatcher replaces the command matcher. Hot reload calls this when stop
// phrases, the wake phrase or the custom command table change.
func (p *Pipeline) SwapMatcher(m *command.Matcher) {
	if m != nil {
		p.matcher.Store(m)
	}
}

// Run starts every stage and blocks until the in-flight stream is exhausted
// after ctx is cancelled. The returned error is the first stage failure, nil
// on a clean shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	// ── goroutine 1: capture ─────────────────────────────────────────────────
	eg.Go(func() error {
		return p.captureLoop(egCtx)
	})

	// ── goroutine 2: segmentation ────────────────────────────────────────────
	eg.Go(func() error {
		return p.segmentLoop(egCtx)
	})

	// ── goroutine 3: transcription ───────────────────────────────────────────
	eg.Go(func() error {
		return p.transcribeLoop(egCtx)
	})

	// ── goroutine 4: control ─────────────────────────────────────────────────
	eg.Go(func() error {
		defer func() {
			p.replyWG.Wait()
			close(p.speech)
		}()
		return p.controlLoop(egCtx)
	})

	// ── goroutine 5: playback ────────────────────────────────────────────────
	eg.Go(func() error {
		return p.playbackLoop(egCtx)
	})

	return eg.Wait()
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// captureLoop starts the source and parks until cancellation. The device
// callback gates audio on the runtime state and feeds the resampler, whose
// completed frames land on the frame channel; a full channel blocks the
// callback, which capture hardware tolerates for short stalls. The frame
// channel is closed only after the source has stopped, so no send can race
// the close.
func (p *Pipeline) captureLoop(ctx context.Context) error {
	defer close(p.frames)

	onChunk := func(chunk []float32) {
		if !p.st.ShouldProcessAudio() {
			p.st.SetMicLevel(0)
			return
		}
		if err := p.resampler.Process(chunk); err != nil {
			slog.Error("resample failed, dropping chunk", "err", err)
		}
	}
	if err := p.src.Start(onChunk); err != nil {
		return fmt.Errorf("pipeline: start capture: %w", err)
	}

	<-ctx.Done()
	if err := p.src.Stop(); err != nil {
		slog.Warn("capture stop", "err", err)
	}
	p.resampler.Flush()
	return nil
}

// ─── Segmentation ─────────────────────────────────────────────────────────────

// segmentLoop feeds frames through the echo canceller and the segmenter. On
// cancellation it keeps consuming until capture closes the frame channel, so
// a blocked send can never wedge shutdown, then flushes the segmenter.
func (p *Pipeline) segmentLoop(ctx context.Context) error {
	defer close(p.segments)
	for {
		select {
		case f, ok := <-p.frames:
			if !ok {
				p.seg.Flush()
				return nil
			}
			p.handleFrame(ctx, f)
		case <-ctx.Done():
			for f := range p.frames {
				p.handleFrame(ctx, f)
			}
			p.seg.Flush()
			return nil
		}
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, f audio.Frame) {
	aecOn := p.canc != nil && p.st.AECEnabled()
	if aecOn && !p.aecWasOn {
		// Re-enabled after a gap: the learned echo path is stale.
		p.canc.Reset()
	}
	p.aecWasOn = aecOn
	if aecOn {
		f = p.canc.Process(f)
	}
	p.st.SetMicLevel(f.RMS())
	p.seg.Push(f)
	p.metrics.FramesProcessed.Add(ctx, 1)
}

// emitSegment is the segmenter's emit callback, running inside Push on the
// segmentation goroutine. The send blocks when transcription is this far
// behind, which backs pressure up the frame channel to capture.
func (p *Pipeline) emitSegment(s audio.Segment) {
	ctx := context.Background()
	p.metrics.RecordSegment(ctx, s.Duration().Seconds())
	p.segments <- s
	p.metrics.QueueAdd(ctx, "segments", 1)
}

func (p *Pipeline) countPreviewDrop() {
	p.metrics.PreviewsDropped.Add(context.Background(), 1)
}

// ─── Transcription ────────────────────────────────────────────────────────────

// transcribeLoop turns segments into transcripts. Finished segments take
// priority over previews; the transcriber is exclusive, so both run on this
// goroutine. On cancellation every queued segment is still transcribed with
// a fresh background context, since a transcription call that already has
// its audio is allowed to run to completion.
func (p *Pipeline) transcribeLoop(ctx context.Context) error {
	defer close(p.transcripts)
	previews := p.seg.Previews()
	for {
		select {
		case s, ok := <-p.segments:
			if !ok {
				return nil
			}
			p.metrics.QueueAdd(ctx, "segments", -1)
			p.transcribeSegment(ctx, s)
			continue
		default:
		}

		select {
		case s, ok := <-p.segments:
			if !ok {
				return nil
			}
			p.metrics.QueueAdd(ctx, "segments", -1)
			p.transcribeSegment(ctx, s)
		case s := <-previews:
			p.transcribePreview(ctx, s)
		case <-ctx.Done():
			drainCtx := context.Background()
			for s := range p.segments {
				p.metrics.QueueAdd(drainCtx, "segments", -1)
				p.transcribeSegment(drainCtx, s)
			}
			return nil
		}
	}
}

// transcribeSegment runs STT over one finished segment and forwards the
// result. Errors drop the segment; empty text is silence the detector let
// through and is discarded without a transcript.
func (p *Pipeline) transcribeSegment(ctx context.Context, s audio.Segment) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	defer span.End()

	start := time.Now()
	text, err := p.sttP.Transcribe(ctx, s.Samples)
	if err != nil {
		p.metrics.RecordProviderError(ctx, "stt", "transcribe")
		observe.Logger(ctx).Error("transcription failed, dropping segment",
			"err", err, "audio", s.Duration())
		return
	}
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	tr := audio.Transcript{Start: s.Start(), End: s.End(), Text: text}
	observe.Logger(ctx).Debug("segment transcribed", "transcript", tr.Line())
	p.transcripts <- tr
	p.metrics.QueueAdd(ctx, "transcripts", 1)
}

// transcribePreview runs STT over an in-progress snapshot. The result is
// advisory live feedback: it is logged but never routed, because the final
// segment re-transcribes the whole utterance anyway.
func (p *Pipeline) transcribePreview(ctx context.Context, s audio.Segment) {
	text, err := p.sttP.Transcribe(ctx, s.Samples)
	if err != nil {
		p.metrics.RecordProviderError(ctx, "stt", "preview")
		slog.Debug("preview transcription failed", "err", err)
		return
	}
	if text = strings.TrimSpace(text); text != "" {
		slog.Debug("preview", "text", text, "audio", s.Duration())
	}
}
