// Package segment turns a classified frame stream into complete utterances.
//
// The segmenter is a three-phase state machine driven by one VAD verdict per
// frame:
//
//  1. Idle — frames roll through a bounded pre-roll ring; a speech frame
//     starts the onset phase.
//  2. Onset — consecutive speech frames build confidence; a single non-speech
//     frame reverts to Idle with no credit retained. Once enough frames
//     confirm, the whole pre-roll ring is flushed into the utterance buffer
//     so the emitted segment keeps the audio from just before detection.
//  3. Speaking — every frame is accumulated. Sustained trailing silence or
//     reaching the maximum utterance length finalizes the segment.
//
// Finalized utterances shorter than the minimum viable length are dropped
// silently. The detector is reset after every finalization so smoothing state
// never bleeds into the next utterance.
//
// While speaking, snapshots of the in-progress buffer are offered on a lossy
// capacity-1 channel (see [Segmenter.Previews]) so a consumer can transcribe
// ahead of the final boundary. A preview that finds the channel full is
// dropped, not queued; the next one supersedes it anyway.
package segment

import (
	"errors"
	"log/slog"
	"time"

	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/provider/vad"
)

const (
	// DefaultPreRollFrames is how many frames of context precede a confirmed
	// onset in the emitted segment.
	DefaultPreRollFrames = 10

	// DefaultOnsetFrames is how many consecutive speech frames confirm an
	// utterance start.
	DefaultOnsetFrames = 3

	// DefaultTrailingSilenceFrames is how many consecutive non-speech frames
	// end an utterance (15 frames of 30 ms each, 450 ms).
	DefaultTrailingSilenceFrames = 15

	// DefaultMaxUtterance caps a single utterance; longer speech is split.
	DefaultMaxUtterance = 10 * time.Second

	// DefaultMinSegment is the shortest utterance worth transcribing.
	DefaultMinSegment = 500 * time.Millisecond

	// DefaultPreviewInterval is the minimum spacing between preview snapshots
	// of an in-progress utterance.
	DefaultPreviewInterval = 500 * time.Millisecond
)

// Phase is the segmenter's position in the utterance lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOnset
	PhaseSpeaking
)

// String returns the lowercase phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOnset:
		return "onset"
	case PhaseSpeaking:
		return "speaking"
	}
	return "unknown"
}

// ─── Transition function ──────────────────────────────────────────────────────

// phaseState is the complete state-machine value: the phase plus its embedded
// counter (consecutive speech frames during Onset, consecutive non-speech
// frames during Speaking). The zero value is Idle.
type phaseState struct {
	phase Phase
	count int
}

// effect is the buffer operation a transition requests from the segmenter.
type effect int

const (
	effectNone  effect = iota
	effectBegin // onset confirmed: flush the pre-roll ring into the utterance
	effectEnd   // trailing silence reached: finalize the utterance
)

// advance computes the successor state for one classified frame. It is a pure
// function of the current state and the frame class; all buffers live outside
// the state value.
func advance(s phaseState, speech bool, onsetFrames, silenceFrames int) (phaseState, effect) {
	switch s.phase {
	case PhaseIdle:
		if !speech {
			return s, effectNone
		}
		if onsetFrames <= 1 {
			return phaseState{phase: PhaseSpeaking}, effectBegin
		}
		return phaseState{phase: PhaseOnset, count: 1}, effectNone

	case PhaseOnset:
		if !speech {
			// False start: revert fully, no partial credit.
			return phaseState{}, effectNone
		}
		s.count++
		if s.count >= onsetFrames {
			return phaseState{phase: PhaseSpeaking}, effectBegin
		}
		return s, effectNone

	case PhaseSpeaking:
		if speech {
			return phaseState{phase: PhaseSpeaking}, effectNone
		}
		s.count++
		if s.count >= silenceFrames {
			return phaseState{}, effectEnd
		}
		return s, effectNone
	}
	return s, effectNone
}

// ─── Segmenter ────────────────────────────────────────────────────────────────

// Segmenter accumulates classified frames into speech segments.
//
// Finished segments are handed to the emit callback synchronously from within
// [Segmenter.Push]; the callback owns the sample slice. Pushed frames are
// retained until their utterance completes, so callers must not reuse a
// frame's backing array after pushing it.
//
// Segmenter is not safe for concurrent use. The pipeline drives it from a
// single segmentation goroutine.
type Segmenter struct {
	det  vad.Detector
	emit func(audio.Segment)

	onsetFrames   int
	silenceFrames int
	maxSamples    int
	minSamples    int
	previewEvery  int // samples between preview snapshots

	state phaseState
	ring  preRoll
	utter []float32
	start int // absolute sample index of utter[0]
	clock int // absolute samples consumed so far

	previews      chan audio.Segment
	previewMark   int // len(utter) when the last preview was offered
	onPreviewDrop func()
}

// Option configures a Segmenter during construction.
type Option func(*Segmenter)

// WithPreRoll sets the pre-roll ring capacity in frames. With zero capacity
// an emitted segment starts at the frame that confirmed the onset.
func WithPreRoll(frames int) Option {
	return func(s *Segmenter) { s.ring.cap = frames }
}

// WithOnsetFrames sets how many consecutive speech frames confirm an onset.
func WithOnsetFrames(n int) Option {
	return func(s *Segmenter) { s.onsetFrames = n }
}

// WithTrailingSilence sets how many consecutive non-speech frames end an
// utterance.
func WithTrailingSilence(frames int) Option {
	return func(s *Segmenter) { s.silenceFrames = frames }
}

// WithMaxUtterance caps the accumulated utterance length; reaching it forces
// a finalization even while speech continues.
func WithMaxUtterance(d time.Duration) Option {
	return func(s *Segmenter) { s.maxSamples = durationSamples(d) }
}

// WithMinSegment sets the shortest utterance that is emitted rather than
// discarded.
func WithMinSegment(d time.Duration) Option {
	return func(s *Segmenter) { s.minSamples = durationSamples(d) }
}

// WithPreviewInterval sets the minimum audio time between preview snapshots.
func WithPreviewInterval(d time.Duration) Option {
	return func(s *Segmenter) { s.previewEvery = durationSamples(d) }
}

// WithPreviewDropped registers a callback invoked each time a preview snapshot
// is discarded because the preview channel was full. Used for drop counters.
func WithPreviewDropped(fn func()) Option {
	return func(s *Segmenter) { s.onPreviewDrop = fn }
}

// New constructs a Segmenter that classifies frames with det and hands
// finished segments to emit.
func New(det vad.Detector, emit func(audio.Segment), opts ...Option) (*Segmenter, error) {
	s := &Segmenter{
		det:           det,
		emit:          emit,
		onsetFrames:   DefaultOnsetFrames,
		silenceFrames: DefaultTrailingSilenceFrames,
		maxSamples:    durationSamples(DefaultMaxUtterance),
		minSamples:    durationSamples(DefaultMinSegment),
		previewEvery:  durationSamples(DefaultPreviewInterval),
		ring:          preRoll{cap: DefaultPreRollFrames},
		previews:      make(chan audio.Segment, 1),
	}
	for _, o := range opts {
		o(s)
	}

	var errs []error
	if det == nil {
		errs = append(errs, errors.New("segment: detector is nil"))
	}
	if emit == nil {
		errs = append(errs, errors.New("segment: emit callback is nil"))
	}
	if s.ring.cap < 0 {
		errs = append(errs, errors.New("segment: negative pre-roll capacity"))
	}
	if s.onsetFrames < 1 {
		errs = append(errs, errors.New("segment: onset frames must be at least 1"))
	}
	if s.silenceFrames < 1 {
		errs = append(errs, errors.New("segment: trailing silence must be at least 1 frame"))
	}
	if s.maxSamples <= 0 {
		errs = append(errs, errors.New("segment: max utterance must be positive"))
	}
	if s.minSamples < 0 {
		errs = append(errs, errors.New("segment: negative min segment length"))
	}
	if s.previewEvery <= 0 {
		errs = append(errs, errors.New("segment: preview interval must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Previews returns the lossy capacity-1 channel carrying snapshots of the
// in-progress utterance. The channel is never closed; it simply goes quiet
// when no utterance is accumulating.
func (s *Segmenter) Previews() <-chan audio.Segment {
	return s.previews
}

// Phase reports the current lifecycle phase.
func (s *Segmenter) Phase() Phase {
	return s.state.phase
}

// Push classifies one frame and advances the state machine. Finished segments
// are emitted synchronously before Push returns.
func (s *Segmenter) Push(frame audio.Frame) {
	pos := s.clock
	s.clock += len(frame)

	speech := s.det.IsSpeech(frame, s.state.phase == PhaseSpeaking)
	next, eff := advance(s.state, speech, s.onsetFrames, s.silenceFrames)
	s.state = next

	switch eff {
	case effectBegin:
		// The confirming frame joins the ring first so the flush carries it.
		s.ring.push(frame, pos)
		s.beginUtterance(frame, pos)
		s.maybeFinalizeAtCap()

	case effectEnd:
		s.utter = append(s.utter, frame...)
		s.finalize("silence")

	default:
		switch next.phase {
		case PhaseIdle, PhaseOnset:
			s.ring.push(frame, pos)
		case PhaseSpeaking:
			s.utter = append(s.utter, frame...)
			if !s.maybeFinalizeAtCap() {
				s.maybePreview()
			}
		}
	}
}

// Flush finalizes any in-progress utterance, typically on shutdown so speech
// captured right before exit still reaches transcription.
func (s *Segmenter) Flush() {
	if s.state.phase != PhaseSpeaking {
		s.reset()
		return
	}
	s.finalize("flush")
}

// ─── Internal ─────────────────────────────────────────────────────────────────

// beginUtterance drains the pre-roll ring into a fresh utterance buffer.
// With pre-roll disabled the ring is empty, so the utterance starts at the
// confirming frame instead.
func (s *Segmenter) beginUtterance(confirm audio.Frame, pos int) {
	frames, startPos := s.ring.drain()
	if len(frames) == 0 {
		frames, startPos = []audio.Frame{confirm}, pos
	}
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	s.utter = make([]float32, 0, max(total, s.minSamples))
	for _, f := range frames {
		s.utter = append(s.utter, f...)
	}
	s.start = startPos
	s.previewMark = 0
}

// maybeFinalizeAtCap forces an emission once the utterance reaches the
// maximum length, and reports whether it did.
func (s *Segmenter) maybeFinalizeAtCap() bool {
	if len(s.utter) < s.maxSamples {
		return false
	}
	s.finalize("length")
	return true
}

// finalize ends the current utterance: emit it when long enough, drop it
// otherwise, then return everything to the idle state.
func (s *Segmenter) finalize(reason string) {
	n := len(s.utter)
	if n >= s.minSamples {
		s.emit(audio.Segment{
			Samples:     s.utter,
			StartSample: s.start,
			EndSample:   s.start + n,
		})
	} else if n > 0 {
		slog.Debug("dropping short utterance",
			"samples", n,
			"duration", time.Duration(n)*time.Second/audio.TargetRate,
			"reason", reason)
	}
	s.reset()
}

// reset clears all utterance state and the detector's smoothing state.
func (s *Segmenter) reset() {
	s.utter = nil
	s.previewMark = 0
	s.state = phaseState{}
	s.ring.reset()
	s.det.Reset()
}

// maybePreview offers a snapshot of the in-progress utterance once it is long
// enough and a preview interval has accumulated since the last offer. A full
// channel drops the snapshot.
func (s *Segmenter) maybePreview() {
	if len(s.utter) < s.minSamples || len(s.utter)-s.previewMark < s.previewEvery {
		return
	}
	s.previewMark = len(s.utter)

	cp := make([]float32, len(s.utter))
	copy(cp, s.utter)
	seg := audio.Segment{Samples: cp, StartSample: s.start, EndSample: s.start + len(cp)}
	select {
	case s.previews <- seg:
	default:
		slog.Debug("preview dropped, consumer busy", "samples", len(cp))
		if s.onPreviewDrop != nil {
			s.onPreviewDrop()
		}
	}
}

// durationSamples converts a duration to a sample count at the pipeline rate.
func durationSamples(d time.Duration) int {
	return int(d * audio.TargetRate / time.Second)
}

// ─── Pre-roll ring ────────────────────────────────────────────────────────────

// ringFrame is one pre-roll entry: a frame and the absolute sample index of
// its first sample.
type ringFrame struct {
	samples audio.Frame
	pos     int
}

// preRoll is a fixed-capacity ring of the most recent frames, kept while no
// utterance is accumulating. Frames are stored by reference.
type preRoll struct {
	cap    int
	frames []ringFrame
	head   int
	n      int
}

// push appends a frame, evicting the oldest once the ring is full.
func (r *preRoll) push(f audio.Frame, pos int) {
	if r.cap == 0 {
		return
	}
	if r.frames == nil {
		r.frames = make([]ringFrame, r.cap)
	}
	if r.n < r.cap {
		r.frames[(r.head+r.n)%r.cap] = ringFrame{samples: f, pos: pos}
		r.n++
		return
	}
	r.frames[r.head] = ringFrame{samples: f, pos: pos}
	r.head = (r.head + 1) % r.cap
}

// drain returns the buffered frames in arrival order together with the
// absolute sample position of the oldest, and empties the ring.
func (r *preRoll) drain() ([]audio.Frame, int) {
	if r.n == 0 {
		return nil, 0
	}
	out := make([]audio.Frame, r.n)
	pos := r.frames[r.head].pos
	for i := range out {
		out[i] = r.frames[(r.head+i)%r.cap].samples
	}
	r.head, r.n = 0, 0
	return out, pos
}

// reset empties the ring without returning its contents.
func (r *preRoll) reset() {
	r.head, r.n = 0, 0
	for i := range r.frames {
		r.frames[i] = ringFrame{}
	}
}
