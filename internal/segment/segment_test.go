package segment

import (
	"testing"
	"time"

	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/provider/vad/mock"
)

// tagFrame returns a frame whose every sample carries v, so the origin of
// each frame is visible in emitted segments.
func tagFrame(v float32) audio.Frame {
	f := make(audio.Frame, audio.FrameSamples)
	for i := range f {
		f[i] = v
	}
	return f
}

// feed pushes n frames tagged with consecutive sequence numbers from base.
func feed(s *Segmenter, base, n int) {
	for i := 0; i < n; i++ {
		s.Push(tagFrame(float32(base + i)))
	}
}

// rep returns n copies of b, for building detector scripts.
func rep(b bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func tryPreview(s *Segmenter) (audio.Segment, bool) {
	select {
	case seg := <-s.Previews():
		return seg, true
	default:
		return audio.Segment{}, false
	}
}

func TestAdvance(t *testing.T) {
	t.Parallel()

	const (
		onset   = 3
		silence = 15
	)

	tests := []struct {
		name    string
		in      phaseState
		speech  bool
		want    phaseState
		wantEff effect
	}{
		{"idle stays idle", phaseState{}, false, phaseState{}, effectNone},
		{"idle to onset", phaseState{}, true, phaseState{phase: PhaseOnset, count: 1}, effectNone},
		{"onset builds", phaseState{phase: PhaseOnset, count: 1}, true, phaseState{phase: PhaseOnset, count: 2}, effectNone},
		{"onset confirms", phaseState{phase: PhaseOnset, count: 2}, true, phaseState{phase: PhaseSpeaking}, effectBegin},
		{"onset reverts fully", phaseState{phase: PhaseOnset, count: 2}, false, phaseState{}, effectNone},
		{"speech clears silence count", phaseState{phase: PhaseSpeaking, count: 7}, true, phaseState{phase: PhaseSpeaking}, effectNone},
		{"silence accumulates", phaseState{phase: PhaseSpeaking, count: 3}, false, phaseState{phase: PhaseSpeaking, count: 4}, effectNone},
		{"silence finalizes", phaseState{phase: PhaseSpeaking, count: 14}, false, phaseState{}, effectEnd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, eff := advance(tt.in, tt.speech, onset, silence)
			if got != tt.want || eff != tt.wantEff {
				t.Errorf("advance(%+v, %v) = %+v, %v; want %+v, %v",
					tt.in, tt.speech, got, eff, tt.want, tt.wantEff)
			}
		})
	}
}

func TestAdvance_SingleFrameOnset(t *testing.T) {
	t.Parallel()

	got, eff := advance(phaseState{}, true, 1, 15)
	if got.phase != PhaseSpeaking || eff != effectBegin {
		t.Errorf("got %+v, %v; want immediate Speaking with begin effect", got, eff)
	}
}

func TestSilenceOnlyProducesNothing(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Default: false}
	var got []audio.Segment
	s, err := New(det, func(seg audio.Segment) { got = append(got, seg) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	feed(s, 0, 500)

	if len(got) != 0 {
		t.Errorf("expected no segments from silence, got %d", len(got))
	}
	if _, ok := tryPreview(s); ok {
		t.Error("expected no previews from silence")
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", s.Phase())
	}
	if det.Resets != 0 {
		t.Errorf("detector reset %d times without any finalization", det.Resets)
	}
}

func TestOnsetFalseStartRevertsFully(t *testing.T) {
	t.Parallel()

	// Two near-onsets of two speech frames each: neither reaches the third
	// confirming frame, so no utterance ever starts.
	det := &mock.Detector{Script: []bool{true, true, false, true, true, false}}
	var got []audio.Segment
	s, err := New(det, func(seg audio.Segment) { got = append(got, seg) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	feed(s, 0, 20)

	if len(got) != 0 {
		t.Errorf("expected no segments, got %d", len(got))
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", s.Phase())
	}
}

func TestBurstEmitsOneSegmentWithPreRoll(t *testing.T) {
	t.Parallel()

	// 10 silence frames, a 66-frame (~2 s) burst, then silence.
	det := &mock.Detector{Script: append(rep(false, 10), rep(true, 66)...)}
	var got []audio.Segment
	s, err := New(det, func(seg audio.Segment) { got = append(got, seg) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	feed(s, 0, 109)

	if len(got) != 1 {
		t.Fatalf("expected exactly one segment, got %d", len(got))
	}
	seg := got[0]

	// Onset confirms at frame 12; the flushed ring holds frames 3..12, so the
	// segment begins at frame 3 and its first ten frames arrive in order.
	if seg.StartSample != 3*audio.FrameSamples {
		t.Errorf("StartSample = %d, want %d", seg.StartSample, 3*audio.FrameSamples)
	}
	for k := 0; k < 10; k++ {
		if v := seg.Samples[k*audio.FrameSamples]; v != float32(3+k) {
			t.Fatalf("pre-roll frame %d carries tag %v, want %v", k, v, float32(3+k))
		}
	}

	// 10 pre-roll + 63 more speech + 15 trailing silence frames.
	wantLen := 88 * audio.FrameSamples
	if len(seg.Samples) != wantLen {
		t.Errorf("segment length = %d samples, want %d", len(seg.Samples), wantLen)
	}
	if seg.EndSample != seg.StartSample+len(seg.Samples) {
		t.Errorf("EndSample = %d, want %d", seg.EndSample, seg.StartSample+len(seg.Samples))
	}
	if d := seg.Duration(); d < 2*time.Second || d > 2700*time.Millisecond {
		t.Errorf("duration = %v, want roughly burst plus pre-roll and trailing silence", d)
	}

	if det.Resets != 1 {
		t.Errorf("detector resets = %d, want 1", det.Resets)
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle after finalization", s.Phase())
	}
}

func TestShortUtteranceDiscarded(t *testing.T) {
	t.Parallel()

	// First utterance: 3 speech + 15 silence frames = 8640 samples, below the
	// raised minimum. Second utterance is long enough and must still emit.
	script := append(rep(true, 3), rep(false, 15)...)
	script = append(script, rep(true, 30)...)
	script = append(script, rep(false, 15)...)
	det := &mock.Detector{Script: script}

	var got []audio.Segment
	s, err := New(det, func(seg audio.Segment) { got = append(got, seg) },
		WithMinSegment(600*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	feed(s, 0, 63)

	if len(got) != 1 {
		t.Fatalf("expected the short utterance dropped and the long one kept, got %d segments", len(got))
	}
	if got[0].StartSample != 18*audio.FrameSamples {
		t.Errorf("kept segment starts at sample %d, want %d", got[0].StartSample, 18*audio.FrameSamples)
	}
	if det.Resets != 2 {
		t.Errorf("detector resets = %d, want one per finalization", det.Resets)
	}
}

func TestMaxUtteranceSplitsLongSpeech(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Default: true}
	var got []audio.Segment
	s, err := New(det, func(seg audio.Segment) { got = append(got, seg) },
		WithMaxUtterance(time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	feed(s, 0, 100)

	if len(got) != 2 {
		t.Fatalf("expected 2 forced segments from continuous speech, got %d", len(got))
	}
	capSamples := durationSamples(time.Second)
	for i, seg := range got {
		if len(seg.Samples) < capSamples || len(seg.Samples) >= capSamples+audio.FrameSamples {
			t.Errorf("segment %d length = %d, want within one frame above the %d-sample cap",
				i, len(seg.Samples), capSamples)
		}
	}
	// Continuous speech: the second segment picks up where the first ended.
	if got[0].EndSample != got[1].StartSample {
		t.Errorf("gap between segments: first ends %d, second starts %d",
			got[0].EndSample, got[1].StartSample)
	}
	if s.Phase() != PhaseSpeaking {
		t.Errorf("phase = %v, want speaking with a third utterance in progress", s.Phase())
	}
}

func TestPreviewsAreLossy(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Default: true}
	s, err := New(det, func(audio.Segment) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Below the minimum viable length nothing is offered.
	feed(s, 0, 10)
	if _, ok := tryPreview(s); ok {
		t.Fatal("preview offered before the utterance reached minimum length")
	}

	// Enough speech for several preview intervals without draining: the
	// channel keeps only the first snapshot, later ones are dropped.
	feed(s, 10, 50)
	first, ok := tryPreview(s)
	if !ok {
		t.Fatal("expected a queued preview")
	}
	if _, ok := tryPreview(s); ok {
		t.Fatal("preview channel held more than one snapshot")
	}
	if first.StartSample != 0 {
		t.Errorf("preview StartSample = %d, want 0", first.StartSample)
	}
	if len(first.Samples) < durationSamples(DefaultMinSegment) {
		t.Errorf("preview length = %d, want at least the minimum viable length", len(first.Samples))
	}

	// Once drained, the next interval produces a longer snapshot.
	feed(s, 60, 20)
	second, ok := tryPreview(s)
	if !ok {
		t.Fatal("expected a fresh preview after draining")
	}
	if len(second.Samples) <= len(first.Samples) {
		t.Errorf("second preview (%d samples) not longer than first (%d)",
			len(second.Samples), len(first.Samples))
	}
}

func TestFlushEmitsInProgressUtterance(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Default: true}
	var got []audio.Segment
	s, err := New(det, func(seg audio.Segment) { got = append(got, seg) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	feed(s, 0, 40)
	s.Flush()

	if len(got) != 1 {
		t.Fatalf("expected the in-progress utterance on flush, got %d segments", len(got))
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle after flush", s.Phase())
	}
	if det.Resets != 1 {
		t.Errorf("detector resets = %d, want 1", det.Resets)
	}

	// Flushing while idle emits nothing further.
	s.Flush()
	if len(got) != 1 {
		t.Errorf("idle flush emitted a segment")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{}
	emit := func(audio.Segment) {}

	tests := []struct {
		name  string
		build func() (*Segmenter, error)
	}{
		{"nil detector", func() (*Segmenter, error) { return New(nil, emit) }},
		{"nil emit", func() (*Segmenter, error) { return New(det, nil) }},
		{"zero onset", func() (*Segmenter, error) { return New(det, emit, WithOnsetFrames(0)) }},
		{"zero trailing silence", func() (*Segmenter, error) { return New(det, emit, WithTrailingSilence(0)) }},
		{"zero max utterance", func() (*Segmenter, error) { return New(det, emit, WithMaxUtterance(0)) }},
		{"zero preview interval", func() (*Segmenter, error) { return New(det, emit, WithPreviewInterval(0)) }},
		{"negative pre-roll", func() (*Segmenter, error) { return New(det, emit, WithPreRoll(-1)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := tt.build(); err == nil {
				t.Fatal("expected a construction error")
			}
		})
	}
}
