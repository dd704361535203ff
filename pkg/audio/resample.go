package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts raw capture chunks at an arbitrary (rate, channels)
// format into fixed 480-sample mono frames at [TargetRate]. Multi-channel
// input is downmixed by arithmetic mean before rate conversion. When the
// input rate already matches the target, chunks are re-framed directly;
// otherwise samples pass through a windowed resampling filter.
//
// Completed frames are handed to the emit callback synchronously from
// [Resampler.Process]. Any fractional remainder is retained across calls, so
// no samples are dropped or duplicated at chunk boundaries.
//
// Not safe for concurrent use; the capture goroutine owns it.
type Resampler struct {
	inRate   int
	channels int
	emit     func(Frame)

	conv    resampling.Resampler // nil when inRate == TargetRate
	pending []float32
	f64in   []float64
}

// NewResampler creates a Resampler for input at inRate Hz with the given
// interleaved channel count. emit receives each completed frame and owns the
// slice it is given.
func NewResampler(inRate, channels int, emit func(Frame)) (*Resampler, error) {
	if inRate <= 0 {
		return nil, fmt.Errorf("resampler: input rate must be positive, got %d", inRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("resampler: channel count must be positive, got %d", channels)
	}
	if emit == nil {
		return nil, fmt.Errorf("resampler: emit callback must not be nil")
	}

	r := &Resampler{inRate: inRate, channels: channels, emit: emit}
	if inRate != TargetRate {
		conv, err := resampling.New(&resampling.Config{
			InputRate:  float64(inRate),
			OutputRate: float64(TargetRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("resampler: create filter: %w", err)
		}
		r.conv = conv
	}
	return r, nil
}

// Process consumes one interleaved capture chunk and emits every frame that
// becomes complete.
func (r *Resampler) Process(chunk []float32) error {
	mono := DownmixMean(chunk, r.channels)

	if r.conv == nil {
		r.pending = append(r.pending, mono...)
	} else {
		if cap(r.f64in) < len(mono) {
			r.f64in = make([]float64, len(mono))
		}
		in := r.f64in[:len(mono)]
		for i, s := range mono {
			in[i] = float64(s)
		}
		out, err := r.conv.Process(in)
		if err != nil {
			return fmt.Errorf("resampler: %w", err)
		}
		for _, s := range out {
			r.pending = append(r.pending, float32(s))
		}
	}

	off := 0
	for len(r.pending)-off >= FrameSamples {
		frame := make(Frame, FrameSamples)
		copy(frame, r.pending[off:off+FrameSamples])
		r.emit(frame)
		off += FrameSamples
	}
	if off > 0 {
		n := copy(r.pending, r.pending[off:])
		r.pending = r.pending[:n]
	}
	return nil
}

// Flush discards any buffered tail shorter than one frame. A sub-frame
// remainder is below the VAD horizon, so dropping it on capture stop keeps
// the no-duplication invariant without emitting padded audio.
func (r *Resampler) Flush() {
	r.pending = r.pending[:0]
}

// Resample converts a complete mono clip at fromRate Hz to [TargetRate] in one
// shot. Synthesis output arrives as whole utterances, so there is no chunk
// state to carry across calls; a fresh filter is built each time. Input
// already at the target rate is returned unchanged.
func Resample(samples []float32, fromRate int) ([]float32, error) {
	if fromRate <= 0 {
		return nil, fmt.Errorf("resample: input rate must be positive, got %d", fromRate)
	}
	if fromRate == TargetRate || len(samples) == 0 {
		return samples, nil
	}
	conv, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(TargetRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resample: create filter: %w", err)
	}
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := conv.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}
