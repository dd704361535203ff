package audio

// Sample-format helpers. The pipeline itself is float32 end to end; these
// conversions live at its edges, where capture hardware and synthesis engines
// speak little-endian int16 PCM.

// PCM16ToFloat32 converts little-endian int16 PCM bytes to float32 samples
// normalized to [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples in [-1, 1] to little-endian int16
// PCM bytes. Out-of-range samples are clamped rather than wrapped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32767.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DownmixMean collapses interleaved multi-channel samples to mono by taking
// the arithmetic mean across channels. channels <= 1 returns the input
// unchanged. Trailing samples that do not fill a whole multi-channel frame
// are dropped.
func DownmixMean(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Scale multiplies every sample by gain in place and returns the slice.
// Playback uses this for volume and ducking.
func Scale(samples []float32, gain float32) []float32 {
	if gain == 1 {
		return samples
	}
	for i := range samples {
		samples[i] *= gain
	}
	return samples
}
