package audio

// Source is a push-based capture device. It delivers interleaved raw samples
// at whatever rate and channel count the hardware reports; the pipeline runs
// them through a [Resampler] before anything else sees them.
//
// Implementations are provided by device adapter packages (e.g.
// audio/device for PortAudio). The interface is intentionally narrow so the
// pipeline stays decoupled from driver details, and so tests can substitute
// a scripted source.
type Source interface {
	// Start begins capture and invokes onChunk from an internal goroutine for
	// every chunk of interleaved samples. The slice passed to onChunk is owned
	// by the callee. onChunk must be quick; a stalled callback stalls capture.
	Start(onChunk func(samples []float32)) error

	// Stop ends capture and releases the device. After Stop returns, onChunk
	// is not invoked again. Safe to call more than once.
	Stop() error

	// Format reports the device sample rate in Hz and interleaved channel
	// count. Valid after construction, before Start.
	Format() (rate, channels int)
}

// Player is a blocking playback sink for mono samples at [TargetRate]. The
// playback loop writes small chunks so a halt request takes effect between
// chunks rather than waiting out a whole utterance.
type Player interface {
	// Play writes samples to the device, blocking until they are queued with
	// the driver. Returning nil does not mean the audio has finished sounding.
	Play(samples []float32) error

	// Close stops playback and releases the device. Safe to call more than
	// once.
	Close() error
}
