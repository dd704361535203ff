// Package device implements [audio.Source] and [audio.Player] on top of
// PortAudio.
//
// Call [Init] once before opening any device and [Terminate] on shutdown.
// Capture uses a blocking read loop on an internal goroutine; playback uses
// blocking writes at the pipeline rate so the caller controls chunking.
package device

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/vocantra/vocantra/pkg/audio"
)

// framesPerBuffer is the PortAudio buffer size in frames. At 48 kHz this is
// about 21 ms per chunk; the resampler re-frames downstream, so the exact
// size only affects callback cadence.
const framesPerBuffer = 1024

// Init initialises the PortAudio host API. Pair with [Terminate].
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("device: initialise portaudio: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio host API.
func Terminate() error {
	return portaudio.Terminate()
}

// ─── Capture ─────────────────────────────────────────────────────────────────

// Mic captures interleaved samples from the default input device.
type Mic struct {
	rate     int
	channels int

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []float32
	running bool
	done    chan struct{}
}

var _ audio.Source = (*Mic)(nil)

// OpenMic prepares capture from the default input device. rate 0 or
// channels 0 select the device defaults. The stream itself is opened on
// [Mic.Start].
func OpenMic(rate, channels int) (*Mic, error) {
	if rate == 0 || channels == 0 {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("device: no default input device: %w", err)
		}
		if rate == 0 {
			rate = int(info.DefaultSampleRate)
		}
		if channels == 0 {
			channels = 1
			if info.MaxInputChannels < 1 {
				return nil, fmt.Errorf("device: input device %q has no capture channels", info.Name)
			}
		}
		slog.Info("input device", "name", info.Name, "rate", rate, "channels", channels)
	}
	return &Mic{
		rate:     rate,
		channels: channels,
		buf:      make([]float32, framesPerBuffer*channels),
	}, nil
}

// Format implements [audio.Source].
func (m *Mic) Format() (rate, channels int) {
	return m.rate, m.channels
}

// Start implements [audio.Source].
func (m *Mic) Start(onChunk func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(m.channels, 0, float64(m.rate), framesPerBuffer, m.buf)
	if err != nil {
		return fmt.Errorf("device: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("device: start input stream: %w", err)
	}

	m.stream = stream
	m.running = true
	m.done = make(chan struct{})
	go m.readLoop(onChunk)
	return nil
}

// readLoop pulls chunks from the driver until Stop flips running. Read
// errors back off briefly instead of exiting: a transient overflow must not
// kill capture.
func (m *Mic) readLoop(onChunk func([]float32)) {
	defer close(m.done)

	for {
		m.mu.Lock()
		running := m.running
		stream := m.stream
		m.mu.Unlock()
		if !running || stream == nil {
			return
		}

		available, err := stream.AvailableToRead()
		if err != nil || available == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := stream.Read(); err != nil {
			slog.Debug("input stream read", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		chunk := make([]float32, len(m.buf))
		copy(chunk, m.buf)
		onChunk(chunk)
	}
}

// Stop implements [audio.Source].
func (m *Mic) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	stream := m.stream
	m.stream = nil
	done := m.done
	m.mu.Unlock()

	// The read loop polls every 10 ms; give it a moment to notice.
	if done != nil {
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	if stream != nil {
		stream.Stop()
		if err := stream.Close(); err != nil {
			return fmt.Errorf("device: close input stream: %w", err)
		}
	}
	return nil
}

// ─── Playback ────────────────────────────────────────────────────────────────

// Speaker plays mono samples at [audio.TargetRate] through the default
// output device. Playback runs at the pipeline rate so rendered audio can be
// teed straight into the echo canceller without a second conversion.
type Speaker struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
	closed bool
}

var _ audio.Player = (*Speaker)(nil)

// OpenSpeaker opens and starts the default output device.
func OpenSpeaker() (*Speaker, error) {
	s := &Speaker{buf: make([]float32, framesPerBuffer)}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(audio.TargetRate), framesPerBuffer, s.buf)
	if err != nil {
		return nil, fmt.Errorf("device: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("device: start output stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Play implements [audio.Player]. The final partial buffer is zero-padded;
// an output underflow is logged and skipped rather than surfaced, because a
// late buffer is already audible and unrecoverable.
func (s *Speaker) Play(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("device: speaker is closed")
	}

	for off := 0; off < len(samples); off += framesPerBuffer {
		n := copy(s.buf, samples[off:])
		for i := n; i < framesPerBuffer; i++ {
			s.buf[i] = 0
		}
		if err := s.stream.Write(); err != nil {
			if err == portaudio.OutputUnderflowed {
				slog.Debug("output stream underflow")
				continue
			}
			return fmt.Errorf("device: write output stream: %w", err)
		}
	}
	return nil
}

// Close implements [audio.Player].
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("device: close output stream: %w", err)
	}
	return nil
}
