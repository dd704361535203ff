package coqui

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// ---- test helpers ----

// buildTestWAV constructs a minimal but valid RIFF/WAVE byte slice containing
// the supplied 16-bit PCM samples at the given rate and channel count. It
// writes a standard 44-byte header (RIFF + fmt + data) so parseWAV can locate
// the audio payload.
func buildTestWAV(samples []int16, rate uint32, channels uint16) []byte {
	// PCM WAV layout:
	//   RIFF chunk descriptor  (12 bytes)
	//   fmt  sub-chunk         (24 bytes: 8 header + 16 data)
	//   data sub-chunk         ( 8 bytes header + payload)
	fmtSize := uint32(16)
	dataSize := uint32(len(samples) * 2)
	fileSize := 4 + (8 + fmtSize) + (8 + dataSize)

	buf := make([]byte, 0, 12+8+fmtSize+8+dataSize)
	le := binary.LittleEndian

	putU32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	putU16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		buf = append(buf, b[:]...)
	}

	// RIFF chunk.
	buf = append(buf, []byte("RIFF")...)
	putU32(fileSize)
	buf = append(buf, []byte("WAVE")...)

	// fmt sub-chunk.
	buf = append(buf, []byte("fmt ")...)
	putU32(fmtSize)
	putU16(1) // PCM format
	putU16(channels)
	putU32(rate)
	putU32(rate * uint32(channels) * 2) // byte rate
	putU16(channels * 2)                // block align
	putU16(16)                          // bits per sample

	// data sub-chunk.
	buf = append(buf, []byte("data")...)
	putU32(dataSize)
	for _, s := range samples {
		putU16(uint16(s))
	}

	return buf
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Synthesizer {
	t.Helper()
	s, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return s
}

// ---- construction ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := mustNew(t, "http://localhost:5002")
		if s.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want %q", s.serverURL, "http://localhost:5002")
		}
		if s.language != defaultLanguage {
			t.Errorf("language = %q, want %q", s.language, defaultLanguage)
		}
		if s.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", s.httpClient.Timeout, defaultTimeout)
		}
		if s.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", s.apiMode, APIModeStandard)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		s := mustNew(t, "http://localhost:5002/")
		if s.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", s.serverURL)
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		_, err := New("")
		if err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		s := mustNew(t, "http://localhost:5002",
			WithLanguage("de"),
			WithSpeaker("p225"),
			WithTimeout(5*time.Second),
		)
		if s.language != "de" {
			t.Errorf("language = %q, want %q", s.language, "de")
		}
		if s.speaker != "p225" {
			t.Errorf("speaker = %q, want %q", s.speaker, "p225")
		}
		if s.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want %v", s.httpClient.Timeout, 5*time.Second)
		}
	})

	t.Run("XTTS without speaker returns error", func(t *testing.T) {
		_, err := New("http://localhost:8002", WithAPIMode(APIModeXTTS))
		if err == nil {
			t.Fatal("expected error for XTTS mode without speaker, got nil")
		}
		if !strings.Contains(err.Error(), "coqui:") {
			t.Errorf("error %q missing 'coqui:' prefix", err.Error())
		}
	})

	t.Run("XTTS with speaker", func(t *testing.T) {
		s := mustNew(t, "http://localhost:8002", WithAPIMode(APIModeXTTS), WithSpeaker("narrator.wav"))
		if s.apiMode != APIModeXTTS {
			t.Errorf("apiMode = %q, want %q", s.apiMode, APIModeXTTS)
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_XTTS(t *testing.T) {
	// 16384/32768 = 0.5 exactly, so expected float values are precise.
	wavData := buildTestWAV([]int16{0, 16384, -16384, 8192}, 22050, 1)

	var (
		reqMu        sync.Mutex
		receivedReqs []ttsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		reqMu.Lock()
		receivedReqs = append(receivedReqs, req)
		reqMu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithSpeaker("narrator.wav"))

	samples, rate, err := s.Synthesize(context.Background(), "Hello world.")
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if rate != 22050 {
		t.Errorf("rate = %d, want 22050", rate)
	}
	want := []float32{0, 0.5, -0.5, 0.25}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i, v := range want {
		if samples[i] != v {
			t.Errorf("samples[%d] = %v, want %v", i, samples[i], v)
		}
	}

	if len(receivedReqs) != 1 {
		t.Fatalf("server received %d requests, want 1", len(receivedReqs))
	}
	req := receivedReqs[0]
	if req.Text != "Hello world." {
		t.Errorf("text = %q, want %q", req.Text, "Hello world.")
	}
	if req.SpeakerWav != "narrator.wav" {
		t.Errorf("speaker_wav = %q, want %q", req.SpeakerWav, "narrator.wav")
	}
	if req.Language != defaultLanguage {
		t.Errorf("language = %q, want %q", req.Language, defaultLanguage)
	}
}

func TestSynthesize_StandardAPI(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV([]int16{16384, -16384}, 16000, 1)

	var (
		reqMu   sync.Mutex
		gotURLs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reqMu.Lock()
		gotURLs = append(gotURLs, r.URL.String())
		reqMu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithLanguage("en"), WithSpeaker("p225"))

	samples, rate, err := s.Synthesize(context.Background(), "  Hello world.  ")
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if len(samples) != 2 || samples[0] != 0.5 || samples[1] != -0.5 {
		t.Errorf("samples = %v, want [0.5 -0.5]", samples)
	}

	if len(gotURLs) != 1 {
		t.Fatalf("server received %d requests, want 1", len(gotURLs))
	}
	u, err := url.Parse(gotURLs[0])
	if err != nil {
		t.Fatalf("parse request URL: %v", err)
	}
	q := u.Query()
	if got := q.Get("text"); got != "Hello world." {
		t.Errorf("query param text = %q, want trimmed %q", got, "Hello world.")
	}
	if got := q.Get("speaker_id"); got != "p225" {
		t.Errorf("query param speaker_id = %q, want %q", got, "p225")
	}
	if got := q.Get("language_id"); got != "en" {
		t.Errorf("query param language_id = %q, want %q", got, "en")
	}
}

func TestSynthesize_StereoDownmix(t *testing.T) {
	t.Parallel()

	// Interleaved L/R pairs; each output sample is the pair average.
	wavData := buildTestWAV([]int16{16384, 0, -16384, 0}, 24000, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	samples, rate, err := s.Synthesize(context.Background(), "Stereo test.")
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if rate != 24000 {
		t.Errorf("rate = %d, want 24000", rate)
	}
	if len(samples) != 2 || samples[0] != 0.25 || samples[1] != -0.25 {
		t.Errorf("samples = %v, want [0.25 -0.25]", samples)
	}
}

func TestSynthesize_EmptyTextSkipsRequest(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	samples, rate, err := s.Synthesize(context.Background(), "   \n\t")
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if samples != nil || rate != 0 {
		t.Errorf("got (%v, %d), want (nil, 0) for empty text", samples, rate)
	}
	if calls != 0 {
		t.Errorf("server received %d requests, want 0", calls)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	_, _, err := s.Synthesize(context.Background(), "A sentence.")
	if err == nil {
		t.Fatal("expected error on server failure, got nil")
	}
	if !strings.Contains(err.Error(), "coqui:") {
		t.Errorf("error %q missing 'coqui:' prefix", err.Error())
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error %q does not mention status 500", err.Error())
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := s.Synthesize(ctx, "This request should be cancelled.")
	if err == nil {
		t.Fatal("expected error on context timeout, got nil")
	}
}

// ---- parseWAV ----

func TestParseWAV(t *testing.T) {
	t.Run("valid WAV", func(t *testing.T) {
		pcm := []int16{1, 2, 3, 4}
		wav := buildTestWAV(pcm, 22050, 1)
		info, err := parseWAV(wav)
		if err != nil {
			t.Fatalf("parseWAV: %v", err)
		}
		if info.SampleRate != 22050 {
			t.Errorf("SampleRate = %d, want 22050", info.SampleRate)
		}
		if info.Channels != 1 {
			t.Errorf("Channels = %d, want 1", info.Channels)
		}
		if len(info.Data) != len(pcm)*2 {
			t.Errorf("len(Data) = %d, want %d", len(info.Data), len(pcm)*2)
		}
	})

	t.Run("too short", func(t *testing.T) {
		_, err := parseWAV([]byte{0x01, 0x02})
		if err == nil {
			t.Fatal("expected error for short input")
		}
	})

	t.Run("not RIFF", func(t *testing.T) {
		buf := make([]byte, 44)
		copy(buf, "XXXX")
		_, err := parseWAV(buf)
		if err == nil {
			t.Fatal("expected error for non-RIFF header")
		}
	})

	t.Run("not WAVE", func(t *testing.T) {
		buf := make([]byte, 44)
		copy(buf, "RIFF")
		copy(buf[8:], "XXXX")
		_, err := parseWAV(buf)
		if err == nil {
			t.Fatal("expected error for non-WAVE identifier")
		}
	})

	t.Run("no data chunk", func(t *testing.T) {
		// RIFF header plus a fmt chunk but no data chunk.
		wav := buildTestWAV([]int16{1}, 16000, 1)
		_, err := parseWAV(wav[:12+8+16])
		if err == nil {
			t.Fatal("expected error when data chunk is absent")
		}
	})

	t.Run("non-PCM format tag", func(t *testing.T) {
		wav := buildTestWAV([]int16{1, 2}, 16000, 1)
		// fmt chunk data begins at offset 20; the format tag is its first field.
		binary.LittleEndian.PutUint16(wav[20:22], 3) // IEEE float
		_, err := parseWAV(wav)
		if err == nil {
			t.Fatal("expected error for non-PCM format tag")
		}
		if !strings.Contains(err.Error(), "format tag") {
			t.Errorf("error %q does not mention the format tag", err.Error())
		}
	})

	t.Run("unsupported bit depth", func(t *testing.T) {
		wav := buildTestWAV([]int16{1, 2}, 16000, 1)
		// Bits-per-sample lives at offset 34 (fmt data offset 20 + 14).
		binary.LittleEndian.PutUint16(wav[34:36], 24)
		_, err := parseWAV(wav)
		if err == nil {
			t.Fatal("expected error for 24-bit depth")
		}
	})

	t.Run("oversized data chunk is clamped", func(t *testing.T) {
		wav := buildTestWAV([]int16{1, 2, 3}, 16000, 1)
		// Declare a data size far beyond the actual payload; the parser must
		// clamp to the bytes that are really present.
		binary.LittleEndian.PutUint32(wav[40:44], 1<<20)
		info, err := parseWAV(wav)
		if err != nil {
			t.Fatalf("parseWAV: %v", err)
		}
		if len(info.Data) != 6 {
			t.Errorf("len(Data) = %d, want 6", len(info.Data))
		}
	})
}
