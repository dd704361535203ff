// Package coqui provides a speech synthesizer backed by a locally running
// Coqui TTS server, reached via its REST API. It implements the
// tts.Synthesizer interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts
//     with URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body.
//
// Both servers operate in batch mode: one HTTP call per utterance, returning
// a WAV file. Synthesize strips the RIFF container, downmixes to mono when
// needed and returns float32 samples at the model's native rate; converting
// to the playback rate is the caller's concern.
//
// Typical usage (standard server):
//
//	s, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	samples, rate, err := s.Synthesize(ctx, "Hello there.")
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// ---- constants ----

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
)

// ---- APIMode ----

// APIMode selects which Coqui server API the synthesizer will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	// A speaker reference is required in this mode.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode; single-speaker models work without a
	// speaker ID.
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the language code sent to the TTS server (e.g., "en",
// "de", "fr"). Defaults to "en" if not set.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) {
		s.language = lang
	}
}

// WithSpeaker sets the voice used for synthesis: a speaker ID for
// multi-speaker standard models (e.g., "p225") or a speaker wav reference in
// XTTS mode. Required in XTTS mode.
func WithSpeaker(id string) Option {
	return func(s *Synthesizer) {
		s.speaker = id
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for the
// standard Coqui TTS Docker image (ghcr.io/coqui-ai/tts-cpu) or APIModeXTTS
// for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(s *Synthesizer) {
		s.apiMode = mode
	}
}

// ---- Synthesizer ----

// Synthesizer implements tts.Synthesizer backed by a locally running Coqui
// TTS server. It is safe for concurrent use; multiple Synthesize calls may
// run in parallel.
type Synthesizer struct {
	serverURL  string
	language   string
	speaker    string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Synthesizer that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty, and XTTS mode
// requires a speaker set via WithSpeaker. The default API mode is
// APIModeStandard.
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.apiMode == APIModeXTTS && s.speaker == "" {
		return nil, errors.New("coqui: XTTS mode requires a speaker (use WithSpeaker)")
	}
	return s, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// ---- Synthesize ----

// Synthesize issues one HTTP synthesis request for text and decodes the WAV
// response into mono float32 samples at the model's native sample rate.
// Stereo output is downmixed by channel averaging. Empty or whitespace-only
// text returns (nil, 0, nil) without contacting the server.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, nil
	}

	var (
		wav []byte
		err error
	)
	if s.apiMode == APIModeStandard {
		wav, err = s.requestStandard(ctx, text)
	} else {
		wav, err = s.requestXTTS(ctx, text)
	}
	if err != nil {
		return nil, 0, err
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, 0, err
	}
	samples := audio.PCM16ToFloat32(info.Data)
	if info.Channels > 1 {
		samples = audio.DownmixMean(samples, info.Channels)
	}
	return samples, info.SampleRate, nil
}

// Close releases resources held by the synthesizer. The HTTP client needs no
// teardown, so Close always returns nil.
func (s *Synthesizer) Close() error {
	return nil
}

// requestXTTS performs a single POST /tts_to_audio/ call (XTTS v2 mode) and
// returns the raw WAV response.
func (s *Synthesizer) requestXTTS(ctx context.Context, text string) ([]byte, error) {
	body := ttsRequest{
		Text:       text,
		SpeakerWav: s.speaker,
		Language:   s.language,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// requestStandard performs a single GET /api/tts request (standard server
// mode) using URL query parameters and returns the raw WAV response.
func (s *Synthesizer) requestStandard(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if s.speaker != "" {
		params.Set("speaker_id", s.speaker)
	}
	if s.language != "" {
		params.Set("language_id", s.language)
	}

	reqURL := s.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// ---- WAV decoding ----

// wavInfo holds the audio format and payload extracted from a RIFF/WAVE file.
type wavInfo struct {
	SampleRate int    // samples per second (e.g., 22050, 24000)
	Channels   int    // 1 = mono, 2 = stereo
	Data       []byte // raw 16-bit little-endian PCM
}

// parseWAV scans the RIFF/WAVE container in wav and returns the audio format
// from the "fmt " sub-chunk together with the "data" payload. Walking the
// chunk list is more robust than assuming a fixed 44-byte header because the
// fmt chunk size may vary.
//
// Only uncompressed 16-bit PCM is accepted; Coqui servers emit nothing else.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("coqui: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("coqui: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return wavInfo{}, errors.New("coqui: WAV fmt chunk truncated")
			}
			fmtData := wav[offset+8:]
			if format := binary.LittleEndian.Uint16(fmtData[0:2]); format != 1 {
				return wavInfo{}, fmt.Errorf("coqui: unsupported WAV format tag %d (want PCM)", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			if bits := binary.LittleEndian.Uint16(fmtData[14:16]); bits != 16 {
				return wavInfo{}, fmt.Errorf("coqui: unsupported WAV bit depth %d (want 16)", bits)
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("coqui: WAV data chunk precedes fmt chunk")
			}
			end := offset + 8 + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			info.Data = wav[offset+8 : end]
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("coqui: WAV response missing data chunk")
}
