// Package elevenlabs provides a speech synthesizer backed by the ElevenLabs
// streaming WebSocket API. It implements the tts.Synthesizer interface.
//
// The stream-input API is built for incremental text, but this pipeline
// speaks in sentence-sized chunks, so each Synthesize call runs one
// short-lived session: open the socket, send the handshake and the text,
// flush, then collect base64 PCM chunks until the final message. Audio is
// requested as a raw pcm_* format, so the samples come back mono at the rate
// named by the format (16 kHz by default).
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithOutputFormat sets the raw audio output format (e.g., "pcm_16000",
// "pcm_24000"). Only pcm_* formats are supported; the sample rate reported
// by Synthesize is derived from the format name.
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) {
		s.format = format
	}
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs streaming
// API. Each Synthesize call opens its own WebSocket session, so a single
// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	apiKey  string
	voiceID string
	model   string
	format  string
	rate    int
}

// New creates an ElevenLabs Synthesizer speaking with the given voice.
// apiKey and voiceID must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   defaultModel,
		format:  defaultOutputFmt,
	}
	for _, o := range opts {
		o(s)
	}
	rate, err := rateForFormat(s.format)
	if err != nil {
		return nil, err
	}
	s.rate = rate
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for a text fragment.
// An empty Text doubles as the end-of-input flush command.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake that authenticates
// the session and selects the output format.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// audioResponse is a JSON message received from ElevenLabs over the
// WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// ---- Synthesize ----

// Synthesize runs one WebSocket session for text and returns the decoded PCM
// as float32 samples at the configured output rate. Empty or whitespace-only
// text returns (nil, 0, nil) without opening a connection.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, nil
	}

	conn, _, err := websocket.Dial(ctx, buildURLForVoice(s.voiceID, s.model), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// BOI handshake: authenticate and pick the output format. ElevenLabs
	// requires a non-empty first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      s.apiKey,
		OutputFormat:  s.format,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		return nil, 0, fmt.Errorf("elevenlabs: send handshake: %w", err)
	}

	msg, _ := buildWSMessage(text, nil)
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return nil, 0, fmt.Errorf("elevenlabs: send text: %w", err)
	}

	// End of input; the server answers with isFinal once all audio for the
	// session has been sent.
	flush, _ := buildWSMessage("", nil)
	if err := conn.Write(ctx, websocket.MessageText, flush); err != nil {
		return nil, 0, fmt.Errorf("elevenlabs: flush: %w", err)
	}

	var pcm []byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, fmt.Errorf("elevenlabs: session: %w", ctx.Err())
			}
			// Server closed the socket after the last chunk.
			break
		}
		chunk, final, err := parseAudio(data)
		if err != nil {
			return nil, 0, err
		}
		pcm = append(pcm, chunk...)
		if final {
			break
		}
	}
	return audio.PCM16ToFloat32(pcm), s.rate, nil
}

// Close releases resources held by the synthesizer. Connections are opened
// per call, so Close always returns nil.
func (s *Synthesizer) Close() error {
	return nil
}

// ---- helpers ----

// buildWSMessage constructs the JSON text payload for a single text
// fragment. An empty text produces the flush command.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildURLForVoice constructs the WebSocket URL for a given voice and model.
func buildURLForVoice(voiceID, model string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model)
}

// parseAudio extracts the PCM payload from one server message. A message
// carrying an error description instead of audio fails the session.
func parseAudio(data []byte) (pcm []byte, final bool, err error) {
	var resp audioResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("elevenlabs: decode response: %w", err)
	}
	if resp.Audio == "" {
		if resp.Message != "" && !resp.IsFinal {
			return nil, false, fmt.Errorf("elevenlabs: server message: %s", resp.Message)
		}
		return nil, resp.IsFinal, nil
	}
	pcm, err = base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, false, fmt.Errorf("elevenlabs: decode audio chunk: %w", err)
	}
	return pcm, resp.IsFinal, nil
}

// rateForFormat derives the PCM sample rate from an ElevenLabs output format
// name such as "pcm_16000".
func rateForFormat(format string) (int, error) {
	suffix, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_*)", format)
	}
	rate, err := strconv.Atoi(suffix)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_*)", format)
	}
	return rate, nil
}
