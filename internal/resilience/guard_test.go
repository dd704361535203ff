package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vocantra/vocantra/pkg/provider/llm"
	llmmock "github.com/vocantra/vocantra/pkg/provider/llm/mock"
	sttmock "github.com/vocantra/vocantra/pkg/provider/stt/mock"
	ttsmock "github.com/vocantra/vocantra/pkg/provider/tts/mock"
)

func userRequest(text string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: text}},
	}
}

func TestTranscriber_PassesThrough(t *testing.T) {
	t.Parallel()
	m := &sttmock.Transcriber{Texts: []string{"hello there"}}
	g := NewTranscriber(m, NewBreaker(BreakerConfig{Name: "stt"}))

	text, err := g.Transcribe(context.Background(), make([]float32, 1600))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q, want %q", text, "hello there")
	}
	if m.CallCount() != 1 {
		t.Errorf("inner calls = %d, want 1", m.CallCount())
	}

	if err := g.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.CloseCallCount != 1 {
		t.Errorf("inner close calls = %d, want 1", m.CloseCallCount)
	}
}

func TestTranscriber_FailsFastWhileOpen(t *testing.T) {
	t.Parallel()
	m := &sttmock.Transcriber{Err: errBackend}
	g := NewTranscriber(m, NewBreaker(BreakerConfig{
		Name:      "stt",
		Threshold: 2,
		Cooldown:  time.Hour,
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.Transcribe(ctx, nil); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
	}

	if _, err := g.Transcribe(ctx, nil); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen once tripped", err)
	}
	if m.CallCount() != 2 {
		t.Errorf("inner calls = %d, want 2 (open breaker must not call through)", m.CallCount())
	}
}

func TestSynthesizer_FailsFastWhileOpen(t *testing.T) {
	t.Parallel()
	m := &ttsmock.Synthesizer{Err: errBackend}
	g := NewSynthesizer(m, NewBreaker(BreakerConfig{
		Name:      "tts",
		Threshold: 2,
		Cooldown:  time.Hour,
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := g.Synthesize(ctx, "hello"); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
	}

	if _, _, err := g.Synthesize(ctx, "hello"); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen once tripped", err)
	}
	if m.CallCount() != 2 {
		t.Errorf("inner calls = %d, want 2", m.CallCount())
	}
}

func TestLLM_StreamRelaysChunks(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Hi"}, {Text: " there"}, {FinishReason: "stop"}},
	}
	g := NewLLM(p, NewBreaker(BreakerConfig{Name: "llm"}))

	ch, err := g.StreamCompletion(context.Background(), userRequest("hey"))
	if err != nil {
		t.Fatalf("stream start: %v", err)
	}

	var sb strings.Builder
	for c := range ch {
		sb.WriteString(c.Text)
	}
	if got := sb.String(); got != "Hi there" {
		t.Errorf("relayed text = %q, want %q", got, "Hi there")
	}
	if g.br.State() != StateClosed {
		t.Errorf("state = %v, want closed after a clean stream", g.br.State())
	}
}

func TestLLM_StartErrorsTripTheBreaker(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamErr: errBackend}
	g := NewLLM(p, NewBreaker(BreakerConfig{
		Name:      "llm",
		Threshold: 2,
		Cooldown:  time.Hour,
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.StreamCompletion(ctx, userRequest("hey")); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
	}

	if _, err := g.StreamCompletion(ctx, userRequest("hey")); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen once tripped", err)
	}
	if len(p.StreamCalls) != 2 {
		t.Errorf("inner calls = %d, want 2", len(p.StreamCalls))
	}
}

func TestLLM_MidStreamErrorOpensBreaker(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "par"},
			{Text: "rate limited", FinishReason: "error"},
		},
	}
	g := NewLLM(p, NewBreaker(BreakerConfig{
		Name:      "llm",
		Threshold: 1,
		Cooldown:  time.Hour,
	}))

	ch, err := g.StreamCompletion(context.Background(), userRequest("hey"))
	if err != nil {
		t.Fatalf("stream start: %v", err)
	}
	for range ch {
	}

	// The relay settles the breaker before closing the channel, so the
	// outcome is visible once the drain finishes.
	if g.br.State() != StateOpen {
		t.Fatalf("state = %v, want open after a mid-stream error", g.br.State())
	}
}

func TestLLM_CancelledStreamIsNeutral(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "par"}, {Text: "context canceled", FinishReason: "error"}},
		ChunkDelay:   5 * time.Millisecond,
	}
	g := NewLLM(p, NewBreaker(BreakerConfig{
		Name:      "llm",
		Threshold: 1,
		Cooldown:  time.Hour,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := g.StreamCompletion(ctx, userRequest("hey"))
	if err != nil {
		t.Fatalf("stream start: %v", err)
	}
	cancel()
	for range ch {
	}

	if g.br.State() != StateClosed {
		t.Fatalf("state = %v, want closed after a user abort", g.br.State())
	}
}

func TestLLM_CountTokensBypassesBreaker(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamErr: errBackend, TokenCount: 7}
	g := NewLLM(p, NewBreaker(BreakerConfig{
		Name:      "llm",
		Threshold: 1,
		Cooldown:  time.Hour,
	}))

	// Trip the breaker.
	if _, err := g.StreamCompletion(context.Background(), userRequest("hey")); err == nil {
		t.Fatal("expected start error")
	}
	if g.br.State() != StateOpen {
		t.Fatalf("state = %v, want open", g.br.State())
	}

	// History trimming continues to work while the breaker is open.
	n, err := g.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "hey"}})
	if err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if n != 7 {
		t.Errorf("tokens = %d, want 7", n)
	}
}

func TestLLM_CompleteGoesThroughBreaker(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "four"},
	}
	g := NewLLM(p, NewBreaker(BreakerConfig{Name: "llm"}))

	resp, err := g.Complete(context.Background(), userRequest("two plus two?"))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp == nil || resp.Content != "four" {
		t.Errorf("resp = %+v, want Content %q", resp, "four")
	}
	if len(p.CompleteCalls) != 1 {
		t.Errorf("inner calls = %d, want 1", len(p.CompleteCalls))
	}
}
