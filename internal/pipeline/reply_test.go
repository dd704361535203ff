package pipeline

import (
	"context"
	"slices"
	"testing"

	"github.com/vocantra/vocantra/pkg/provider/llm"
)

func chunkChan(chunks ...llm.Chunk) chan llm.Chunk {
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestForwardSentences_SplitsAndFlushes(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	ch := chunkChan(
		llm.Chunk{Text: "One"},
		llm.Chunk{Text: ". Two"},
		llm.Chunk{Text: ". Three."},
	)

	full, cancelled := r.pl.forwardSentences(context.Background(), ch)

	if cancelled {
		t.Error("clean stream reported as cancelled")
	}
	if full != "One. Two. Three." {
		t.Errorf("full = %q", full)
	}
	want := []string{"One.", "Two.", "Three."}
	if got := r.tts.spoken(); !slices.Equal(got, want) {
		t.Errorf("spoken = %q, want %q", got, want)
	}
}

func TestForwardSentences_CancelStopsBeforeReading(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	r.st.SetCancelRequested(true)
	ch := chunkChan(llm.Chunk{Text: "never spoken"})

	full, cancelled := r.pl.forwardSentences(context.Background(), ch)

	if !cancelled {
		t.Error("cancel request not honored")
	}
	if full != "" {
		t.Errorf("full = %q, want empty", full)
	}
	if got := r.tts.spoken(); len(got) != 0 {
		t.Errorf("spoke %q after cancel", got)
	}
}

func TestForwardSentences_ErrorChunkStopsTheReply(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	ch := chunkChan(
		llm.Chunk{Text: "Hal"},
		llm.Chunk{Text: "rate limited", FinishReason: "error"},
	)

	full, cancelled := r.pl.forwardSentences(context.Background(), ch)

	if !cancelled {
		t.Error("mid-stream error not reported as cancelled")
	}
	if full != "Hal" {
		t.Errorf("full = %q, the error description must not leak into the reply", full)
	}
	if got := r.tts.spoken(); len(got) != 0 {
		t.Errorf("spoke %q after the error", got)
	}
}

func TestStartReply_OneReplyAtATime(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	ctx := context.Background()

	r.st.SetLLMGenerating(true)
	r.pl.startReply(ctx, "dropped")
	r.pl.replyWG.Wait()
	if got := len(r.llm.requests()); got != 0 {
		t.Fatalf("input during generation reached the llm, %d requests", got)
	}

	r.st.SetLLMGenerating(false)
	r.pl.startReply(ctx, "accepted")
	r.pl.replyWG.Wait()
	if got := len(r.llm.requests()); got != 1 {
		t.Fatalf("llm requests = %d, want 1", got)
	}
	if r.st.LLMGenerating() {
		t.Error("generating flag still set after the reply finished")
	}
}

func TestBuildRequest_TrimsHistoryToMessageCap(t *testing.T) {
	t.Parallel()

	r := newRig(t, func(cfg *Config) {
		cfg.Chat.HistoryLimit = 4
	})
	for i, text := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		r.pl.history = append(r.pl.history, llm.Message{Role: role, Content: text})
	}

	req := r.pl.buildRequest("m7")

	if len(req.Messages) != 4 {
		t.Fatalf("kept %d messages, want 4", len(req.Messages))
	}
	if req.Messages[0].Content != "m4" || req.Messages[3].Content != "m7" {
		t.Errorf("kept window = %q..%q, want m4..m7",
			req.Messages[0].Content, req.Messages[3].Content)
	}
}

func TestBuildRequest_TrimsHistoryToTokenBudget(t *testing.T) {
	t.Parallel()

	r := newRig(t, func(cfg *Config) {
		cfg.Chat.MaxTokens = 10
	})
	r.llm.window = 30 // budget of 20, with the stub counting one token per byte
	for range 4 {
		r.pl.history = append(r.pl.history,
			llm.Message{Role: llm.RoleUser, Content: "12345678"})
	}

	req := r.pl.buildRequest("abcdefgh")

	if len(req.Messages) != 2 {
		t.Fatalf("kept %d messages, want 2", len(req.Messages))
	}
	if req.Messages[1].Content != "abcdefgh" {
		t.Errorf("newest message = %q, the user turn must survive trimming",
			req.Messages[1].Content)
	}
}

func TestSpeak_ResamplesForeignRate(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	r.tts.rate = 48000

	r.pl.speak(context.Background(), "hello there")

	select {
	case samples := <-r.pl.speech:
		// 320 samples at 48 kHz land near a third of that at the pipeline rate.
		if len(samples) == 0 || len(samples) >= 320 {
			t.Errorf("queued %d samples, want a downsampled clip", len(samples))
		}
	default:
		t.Fatal("nothing queued for playback")
	}
}

func TestSpeak_RespectsVoiceToggle(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	r.st.SetTTSEnabled(false)

	r.pl.speak(context.Background(), "quiet please")

	if got := r.tts.spoken(); len(got) != 0 {
		t.Errorf("synthesized %q with voice disabled", got)
	}
	if len(r.pl.speech) != 0 {
		t.Error("queued audio with voice disabled")
	}
}
