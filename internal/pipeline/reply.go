package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vocantra/vocantra/internal/observe"
	"github.com/vocantra/vocantra/pkg/audio"
	"github.com/vocantra/vocantra/pkg/provider/llm"
)

// DefaultHistoryLimit caps the conversation history when ChatConfig does not
// set its own limit.
const DefaultHistoryLimit = 16

// ChatConfig tunes the reply path.
type ChatConfig struct {
	// SystemPrompt is injected ahead of the conversation on every request.
	SystemPrompt string

	// Temperature and MaxTokens are forwarded to the model; zero means the
	// provider default.
	Temperature float64
	MaxTokens   int

	// HistoryLimit caps the kept conversation history in messages. Zero
	// means DefaultHistoryLimit.
	HistoryLimit int
}

// startReply launches reply generation for one user utterance. At most one
// reply runs at a time; input arriving while a reply is in flight is dropped,
// since with crosstalk enabled it is usually the assistant hearing itself.
func (p *Pipeline) startReply(ctx context.Context, text string) {
	if p.llmP == nil {
		slog.Warn("chat input without an llm provider, dropping", "text", text)
		return
	}
	if p.st.LLMGenerating() {
		slog.Debug("reply in progress, dropping input", "text", text)
		return
	}
	p.st.SetLLMGenerating(true)
	p.st.SetCancelRequested(false)

	req := p.buildRequest(text)
	p.replyWG.Add(1)
	go func() {
		defer p.replyWG.Done()
		defer p.st.SetLLMGenerating(false)
		p.generate(ctx, req)
	}()
}

// buildRequest appends the user turn to the history, trims it to budget and
// snapshots it into a completion request.
func (p *Pipeline) buildRequest(text string) llm.CompletionRequest {
	p.histMu.Lock()
	defer p.histMu.Unlock()

	p.history = append(p.history, llm.Message{Role: llm.RoleUser, Content: text})
	p.trimHistoryLocked()

	msgs := make([]llm.Message, len(p.history))
	copy(msgs, p.history)
	return llm.CompletionRequest{
		Messages:     msgs,
		Temperature:  p.chat.Temperature,
		MaxTokens:    p.chat.MaxTokens,
		SystemPrompt: p.chat.SystemPrompt,
	}
}

// trimHistoryLocked drops the oldest turns until the history fits both the
// message cap and the model's context window. Callers hold histMu.
func (p *Pipeline) trimHistoryLocked() {
	limit := p.chat.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if n := len(p.history); n > limit {
		p.history = append(p.history[:0], p.history[n-limit:]...)
	}

	caps := p.llmP.Capabilities()
	if caps.ContextWindow <= 0 {
		return
	}
	budget := caps.ContextWindow - p.chat.MaxTokens
	for len(p.history) > 1 {
		n, err := p.llmP.CountTokens(p.history)
		if err != nil {
			slog.Debug("token count failed, keeping history as is", "err", err)
			return
		}
		if n <= budget {
			return
		}
		p.history = append(p.history[:0], p.history[1:]...)
	}
}

// generate streams one completion, speaking complete sentences as they form.
// The assistant's reply joins the history only when generation ran to its
// natural end; a stopped reply leaves no trace, the user cut it off.
func (p *Pipeline) generate(ctx context.Context, req llm.CompletionRequest) {
	ctx, span := observe.StartSpan(ctx, "pipeline.reply")
	defer span.End()

	start := time.Now()
	ch, err := p.llmP.StreamCompletion(ctx, req)
	if err != nil {
		p.metrics.RecordProviderError(ctx, "llm", "stream")
		observe.Logger(ctx).Error("llm stream failed", "err", err)
		return
	}

	full, cancelled := p.forwardSentences(ctx, ch)
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if cancelled || full == "" {
		return
	}

	p.histMu.Lock()
	p.history = append(p.history, llm.Message{Role: llm.RoleAssistant, Content: full})
	p.histMu.Unlock()
	observe.Logger(ctx).Info("reply complete", "chars", len(full), "took", time.Since(start))
}

// forwardSentences reads streamed chunks, cuts them into complete sentences
// and speaks each one as soon as it forms, so playback starts before the
// model finishes. Returns the accumulated reply text and whether generation
// was cut short.
func (p *Pipeline) forwardSentences(ctx context.Context, ch <-chan llm.Chunk) (full string, cancelled bool) {
	var all, buf strings.Builder
	for {
		if p.st.CancelRequested() {
			go drainChunks(ch)
			return all.String(), true
		}
		select {
		case <-ctx.Done():
			go drainChunks(ch)
			return all.String(), true
		case chunk, ok := <-ch:
			if !ok {
				if buf.Len() > 0 {
					p.speak(ctx, buf.String())
				}
				return all.String(), false
			}
			if chunk.FinishReason == "error" {
				// The error chunk's text is the description, not content.
				p.metrics.RecordProviderError(ctx, "llm", "generate")
				observe.Logger(ctx).Error("generation failed mid-stream", "detail", chunk.Text)
				go drainChunks(ch)
				return all.String(), true
			}
			if chunk.Text != "" {
				all.WriteString(chunk.Text)
				buf.WriteString(chunk.Text)
			}

			for {
				idx := sentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
				buf.Reset()
				buf.WriteString(rest)
				p.speak(ctx, sentence)
			}

			if chunk.FinishReason != "" {
				if buf.Len() > 0 {
					p.speak(ctx, buf.String())
				}
				return all.String(), false
			}
		}
	}
}

// speak synthesizes one sentence and queues it for playback. Synthesis
// failures skip the sentence; the reply text is unaffected.
func (p *Pipeline) speak(ctx context.Context, sentence string) {
	if p.ttsP == nil || p.player == nil || !p.st.TTSEnabled() {
		return
	}
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return
	}

	start := time.Now()
	samples, rate, err := p.ttsP.Synthesize(ctx, sentence)
	if err != nil {
		p.metrics.RecordProviderError(ctx, "tts", "synthesize")
		observe.Logger(ctx).Error("synthesis failed, skipping sentence", "err", err)
		return
	}
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if len(samples) == 0 {
		return
	}
	if rate != audio.TargetRate {
		if samples, err = audio.Resample(samples, rate); err != nil {
			observe.Logger(ctx).Error("playback resample failed", "err", err, "rate", rate)
			return
		}
	}

	select {
	case p.speech <- samples:
	case <-ctx.Done():
	}
}

// sentenceBoundary returns the index of the first '.', '!' or '?' that is
// immediately followed by whitespace, or -1 when s holds no complete sentence
// yet.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// drainChunks discards the rest of a completion stream so the provider's
// sender goroutine can exit after a cancelled reply.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
