package proxy

import (
	"context"
	"time"
	"unicode"

	"github.com/mixaill76/gemini_gateway/internal/converter/gemini"
	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

const keepaliveComment = "keepalive"

type completion struct {
	resp *openai.OpenAIResponse
	err  error
}

// simulate makes one blocking upstream call and replays the result as
// word-grouped chunks spaced by ChunkInterval. While the call is pending,
// keepalive comments hold the connection open.
func (e *Engine) simulate(ctx context.Context, t *Tracker, sse *sseWriter, req *openai.OpenAIRequest) error {
	done := make(chan completion, 1)
	go func() {
		resp, err := e.Complete(ctx, t, req)
		done <- completion{resp: resp, err: err}
	}()

	var keepalive <-chan time.Time
	if e.cfg.KeepaliveInterval > 0 {
		ticker := time.NewTicker(e.cfg.KeepaliveInterval)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	var res completion
wait:
	for {
		select {
		case res = <-done:
			break wait
		case <-keepalive:
			if err := sse.Comment(keepaliveComment); err != nil {
				return AsError(context.Canceled)
			}
		}
	}

	if res.err != nil {
		if sse.Started() {
			sse.Fail(res.err)
		}
		return res.err
	}

	t.To(StateResponding)
	for i, ch := range e.simulatedChunks(res.resp) {
		if i > 0 && e.cfg.ChunkInterval > 0 {
			if err := sleepCtx(ctx, e.cfg.ChunkInterval); err != nil {
				return AsError(err)
			}
		}
		if err := sse.Event(ch); err != nil {
			return AsError(context.Canceled)
		}
	}
	return sse.Done()
}

// simulatedChunks lays out the events for a complete response: reasoning,
// then content, then tool calls, then the terminal event.
func (e *Engine) simulatedChunks(resp *openai.OpenAIResponse) []*openai.OpenAIStreamingChunk {
	conv := gemini.NewStreamConverter(resp.Model)
	var out []*openai.OpenAIStreamingChunk

	reason := "stop"
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		reason = choice.FinishReason
		msg := choice.Message
		for _, piece := range splitChunks(msg.ReasoningContent, e.cfg.ChunkSize) {
			out = append(out, conv.Reasoning(piece))
		}
		if msg.Content != nil {
			for _, piece := range splitChunks(*msg.Content, e.cfg.ChunkSize) {
				out = append(out, conv.Text(piece))
			}
		}
		if len(msg.ToolCalls) > 0 {
			out = append(out, conv.ToolCalls(msg.ToolCalls))
		}
	}

	conv.SetUsage(resp.Usage)
	return append(out, conv.FinishWith(reason))
}

// splitChunks cuts s at word boundaries into pieces of at least minRunes
// runes; the last piece may be shorter. Whitespace stays attached to the
// word it precedes so the pieces concatenate back to s. A single word much
// longer than minRunes, as in text without spaces, is cut by runes.
func splitChunks(s string, minRunes int) []string {
	if s == "" {
		return nil
	}
	if minRunes <= 0 {
		minRunes = 1
	}

	longWord := max(4*minRunes, 40)
	runes := []rune(s)
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0:0]
		}
	}

	for i := 0; i < len(runes); {
		j := i
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		for j < len(runes) && !unicode.IsSpace(runes[j]) {
			j++
		}
		seg := runes[i:j]
		i = j

		if len(seg) > longWord {
			flush()
			for len(seg) > minRunes {
				out = append(out, string(seg[:minRunes]))
				seg = seg[minRunes:]
			}
		}
		cur = append(cur, seg...)
		if len(cur) >= minRunes {
			flush()
		}
	}
	flush()
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
