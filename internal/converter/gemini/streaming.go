package gemini

import (
	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

// StreamConverter turns upstream stream chunks into chat.completion.chunk
// events. One converter serves one response; it is not safe for concurrent
// use.
type StreamConverter struct {
	id       string
	model    string
	created  int64
	roleSent bool

	toolIndex int
	reason    genai.FinishReason
	usage     *openai.OpenAIUsage
}

func NewStreamConverter(model string) *StreamConverter {
	return &StreamConverter{
		id:      NewCompletionID(),
		model:   model,
		created: nowUnix(),
	}
}

// ID returns the completion id shared by every chunk.
func (c *StreamConverter) ID() string {
	return c.id
}

func (c *StreamConverter) chunk(delta openai.OpenAIStreamingDelta) *openai.OpenAIStreamingChunk {
	if !c.roleSent {
		delta.Role = "assistant"
		c.roleSent = true
	}
	return &openai.OpenAIStreamingChunk{
		ID:      c.id,
		Object:  "chat.completion.chunk",
		Created: c.created,
		Model:   c.model,
		Choices: []openai.OpenAIStreamingChoice{{Delta: delta}},
	}
}

// Convert maps one upstream chunk to one event. Finish reason and usage are
// held back for Finish. It returns nil when the chunk carries no delta.
func (c *StreamConverter) Convert(resp *genai.GenerateContentResponse) *openai.OpenAIStreamingChunk {
	if resp.UsageMetadata != nil {
		c.usage = convertUsage(resp.UsageMetadata)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" && cand.FinishReason != genai.FinishReasonUnspecified {
		c.reason = cand.FinishReason
	}
	if cand.Content == nil {
		return nil
	}

	var delta openai.OpenAIStreamingDelta
	empty := true
	for _, p := range cand.Content.Parts {
		switch {
		case p.Thought:
			delta.ReasoningContent += p.Text
			empty = empty && p.Text == ""
		case p.FunctionCall != nil:
			tc := toolCall(p.FunctionCall)
			delta.ToolCalls = append(delta.ToolCalls, openai.OpenAIStreamingToolCall{
				Index: c.toolIndex,
				ID:    tc.ID,
				Type:  "function",
				Function: &openai.OpenAIStreamingToolFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
			c.toolIndex++
			empty = false
		case p.Text != "":
			delta.Content += p.Text
			empty = false
		}
	}
	if empty {
		return nil
	}
	return c.chunk(delta)
}

// Text builds a content event.
func (c *StreamConverter) Text(s string) *openai.OpenAIStreamingChunk {
	return c.chunk(openai.OpenAIStreamingDelta{Content: s})
}

// Reasoning builds a reasoning_content event.
func (c *StreamConverter) Reasoning(s string) *openai.OpenAIStreamingChunk {
	return c.chunk(openai.OpenAIStreamingDelta{ReasoningContent: s})
}

// ToolCalls builds one event carrying complete tool calls.
func (c *StreamConverter) ToolCalls(calls []openai.OpenAIToolCall) *openai.OpenAIStreamingChunk {
	delta := openai.OpenAIStreamingDelta{}
	for _, tc := range calls {
		delta.ToolCalls = append(delta.ToolCalls, openai.OpenAIStreamingToolCall{
			Index: c.toolIndex,
			ID:    tc.ID,
			Type:  "function",
			Function: &openai.OpenAIStreamingToolFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
		c.toolIndex++
	}
	return c.chunk(delta)
}

// SetUsage overrides the usage reported by Finish.
func (c *StreamConverter) SetUsage(u *openai.OpenAIUsage) {
	c.usage = u
}

// Finish returns the terminal event: empty delta, finish reason and usage.
func (c *StreamConverter) Finish() *openai.OpenAIStreamingChunk {
	reason := finishReason(c.reason, c.toolIndex > 0)
	ch := c.chunk(openai.OpenAIStreamingDelta{})
	ch.Choices[0].FinishReason = &reason
	ch.Usage = c.usage
	return ch
}

// FinishWith is Finish with an explicit OpenAI finish reason.
func (c *StreamConverter) FinishWith(reason string) *openai.OpenAIStreamingChunk {
	ch := c.chunk(openai.OpenAIStreamingDelta{})
	ch.Choices[0].FinishReason = &reason
	ch.Usage = c.usage
	return ch
}
