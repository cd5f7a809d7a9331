package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

// ToOpenAI converts a complete upstream response.
func ToOpenAI(resp *genai.GenerateContentResponse, model, id string) *openai.OpenAIResponse {
	out := &openai.OpenAIResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: nowUnix(),
		Model:   model,
		Choices: make([]openai.OpenAIChoice, 0, len(resp.Candidates)),
	}

	for i, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		msg := openai.OpenAIResponseMessage{Role: "assistant"}

		var text, reasoning strings.Builder
		hasText := false
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				switch {
				case p.Thought:
					reasoning.WriteString(p.Text)
				case p.FunctionCall != nil:
					msg.ToolCalls = append(msg.ToolCalls, toolCall(p.FunctionCall))
				case p.Text != "":
					text.WriteString(p.Text)
					hasText = true
				}
			}
		}
		if hasText || len(msg.ToolCalls) == 0 {
			s := text.String()
			msg.Content = &s
		}
		msg.ReasoningContent = reasoning.String()

		out.Choices = append(out.Choices, openai.OpenAIChoice{
			Index:        i,
			Message:      msg,
			FinishReason: finishReason(cand.FinishReason, len(msg.ToolCalls) > 0),
		})
	}

	// a prompt blocked before generation has no candidates
	if len(out.Choices) == 0 {
		empty := ""
		out.Choices = append(out.Choices, openai.OpenAIChoice{
			Message:      openai.OpenAIResponseMessage{Role: "assistant", Content: &empty},
			FinishReason: "content_filter",
		})
	}

	if resp.UsageMetadata != nil {
		out.Usage = convertUsage(resp.UsageMetadata)
	}
	return out
}

func toolCall(fc *genai.FunctionCall) openai.OpenAIToolCall {
	id := fc.ID
	if id == "" {
		id = NewToolCallID()
	}
	return openai.OpenAIToolCall{
		ID:   id,
		Type: "function",
		Function: openai.OpenAIToolFunction{
			Name:      fc.Name,
			Arguments: argsString(fc.Args),
		},
	}
}

// finishReason maps the upstream reason. Function calls always report
// tool_calls because the upstream says STOP for them.
func finishReason(r genai.FinishReason, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch r {
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
		return "content_filter"
	default:
		return "stop"
	}
}

// convertUsage counts thinking tokens as completion tokens.
func convertUsage(meta *genai.GenerateContentResponseUsageMetadata) *openai.OpenAIUsage {
	prompt := int(meta.PromptTokenCount + meta.ToolUsePromptTokenCount)
	completion := int(meta.CandidatesTokenCount + meta.ThoughtsTokenCount)

	usage := &openai.OpenAIUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
	if meta.ThoughtsTokenCount > 0 {
		usage.CompletionTokensDetails = &openai.CompletionTokenDetails{ReasoningTokens: int(meta.ThoughtsTokenCount)}
	}
	if meta.CachedContentTokenCount > 0 {
		usage.PromptTokensDetails = &openai.TokenDetails{CachedTokens: int(meta.CachedContentTokenCount)}
	}
	return usage
}
