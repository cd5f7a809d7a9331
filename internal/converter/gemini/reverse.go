package gemini

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

// FromGemini rebuilds a chat completion request from an upstream request.
// For any request r that ToGemini accepts, FromGemini(ToGemini(r)) equals
// r.Canonical().
func FromGemini(model string, gen *GenerateContentRequest) *openai.OpenAIRequest {
	req := &openai.OpenAIRequest{Model: model}

	if gen.SystemInstruction != nil {
		for _, p := range gen.SystemInstruction.Parts {
			req.Messages = append(req.Messages, openai.OpenAIMessage{
				Role:    "system",
				Content: openai.TextContent(p.Text),
			})
		}
	}

	for _, c := range gen.Contents {
		switch {
		case c.Role == "model":
			req.Messages = append(req.Messages, assistantMessage(c.Parts))
		case allFunctionResponses(c.Parts):
			for _, p := range c.Parts {
				req.Messages = append(req.Messages, openai.OpenAIMessage{
					Role:       "tool",
					ToolCallID: p.FunctionResponse.ID,
					Content:    openai.TextContent(toolResponseString(p.FunctionResponse.Response)),
				})
			}
		default:
			req.Messages = append(req.Messages, openai.OpenAIMessage{
				Role:    "user",
				Content: partsToContent(c.Parts),
			})
		}
	}

	applyGenerationConfig(req, gen.GenerationConfig)

	for _, t := range gen.Tools {
		for _, d := range t.FunctionDeclarations {
			fn := &openai.FunctionDecl{Name: d.Name, Description: d.Description}
			if params, ok := d.ParametersJsonSchema.(map[string]interface{}); ok {
				fn.Parameters = params
			}
			req.Tools = append(req.Tools, openai.Tool{Type: "function", Function: fn})
		}
	}
	if hasGoogleSearch(gen.Tools) {
		req.Tools = append(req.Tools, openai.Tool{Type: "google_search"})
	}
	req.ToolChoice = toolChoiceFromConfig(gen.ToolConfig)

	return req
}

func allFunctionResponses(parts []*genai.Part) bool {
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func assistantMessage(parts []*genai.Part) openai.OpenAIMessage {
	msg := openai.OpenAIMessage{Role: "assistant", Content: partsToContent(parts)}

	var reasoning strings.Builder
	for _, p := range parts {
		switch {
		case p.Thought:
			reasoning.WriteString(p.Text)
		case p.FunctionCall != nil:
			msg.ToolCalls = append(msg.ToolCalls, openai.OpenAIToolCall{
				ID:   p.FunctionCall.ID,
				Type: "function",
				Function: openai.OpenAIToolFunction{
					Name:      p.FunctionCall.Name,
					Arguments: argsString(p.FunctionCall.Args),
				},
			})
		}
	}
	msg.ReasoningContent = reasoning.String()
	return msg
}

// argsString renders call arguments as compact JSON with sorted keys.
func argsString(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// toolResponseString undoes toolResponseMap.
func toolResponseString(resp map[string]interface{}) string {
	if len(resp) == 1 {
		if s, ok := resp["output"].(string); ok {
			return s
		}
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return ""
	}
	return string(b)
}

func applyGenerationConfig(req *openai.OpenAIRequest, cfg *genai.GenerationConfig) {
	if cfg == nil {
		return
	}
	if cfg.Temperature != nil {
		v := f64(*cfg.Temperature)
		req.Temperature = &v
	}
	if cfg.TopP != nil {
		v := f64(*cfg.TopP)
		req.TopP = &v
	}
	if cfg.TopK != nil {
		v := int(*cfg.TopK)
		req.TopK = &v
	}
	if cfg.MaxOutputTokens > 0 {
		v := int(cfg.MaxOutputTokens)
		req.MaxTokens = &v
	}
	if cfg.CandidateCount > 1 {
		v := int(cfg.CandidateCount)
		req.N = &v
	}
	if cfg.Seed != nil {
		v := int64(*cfg.Seed)
		req.Seed = &v
	}
	if cfg.PresencePenalty != nil {
		v := f64(*cfg.PresencePenalty)
		req.PresencePenalty = &v
	}
	if cfg.FrequencyPenalty != nil {
		v := f64(*cfg.FrequencyPenalty)
		req.FrequencyPenalty = &v
	}
	if len(cfg.StopSequences) > 0 {
		req.Stop = cfg.StopSequences
	}
	if cfg.ResponseMIMEType == "application/json" {
		if schema, ok := cfg.ResponseJsonSchema.(map[string]interface{}); ok {
			req.ResponseFormat = &openai.ResponseFormat{
				Type:       "json_schema",
				JSONSchema: &openai.JSONSchema{Schema: schema},
			}
		} else {
			req.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
		}
	}
	req.ReasoningEffort = effortFromThinking(cfg.ThinkingConfig)
}
