package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

// Options adjust request translation.
type Options struct {
	// DisableSafety sets every harm category threshold to BLOCK_NONE.
	DisableSafety bool
	// GoogleSearch adds the search grounding tool.
	GoogleSearch bool
}

var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// ToGemini translates a chat completion request. Fields with no upstream
// equivalent are dropped and reported in the returned warnings.
func ToGemini(req *openai.OpenAIRequest, opts Options) (*GenerateContentRequest, Warnings, error) {
	var warn Warnings

	if len(req.Messages) == 0 {
		return nil, nil, translationErr("messages", "at least one message is required")
	}

	out := &GenerateContentRequest{Contents: make([]*genai.Content, 0, len(req.Messages))}

	var system []*genai.Part
	for i, msg := range req.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		if msg.Name != "" && msg.Role != "tool" {
			warn.add("%s.name is not supported and was dropped", field)
		}

		switch msg.Role {
		case "system", "developer":
			system = append(system, &genai.Part{Text: msg.Content.String()})

		case "user":
			if msg.Content.IsEmpty() {
				return nil, nil, translationErr(field+".content", "user message content is required")
			}
			parts, err := contentToParts(msg.Content, field, &warn)
			if err != nil {
				return nil, nil, err
			}
			out.Contents = append(out.Contents, &genai.Content{Role: "user", Parts: parts})

		case "assistant":
			parts, err := assistantParts(msg, field, &warn)
			if err != nil {
				return nil, nil, err
			}
			out.Contents = append(out.Contents, &genai.Content{Role: "model", Parts: parts})

		case "tool":
			part, err := toolResultPart(req.Messages, msg, field)
			if err != nil {
				return nil, nil, err
			}
			// consecutive tool results share one turn
			if n := len(out.Contents); n > 0 && i > 0 && req.Messages[i-1].Role == "tool" {
				out.Contents[n-1].Parts = append(out.Contents[n-1].Parts, part)
			} else {
				out.Contents = append(out.Contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
			}

		default:
			return nil, nil, translationErr(field+".role", "unsupported role %q", msg.Role)
		}
	}

	if len(system) > 0 {
		out.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(out.Contents) == 0 {
		return nil, nil, translationErr("messages", "at least one non-system message is required")
	}

	cfg, err := buildGenerationConfig(req, &warn)
	if err != nil {
		return nil, nil, err
	}
	out.GenerationConfig = cfg

	tools, err := convertTools(req.Tools, &warn)
	if err != nil {
		return nil, nil, err
	}
	if opts.GoogleSearch && !hasGoogleSearch(tools) {
		tools = append(tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	out.Tools = tools

	if req.ToolChoice != nil {
		tc, err := mapToolChoice(req.ToolChoice)
		if err != nil {
			return nil, nil, err
		}
		out.ToolConfig = tc
	}

	if opts.DisableSafety {
		for _, c := range safetyCategories {
			out.SafetySettings = append(out.SafetySettings, &genai.SafetySetting{
				Category:  c,
				Threshold: genai.HarmBlockThresholdBlockNone,
			})
		}
	}

	if req.User != "" {
		warn.add("user is not supported and was dropped")
	}
	if len(req.LogitBias) > 0 {
		warn.add("logit_bias is not supported and was dropped")
	}
	if req.Logprobs != nil || req.TopLogprobs != nil {
		warn.add("logprobs are not supported and were dropped")
	}
	if req.ParallelToolCalls != nil {
		warn.add("parallel_tool_calls is not supported and was dropped")
	}
	if len(req.Metadata) > 0 {
		warn.add("metadata is not supported and was dropped")
	}

	return out, warn, nil
}

func assistantParts(msg openai.OpenAIMessage, field string, warn *Warnings) ([]*genai.Part, error) {
	var parts []*genai.Part
	if msg.ReasoningContent != "" {
		parts = append(parts, &genai.Part{Text: msg.ReasoningContent, Thought: true})
	}

	skipEmpty := len(msg.ToolCalls) > 0 && msg.Content.Text != nil && *msg.Content.Text == ""
	if !msg.Content.IsEmpty() && !skipEmpty {
		cp, err := contentToParts(msg.Content, field, warn)
		if err != nil {
			return nil, err
		}
		parts = append(parts, cp...)
	}

	for j, tc := range msg.ToolCalls {
		tcField := fmt.Sprintf("%s.tool_calls[%d]", field, j)
		if tc.Function.Name == "" {
			return nil, translationErr(tcField+".function.name", "function name is required")
		}
		var args map[string]interface{}
		if s := strings.TrimSpace(tc.Function.Arguments); s != "" {
			if err := json.Unmarshal([]byte(s), &args); err != nil {
				return nil, translationErr(tcField+".function.arguments", "arguments must be a JSON object")
			}
		}
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}})
	}

	if len(parts) == 0 {
		return nil, translationErr(field, "assistant message needs content or tool_calls")
	}
	return parts, nil
}

// toolResultPart turns a tool message into a FunctionResponse. The function
// name comes from msg.Name or the assistant tool call with the same id.
func toolResultPart(all []openai.OpenAIMessage, msg openai.OpenAIMessage, field string) (*genai.Part, error) {
	if msg.ToolCallID == "" {
		return nil, translationErr(field+".tool_call_id", "tool message requires tool_call_id")
	}
	name := msg.Name
	if name == "" {
		name = findFunctionName(all, msg.ToolCallID)
	}
	if name == "" {
		return nil, translationErr(field+".tool_call_id", "no assistant tool call with id %q", msg.ToolCallID)
	}

	return &genai.Part{FunctionResponse: &genai.FunctionResponse{
		ID:       msg.ToolCallID,
		Name:     name,
		Response: toolResponseMap(msg.Content.String()),
	}}, nil
}

// toolResponseMap wraps tool output: JSON objects pass through, anything
// else becomes {"output": s}.
func toolResponseMap(s string) map[string]interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]interface{}{"output": s}
}

func findFunctionName(messages []openai.OpenAIMessage, toolCallID string) string {
	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Function.Name
			}
		}
	}
	return ""
}
