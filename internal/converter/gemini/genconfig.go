package gemini

import (
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

// thinkingBudgets maps reasoning_effort to a Gemini 2.x thinking budget.
var thinkingBudgets = map[string]int32{
	"none":    0,
	"minimal": 512,
	"low":     1024,
	"medium":  8192,
	"high":    24576,
}

// thinkingLevels is used for models that take a level instead of a budget.
var thinkingLevels = map[string]genai.ThinkingLevel{
	"minimal": genai.ThinkingLevelMinimal,
	"low":     genai.ThinkingLevelLow,
	"medium":  genai.ThinkingLevelMedium,
	"high":    genai.ThinkingLevelHigh,
}

// usesThinkingLevel reports whether the model takes ThinkingLevel.
func usesThinkingLevel(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemini-3")
}

// buildGenerationConfig returns nil when the request sets no generation
// parameters.
func buildGenerationConfig(req *openai.OpenAIRequest, warn *Warnings) (*genai.GenerationConfig, error) {
	cfg := &genai.GenerationConfig{}
	set := false

	if req.Temperature != nil {
		cfg.Temperature = f32(*req.Temperature)
		set = true
	}
	if req.TopP != nil {
		cfg.TopP = f32(*req.TopP)
		set = true
	}
	if req.TopK != nil {
		cfg.TopK = f32(float64(*req.TopK))
		set = true
	}

	// max_completion_tokens wins over the legacy max_tokens
	maxTokens := req.MaxTokens
	if req.MaxCompletionTokens != nil {
		maxTokens = req.MaxCompletionTokens
	}
	if maxTokens != nil {
		if *maxTokens <= 0 || *maxTokens > math.MaxInt32 {
			return nil, translationErr("max_tokens", "must be between 1 and %d", math.MaxInt32)
		}
		cfg.MaxOutputTokens = int32(*maxTokens)
		set = true
	}

	if req.N != nil {
		if *req.N < 1 || *req.N > math.MaxInt32 {
			return nil, translationErr("n", "must be a positive integer")
		}
		if *req.N > 1 {
			cfg.CandidateCount = int32(*req.N)
			set = true
		}
	}
	if req.Seed != nil {
		if *req.Seed < math.MinInt32 || *req.Seed > math.MaxInt32 {
			return nil, translationErr("seed", "must fit in a 32-bit integer")
		}
		v := int32(*req.Seed)
		cfg.Seed = &v
		set = true
	}
	if req.PresencePenalty != nil {
		cfg.PresencePenalty = f32(*req.PresencePenalty)
		set = true
	}
	if req.FrequencyPenalty != nil {
		cfg.FrequencyPenalty = f32(*req.FrequencyPenalty)
		set = true
	}

	if req.Stop != nil {
		stops, err := stopSequences(req.Stop)
		if err != nil {
			return nil, err
		}
		if len(stops) > 0 {
			cfg.StopSequences = stops
			set = true
		}
	}

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "text", "":
		case "json_object":
			cfg.ResponseMIMEType = "application/json"
			set = true
		case "json_schema":
			cfg.ResponseMIMEType = "application/json"
			if rf.JSONSchema != nil && rf.JSONSchema.Schema != nil {
				cfg.ResponseJsonSchema = rf.JSONSchema.Schema
			}
			if rf.JSONSchema != nil && (rf.JSONSchema.Name != "" || rf.JSONSchema.Strict != nil) {
				warn.add("response_format.json_schema name and strict are not supported and were dropped")
			}
			set = true
		default:
			return nil, translationErr("response_format.type", "unsupported type %q", rf.Type)
		}
	}

	if effort := req.ReasoningEffort; effort != "" {
		tc, err := thinkingConfig(effort, req.Model)
		if err != nil {
			return nil, err
		}
		cfg.ThinkingConfig = tc
		set = true
	}

	if !set {
		return nil, nil
	}
	return cfg, nil
}

func thinkingConfig(effort, model string) (*genai.ThinkingConfig, error) {
	effort = strings.ToLower(effort)
	budget, ok := thinkingBudgets[effort]
	if !ok {
		return nil, translationErr("reasoning_effort", "unsupported value %q", effort)
	}
	if effort == "none" {
		return &genai.ThinkingConfig{IncludeThoughts: false, ThinkingBudget: &budget}, nil
	}
	if usesThinkingLevel(model) {
		return &genai.ThinkingConfig{IncludeThoughts: true, ThinkingLevel: thinkingLevels[effort]}, nil
	}
	return &genai.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget}, nil
}

// effortFromThinking is the inverse of thinkingConfig.
func effortFromThinking(tc *genai.ThinkingConfig) string {
	if tc == nil {
		return ""
	}
	if tc.ThinkingLevel != "" {
		for effort, level := range thinkingLevels {
			if level == tc.ThinkingLevel {
				return effort
			}
		}
	}
	if tc.ThinkingBudget != nil {
		for effort, b := range thinkingBudgets {
			if b == *tc.ThinkingBudget {
				return effort
			}
		}
	}
	return ""
}

func stopSequences(stop interface{}) ([]string, error) {
	switch s := stop.(type) {
	case string:
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case []string:
		return s, nil
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, translationErr("stop", "must be a string or an array of strings")
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, translationErr("stop", "must be a string or an array of strings")
	}
}
