package gemini

import (
	"fmt"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

// convertTools groups function declarations into one Tool. Search aliases
// become a separate google_search tool placed after the functions.
func convertTools(tools []openai.Tool, warn *Warnings) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	var decls []*genai.FunctionDeclaration
	search := false
	for i, t := range tools {
		field := fmt.Sprintf("tools[%d]", i)
		switch t.Type {
		case "function":
			if t.Function == nil || t.Function.Name == "" {
				return nil, translationErr(field+".function.name", "function name is required")
			}
			if t.Function.Strict != nil {
				warn.add("%s.function.strict is not supported and was dropped", field)
			}
			decl := &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
			}
			if t.Function.Parameters != nil {
				decl.ParametersJsonSchema = t.Function.Parameters
			}
			decls = append(decls, decl)
		case "google_search", "web_search", "web_search_preview":
			search = true
		default:
			warn.add("%s has unsupported type %q and was dropped", field, t.Type)
		}
	}

	var out []*genai.Tool
	if len(decls) > 0 {
		out = append(out, &genai.Tool{FunctionDeclarations: decls})
	}
	if search {
		out = append(out, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return out, nil
}

func hasGoogleSearch(tools []*genai.Tool) bool {
	for _, t := range tools {
		if t.GoogleSearch != nil {
			return true
		}
	}
	return false
}

// mapToolChoice accepts "none", "auto", "required" or
// {"type":"function","function":{"name":...}}.
func mapToolChoice(choice interface{}) (*genai.ToolConfig, error) {
	fcc := &genai.FunctionCallingConfig{}

	switch c := choice.(type) {
	case string:
		switch c {
		case "none":
			fcc.Mode = genai.FunctionCallingConfigModeNone
		case "auto":
			fcc.Mode = genai.FunctionCallingConfigModeAuto
		case "required":
			fcc.Mode = genai.FunctionCallingConfigModeAny
		default:
			return nil, translationErr("tool_choice", "unsupported value %q", c)
		}
	case map[string]interface{}:
		fn, _ := c["function"].(map[string]interface{})
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, translationErr("tool_choice.function.name", "function name is required")
		}
		fcc.Mode = genai.FunctionCallingConfigModeAny
		fcc.AllowedFunctionNames = []string{name}
	default:
		return nil, translationErr("tool_choice", "must be a string or an object")
	}

	return &genai.ToolConfig{FunctionCallingConfig: fcc}, nil
}

// toolChoiceFromConfig is the inverse of mapToolChoice.
func toolChoiceFromConfig(tc *genai.ToolConfig) interface{} {
	if tc == nil || tc.FunctionCallingConfig == nil {
		return nil
	}
	fcc := tc.FunctionCallingConfig
	switch fcc.Mode {
	case genai.FunctionCallingConfigModeNone:
		return "none"
	case genai.FunctionCallingConfigModeAuto:
		return "auto"
	case genai.FunctionCallingConfigModeAny:
		if len(fcc.AllowedFunctionNames) == 1 {
			return map[string]interface{}{
				"type":     "function",
				"function": map[string]interface{}{"name": fcc.AllowedFunctionNames[0]},
			}
		}
		return "required"
	}
	return nil
}
