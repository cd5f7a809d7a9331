package openai

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Canonical returns the normal form of a request: the subset of fields the
// upstream can express, spelled one way. Two requests with the same
// canonical form produce the same upstream call.
func (r *OpenAIRequest) Canonical() *OpenAIRequest {
	out := &OpenAIRequest{
		Model:            r.Model,
		Temperature:      roundFloat(r.Temperature),
		TopP:             roundFloat(r.TopP),
		TopK:             r.TopK,
		Seed:             r.Seed,
		PresencePenalty:  roundFloat(r.PresencePenalty),
		FrequencyPenalty: roundFloat(r.FrequencyPenalty),
		ReasoningEffort:  strings.ToLower(r.ReasoningEffort),
	}

	out.MaxTokens = r.MaxTokens
	if r.MaxCompletionTokens != nil {
		out.MaxTokens = r.MaxCompletionTokens
	}
	if r.N != nil && *r.N > 1 {
		out.N = r.N
	}

	switch s := r.Stop.(type) {
	case string:
		if s != "" {
			out.Stop = []string{s}
		}
	case []string:
		if len(s) > 0 {
			out.Stop = s
		}
	case []interface{}:
		stops := make([]string, 0, len(s))
		for _, v := range s {
			if str, ok := v.(string); ok {
				stops = append(stops, str)
			}
		}
		if len(stops) > 0 {
			out.Stop = stops
		}
	}

	if rf := r.ResponseFormat; rf != nil {
		switch {
		case rf.Type == "json_schema" && rf.JSONSchema != nil && rf.JSONSchema.Schema != nil:
			out.ResponseFormat = &ResponseFormat{Type: "json_schema", JSONSchema: &JSONSchema{Schema: rf.JSONSchema.Schema}}
		case rf.Type == "json_schema" || rf.Type == "json_object":
			out.ResponseFormat = &ResponseFormat{Type: "json_object"}
		}
	}

	out.Messages = canonicalMessages(r.Messages)
	out.Tools = canonicalTools(r.Tools)
	out.ToolChoice = canonicalToolChoice(r.ToolChoice)
	return out
}

func canonicalMessages(in []OpenAIMessage) []OpenAIMessage {
	var system, rest []OpenAIMessage
	for _, m := range in {
		switch m.Role {
		case "system", "developer":
			system = append(system, OpenAIMessage{Role: "system", Content: TextContent(m.Content.String())})
		case "tool":
			rest = append(rest, OpenAIMessage{
				Role:       "tool",
				ToolCallID: m.ToolCallID,
				Content:    TextContent(canonicalToolOutput(m.Content.String())),
			})
		case "assistant":
			msg := OpenAIMessage{
				Role:             "assistant",
				Content:          canonicalContent(m.Content),
				ReasoningContent: m.ReasoningContent,
			}
			if len(m.ToolCalls) > 0 {
				if msg.Content.Text != nil && *msg.Content.Text == "" {
					msg.Content = MessageContent{}
				}
				for _, tc := range m.ToolCalls {
					msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: OpenAIToolFunction{
							Name:      tc.Function.Name,
							Arguments: canonicalArgs(tc.Function.Arguments),
						},
					})
				}
			}
			rest = append(rest, msg)
		default:
			rest = append(rest, OpenAIMessage{Role: m.Role, Content: canonicalContent(m.Content)})
		}
	}
	return append(system, rest...)
}

// canonicalContent drops part types the upstream cannot carry, normalizes
// media by mime type and collapses a lone text part into a string.
func canonicalContent(c MessageContent) MessageContent {
	if c.Text != nil || c.Parts == nil {
		return c
	}

	var blocks []ContentBlock
	for _, b := range c.Parts {
		switch b.Type {
		case "text":
			blocks = append(blocks, ContentBlock{Type: "text", Text: b.Text})
		case "image_url":
			if b.ImageURL != nil {
				blocks = append(blocks, mediaBlock(b.ImageURL.URL))
			}
		case "input_audio":
			if b.InputAudio != nil {
				format := strings.ToLower(b.InputAudio.Format)
				if format == "" {
					format = "wav"
				}
				blocks = append(blocks, ContentBlock{Type: "input_audio", InputAudio: &AudioData{Data: b.InputAudio.Data, Format: format}})
			}
		case "file":
			if b.File != nil && b.File.FileData != "" {
				blocks = append(blocks, mediaBlock(b.File.FileData))
			}
		}
	}

	switch {
	case len(blocks) == 0:
		return MessageContent{}
	case len(blocks) == 1 && blocks[0].Type == "text":
		return TextContent(blocks[0].Text)
	default:
		return PartsContent(blocks...)
	}
}

// mediaBlock classifies a URL part: remote references are image_url,
// inline data is typed by its mime prefix.
func mediaBlock(url string) ContentBlock {
	if !strings.HasPrefix(url, "data:") {
		return ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: url}}
	}
	mime, _, _ := strings.Cut(strings.TrimPrefix(url, "data:"), ";")
	switch {
	case strings.HasPrefix(mime, "image/"):
		return ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: url}}
	case strings.HasPrefix(mime, "audio/"):
		_, data, _ := strings.Cut(url, ",")
		return ContentBlock{Type: "input_audio", InputAudio: &AudioData{Data: data, Format: audioFormatForMime(mime)}}
	default:
		return ContentBlock{Type: "file", File: &FileData{FileData: url}}
	}
}

var audioMimeFormats = map[string]string{
	"audio/wav":  "wav",
	"audio/mpeg": "mp3",
	"audio/ogg":  "ogg",
	"audio/opus": "opus",
	"audio/aac":  "aac",
	"audio/flac": "flac",
	"audio/mp4":  "m4a",
}

func audioFormatForMime(mime string) string {
	if f, ok := audioMimeFormats[mime]; ok {
		return f
	}
	return strings.TrimPrefix(mime, "audio/")
}

// canonicalToolOutput re-encodes JSON object output with sorted keys and
// unwraps the {"output": "..."} envelope.
func canonicalToolOutput(s string) string {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return s
	}
	if len(obj) == 1 {
		if out, ok := obj["output"].(string); ok {
			return out
		}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return s
	}
	return string(b)
}

func canonicalArgs(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return s
	}
	if len(obj) == 0 {
		return "{}"
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return s
	}
	return string(b)
}

func canonicalTools(in []Tool) []Tool {
	var out []Tool
	search := false
	for _, t := range in {
		switch t.Type {
		case "function":
			if t.Function == nil {
				continue
			}
			out = append(out, Tool{Type: "function", Function: &FunctionDecl{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			}})
		case "google_search", "web_search", "web_search_preview":
			search = true
		}
	}
	if search {
		out = append(out, Tool{Type: "google_search"})
	}
	return out
}

func canonicalToolChoice(choice interface{}) interface{} {
	switch c := choice.(type) {
	case string:
		return c
	case map[string]interface{}:
		fn, _ := c["function"].(map[string]interface{})
		name, _ := fn["name"].(string)
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": name},
		}
	}
	return nil
}

// roundFloat rounds through float32, the precision the upstream keeps.
func roundFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strconv.FormatFloat(float64(float32(*v)), 'f', -1, 32), 64)
	if err != nil {
		f = *v
	}
	return &f
}

// CacheKeyPayload is the part of the canonical request that identifies a
// cacheable response: every generation parameter plus the last tail
// messages. tail <= 0 keeps the whole conversation.
func (r *OpenAIRequest) CacheKeyPayload(tail int) *OpenAIRequest {
	c := r.Canonical()
	if tail > 0 && len(c.Messages) > tail {
		c.Messages = c.Messages[len(c.Messages)-tail:]
	}
	return c
}
