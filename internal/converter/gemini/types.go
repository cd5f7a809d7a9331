package gemini

import (
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GenerateContentRequest is the body of models/{m}:generateContent and
// :streamGenerateContent.
type GenerateContentRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
	Tools             []*genai.Tool           `json:"tools,omitempty"`
	ToolConfig        *genai.ToolConfig       `json:"toolConfig,omitempty"`
	SafetySettings    []*genai.SafetySetting  `json:"safetySettings,omitempty"`
}

// EmbedContentRequest is one entry of a batchEmbedContents call.
type EmbedContentRequest struct {
	Model                string         `json:"model"`
	Content              *genai.Content `json:"content"`
	OutputDimensionality *int32         `json:"outputDimensionality,omitempty"`
}

type BatchEmbedRequest struct {
	Requests []EmbedContentRequest `json:"requests"`
}

type ContentEmbedding struct {
	Values []float32 `json:"values"`
}

type BatchEmbedResponse struct {
	Embeddings []ContentEmbedding `json:"embeddings"`
}

// ModelInfo is one entry of GET models.
type ModelInfo struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods,omitempty"`
}

type ListModelsResponse struct {
	Models        []ModelInfo `json:"models"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

// ErrTranslation is wrapped by every TranslationError.
var ErrTranslation = errors.New("translation failed")

// TranslationError reports a request that cannot be expressed upstream.
type TranslationError struct {
	Field  string
	Reason string
}

func (e *TranslationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *TranslationError) Unwrap() error {
	return ErrTranslation
}

func translationErr(field, format string, args ...any) error {
	return &TranslationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Warnings collects fields that were dropped or approximated.
type Warnings []string

func (w *Warnings) add(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}
