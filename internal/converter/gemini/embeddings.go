package gemini

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

// ModelPath returns the models/{id} resource name.
func ModelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// ToBatchEmbed maps an embeddings request to batchEmbedContents.
func ToBatchEmbed(req *openai.OpenAIEmbeddingRequest) (*BatchEmbedRequest, error) {
	inputs, err := req.Inputs()
	if err != nil {
		return nil, translationErr("input", "%v", err)
	}
	if len(inputs) == 0 {
		return nil, translationErr("input", "at least one input is required")
	}
	if req.EncodingFormat != "" && req.EncodingFormat != "float" {
		return nil, translationErr("encoding_format", "only float is supported")
	}

	var dims *int32
	if req.Dimensions != nil {
		if *req.Dimensions <= 0 || *req.Dimensions > math.MaxInt32 {
			return nil, translationErr("dimensions", "must be a positive integer")
		}
		d := int32(*req.Dimensions)
		dims = &d
	}

	out := &BatchEmbedRequest{Requests: make([]EmbedContentRequest, 0, len(inputs))}
	for _, in := range inputs {
		out.Requests = append(out.Requests, EmbedContentRequest{
			Model:                ModelPath(req.Model),
			Content:              &genai.Content{Parts: []*genai.Part{{Text: in}}},
			OutputDimensionality: dims,
		})
	}
	return out, nil
}

// FromBatchEmbed converts the upstream vectors. The upstream reports no
// token usage, so usage is zero.
func FromBatchEmbed(resp *BatchEmbedResponse, model string, inputs int) (*openai.OpenAIEmbeddingResponse, error) {
	if len(resp.Embeddings) != inputs {
		return nil, fmt.Errorf("upstream returned %d embeddings for %d inputs", len(resp.Embeddings), inputs)
	}
	out := &openai.OpenAIEmbeddingResponse{
		Object: "list",
		Model:  model,
		Data:   make([]openai.OpenAIEmbeddingData, 0, len(resp.Embeddings)),
		Usage:  &openai.OpenAIUsage{},
	}
	for i, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for j, v := range e.Values {
			vec[j] = f64(v)
		}
		out.Data = append(out.Data, openai.OpenAIEmbeddingData{
			Object:    "embedding",
			Index:     i,
			Embedding: vec,
		})
	}
	return out, nil
}
