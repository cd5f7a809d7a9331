package gemini

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
)

// contentToParts converts message content to Gemini parts.
func contentToParts(c openai.MessageContent, field string, warn *Warnings) ([]*genai.Part, error) {
	if c.Text != nil {
		return []*genai.Part{{Text: *c.Text}}, nil
	}

	parts := make([]*genai.Part, 0, len(c.Parts))
	for i, block := range c.Parts {
		bf := fmt.Sprintf("%s.content[%d]", field, i)
		part, err := blockToPart(block, bf, warn)
		if err != nil {
			return nil, err
		}
		if part != nil {
			parts = append(parts, part)
		}
	}
	return parts, nil
}

func blockToPart(block openai.ContentBlock, field string, warn *Warnings) (*genai.Part, error) {
	switch block.Type {
	case "text":
		return &genai.Part{Text: block.Text}, nil

	case "image_url":
		if block.ImageURL == nil || block.ImageURL.URL == "" {
			return nil, translationErr(field+".image_url", "url is required")
		}
		if block.ImageURL.Detail != "" {
			warn.add("%s.image_url.detail is not supported and was dropped", field)
		}
		return urlToPart(block.ImageURL.URL, field+".image_url.url")

	case "input_audio":
		if block.InputAudio == nil || block.InputAudio.Data == "" {
			return nil, translationErr(field+".input_audio", "data is required")
		}
		mimeType := audioMimeType(block.InputAudio.Format)
		_, data, _, err := parseDataURL(dataURLPrefix(mimeType) + block.InputAudio.Data)
		if err != nil {
			return nil, translationErr(field+".input_audio.data", "%v", err)
		}
		return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}, nil

	case "file":
		if block.File == nil {
			return nil, translationErr(field+".file", "file is required")
		}
		if block.File.FileData == "" {
			warn.add("%s.file without file_data is not supported and was dropped", field)
			return nil, nil
		}
		return urlToPart(block.File.FileData, field+".file.file_data")

	default:
		warn.add("%s has unsupported type %q and was dropped", field, block.Type)
		return nil, nil
	}
}

func dataURLPrefix(mimeType string) string {
	return "data:" + mimeType + ";base64,"
}

// urlToPart handles data URLs (inline) and remote URLs (file reference).
func urlToPart(u, field string) (*genai.Part, error) {
	mimeType, data, isData, err := parseDataURL(u)
	if err != nil {
		return nil, translationErr(field, "%v", err)
	}
	if isData {
		return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}, nil
	}

	for _, scheme := range []string{"http://", "https://", "gs://"} {
		if strings.HasPrefix(u, scheme) {
			return &genai.Part{FileData: &genai.FileData{FileURI: u, MIMEType: mimeFromURL(u)}}, nil
		}
	}
	return nil, translationErr(field, "unsupported url scheme")
}

// partsToContent is the inverse of contentToParts for user/assistant text
// and media. A lone text part becomes plain string content.
func partsToContent(parts []*genai.Part) openai.MessageContent {
	var blocks []openai.ContentBlock
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil, p.FunctionResponse != nil, p.Thought:
			continue
		case p.InlineData != nil:
			blocks = append(blocks, blobToBlock(p.InlineData))
		case p.FileData != nil:
			blocks = append(blocks, openai.ContentBlock{
				Type:     "image_url",
				ImageURL: &openai.ImageURL{URL: p.FileData.FileURI},
			})
		default:
			blocks = append(blocks, openai.ContentBlock{Type: "text", Text: p.Text})
		}
	}

	switch {
	case len(blocks) == 0:
		return openai.MessageContent{}
	case len(blocks) == 1 && blocks[0].Type == "text":
		return openai.TextContent(blocks[0].Text)
	default:
		return openai.PartsContent(blocks...)
	}
}

func blobToBlock(b *genai.Blob) openai.ContentBlock {
	switch {
	case strings.HasPrefix(b.MIMEType, "image/"):
		return openai.ContentBlock{Type: "image_url", ImageURL: &openai.ImageURL{URL: dataURL(b.MIMEType, b.Data)}}
	case strings.HasPrefix(b.MIMEType, "audio/"):
		url := dataURL(b.MIMEType, b.Data)
		return openai.ContentBlock{Type: "input_audio", InputAudio: &openai.AudioData{
			Data:   strings.TrimPrefix(url, dataURLPrefix(b.MIMEType)),
			Format: audioFormat(b.MIMEType),
		}}
	default:
		return openai.ContentBlock{Type: "file", File: &openai.FileData{FileData: dataURL(b.MIMEType, b.Data)}}
	}
}
