package gemini

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// NewCompletionID returns an id in the chatcmpl-<hex> form.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// NewToolCallID is used when upstream omits a function call id.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func nowUnix() int64 {
	return utils.NowUTC().Unix()
}

// f32 narrows a float64 to the float32 Gemini uses.
func f32(v float64) *float32 {
	f := float32(v)
	return &f
}

// f64 widens a float32 through its shortest decimal form so 0.7 stays 0.7
// instead of becoming 0.699999988079071.
func f64(v float32) float64 {
	f, err := strconv.ParseFloat(strconv.FormatFloat(float64(v), 'f', -1, 32), 64)
	if err != nil {
		return float64(v)
	}
	return f
}

// parseDataURL splits data:<mime>;base64,<data>.
func parseDataURL(s string) (mimeType string, data []byte, ok bool, err error) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, false, nil
	}
	header, payload, found := strings.Cut(s, ",")
	if !found {
		return "", nil, true, translationErr("", "malformed data URL")
	}
	header = strings.TrimPrefix(header, "data:")
	mimeType, enc, _ := strings.Cut(header, ";")
	if mimeType == "" {
		return "", nil, true, translationErr("", "data URL without mime type")
	}
	if enc != "base64" {
		return "", nil, true, translationErr("", "only base64 data URLs are supported")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, true, translationErr("", "invalid base64 payload: %v", err)
	}
	return mimeType, data, true, nil
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var extMimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"heic": "image/heic",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"pdf":  "application/pdf",
	"txt":  "text/plain",
}

// mimeFromURL guesses a mime type from the URL path extension.
func mimeFromURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i > 0 {
		u = u[:i]
	}
	if i := strings.LastIndex(u, "."); i > 0 {
		if m, ok := extMimeTypes[strings.ToLower(u[i+1:])]; ok {
			return m
		}
	}
	return "image/jpeg"
}

var audioFormats = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",
}

func audioMimeType(format string) string {
	format = strings.ToLower(format)
	if format == "" {
		format = "wav"
	}
	if m, ok := audioFormats[format]; ok {
		return m
	}
	return "audio/" + format
}

func audioFormat(mimeType string) string {
	for f, m := range audioFormats {
		if m == mimeType {
			return f
		}
	}
	return strings.TrimPrefix(mimeType, "audio/")
}

// SearchSuffix marks a model alias that enables search grounding.
const SearchSuffix = "-search"

// SplitSearchModel strips SearchSuffix from model and reports whether it
// was present.
func SplitSearchModel(model string) (string, bool) {
	if base, ok := strings.CutSuffix(model, SearchSuffix); ok && base != "" {
		return base, true
	}
	return model, false
}
