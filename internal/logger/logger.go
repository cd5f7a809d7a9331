package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Supported output formats.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// New creates a logger writing to stdout.
// level can be "debug", "info", "warn" or "error" (default "info").
// format can be "text", "json" or "pretty" (default "text").
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	slogLevel := ParseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel})
	case FormatPretty:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.TimeOnly,
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel})
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel converts a level name to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TruncateLongFields shortens long string values inside a JSON document so
// request bodies with inline images or embeddings stay readable in logs.
// Non-JSON input is returned unchanged.
func TruncateLongFields(body string, maxFieldLength int) string {
	var data interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return body
	}

	data = truncateValue(data, maxFieldLength)

	truncated, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return string(truncated)
}

// heavyFields are truncated to a short prefix regardless of maxLength.
var heavyFields = map[string]bool{
	"embedding": true,
	"data":      true,
	"url":       true,
	"b64_json":  true,
}

func truncateValue(v interface{}, maxLength int) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for key, value := range val {
			if str, ok := value.(string); ok {
				limit := maxLength
				if heavyFields[key] && limit > 50 {
					limit = 50
				}
				val[key] = truncateString(str, limit)
				continue
			}
			if arr, ok := value.([]interface{}); ok && key == "embedding" && len(arr) > 8 {
				val[key] = fmt.Sprintf("[%d floats]", len(arr))
				continue
			}
			val[key] = truncateValue(value, maxLength)
		}
		return val
	case []interface{}:
		for i := range val {
			val[i] = truncateValue(val[i], maxLength)
		}
		return val
	case string:
		return truncateString(val, maxLength)
	default:
		return v
	}
}

func truncateString(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return fmt.Sprintf("%s... [truncated %d chars]", s[:limit], len(s)-limit)
}
