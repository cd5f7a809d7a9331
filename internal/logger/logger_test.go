package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", FormatJSON)
	log.Info("request completed", "status", 200)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "request completed", rec["msg"])
	assert.Equal(t, float64(200), rec["status"])
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "error", FormatText)
	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewWithWriter_Pretty(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", FormatPretty)
	log.Debug("pool ready", "credentials", 3)
	assert.Contains(t, buf.String(), "pool ready")
	assert.Contains(t, buf.String(), "credentials")
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.NotNil(t, log)
	assert.False(t, log.Enabled(nil, slog.LevelError))
}

func TestTruncateLongFields_InvalidJSON(t *testing.T) {
	body := "not valid json"
	assert.Equal(t, body, TruncateLongFields(body, 100))
}

func TestTruncateLongFields_HeavyField(t *testing.T) {
	input := `{"data":"` + strings.Repeat("x", 200) + `"}`

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(TruncateLongFields(input, 100)), &data))

	got := data["data"].(string)
	assert.Contains(t, got, "truncated 150 chars")
}

func TestTruncateLongFields_NestedMessages(t *testing.T) {
	long := strings.Repeat("y", 150)
	input := `{"messages":[{"role":"user","content":"` + long + `"}]}`

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(TruncateLongFields(input, 100)), &data))

	msg := data["messages"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "user", msg["role"])
	assert.Contains(t, msg["content"], "truncated")
}

func TestTruncateLongFields_EmbeddingArray(t *testing.T) {
	input := `{"embedding":[1,2,3,4,5,6,7,8,9,10]}`

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(TruncateLongFields(input, 100)), &data))
	assert.Equal(t, "[10 floats]", data["embedding"])
}

func TestTruncateLongFields_ShortContentUnchanged(t *testing.T) {
	input := `{"content":"short content"}`
	assert.JSONEq(t, input, TruncateLongFields(input, 100))
}
