package testhelpers

import (
	"log/slog"

	"github.com/mixaill76/gemini_gateway/internal/logger"
)

// NewTestLogger creates a logger that discards all output for testing.
func NewTestLogger() *slog.Logger {
	return logger.Discard()
}
