package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// streamChunkWriteTimeout is the per-chunk write deadline for streaming responses.
// If no data flows for this duration, the connection is terminated.
const streamChunkWriteTimeout = 60 * time.Second

// sseWriter writes server-sent events. Headers go out with the first write
// so that a request failing before any output still gets a JSON error.
type sseWriter struct {
	w          http.ResponseWriter
	controller *http.ResponseController
	logger     *slog.Logger
	started    bool
}

func newSSEWriter(w http.ResponseWriter, logger *slog.Logger) *sseWriter {
	return &sseWriter{
		w:          w,
		controller: http.NewResponseController(w),
		logger:     logger,
	}
}

func (s *sseWriter) Started() bool {
	return s.started
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseWriter) write(p []byte) error {
	s.start()
	// Set write deadline before each write: keeps active streams alive,
	// terminates if client stops reading for streamChunkWriteTimeout.
	_ = s.controller.SetWriteDeadline(time.Now().Add(streamChunkWriteTimeout))
	if _, err := s.w.Write(p); err != nil {
		if isClientDisconnectError(err) {
			s.logger.Warn("Client disconnected during streaming", "error", err)
		} else {
			s.logger.Error("Failed to write streaming chunk", "error", err)
		}
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) flush() {
	if err := s.controller.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			s.logger.Error("Streaming not supported by response writer")
		} else {
			s.logger.Error("Flusher error", "error", err)
		}
	}
}

// Event writes v as one data event.
func (s *sseWriter) Event(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	return s.write(buf)
}

// Comment writes an SSE comment line, ignored by clients.
func (s *sseWriter) Comment(text string) error {
	return s.write([]byte(": " + text + "\n\n"))
}

func (s *sseWriter) Done() error {
	return s.write([]byte("data: [DONE]\n\n"))
}

// Fail reports err inside an already started stream and terminates it.
func (s *sseWriter) Fail(err error) {
	if werr := s.Event(Envelope(AsError(err))); werr != nil {
		return
	}
	_ = s.Done()
}

// isClientDisconnectError checks if an error indicates the client disconnected
// (broken pipe, connection reset, context canceled). These are expected during
// normal operation and should be logged at lower severity.
func isClientDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "write: broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
