package orchestrator

import "net/http"

// responseCapture records the status code written through it. Flush and
// write deadlines reach the underlying writer via Unwrap.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	return &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rc *responseCapture) WriteHeader(statusCode int) {
	if !rc.wrote {
		rc.statusCode = statusCode
		rc.wrote = true
	}
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.wrote = true
	return rc.ResponseWriter.Write(b)
}

func (rc *responseCapture) Flush() {
	if f, ok := rc.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}
