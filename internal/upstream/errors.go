package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/mixaill76/gemini_gateway/internal/keypool"
)

// Class groups upstream failures by how the dispatcher reacts.
type Class int

const (
	// ClassRetryable failures are retried on another credential.
	ClassRetryable Class = iota
	// ClassCredential failures condemn the credential; the request moves on
	// to another one.
	ClassCredential
	// ClassFatal failures go back to the client unchanged.
	ClassFatal
)

// Error is a failed upstream call.
type Error struct {
	StatusCode int
	// Status is the upstream status string, e.g. INVALID_ARGUMENT.
	Status string
	// Reason is the first ErrorInfo reason, e.g. API_KEY_INVALID.
	Reason  string
	Message string
	Kind    keypool.FailureKind
	Class   Class
	Err     error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// credentialReasons mark a 400 that is really about the key.
var credentialReasons = map[string]bool{
	"API_KEY_INVALID":         true,
	"API_KEY_SERVICE_BLOCKED": true,
	"CONSUMER_SUSPENDED":      true,
	"SERVICE_DISABLED":        true,
}

// FromResponse classifies a non-2xx response. The message comes from the
// {"error":{...}} envelope when present.
func FromResponse(status int, body []byte) *Error {
	e := &Error{StatusCode: status, Message: http.StatusText(status)}
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
			e.Message = msg
		}
		e.Status = gjson.GetBytes(body, "error.status").String()
		if reasons := gjson.GetBytes(body, "error.details.#.reason").Array(); len(reasons) > 0 {
			e.Reason = reasons[0].String()
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || credentialReasons[e.Reason]:
		e.Kind, e.Class = keypool.FailureAuth, ClassCredential
	case status == http.StatusTooManyRequests:
		e.Kind, e.Class = keypool.FailureRateLimited, ClassRetryable
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind, e.Class = keypool.FailureTimeout, ClassRetryable
	case status >= 500:
		e.Kind, e.Class = keypool.FailureServer, ClassRetryable
	default:
		e.Class = ClassFatal
	}
	return e
}

// FromTransport wraps a transport-level failure. Cancellation by the caller
// is returned unchanged so it is never charged to the credential.
func FromTransport(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	kind := keypool.FailureNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = keypool.FailureTimeout
	}
	return &Error{Kind: kind, Class: ClassRetryable, Message: string(kind), Err: err}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
