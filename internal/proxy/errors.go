package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mixaill76/gemini_gateway/internal/converter/gemini"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/ratelimit"
	"github.com/mixaill76/gemini_gateway/internal/upstream"
)

// Kind is the user-visible error category. It is sent as the "code" field
// of the error envelope.
type Kind string

const (
	KindAdmissionRejected Kind = "rate_limited"
	KindPoolExhausted     Kind = "pool_exhausted"
	KindUpstreamRetryable Kind = "upstream_unavailable"
	KindUpstreamFatal     Kind = "upstream_error"
	KindTranslation       Kind = "invalid_request"
	KindUnauthorized      Kind = "unauthorized"
	KindModelNotAllowed   Kind = "model_not_allowed"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal_error"
)

// StatusClientClosedRequest is reported when the client went away first.
const StatusClientClosedRequest = 499

// Error is a request failure ready to be shown to the client. Message never
// carries credential names or secrets.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, status int, message string, err error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Err: err}
}

// AsError converts any error from the request path into an *Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var rej *ratelimit.RejectedError
	switch {
	case errors.As(err, &rej):
		return NewError(KindAdmissionRejected, http.StatusTooManyRequests,
			"rate limit exceeded ("+rej.Reason+")", err)
	case errors.Is(err, keypool.ErrPoolExhausted):
		return NewError(KindPoolExhausted, http.StatusServiceUnavailable,
			"no upstream credential available, try again later", err)
	case errors.Is(err, gemini.ErrTranslation):
		return NewError(KindTranslation, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, context.Canceled):
		return NewError(KindCanceled, StatusClientClosedRequest, "request canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindUpstreamRetryable, http.StatusGatewayTimeout, "upstream deadline exceeded", err)
	}

	if ue, ok := upstream.AsError(err); ok {
		return fromUpstream(ue, 1)
	}
	return NewError(KindInternal, http.StatusInternalServerError, "internal error", err)
}

// fromUpstream maps the last upstream failure of a request.
func fromUpstream(ue *upstream.Error, attempts int) *Error {
	switch ue.Class {
	case upstream.ClassRetryable:
		status := http.StatusBadGateway
		if ue.Kind == keypool.FailureTimeout {
			status = http.StatusGatewayTimeout
		}
		msg := "upstream unavailable: " + ue.Message
		if attempts > 1 {
			msg = fmt.Sprintf("upstream unavailable after %d attempts: %s", attempts, ue.Message)
		}
		return NewError(KindUpstreamRetryable, status, msg, ue)
	case upstream.ClassCredential:
		return NewError(KindUpstreamFatal, http.StatusBadGateway, "upstream rejected the gateway credentials", ue)
	default:
		status := ue.StatusCode
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		return NewError(KindUpstreamFatal, status, ue.Message, ue)
	}
}

// APIErrorResponse represents an OpenAI-compatible error response.
type APIErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError represents the error object inside an OpenAI-compatible error response.
type APIError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

// errorTypeForStatus maps HTTP status codes to OpenAI error type strings.
func errorTypeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusMethodNotAllowed:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return "timeout_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusBadGateway:
		return "api_error"
	default:
		if statusCode >= 500 {
			return "server_error"
		}
		return "invalid_request_error"
	}
}

// Envelope builds the error body for err.
func Envelope(err *Error) APIErrorResponse {
	code := string(err.Kind)
	return APIErrorResponse{
		Error: APIError{
			Message: err.Message,
			Type:    errorTypeForStatus(err.Status),
			Code:    &code,
		},
	}
}

// WriteJSONError writes an OpenAI-compatible JSON error response.
func WriteJSONError(w http.ResponseWriter, statusCode int, message, errorType string, param, code *string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := APIErrorResponse{
		Error: APIError{
			Message: message,
			Type:    errorType,
			Param:   param,
			Code:    code,
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes err in the OpenAI envelope.
func WriteError(w http.ResponseWriter, err error) {
	pe := AsError(err)
	if pe.Kind == KindAdmissionRejected {
		w.Header().Set("Retry-After", "60")
	}
	env := Envelope(pe)
	WriteJSONError(w, pe.Status, env.Error.Message, env.Error.Type, nil, env.Error.Code)
}
