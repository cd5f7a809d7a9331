package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// APIErrorResponse mirrors the gateway error envelope for test assertions.
type APIErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError is the object inside APIErrorResponse.
type APIError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

// AssertJSONErrorResponse decodes the JSON response from the recorder and
// verifies the HTTP status, error type, and error message.
func AssertJSONErrorResponse(t *testing.T, recorder *httptest.ResponseRecorder, expectedStatus int, expectedType, expectedMsg string) {
	t.Helper()

	assert.Equal(t, expectedStatus, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var resp APIErrorResponse
	err := json.NewDecoder(recorder.Body).Decode(&resp)
	require.NoError(t, err, "failed to decode JSON error response")

	assert.Equal(t, expectedType, resp.Error.Type)
	assert.Equal(t, expectedMsg, resp.Error.Message)
}

// AssertErrorCode checks status and the envelope's code field.
func AssertErrorCode(t *testing.T, recorder *httptest.ResponseRecorder, expectedStatus int, expectedCode string) APIErrorResponse {
	t.Helper()

	assert.Equal(t, expectedStatus, recorder.Code)
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp), "failed to decode JSON error response")
	require.NotNil(t, resp.Error.Code)
	assert.Equal(t, expectedCode, *resp.Error.Code)
	return resp
}

// NewTestRequest creates an *http.Request with a JSON body for testing.
func NewTestRequest(method, path string, body interface{}) *http.Request {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewTestRequestWithHeaders creates an *http.Request with a JSON body and custom headers.
func NewTestRequestWithHeaders(method, path string, body interface{}, headers map[string]string) *http.Request {
	req := NewTestRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

// SSE holds the parts of a server-sent event body.
type SSE struct {
	// Data holds every data payload except the [DONE] marker.
	Data     []string
	Comments []string
	Done     bool
}

// ParseSSE splits an event-stream body into its events.
func ParseSSE(body string) SSE {
	var out SSE
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		switch {
		case block == "":
		case block == "data: [DONE]":
			out.Done = true
		case strings.HasPrefix(block, "data: "):
			out.Data = append(out.Data, strings.TrimPrefix(block, "data: "))
		case strings.HasPrefix(block, ":"):
			out.Comments = append(out.Comments, strings.TrimSpace(strings.TrimPrefix(block, ":")))
		}
	}
	return out
}
