package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{"bearer", "/", map[string]string{"Authorization": "Bearer s3cret"}, "s3cret"},
		{"bearer lowercase", "/", map[string]string{"Authorization": "bearer s3cret"}, "s3cret"},
		{"goog header", "/", map[string]string{"x-goog-api-key": "g"}, "g"},
		{"x-api-key", "/", map[string]string{"x-api-key": "x"}, "x"},
		{"key query", "/?key=q", nil, "q"},
		{"password query", "/?password=p", nil, "p"},
		{"basic auth ignored", "/", map[string]string{"Authorization": "Basic abc"}, ""},
		{"none", "/", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractToken(r))
		})
	}
}

func TestAccess_Check(t *testing.T) {
	a := NewAccess("pw", nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.ErrorIs(t, a.Check(r), ErrMissingToken)

	r.Header.Set("Authorization", "Bearer nope")
	assert.ErrorIs(t, a.Check(r), ErrInvalidToken)

	r.Header.Set("Authorization", "Bearer pw")
	assert.NoError(t, a.Check(r))
}

func TestAccess_OpenWithoutPassword(t *testing.T) {
	a := NewAccess("", nil)
	assert.NoError(t, a.Check(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestAccess_UserAgentWhitelist(t *testing.T) {
	a := NewAccess("pw", []string{" SillyTavern ", ""})

	r := httptest.NewRequest(http.MethodGet, "/?key=pw", nil)
	r.Header.Set("User-Agent", "curl/8.0")
	assert.ErrorIs(t, a.Check(r), ErrUserAgentBlocked)

	r.Header.Set("User-Agent", "Mozilla sillytavern/1.12")
	assert.NoError(t, a.Check(r))
}
