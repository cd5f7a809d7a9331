package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken     = errors.New("missing access token")
	ErrInvalidToken     = errors.New("invalid access token")
	ErrUserAgentBlocked = errors.New("user agent not allowed")
)

// Access guards the inbound surface with a shared password and an optional
// User-Agent whitelist.
type Access struct {
	password  string
	userAgent []string
}

func NewAccess(password string, userAgentWhitelist []string) *Access {
	ua := make([]string, 0, len(userAgentWhitelist))
	for _, s := range userAgentWhitelist {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			ua = append(ua, s)
		}
	}
	return &Access{password: password, userAgent: ua}
}

// ExtractToken looks in Authorization: Bearer, x-goog-api-key, x-api-key,
// then the key and password query parameters.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	for _, name := range []string{"x-goog-api-key", "x-api-key"} {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	q := r.URL.Query()
	if v := q.Get("key"); v != "" {
		return v
	}
	return q.Get("password")
}

// Check validates a request. An empty password leaves the gateway open.
func (a *Access) Check(r *http.Request) error {
	if len(a.userAgent) > 0 {
		ua := strings.ToLower(r.UserAgent())
		allowed := false
		for _, s := range a.userAgent {
			if strings.Contains(ua, s) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrUserAgentBlocked
		}
	}

	if a.password == "" {
		return nil
	}
	token := ExtractToken(r)
	if token == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.password)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
