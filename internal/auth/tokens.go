package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// Scopes requested for service-account tokens.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/generative-language",
}

var ErrNoServiceAccount = errors.New("no service account JSON provided")

// SourceFactory builds a token source from service-account JSON.
type SourceFactory func(ctx context.Context, serviceAccountJSON []byte) (oauth2.TokenSource, error)

// GoogleSourceFactory uses golang.org/x/oauth2/google.
func GoogleSourceFactory(ctx context.Context, serviceAccountJSON []byte) (oauth2.TokenSource, error) {
	creds, err := google.CredentialsFromJSON(ctx, serviceAccountJSON, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials: %w", err)
	}
	return creds.TokenSource, nil
}

// TokenManager mints and caches access tokens per credential name.
type TokenManager struct {
	mu           sync.Mutex
	tokens       map[string]*cachedToken
	newSource    SourceFactory
	logger       *slog.Logger
	tokenRefresh time.Duration
	now          func() time.Time
}

type cachedToken struct {
	token       *oauth2.Token
	tokenSource oauth2.TokenSource
}

// NewTokenManager creates a token manager. A nil factory means
// GoogleSourceFactory.
func NewTokenManager(factory SourceFactory, logger *slog.Logger) *TokenManager {
	if factory == nil {
		factory = GoogleSourceFactory
	}
	return &TokenManager{
		tokens:       make(map[string]*cachedToken),
		newSource:    factory,
		logger:       logger,
		tokenRefresh: 5 * time.Minute,
		now:          utils.NowUTC,
	}
}

// Token returns a bearer token for the named credential, refreshing it
// tokenRefresh before expiry.
func (tm *TokenManager) Token(ctx context.Context, name, serviceAccountJSON string) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if cached, ok := tm.tokens[name]; ok {
		if tm.now().Before(cached.token.Expiry.Add(-tm.tokenRefresh)) {
			return cached.token.AccessToken, nil
		}

		tm.logger.Debug("refreshing service account token", "credential", name, "expires_at", cached.token.Expiry)
		tok, err := cached.tokenSource.Token()
		if err != nil {
			delete(tm.tokens, name)
			return "", fmt.Errorf("failed to refresh token: %w", err)
		}
		cached.token = tok
		return tok.AccessToken, nil
	}

	if serviceAccountJSON == "" {
		return "", ErrNoServiceAccount
	}
	raw := []byte(serviceAccountJSON)

	var sa struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &sa); err != nil {
		return "", fmt.Errorf("invalid service account JSON: %w", err)
	}
	if sa.Type != "service_account" {
		return "", fmt.Errorf("credentials must be for a service account, got type: %q", sa.Type)
	}

	src, err := tm.newSource(ctx, raw)
	if err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get initial token: %w", err)
	}
	tm.tokens[name] = &cachedToken{token: tok, tokenSource: src}
	tm.logger.Info("service account token created", "credential", name, "expires_at", tok.Expiry)

	return tok.AccessToken, nil
}

// Clear drops a cached token.
func (tm *TokenManager) Clear(name string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.tokens, name)
}

// Expiry returns the expiry of a cached token.
func (tm *TokenManager) Expiry(name string) (time.Time, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if cached, ok := tm.tokens[name]; ok {
		return cached.token.Expiry, true
	}
	return time.Time{}, false
}
