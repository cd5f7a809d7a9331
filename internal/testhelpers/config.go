package testhelpers

import (
	"fmt"
	"time"

	"github.com/mixaill76/gemini_gateway/internal/config"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
)

// NewTestConfig returns a normalized configuration with n API-key
// credentials and small, fast settings suited to handler tests.
func NewTestConfig(n int) *config.Config {
	cfg := &config.Config{}
	for i := 0; i < n; i++ {
		cfg.Credentials = append(cfg.Credentials, NewTestCredentialConfig(fmt.Sprintf("key-%d", i+1)))
	}
	cfg.Server.Password = "secret"
	cfg.Streaming.ChunkInterval = time.Millisecond
	cfg.Retry.Jitter = -1
	if err := cfg.Normalize(); err != nil {
		panic(err)
	}
	return cfg
}

// NewTestCredentialConfig creates a credential entry with no quota limits.
func NewTestCredentialConfig(name string) config.CredentialConfig {
	return config.CredentialConfig{
		Name:   name,
		APIKey: "AIza-" + name,
		RPM:    -1,
		RPD:    -1,
	}
}

// NewTestPool builds a pool with the given credential names and no limits.
func NewTestPool(names ...string) *keypool.Pool {
	creds := make([]keypool.Credential, len(names))
	for i, n := range names {
		creds[i] = keypool.Credential{Name: n, APIKey: "AIza-" + n, RPM: -1, RPD: -1}
	}
	pool, err := keypool.New(creds, keypool.Config{FailureThreshold: 3}, NewTestLogger())
	if err != nil {
		panic(err)
	}
	return pool
}
