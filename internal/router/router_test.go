package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/gemini_gateway/internal/auth"
	"github.com/mixaill76/gemini_gateway/internal/cache"
	"github.com/mixaill76/gemini_gateway/internal/config"
	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/models"
	"github.com/mixaill76/gemini_gateway/internal/monitoring"
	"github.com/mixaill76/gemini_gateway/internal/orchestrator"
	"github.com/mixaill76/gemini_gateway/internal/proxy"
	"github.com/mixaill76/gemini_gateway/internal/ratelimit"
	"github.com/mixaill76/gemini_gateway/internal/testhelpers"
)

type testRouter struct {
	router *Router
	pool   *keypool.Pool
	fake   *testhelpers.FakeUpstream
}

func createTestRouter(t *testing.T, monitoringConfig *config.MonitoringConfig) *testRouter {
	t.Helper()
	pool := testhelpers.NewTestPool("alpha", "beta")
	fake := &testhelpers.FakeUpstream{}
	log := testhelpers.NewTestLogger()
	metrics := monitoring.New(false)

	engine := proxy.New(pool, fake, proxy.Config{MaxAttempts: 2, Jitter: -1}, metrics, log)
	store, err := cache.New(8, time.Minute)
	require.NoError(t, err)
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: -1, GlobalRPM: -1, GlobalRPD: -1, ClientRPM: -1, ClientRPD: -1})
	catalogue := models.New(engine, models.Config{TTL: time.Minute}, log)
	orch := orchestrator.New(auth.NewAccess("secret", nil), limiter, store, engine, catalogue,
		orchestrator.Config{}, metrics, log)

	if monitoringConfig == nil {
		monitoringConfig = &config.MonitoringConfig{HealthCheckPath: "/health"}
	}
	return &testRouter{router: New(orch, pool, limiter, monitoringConfig, log), pool: pool, fake: fake}
}

func authed(method, path string, body any) *http.Request {
	return testhelpers.NewTestRequestWithHeaders(method, path, body, map[string]string{
		"Authorization": "Bearer secret",
	})
}

func TestServeHTTP_ChatCompletionsOnEveryPrefix(t *testing.T) {
	tr := createTestRouter(t, nil)
	body := openai.OpenAIRequest{
		Model:    "gemini-2.5-flash",
		Messages: []openai.OpenAIMessage{{Role: "user", Content: openai.TextContent("hi")}},
	}

	for _, path := range []string{"/v1/chat/completions", "/hf/v1/chat/completions", "/v1beta/openai/chat/completions", "/v1/chat/completions/"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tr.router.ServeHTTP(rec, authed(http.MethodPost, path, body))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestServeHTTP_Embeddings(t *testing.T) {
	tr := createTestRouter(t, nil)
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, authed(http.MethodPost, "/v1/embeddings",
		openai.OpenAIEmbeddingRequest{Model: "text-embedding-004", Input: "x"}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeHTTP_Models(t *testing.T) {
	tr := createTestRouter(t, nil)
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, authed(http.MethodGet, "/hf/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp openai.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
}

func TestServeHTTP_NotFound(t *testing.T) {
	tr := createTestRouter(t, nil)

	for _, path := range []string{"/", "/v1/completions", "/v2/chat/completions", "/metrics"} {
		rec := httptest.NewRecorder()
		tr.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
	assert.Empty(t, tr.fake.Calls())
}

func TestHealth_Healthy(t *testing.T) {
	tr := createTestRouter(t, nil)
	tr.pool.Disable("beta")

	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.Selectable)
	assert.Equal(t, 1, resp.Healthy)
	assert.Equal(t, 1, resp.Disabled)
	require.Len(t, resp.Credentials, 2)
	assert.Equal(t, "alpha", resp.Credentials[0].Name)
	assert.NotContains(t, rec.Body.String(), "AIza")
}

func TestHealth_UnhealthyWhenNoCredentialSelectable(t *testing.T) {
	tr := createTestRouter(t, nil)
	tr.pool.Disable("alpha")
	tr.pool.Disable("beta")

	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, 2, resp.Disabled)
}

func TestHealth_CustomPath(t *testing.T) {
	tr := createTestRouter(t, &config.MonitoringConfig{HealthCheckPath: "/healthz"})

	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	tr.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	tr := createTestRouter(t, &config.MonitoringConfig{HealthCheckPath: "/health", PrometheusEnabled: true})

	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStripPrefix(t *testing.T) {
	tests := []struct {
		path string
		rest string
		ok   bool
	}{
		{"/v1/models", "/models", true},
		{"/hf/v1/embeddings", "/embeddings", true},
		{"/v1beta/openai/chat/completions", "/chat/completions", true},
		{"/v1", "", false},
		{"/other/v1/models", "", false},
	}
	for _, tt := range tests {
		rest, ok := stripPrefix(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.rest, rest, tt.path)
	}
}
