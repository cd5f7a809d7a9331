package router

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixaill76/gemini_gateway/internal/config"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/logger"
	"github.com/mixaill76/gemini_gateway/internal/orchestrator"
	"github.com/mixaill76/gemini_gateway/internal/proxy"
)

// apiPrefixes are the path prefixes the OpenAI-compatible surface answers
// on. Clients built for the Hugging Face or Gemini OpenAI endpoints work
// unchanged.
var apiPrefixes = []string{"/v1", "/hf/v1", "/v1beta/openai"}

// PoolStatus is the part of keypool.Pool the health endpoint reads.
type PoolStatus interface {
	Status() []keypool.CredentialStatus
	Selectable() int
}

// InFlightCounter reports admitted requests.
type InFlightCounter interface {
	InFlight() int
}

type Router struct {
	orch             *orchestrator.Orchestrator
	pool             PoolStatus
	limiter          InFlightCounter
	monitoringConfig *config.MonitoringConfig
	metricsHandler   http.Handler
	logger           *slog.Logger
}

func New(orch *orchestrator.Orchestrator, pool PoolStatus, limiter InFlightCounter, monitoringConfig *config.MonitoringConfig, log *slog.Logger) *Router {
	if log == nil {
		log = logger.Discard()
	}
	if monitoringConfig == nil {
		monitoringConfig = &config.MonitoringConfig{HealthCheckPath: "/health"}
	}
	r := &Router{
		orch:             orch,
		pool:             pool,
		limiter:          limiter,
		monitoringConfig: monitoringConfig,
		logger:           log,
	}
	if monitoringConfig.PrometheusEnabled {
		r.metricsHandler = promhttp.Handler()
	}
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimSuffix(req.URL.Path, "/")

	if path == r.monitoringConfig.HealthCheckPath {
		r.handleHealth(w, req)
		return
	}
	if path == "/metrics" && r.metricsHandler != nil {
		r.metricsHandler.ServeHTTP(w, req)
		return
	}

	if rest, ok := stripPrefix(path); ok {
		switch rest {
		case "/chat/completions":
			r.orch.ChatCompletions(w, req)
			return
		case "/embeddings":
			r.orch.Embeddings(w, req)
			return
		case "/models":
			r.orch.Models(w, req)
			return
		}
	}

	proxy.WriteJSONError(w, http.StatusNotFound, "Not Found: "+req.URL.Path, "invalid_request_error", nil, nil)
}

// stripPrefix removes the longest matching API prefix.
func stripPrefix(path string) (string, bool) {
	best := -1
	for i, p := range apiPrefixes {
		if strings.HasPrefix(path, p+"/") && (best < 0 || len(p) > len(apiPrefixes[best])) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return strings.TrimPrefix(path, apiPrefixes[best]), true
}
