package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// CredentialHealth is one credential in the health report. It carries the
// configured name only, never key material.
type CredentialHealth struct {
	Name          string     `json:"name"`
	Health        string     `json:"health"`
	MinuteCount   int        `json:"minute_count"`
	DayCount      int        `json:"day_count"`
	InFlight      int        `json:"in_flight"`
	Failures      int        `json:"consecutive_failures"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

type HealthResponse struct {
	Status      string             `json:"status"`
	Timestamp   string             `json:"timestamp"`
	Selectable  int                `json:"selectable_credentials"`
	Healthy     int                `json:"healthy"`
	Cooldown    int                `json:"cooldown"`
	Disabled    int                `json:"disabled"`
	InFlight    int                `json:"in_flight"`
	CacheSize   int                `json:"cache_entries"`
	Credentials []CredentialHealth `json:"credentials"`
}

func (r *Router) health() (bool, HealthResponse) {
	now := utils.NowUTC()
	resp := HealthResponse{
		Timestamp:   now.Format(time.RFC3339),
		Credentials: []CredentialHealth{},
	}
	if r.limiter != nil {
		resp.InFlight = r.limiter.InFlight()
	}
	if r.orch != nil {
		resp.CacheSize = r.orch.CacheLen()
	}
	if r.pool != nil {
		resp.Selectable = r.pool.Selectable()
		for _, s := range r.pool.Status() {
			ch := CredentialHealth{
				Name:        s.Name,
				Health:      s.Health.String(),
				MinuteCount: s.MinuteCount,
				DayCount:    s.DayCount,
				InFlight:    s.InFlight,
				Failures:    s.Failures,
			}
			if s.CooldownUntil.After(now) {
				until := s.CooldownUntil
				ch.CooldownUntil = &until
			}
			switch s.Health {
			case keypool.Healthy:
				resp.Healthy++
			case keypool.Cooldown:
				resp.Cooldown++
			case keypool.Disabled:
				resp.Disabled++
			}
			resp.Credentials = append(resp.Credentials, ch)
		}
	}

	healthy := resp.Selectable > 0
	resp.Status = "healthy"
	if !healthy {
		resp.Status = "unhealthy"
	}
	return healthy, resp
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	healthy, status := r.health()

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		r.logger.Error("Failed to encode health response",
			"endpoint", r.monitoringConfig.HealthCheckPath,
			"error", err.Error(),
		)
	}
}
