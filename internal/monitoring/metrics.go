package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mixaill76/gemini_gateway/internal/keypool"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_gateway_requests_total",
			Help: "Total number of requests",
		},
		[]string{"endpoint", "outcome", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gemini_gateway_requests_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"endpoint", "outcome"},
	)

	UpstreamAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_gateway_upstream_attempts_total",
			Help: "Upstream calls per credential by result",
		},
		[]string{"credential", "result"},
	)

	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_gateway_cache_events_total",
			Help: "Cache lookups by result (hit, miss, coalesced)",
		},
		[]string{"event"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gemini_gateway_cache_entries",
			Help: "Resident cache entries",
		},
	)

	CredentialHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gemini_gateway_credential_health",
			Help: "Credential health (0 = healthy, 1 = cooldown, 2 = disabled)",
		},
		[]string{"credential"},
	)

	CredentialRPMCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gemini_gateway_credential_rpm_current",
			Help: "Requests counted in the current minute window",
		},
		[]string{"credential"},
	)

	CredentialRPDCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gemini_gateway_credential_rpd_current",
			Help: "Requests counted in the current UTC day",
		},
		[]string{"credential"},
	)

	AdmissionRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_gateway_admission_rejected_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"reason"},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gemini_gateway_upstream_in_flight",
			Help: "Admitted requests currently in progress",
		},
	)
)

type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) RecordRequest(endpoint, outcome string, statusCode int, duration time.Duration) {
	if !m.isEnabled() {
		return
	}
	RequestsTotal.WithLabelValues(endpoint, outcome, strconv.Itoa(statusCode)).Inc()
	RequestDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

// RecordAttempt counts one upstream call. result is "success" or a failure
// class such as "retryable".
func (m *Metrics) RecordAttempt(credential, result string) {
	if !m.isEnabled() {
		return
	}
	UpstreamAttemptsTotal.WithLabelValues(credential, result).Inc()
}

func (m *Metrics) RecordCacheEvent(event string) {
	if !m.isEnabled() {
		return
	}
	CacheEventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) SetCacheEntries(n int) {
	if !m.isEnabled() {
		return
	}
	CacheEntries.Set(float64(n))
}

func (m *Metrics) RecordRejection(reason string) {
	if !m.isEnabled() {
		return
	}
	AdmissionRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetInFlight(n int) {
	if !m.isEnabled() {
		return
	}
	InFlight.Set(float64(n))
}

// UpdatePool publishes per-credential gauges.
func (m *Metrics) UpdatePool(statuses []keypool.CredentialStatus) {
	if !m.isEnabled() {
		return
	}
	for _, s := range statuses {
		CredentialHealth.WithLabelValues(s.Name).Set(float64(s.Health))
		CredentialRPMCurrent.WithLabelValues(s.Name).Set(float64(s.MinuteCount))
		CredentialRPDCurrent.WithLabelValues(s.Name).Set(float64(s.DayCount))
	}
}
