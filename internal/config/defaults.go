package config

import "time"

const (
	DefaultCredentialRPD   = 100
	DefaultIPRPM           = 30
	DefaultIPRPD           = 600
	DefaultCacheMaxEntries = 500
	DefaultCacheExpiry     = 6 * time.Hour
	DefaultChunkInterval   = 100 * time.Millisecond
	DefaultMaxAttempts     = 15
	DefaultUpstreamURL     = "https://generativelanguage.googleapis.com/v1beta"
)

// DefaultFallbackModels is served by /v1/models when the upstream listing fails.
var DefaultFallbackModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gemini-2.0-flash",
}

func (c *Config) applyDefaults() {
	s := &c.Server
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.MaxBodySizeMB == 0 {
		s.MaxBodySizeMB = 100
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 60 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 120 * time.Second
	}
	if s.UpstreamURL == "" {
		s.UpstreamURL = DefaultUpstreamURL
	}
	if s.UpstreamTimeout == 0 {
		s.UpstreamTimeout = 120 * time.Second
	}
	if s.StreamTimeout == 0 {
		s.StreamTimeout = 10 * time.Minute
	}
	if s.LoggingLevel == "" {
		s.LoggingLevel = "info"
	}
	if s.LoggingFormat == "" {
		s.LoggingFormat = "text"
	}

	p := &c.Pool
	if p.FailureThreshold == 0 {
		p.FailureThreshold = 3
	}
	if p.LenientThreshold == 0 {
		p.LenientThreshold = p.FailureThreshold * 2
	}
	if p.LenientKinds == nil {
		p.LenientKinds = []string{"timeout", "network"}
	}
	if p.BaseCooldown == 0 {
		p.BaseCooldown = 30 * time.Second
	}
	if p.MaxCooldown == 0 {
		p.MaxCooldown = 10 * time.Minute
	}
	if p.TickInterval == 0 {
		p.TickInterval = 5 * time.Second
	}
	if p.ProbeWorkers == 0 {
		p.ProbeWorkers = 4
	}

	r := &c.RateLimit
	if r.GlobalRPM == 0 {
		r.GlobalRPM = -1
	}
	if r.GlobalRPD == 0 {
		r.GlobalRPD = -1
	}
	if r.IPRPM == 0 {
		r.IPRPM = DefaultIPRPM
	}
	if r.IPRPD == 0 {
		r.IPRPD = DefaultIPRPD
	}
	if r.MaxConcurrent == 0 {
		r.MaxConcurrent = -1
	}
	if r.Shards <= 0 {
		r.Shards = 16
	}

	ca := &c.Cache
	if ca.MaxEntries == 0 {
		ca.MaxEntries = DefaultCacheMaxEntries
	}
	if ca.Expiry == 0 {
		ca.Expiry = DefaultCacheExpiry
	}
	if ca.SweepInterval == 0 {
		ca.SweepInterval = time.Minute
	}

	st := &c.Streaming
	if st.Mode == "" {
		st.Mode = StreamModeReal
	}
	if st.ChunkSize == 0 {
		st.ChunkSize = 10
	}
	if st.ChunkInterval == 0 {
		st.ChunkInterval = DefaultChunkInterval
	}
	if st.KeepaliveInterval == 0 {
		st.KeepaliveInterval = 15 * time.Second
	}

	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = 50 * time.Millisecond
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.MaxAttempts > len(c.Credentials) && len(c.Credentials) > 0 {
		c.Retry.MaxAttempts = len(c.Credentials)
	}

	if c.Models.Fallback == nil {
		c.Models.Fallback = DefaultFallbackModels
	}
	if c.Models.CacheTTL == 0 {
		c.Models.CacheTTL = 10 * time.Minute
	}

	if c.Snapshot.Backend == "" {
		c.Snapshot.Backend = SnapshotNone
	}
	if c.Snapshot.Interval == "" {
		c.Snapshot.Interval = "@every 1m"
	}
	if c.Snapshot.Timeout == 0 {
		c.Snapshot.Timeout = 10 * time.Second
	}

	if c.Monitoring.HealthCheckPath == "" {
		c.Monitoring.HealthCheckPath = "/health"
	}
}
