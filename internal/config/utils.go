package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/mixaill76/gemini_gateway/internal/security"
)

// resolveEnvString resolves environment variable if value is in format "os.environ/VAR_NAME"
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
		slog.Warn("environment variable not set, returning empty string",
			"env_var", envVar,
			"pattern", value,
		)
		return ""
	}
	return value
}

// validateBaseURL validates that a URL is properly formed with http/https scheme
func validateBaseURL(credentialName, baseURL string) error {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("credential %s: invalid base_url: %w", credentialName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("credential %s: base_url must use http or https scheme, got: %s", credentialName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("credential %s: base_url must have a host", credentialName)
	}
	return nil
}

// isUnlimited checks if a value represents unlimited (-1)
func isUnlimited(value int) bool {
	return value == -1
}

// PrintConfig outputs the configuration to the logger with secrets redacted.
func PrintConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("=== Configuration Loaded ===")

	logger.Info("server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"max_body_size_mb", cfg.Server.MaxBodySizeMB,
		"upstream_url", cfg.Server.UpstreamURL,
		"upstream_timeout", cfg.Server.UpstreamTimeout.String(),
		"stream_timeout", cfg.Server.StreamTimeout.String(),
		"logging_level", cfg.Server.LoggingLevel,
		"logging_format", cfg.Server.LoggingFormat,
		"password", redacted(cfg.Server.Password),
		"disable_safety", cfg.Server.DisableSafety,
	)

	logger.Info("credentials", "total_count", len(cfg.Credentials))
	for i, cred := range cfg.Credentials {
		kind := "api_key"
		if cred.ServiceAccountJSON != "" {
			kind = "service_account"
		}
		logger.Info(fmt.Sprintf("  [%d] credential", i),
			"name", cred.Name,
			"kind", kind,
			"rpm", limitToString(cred.RPM),
			"rpd", limitToString(cred.RPD),
		)
	}

	logger.Info("pool",
		"failure_threshold", cfg.Pool.FailureThreshold,
		"lenient_threshold", cfg.Pool.LenientThreshold,
		"lenient_kinds", strings.Join(cfg.Pool.LenientKinds, ","),
		"base_cooldown", cfg.Pool.BaseCooldown.String(),
		"max_cooldown", cfg.Pool.MaxCooldown.String(),
		"probe_on_start", cfg.Pool.ProbeOnStart,
	)

	logger.Info("rate_limit",
		"global_rpm", limitToString(cfg.RateLimit.GlobalRPM),
		"global_rpd", limitToString(cfg.RateLimit.GlobalRPD),
		"ip_rpm", limitToString(cfg.RateLimit.IPRPM),
		"ip_rpd", limitToString(cfg.RateLimit.IPRPD),
		"max_concurrent", limitToString(cfg.RateLimit.MaxConcurrent),
	)

	if cfg.Cache.IsEnabled() {
		logger.Info("cache (ENABLED)",
			"max_entries", cfg.Cache.MaxEntries,
			"expiry", cfg.Cache.Expiry.String(),
			"tail_messages", cfg.Cache.TailMessages,
		)
	} else {
		logger.Info("cache", "status", "DISABLED")
	}

	logger.Info("streaming",
		"mode", cfg.Streaming.Mode,
		"chunk_size", cfg.Streaming.ChunkSize,
		"chunk_interval", cfg.Streaming.ChunkInterval.String(),
	)

	logger.Info("retry", "max_attempts", cfg.Retry.MaxAttempts, "jitter", cfg.Retry.Jitter.String())

	logger.Info("models",
		"whitelist_count", len(cfg.Models.Whitelist),
		"blocklist_count", len(cfg.Models.Blocklist),
		"search_variants", cfg.Models.Search,
	)

	if cfg.Snapshot.Backend != SnapshotNone {
		logger.Info("snapshot (ENABLED)",
			"backend", cfg.Snapshot.Backend,
			"interval", cfg.Snapshot.Interval,
			"redis_url", security.MaskURL(cfg.Snapshot.RedisURL),
			"postgres_url", security.MaskURL(cfg.Snapshot.PostgresURL),
		)
	} else {
		logger.Info("snapshot", "status", "DISABLED")
	}

	logger.Info("monitoring",
		"prometheus_enabled", cfg.Monitoring.PrometheusEnabled,
		"health_check_path", cfg.Monitoring.HealthCheckPath,
	)

	logger.Info("=== Configuration Ready ===")
}

// limitToString renders a limit, showing "unlimited" for -1.
func limitToString(v int) string {
	if isUnlimited(v) {
		return "unlimited (-1)"
	}
	return fmt.Sprintf("%d", v)
}

func redacted(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
