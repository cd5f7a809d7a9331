package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Credentials []CredentialConfig `yaml:"credentials"`
	APIKeys     string             `yaml:"api_keys"`
	Pool        PoolConfig         `yaml:"pool"`
	RateLimit   RateLimitConfig    `yaml:"rate_limit"`
	Cache       CacheConfig        `yaml:"cache"`
	Streaming   StreamingConfig    `yaml:"streaming"`
	Retry       RetryConfig        `yaml:"retry"`
	Models      ModelsConfig       `yaml:"models"`
	Access      AccessConfig       `yaml:"access"`
	Snapshot    SnapshotConfig     `yaml:"snapshot"`
	Monitoring  MonitoringConfig   `yaml:"monitoring"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxBodySizeMB   int           `yaml:"max_body_size_mb"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	UpstreamURL     string        `yaml:"upstream_url"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	StreamTimeout   time.Duration `yaml:"stream_timeout"`
	LoggingLevel    string        `yaml:"logging_level"`
	LoggingFormat   string        `yaml:"logging_format"`
	Password        string        `yaml:"password"`
	DisableSafety   bool          `yaml:"disable_safety"`
}

// CredentialConfig describes one upstream credential. In YAML it may be
// written either as a mapping or as a bare API key string.
type CredentialConfig struct {
	Name               string `yaml:"name"`
	APIKey             string `yaml:"api_key"`
	ServiceAccountJSON string `yaml:"service_account_json"`
	ServiceAccountFile string `yaml:"service_account_file"`
	RPM                int    `yaml:"rpm"`
	RPD                int    `yaml:"rpd"`
}

type PoolConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	LenientThreshold int           `yaml:"lenient_threshold"`
	LenientKinds     []string      `yaml:"lenient_kinds"`
	BaseCooldown     time.Duration `yaml:"base_cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	ProbeOnStart     bool          `yaml:"probe_on_start"`
	ProbeWorkers     int           `yaml:"probe_workers"`
}

type RateLimitConfig struct {
	GlobalRPM     int `yaml:"global_rpm"`
	GlobalRPD     int `yaml:"global_rpd"`
	IPRPM         int `yaml:"ip_rpm"`
	IPRPD         int `yaml:"ip_rpd"`
	MaxConcurrent int `yaml:"max_concurrent"`
	Shards        int `yaml:"shards"`
}

type CacheConfig struct {
	Enabled       *bool         `yaml:"enabled"`
	MaxEntries    int           `yaml:"max_entries"`
	Expiry        time.Duration `yaml:"expiry"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	TailMessages  int           `yaml:"tail_messages"`
}

// IsEnabled reports whether the response cache is on (default true).
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type StreamingConfig struct {
	Mode              string        `yaml:"mode"`
	ChunkSize         int           `yaml:"chunk_size"`
	ChunkInterval     time.Duration `yaml:"chunk_interval"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      time.Duration `yaml:"jitter"`
}

type AccessConfig struct {
	UserAgentWhitelist []string `yaml:"user_agent_whitelist"`
}

type SnapshotConfig struct {
	Backend     string        `yaml:"backend"`
	Path        string        `yaml:"path"`
	RedisURL    string        `yaml:"redis_url"`
	PostgresURL string        `yaml:"postgres_url"`
	Interval    string        `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	HealthCheckPath   string `yaml:"health_check_path"`
}

// Streaming modes.
const (
	StreamModeReal      = "real"
	StreamModeSimulated = "simulated"
)

// Snapshot backends.
const (
	SnapshotNone     = "none"
	SnapshotFile     = "file"
	SnapshotRedis    = "redis"
	SnapshotPostgres = "postgres"
)

// UnmarshalYAML accepts both `- AIza...` and `- {name: k1, api_key: AIza...}`.
func (c *CredentialConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		c.APIKey = value.Value
		return nil
	}

	type plain CredentialConfig
	var tmp plain
	if err := value.Decode(&tmp); err != nil {
		return err
	}
	*c = CredentialConfig(tmp)
	return nil
}

// Load reads an optional .env file, then the YAML config at path, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Normalize resolves environment references, expands the api_keys shorthand
// and fills in defaults.
func (c *Config) Normalize() error {
	c.Server.Password = resolveEnvString(c.Server.Password)
	c.APIKeys = resolveEnvString(c.APIKeys)

	for _, key := range splitList(c.APIKeys) {
		c.Credentials = append(c.Credentials, CredentialConfig{APIKey: key})
	}

	for i := range c.Credentials {
		cred := &c.Credentials[i]
		cred.APIKey = resolveEnvString(cred.APIKey)
		cred.ServiceAccountJSON = resolveEnvString(cred.ServiceAccountJSON)
		cred.ServiceAccountFile = resolveEnvString(cred.ServiceAccountFile)
		if cred.Name == "" {
			cred.Name = fmt.Sprintf("key-%d", i+1)
		}
		if cred.ServiceAccountFile != "" && cred.ServiceAccountJSON == "" {
			data, err := os.ReadFile(cred.ServiceAccountFile)
			if err != nil {
				return fmt.Errorf("credential %s: failed to read service_account_file: %w", cred.Name, err)
			}
			cred.ServiceAccountJSON = string(data)
		}
		if cred.RPM == 0 {
			cred.RPM = -1
		}
		if cred.RPD == 0 {
			cred.RPD = DefaultCredentialRPD
		}
	}

	c.Snapshot.RedisURL = resolveEnvString(c.Snapshot.RedisURL)
	c.Snapshot.PostgresURL = resolveEnvString(c.Snapshot.PostgresURL)

	if err := c.Models.mergeModelFile(); err != nil {
		return err
	}

	c.applyDefaults()
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("invalid max_body_size_mb: %d", c.Server.MaxBodySizeMB)
	}
	if c.Server.UpstreamTimeout <= 0 {
		return fmt.Errorf("invalid upstream_timeout: %v", c.Server.UpstreamTimeout)
	}
	if err := validateBaseURL("upstream", c.Server.UpstreamURL); err != nil {
		return err
	}

	switch c.Server.LoggingLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging_level: %s (must be debug, info, warn or error)", c.Server.LoggingLevel)
	}
	switch c.Server.LoggingFormat {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("invalid logging_format: %s (must be text, json or pretty)", c.Server.LoggingFormat)
	}

	if len(c.Credentials) == 0 {
		return fmt.Errorf("no credentials configured")
	}
	seen := make(map[string]bool, len(c.Credentials))
	for _, cred := range c.Credentials {
		if seen[cred.Name] {
			return fmt.Errorf("credential %s: duplicate name", cred.Name)
		}
		seen[cred.Name] = true
		if cred.APIKey == "" && cred.ServiceAccountJSON == "" {
			return fmt.Errorf("credential %s: api_key or service_account_json is required", cred.Name)
		}
		if cred.APIKey != "" && cred.ServiceAccountJSON != "" {
			return fmt.Errorf("credential %s: api_key and service_account_json are mutually exclusive", cred.Name)
		}
		if !validLimit(cred.RPM) {
			return fmt.Errorf("credential %s: invalid rpm: %d", cred.Name, cred.RPM)
		}
		if !validLimit(cred.RPD) {
			return fmt.Errorf("credential %s: invalid rpd: %d", cred.Name, cred.RPD)
		}
	}

	if c.Pool.FailureThreshold <= 0 {
		return fmt.Errorf("invalid pool.failure_threshold: %d", c.Pool.FailureThreshold)
	}
	if c.Pool.MaxCooldown < c.Pool.BaseCooldown {
		return fmt.Errorf("pool.max_cooldown (%v) must not be lower than pool.base_cooldown (%v)", c.Pool.MaxCooldown, c.Pool.BaseCooldown)
	}

	for name, v := range map[string]int{
		"rate_limit.global_rpm":     c.RateLimit.GlobalRPM,
		"rate_limit.global_rpd":     c.RateLimit.GlobalRPD,
		"rate_limit.ip_rpm":         c.RateLimit.IPRPM,
		"rate_limit.ip_rpd":         c.RateLimit.IPRPD,
		"rate_limit.max_concurrent": c.RateLimit.MaxConcurrent,
	} {
		if !validLimit(v) {
			return fmt.Errorf("invalid %s: %d", name, v)
		}
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("invalid cache.max_entries: %d", c.Cache.MaxEntries)
	}
	if c.Cache.TailMessages < 0 {
		return fmt.Errorf("invalid cache.tail_messages: %d", c.Cache.TailMessages)
	}

	c.Streaming.Mode = strings.ToLower(c.Streaming.Mode)
	switch c.Streaming.Mode {
	case StreamModeReal, StreamModeSimulated:
	default:
		return fmt.Errorf("invalid streaming.mode: %s (must be real or simulated)", c.Streaming.Mode)
	}
	if c.Streaming.ChunkSize <= 0 {
		return fmt.Errorf("invalid streaming.chunk_size: %d", c.Streaming.ChunkSize)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("invalid retry.max_attempts: %d", c.Retry.MaxAttempts)
	}

	switch c.Snapshot.Backend {
	case SnapshotNone:
	case SnapshotFile:
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path is required for the file backend")
		}
	case SnapshotRedis:
		if c.Snapshot.RedisURL == "" {
			return fmt.Errorf("snapshot.redis_url is required for the redis backend")
		}
	case SnapshotPostgres:
		if c.Snapshot.PostgresURL == "" {
			return fmt.Errorf("snapshot.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid snapshot.backend: %s", c.Snapshot.Backend)
	}

	if !strings.HasPrefix(c.Monitoring.HealthCheckPath, "/") {
		return fmt.Errorf("invalid monitoring.health_check_path: %q", c.Monitoring.HealthCheckPath)
	}
	return nil
}

// validLimit accepts -1 (unlimited) or any positive value.
func validLimit(v int) bool {
	return isUnlimited(v) || v > 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
