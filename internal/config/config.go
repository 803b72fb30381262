package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"
)

// Rules and version store backends.
const (
	SourceMemory   = "memory"
	SourceFile     = "file"
	SourceRedis    = "redis"
	SourcePostgres = "postgres"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	RulesSource        string
	RulesFile          string
	RulesCacheTTL      time.Duration
	RulesReloadTimeout time.Duration

	CatalogLookupTimeout time.Duration
	CatalogCacheTTL      time.Duration

	VersionStore   string
	VersionLockTTL time.Duration

	RateLimit      string
	IdempotencyTTL time.Duration

	Obs ObsConfig
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat            string
	LogLevel             string
	MetricsNamespace     string
	EnablePrometheus     bool
	EnableTracing        bool
	OTLPEndpoint         string
	TracingSamplingRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		RulesSource:        strings.ToLower(valueOrDefault(k.String("RULES_SOURCE"), SourceMemory)),
		RulesFile:          strings.TrimSpace(k.String("RULES_FILE")),
		RulesCacheTTL:      parseDuration(k.String("RULES_CACHE_TTL"), "5m"),
		RulesReloadTimeout: parseDuration(k.String("RULES_RELOAD_TIMEOUT"), "5s"),

		CatalogLookupTimeout: parseDuration(k.String("CATALOG_LOOKUP_TIMEOUT"), "2s"),
		CatalogCacheTTL:      parseDuration(k.String("CATALOG_CACHE_TTL"), "10m"),

		VersionStore:   strings.ToLower(valueOrDefault(k.String("VERSION_STORE"), SourceMemory)),
		VersionLockTTL: parseDuration(k.String("VERSION_LOCK_TTL"), "10s"),

		RateLimit:      valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		Obs: ObsConfig{
			LogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "cabinet_quote"),
			EnablePrometheus:     parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:        parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:         strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 0.1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs error
	switch c.RulesSource {
	case SourceMemory:
	case SourceFile:
		if c.RulesFile == "" {
			errs = multierr.Append(errs, errors.New("RULES_FILE is required when RULES_SOURCE=file"))
		}
	case SourceRedis:
		if c.RedisURL == "" {
			errs = multierr.Append(errs, errors.New("REDIS_URL is required when RULES_SOURCE=redis"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("RULES_SOURCE must be one of memory, file, redis (got %q)", c.RulesSource))
	}
	switch c.VersionStore {
	case SourceMemory:
	case SourcePostgres:
		if c.DatabaseURL == "" {
			errs = multierr.Append(errs, errors.New("DATABASE_URL is required when VERSION_STORE=postgres"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("VERSION_STORE must be one of memory, postgres (got %q)", c.VersionStore))
	}
	if c.CatalogLookupTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("CATALOG_LOOKUP_TIMEOUT must be positive"))
	}
	if c.Obs.TracingSamplingRatio < 0 || c.Obs.TracingSamplingRatio > 1 {
		errs = multierr.Append(errs, errors.New("OBS_TRACING_SAMPLING_RATIO must be within 0-1"))
	}
	return errs
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
