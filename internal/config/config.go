package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RefreshStoreGorm  = "gorm"
	RefreshStoreRedis = "redis"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string

	RefreshTokenPepper          string
	AccessTokenTTL              time.Duration
	RefreshTokenTTL             time.Duration
	RefreshTokenRetention       time.Duration
	RefreshTokenCleanupInterval time.Duration
	RefreshStore                string

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	AuthRateLimitRPM int
	APIRateLimitRPM  int

	WSAllowedOrigins []string
	WSWriteTimeout   time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	EnableOTelHTTP            bool
}

// envReader keeps the first parse error so Load can read every key in one pass.
type envReader struct{ err error }

func (r *envReader) int(key string, def int) int {
	v, err := getEnvInt(key, def)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *envReader) bool(key string, def bool) bool {
	v, err := getEnvBool(key, def)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v, err := getEnvDuration(key, def)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

// ErrInvalid wraps every Validate failure returned by Load.
var ErrInvalid = errors.New("invalid config")

// ParseError reports an environment value that could not be parsed.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return "parse " + e.Key + ": " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

func Load() (*Config, error) {
	cfg, err := load()
	recordLoad(context.Background(), cfg, err)
	return cfg, err
}

func load() (*Config, error) {
	r := &envReader{}
	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ShutdownTimeout:              r.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     r.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: r.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),

		JWTIssuer:       getEnv("JWT_ISSUER", "session-auth-core"),
		JWTAudience:     getEnv("JWT_AUDIENCE", "session-auth-core-clients"),
		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),

		RefreshTokenPepper:          getEnv("REFRESH_TOKEN_PEPPER", ""),
		AccessTokenTTL:              r.duration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:             r.duration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		RefreshTokenRetention:       r.duration("REFRESH_TOKEN_RETENTION", 24*time.Hour),
		RefreshTokenCleanupInterval: r.duration("REFRESH_TOKEN_CLEANUP_INTERVAL", 15*time.Minute),
		RefreshStore:                strings.ToLower(getEnv("REFRESH_STORE", RefreshStoreGorm)),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", DatabaseDriverSQLite)),
		DatabaseDSN:    getEnv("DATABASE_URL", "file:session-auth-core.db?_pragma=busy_timeout(5000)"),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        r.int("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "sac"),

		AuthRateLimitRPM: r.int("AUTH_RATE_LIMIT_RPM", 30),
		APIRateLimitRPM:  r.int("API_RATE_LIMIT_RPM", 600),

		WSAllowedOrigins: getEnvCSV("WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		WSWriteTimeout:   r.duration("WS_WRITE_TIMEOUT", 5*time.Second),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "session-auth-core"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "local"),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  r.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        r.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        r.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           r.bool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: r.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		EnableOTelHTTP:            r.bool("OTEL_HTTP_ENABLED", false),
	}
	if r.err != nil {
		return cfg, r.err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be at least 32 bytes"))
	}
	if len(c.RefreshTokenPepper) < 16 {
		errs = append(errs, errors.New("REFRESH_TOKEN_PEPPER must be at least 16 bytes"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must exceed ACCESS_TOKEN_TTL"))
	}
	if c.RefreshTokenRetention < 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_RETENTION must not be negative"))
	}
	switch c.RefreshStore {
	case RefreshStoreGorm, RefreshStoreRedis:
	default:
		errs = append(errs, fmt.Errorf("REFRESH_STORE must be %q or %q", RefreshStoreGorm, RefreshStoreRedis))
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q", DatabaseDriverSQLite, DatabaseDriverPostgres))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.RefreshStore == RefreshStoreRedis && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when REFRESH_STORE=redis"))
	}
	return errors.Join(errs...)
}
