// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/folio-works/adminguard"
	"github.com/folio-works/adminguard/audit/kafka"
	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/security"
)

// Settings is everything cmd/adminguard needs to start
type Settings struct {
	// Guard is passed to adminguard.New
	Guard adminguard.Config

	ListenAddr      string
	ShutdownTimeout time.Duration

	// Valkey; an empty address selects the in-memory store
	ValkeyAddr     string
	ValkeyPassword string
	ValkeyDB       int
	ValkeyPrefix   string

	// DatabaseURL enables the Postgres audit sink
	DatabaseURL string

	// KafkaBrokers enables the Kafka audit sink
	KafkaBrokers []string
	KafkaTopic   string

	LogFormat string
	LogLevel  slog.Level

	// MetricsExporter is "prometheus" or "none"
	MetricsExporter string
	LogClientIPs    bool
}

// Load reads the environment. A missing .env file is not an error.
func Load(envFiles ...string) (*Settings, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	e := &envReader{}
	s := &Settings{
		ListenAddr:      envString("LISTEN_ADDR", ":8080"),
		ShutdownTimeout: e.envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		ValkeyAddr:     envString("VALKEY_ADDR", ""),
		ValkeyPassword: envString("VALKEY_PASSWORD", ""),
		ValkeyDB:       e.envInt("VALKEY_DB", 0),
		ValkeyPrefix:   envString("VALKEY_PREFIX", ""),

		DatabaseURL:  envString("DATABASE_URL", ""),
		KafkaBrokers: envCSV("KAFKA_BROKERS"),
		KafkaTopic:   envString("KAFKA_AUDIT_TOPIC", kafka.DefaultTopic),

		LogFormat:       strings.ToLower(envString("LOG_FORMAT", "json")),
		LogLevel:        e.envLevel("LOG_LEVEL", slog.LevelInfo),
		MetricsExporter: envString("METRICS_EXPORTER", instrumentation.ExporterPrometheus),
		LogClientIPs:    e.envBool("METRICS_LOG_CLIENT_IPS", false),
	}

	s.Guard = adminguard.Config{
		Environment: envString("APP_ENV", adminguard.EnvProduction),
		PublicURL:   envString("PUBLIC_URL", ""),
		Admin: adminguard.AdminConfig{
			Email:                  envString("ADMIN_EMAIL", ""),
			UserID:                 envString("ADMIN_USER_ID", ""),
			PasswordHash:           envString("ADMIN_PASSWORD_HASH", ""),
			Password:               envString("ADMIN_PASSWORD", ""),
			AllowPlaintextPassword: e.envBool("ALLOW_PLAINTEXT_PASSWORD", false),
		},
		Tokens: adminguard.TokenConfig{
			AccessSecret:  envString("JWT_ACCESS_SECRET", ""),
			RefreshSecret: envString("JWT_REFRESH_SECRET", ""),
			Algorithm:     envString("JWT_ALGORITHM", ""),
			Issuer:        envString("JWT_ISSUER", ""),
			Audience:      envString("JWT_AUDIENCE", ""),
			AccessTTL:     e.envDuration("JWT_ACCESS_TTL", 0),
			RefreshTTL:    e.envDuration("JWT_REFRESH_TTL", 0),
			Leeway:        e.envDuration("JWT_LEEWAY", 0),
		},
		RateLimit: adminguard.RateLimitConfig{
			Policies:             e.policies(),
			TrustProxy:           e.envBool("TRUST_PROXY", false),
			TrustedProxyCount:    e.envInt("TRUSTED_PROXY_COUNT", 0),
			DisableLocalFallback: e.envBool("RATE_LIMIT_DISABLE_LOCAL_FALLBACK", false),
		},
		Security: adminguard.SecurityConfig{
			CSRFTTL:                  e.envDuration("CSRF_TTL", 0),
			MaxInspectBytes:          int64(e.envInt("MAX_INSPECT_BYTES", 0)),
			DisablePayloadInspection: e.envBool("DISABLE_PAYLOAD_INSPECTION", false),
			BlacklistFailOpen:        e.envBool("BLACKLIST_FAIL_OPEN", false),
			InsecureCookies:          e.envBool("INSECURE_COOKIES", false),
		},
		Audit: adminguard.AuditConfig{
			FlushInterval: e.envDuration("AUDIT_FLUSH_INTERVAL", 0),
			MaxPending:    e.envInt("AUDIT_MAX_PENDING", 0),
			FlushTimeout:  e.envDuration("AUDIT_FLUSH_TIMEOUT", 0),
		},
		StoreTimeout: e.envDuration("STORE_TIMEOUT", 0),
	}

	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// envReader collects parse errors so every bad variable is reported at once
type envReader struct {
	errs []error
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envCSV(key string) []string {
	raw := envString(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *envReader) envInt(key string, def int) int {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (e *envReader) envBool(key string, def bool) bool {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return def
	}
	return v
}

func (e *envReader) envDuration(key string, def time.Duration) time.Duration {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return v
}

func (e *envReader) envLevel(key string, def slog.Level) slog.Level {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid log level %q", key, raw))
		return def
	}
	return lvl
}

// policies reads RATE_LIMIT_<TYPE>_MAX and RATE_LIMIT_<TYPE>_WINDOW. A
// type appears only when at least one of the two is set; the other half
// comes from the built-in policy.
func (e *envReader) policies() map[string]security.RateLimitPolicy {
	defaults := security.DefaultPolicies()
	out := make(map[string]security.RateLimitPolicy)
	for _, limitType := range []string{security.LimitLogin, security.LimitAPI, security.LimitAuth, security.LimitAdmin} {
		prefix := "RATE_LIMIT_" + strings.ToUpper(limitType)
		limit := e.envInt(prefix+"_MAX", 0)
		window := e.envDuration(prefix+"_WINDOW", 0)
		if limit == 0 && window == 0 {
			continue
		}
		p := defaults[limitType]
		if limit != 0 {
			p.Limit = limit
		}
		if window != 0 {
			p.Window = window
		}
		out[limitType] = p
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
