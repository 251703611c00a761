package adminguard

import (
	"log/slog"
	"time"

	"github.com/folio-works/adminguard/security"
)

// Environment names recognised by Config.Environment
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config holds the guard configuration.
// Structured using composition, one sub-struct per concern.
type Config struct {
	// Environment is "production", "development" or "test".
	// Empty is treated as production.
	Environment string

	// PublicURL is the externally visible base URL. An https URL enables
	// HSTS and Secure cookies.
	PublicURL string

	// Admin identity and credentials
	Admin AdminConfig

	// Token signing settings
	Tokens TokenConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Request security settings (secure by default)
	Security SecurityConfig

	// Audit buffering
	Audit AuditConfig

	// StoreTimeout bounds every call to a shared store.
	// Default: 2 seconds
	StoreTimeout time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// AdminConfig holds the single admin identity
type AdminConfig struct {
	// Email is the only address that can log in (required)
	Email string

	// UserID is embedded in issued tokens. Default: "admin"
	UserID string

	// PasswordHash is a bcrypt hash of the admin password
	PasswordHash string

	// Password is a plaintext password.
	// WARNING: Only honoured in development or test with AllowPlaintextPassword.
	Password string

	// AllowPlaintextPassword permits Password when PasswordHash is empty
	AllowPlaintextPassword bool
}

// TokenConfig holds JWT settings
type TokenConfig struct {
	// AccessSecret signs access tokens. At least 32 bytes.
	AccessSecret string

	// RefreshSecret signs refresh tokens. At least 32 bytes, distinct from AccessSecret.
	RefreshSecret string

	// Algorithm is HS256, HS384 or HS512. Default: HS256
	Algorithm string

	// Issuer is the iss claim. Default: "adminguard"
	Issuer string

	// Audience is the aud claim. Empty disables the check.
	Audience string

	// AccessTTL default: 15 minutes
	AccessTTL time.Duration

	// RefreshTTL default: 7 days
	RefreshTTL time.Duration

	// Leeway tolerates clock skew on exp/iat. Default: 5 seconds
	Leeway time.Duration
}

// RoutePolicy maps a path prefix to a limit type
type RoutePolicy struct {
	Prefix    string
	LimitType string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Policies override the default limit and window per limit type
	Policies map[string]security.RateLimitPolicy

	// Routes are matched in order; the first matching prefix wins.
	// Default: /api/auth/ -> auth, /api/admin/ -> admin. Anything else is api.
	Routes []RoutePolicy

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies appending to X-Forwarded-For.
	// Default: 1
	TrustedProxyCount int

	// DisableLocalFallback admits requests when the counter store is down
	// instead of limiting per process
	DisableLocalFallback bool

	// LocalMaxEntries bounds the per-process fallback limiter.
	// Default: security.DefaultLocalMaxEntries
	LocalMaxEntries int
}

// SecurityConfig holds request security settings (secure by default)
type SecurityConfig struct {
	// AllowlistPaths bypass the whole security pipeline.
	// Default: /health, /healthz, /favicon.ico, /robots.txt
	AllowlistPaths []string

	// AllowlistPrefixes bypass the pipeline by prefix. Default: /static/
	AllowlistPrefixes []string

	// CSRFIssuePaths receive a CSRF token on state-changing requests.
	// Default: /api/auth/login, /api/auth/register, /api/admin/
	CSRFIssuePaths []string

	// CSRFProtectedPrefixes must present a valid token on state-changing
	// requests. Default: /api/admin/
	CSRFProtectedPrefixes []string

	// CSRFTTL default: 2 hours
	CSRFTTL time.Duration

	// MaxInspectBytes bounds the body prefix checked by payload inspection.
	// Default: 64 KiB
	MaxInspectBytes int64

	// DisablePayloadInspection turns off the injection heuristics.
	// WARNING: Only for trusted internal deployments.
	DisablePayloadInspection bool

	// BlacklistFailOpen treats an unreachable blacklist as "not revoked".
	// WARNING: A revoked token stays usable during a store outage.
	BlacklistFailOpen bool

	// InsecureCookies drops the Secure attribute even on https.
	// Local development over plain http only.
	InsecureCookies bool
}

// AuditConfig holds audit buffering settings
type AuditConfig struct {
	// FlushInterval default: 5 seconds
	FlushInterval time.Duration

	// MaxPending triggers an early flush. Default: 100
	MaxPending int

	// FlushTimeout bounds one sink write. Default: 10 seconds
	FlushTimeout time.Duration
}
