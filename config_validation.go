package adminguard

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/folio-works/adminguard/security"
	"github.com/folio-works/adminguard/token"
)

// DefaultTokenLeeway is the default clock skew tolerance
const DefaultTokenLeeway = 5 * time.Second

// Configuration errors returned by Validate
var (
	ErrAdminEmailRequired  = errors.New("admin email is required")
	ErrPasswordRequired    = errors.New("admin password hash is required")
	ErrPlaintextNotAllowed = errors.New("plaintext admin password is only allowed in development or test with AllowPlaintextPassword")
	ErrSecretTooShort      = fmt.Errorf("token secrets must be at least %d bytes", token.MinSecretLength)
	ErrSecretsIdentical    = errors.New("access and refresh token secrets must differ")
	ErrInvalidPublicURL    = errors.New("public url must be an absolute http or https url")
)

// IsProduction reports whether the environment is production. Anything
// other than an explicit development or test environment counts.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case EnvDevelopment, EnvTest:
		return false
	default:
		return true
	}
}

// PlaintextPasswordAllowed reports whether Admin.Password may be used
func (c *Config) PlaintextPasswordAllowed() bool {
	return c.Admin.AllowPlaintextPassword && !c.IsProduction()
}

// SecureCookies reports whether cookies carry the Secure attribute
func (c *Config) SecureCookies() bool {
	if c.Security.InsecureCookies {
		return false
	}
	parsed, err := url.Parse(c.PublicURL)
	return err == nil && parsed.Scheme == "https"
}

// Validate checks the configuration. It does not modify c.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Admin.Email) == "" {
		errs = append(errs, ErrAdminEmailRequired)
	}

	switch {
	case c.Admin.PasswordHash != "":
	case c.Admin.Password == "":
		errs = append(errs, ErrPasswordRequired)
	case !c.PlaintextPasswordAllowed():
		errs = append(errs, ErrPlaintextNotAllowed)
	}

	if len(c.Tokens.AccessSecret) < token.MinSecretLength || len(c.Tokens.RefreshSecret) < token.MinSecretLength {
		errs = append(errs, ErrSecretTooShort)
	} else if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, ErrSecretsIdentical)
	}

	if c.PublicURL != "" {
		parsed, err := url.Parse(c.PublicURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, ErrInvalidPublicURL)
		}
	}

	for name, p := range c.RateLimit.Policies {
		if p.Limit <= 0 || p.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate limit policy %q needs a positive limit and window", name))
		}
	}

	return errors.Join(errs...)
}

// applySecureDefaults fills unset values and warns about weakened settings
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applyRouteDefaults(config)
	applySecurityDefaults(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = security.DefaultStoreTimeout
	}
	if config.Tokens.AccessTTL <= 0 {
		config.Tokens.AccessTTL = token.DefaultAccessTTL
	}
	if config.Tokens.RefreshTTL <= 0 {
		config.Tokens.RefreshTTL = token.DefaultRefreshTTL
	}
	if config.Tokens.Leeway == 0 {
		config.Tokens.Leeway = DefaultTokenLeeway
	}
	if config.Security.CSRFTTL <= 0 {
		config.Security.CSRFTTL = security.DefaultCSRFTTL
	}
}

func applyRouteDefaults(config *Config) {
	if len(config.RateLimit.Routes) == 0 {
		config.RateLimit.Routes = []RoutePolicy{
			{Prefix: "/api/auth/", LimitType: security.LimitAuth},
			{Prefix: "/api/admin/", LimitType: security.LimitAdmin},
		}
	}
	if config.RateLimit.TrustedProxyCount <= 0 {
		config.RateLimit.TrustedProxyCount = 1
	}
	if config.Security.AllowlistPaths == nil {
		config.Security.AllowlistPaths = []string{"/health", "/healthz", "/favicon.ico", "/robots.txt"}
	}
	if config.Security.AllowlistPrefixes == nil {
		config.Security.AllowlistPrefixes = []string{"/static/"}
	}
	if config.Security.CSRFIssuePaths == nil {
		config.Security.CSRFIssuePaths = []string{"/api/auth/login", "/api/auth/register", "/api/admin/"}
	}
	if config.Security.CSRFProtectedPrefixes == nil {
		config.Security.CSRFProtectedPrefixes = []string{"/api/admin/"}
	}
}

// applySecurityDefaults logs warnings for insecure settings
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	if config.Admin.PasswordHash == "" && config.PlaintextPasswordAllowed() {
		logger.Warn("SECURITY WARNING: Plaintext admin password in use",
			"environment", config.Environment,
			"recommendation", "Set ADMIN_PASSWORD_HASH (adminguard hash-password)")
	}
	if config.Security.BlacklistFailOpen {
		logger.Warn("SECURITY WARNING: Token blacklist fails open",
			"risk", "Revoked tokens are accepted while the store is unreachable")
	}
	if config.Security.DisablePayloadInspection {
		logger.Warn("SECURITY WARNING: Payload inspection is DISABLED")
	}
	if config.RateLimit.TrustProxy {
		logger.Info("Trusting proxy headers for client IP",
			"trusted_proxy_count", config.RateLimit.TrustedProxyCount)
	}
}
