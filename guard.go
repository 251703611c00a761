package adminguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/auth"
	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/security"
	"github.com/folio-works/adminguard/storage"
	"github.com/folio-works/adminguard/token"
)

// Deps are the backends a Guard runs on
type Deps struct {
	// Store holds families, blacklist, counters and CSRF tokens (required)
	Store storage.Store

	// AuditSink receives flushed audit batches. Default: structured log
	AuditSink audit.Sink

	// AuditPending holds events between flushes. Default: in memory
	AuditPending audit.PendingStore

	// Instrumentation is optional
	Instrumentation *instrumentation.Instrumentation

	// Clock overrides time.Now for every component, mainly for tests
	Clock func() time.Time
}

// Guard is the admin authentication and request security layer.
// It owns the component graph and exposes the HTTP surface.
type Guard struct {
	config    *Config
	auth      *auth.Service
	limiter   *security.RateLimiter
	local     *security.LocalLimiter
	csrf      *security.CSRF
	inspector *security.Inspector
	audit     *audit.Buffer
	inst      *instrumentation.Instrumentation
	logger    *slog.Logger
	now       func() time.Time
}

// New validates config and builds every component once
func New(config Config, deps Deps) (*Guard, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := applySecureDefaults(&config, logger)

	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	password, err := security.NewPasswordVerifier(cfg.Admin.PasswordHash, cfg.Admin.Password, cfg.PlaintextPasswordAllowed())
	if err != nil {
		return nil, fmt.Errorf("admin password: %w", err)
	}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  []byte(cfg.Tokens.AccessSecret),
		RefreshSecret: []byte(cfg.Tokens.RefreshSecret),
		Algorithm:     cfg.Tokens.Algorithm,
		Issuer:        cfg.Tokens.Issuer,
		Audience:      cfg.Tokens.Audience,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		Leeway:        cfg.Tokens.Leeway,
		Clock:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	g := &Guard{
		config:    cfg,
		inspector: security.NewInspector(cfg.Security.MaxInspectBytes),
		inst:      deps.Instrumentation,
		logger:    logger,
		now:       now,
	}

	if !cfg.RateLimit.DisableLocalFallback {
		g.local = security.NewLocalLimiter(cfg.RateLimit.LocalMaxEntries, logger)
		g.local.SetClock(now)
	}

	g.limiter = security.NewRateLimiter(security.RateLimiterConfig{
		Store:           deps.Store,
		Policies:        cfg.RateLimit.Policies,
		Fallback:        g.local,
		Timeout:         cfg.StoreTimeout,
		Logger:          logger,
		Instrumentation: deps.Instrumentation,
		Clock:           now,
	})

	blacklist := security.NewBlacklist(security.BlacklistConfig{
		Store:           deps.Store,
		Timeout:         cfg.StoreTimeout,
		FailOpen:        cfg.Security.BlacklistFailOpen,
		Logger:          logger,
		Instrumentation: deps.Instrumentation,
	})

	g.csrf = security.NewCSRF(security.CSRFConfig{
		Store:   deps.Store,
		TTL:     cfg.Security.CSRFTTL,
		Secure:  cfg.SecureCookies(),
		Timeout: cfg.StoreTimeout,
		Logger:  logger,
	})

	g.audit = audit.NewBuffer(audit.Config{
		Pending:         deps.AuditPending,
		Sink:            deps.AuditSink,
		FlushInterval:   cfg.Audit.FlushInterval,
		MaxPending:      cfg.Audit.MaxPending,
		FlushTimeout:    cfg.Audit.FlushTimeout,
		StoreTimeout:    cfg.StoreTimeout,
		Logger:          logger,
		Instrumentation: deps.Instrumentation,
		Clock:           now,
	})

	g.auth, err = auth.New(auth.Config{
		AdminEmail:      cfg.Admin.Email,
		AdminUserID:     cfg.Admin.UserID,
		Password:        password,
		Codec:           codec,
		Families:        deps.Store,
		Blacklist:       blacklist,
		Limiter:         g.limiter,
		Audit:           g.audit,
		StoreTimeout:    cfg.StoreTimeout,
		Logger:          logger,
		Instrumentation: deps.Instrumentation,
		Clock:           now,
	})
	if err != nil {
		g.stopLocal()
		return nil, fmt.Errorf("auth service: %w", err)
	}

	if password.UsesPlaintext() {
		logger.Warn("Admin password is compared in plaintext mode", "environment", cfg.Environment)
	}

	return g, nil
}

// Auth returns the authentication service
func (g *Guard) Auth() *auth.Service { return g.auth }

// Audit returns the audit buffer
func (g *Guard) Audit() *audit.Buffer { return g.audit }

// Config returns the effective configuration with defaults applied
func (g *Guard) Config() Config { return *g.config }

// Start launches background work: the audit flush loop and, when
// instrumentation is enabled, the gauge callbacks
func (g *Guard) Start() error {
	g.audit.Start()

	if g.inst == nil {
		return nil
	}
	var locals instrumentation.GaugeCallback
	if g.local != nil {
		locals = func() int64 { return int64(g.local.Len()) }
	}
	return g.inst.RegisterGaugeCallbacks(func() int64 {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.StoreTimeout)
		defer cancel()
		return int64(g.audit.PendingCount(ctx))
	}, locals)
}

// Shutdown flushes pending audit events and stops background goroutines
func (g *Guard) Shutdown(ctx context.Context) error {
	err := g.audit.Stop(ctx)
	g.stopLocal()
	return err
}

func (g *Guard) stopLocal() {
	if g.local != nil {
		g.local.Stop()
	}
}

// Routes returns the full HTTP surface: the auth endpoints, admin routes
// behind RequireAuth, all behind the security middleware. admin may be nil.
func (g *Guard) Routes(admin http.Handler) http.Handler {
	mux := http.NewServeMux()
	h := NewHandler(g)
	h.Register(mux)

	if admin != nil {
		mux.Handle("/api/admin/", h.RequireAuth(admin))
	}
	return g.Middleware(mux)
}
