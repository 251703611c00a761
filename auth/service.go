package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/security"
	"github.com/folio-works/adminguard/storage"
	"github.com/folio-works/adminguard/token"
)

const (
	// DefaultAdminUserID is the user id embedded in admin tokens
	DefaultAdminUserID = "admin"

	// DefaultAdminRole is the role embedded in admin tokens
	DefaultAdminRole = "admin"

	// BlacklistBuffer is added to the access lifetime for blacklist entries
	BlacklistBuffer = 5 * time.Minute

	unknownClient = "unknown"
)

// Auditor receives audit events. *audit.Buffer implements it.
type Auditor interface {
	Log(ctx context.Context, ev audit.Event)
}

// Config wires a Service
type Config struct {
	// AdminEmail is the only identity that can log in (required)
	AdminEmail string

	AdminUserID string
	AdminRole   string

	Password  *security.PasswordVerifier
	Codec     *token.Codec
	Families  storage.TokenFamilyStore
	Blacklist *security.Blacklist
	Limiter   *security.RateLimiter
	Audit     Auditor

	// StoreTimeout bounds each family store call. Default: security.DefaultStoreTimeout
	StoreTimeout time.Duration

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
	Clock           func() time.Time
}

// Service validates admin credentials and runs the token lifecycle:
// issuance, single-use refresh rotation, logout and access validation.
type Service struct {
	admin        token.User
	password     *security.PasswordVerifier
	codec        *token.Codec
	families     storage.TokenFamilyStore
	blacklist    *security.Blacklist
	limiter      *security.RateLimiter
	auditor      Auditor
	storeTimeout time.Duration
	logger       *slog.Logger
	inst         *instrumentation.Instrumentation
	tracer       trace.Tracer
	now          func() time.Time
}

// New validates cfg and builds a Service
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.AdminEmail == "":
		return nil, errors.New("admin email is required")
	case cfg.Password == nil:
		return nil, errors.New("password verifier is required")
	case cfg.Codec == nil:
		return nil, errors.New("token codec is required")
	case cfg.Families == nil:
		return nil, errors.New("token family store is required")
	case cfg.Blacklist == nil:
		return nil, errors.New("blacklist is required")
	case cfg.Limiter == nil:
		return nil, errors.New("rate limiter is required")
	}

	s := &Service{
		admin: token.User{
			ID:    cfg.AdminUserID,
			Email: normalizeEmail(cfg.AdminEmail),
			Role:  cfg.AdminRole,
		},
		password:     cfg.Password,
		codec:        cfg.Codec,
		families:     cfg.Families,
		blacklist:    cfg.Blacklist,
		limiter:      cfg.Limiter,
		auditor:      cfg.Audit,
		storeTimeout: cfg.StoreTimeout,
		logger:       cfg.Logger,
		inst:         cfg.Instrumentation,
		now:          cfg.Clock,
	}
	if s.admin.ID == "" {
		s.admin.ID = DefaultAdminUserID
	}
	if s.admin.Role == "" {
		s.admin.Role = DefaultAdminRole
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = security.DefaultStoreTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.inst != nil {
		s.tracer = s.inst.Tracer("auth")
	} else {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}
	return s, nil
}

// TokenPair is the result of a login or refresh
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	FamilyID         string
}

// ExpiresIn is the access token lifetime in whole seconds
func (p *TokenPair) ExpiresIn(now time.Time) int {
	return max(int(p.AccessExpiresAt.Sub(now).Seconds()), 0)
}

// Admin returns the admin identity
func (s *Service) Admin() token.User { return s.admin }

// AccessTTL returns the access token lifetime
func (s *Service) AccessTTL() time.Duration { return s.codec.AccessTTL() }

// RefreshTTL returns the refresh token lifetime
func (s *Service) RefreshTTL() time.Duration { return s.codec.RefreshTTL() }

func (s *Service) audit(ctx context.Context, ev audit.Event) {
	if s.auditor == nil {
		return
	}
	if ev.Resource == "" {
		ev.Resource = "auth"
	}
	s.auditor.Log(ctx, ev)
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) startSpan(ctx context.Context, name, clientIP string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	instrumentation.AddClientIP(s.inst, span, clientIP)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrErrorKind, KindOf(err).String()))
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

type clientInfoKey struct{}

// ClientInfo identifies the caller for audit records of operations that
// take no request struct
type ClientInfo struct {
	IP        string
	UserAgent string
}

// WithClientInfo attaches the caller identity to ctx
func WithClientInfo(ctx context.Context, ci ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, ci)
}

func clientInfoFrom(ctx context.Context) ClientInfo {
	ci, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return ci
}

func clientKey(ip string) string {
	if ip == "" {
		return unknownClient
	}
	return ip
}

// issue signs a new access and refresh token in familyID ("" starts a new family)
func (s *Service) issue(user token.User, familyID string) (*TokenPair, *token.AccessClaims, *token.RefreshClaims, error) {
	access, ac, err := s.codec.SignAccess(user)
	if err != nil {
		return nil, nil, nil, err
	}
	refresh, rc, err := s.codec.SignRefresh(user.ID, familyID)
	if err != nil {
		return nil, nil, nil, err
	}
	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
		FamilyID:         rc.FamilyID,
	}
	return pair, ac, rc, nil
}

func tokenErrorKind(err error) Kind {
	if errors.Is(err, token.ErrExpired) {
		return KindExpired
	}
	return KindInvalidToken
}
