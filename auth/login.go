package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/internal/util"
	"github.com/folio-works/adminguard/security"
	"github.com/folio-works/adminguard/storage"
	"github.com/folio-works/adminguard/token"
)

// LoginRequest carries the submitted credentials and the caller identity
type LoginRequest struct {
	Email     string
	Password  string
	ClientIP  string
	UserAgent string
}

// LoginResult is returned on a successful login
type LoginResult struct {
	Tokens *TokenPair
	User   token.User
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateCredentials checks the admin credentials and opens a new session
// family. Fails with KindRateLimited or KindInvalidCredentials; the error
// never tells which half of the credentials was wrong.
func (s *Service) ValidateCredentials(ctx context.Context, req LoginRequest) (result *LoginResult, err error) {
	ctx, span := s.startSpan(ctx, "auth.login", req.ClientIP)
	defer func() { endSpan(span, err) }()

	metrics := s.inst.Metrics()
	key := clientKey(req.ClientIP)
	base := audit.Event{
		Action:    "login",
		IP:        req.ClientIP,
		UserAgent: req.UserAgent,
	}

	d, limitErr := s.limiter.Check(ctx, key, security.LimitLogin)
	if limitErr == nil && !d.Allowed {
		metrics.RecordLoginAttempt(ctx, "rate_limited")
		ev := base
		ev.Type = audit.EventLoginRateLimited
		ev.Severity = audit.SeverityMedium
		ev.Details = map[string]any{"retryAfterSeconds": int(d.RetryAfter.Seconds())}
		s.audit(ctx, ev)
		return nil, rateLimited(d)
	}

	// both comparisons always run
	emailOK := subtle.ConstantTimeCompare([]byte(normalizeEmail(req.Email)), []byte(s.admin.Email)) == 1
	passwordOK := s.password.Verify(req.Password)

	if !emailOK || !passwordOK {
		metrics.RecordLoginAttempt(ctx, "failure")
		reason := "invalid_password"
		if !emailOK {
			reason = "unknown_email"
		}
		ev := base
		ev.Type = audit.EventLoginFailed
		ev.Severity = audit.SeverityMedium
		ev.Details = map[string]any{
			"reason": reason,
			"email":  util.MaskEmail(req.Email),
		}
		s.audit(ctx, ev)
		return nil, ErrInvalidCredentials
	}

	pair, ac, rc, err := s.issue(s.admin, "")
	if err != nil {
		return nil, s.systemError(ctx, base, "issue tokens", err)
	}

	now := s.now().UTC()
	family := &storage.TokenFamily{
		FamilyID:       rc.FamilyID,
		UserID:         s.admin.ID,
		CurrentTokenID: rc.TokenID,
		CurrentJTI:     rc.ID,
		AccessJTI:      ac.ID,
		Generation:     1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	storeCtx, cancel := s.storeContext(ctx)
	err = s.families.CreateFamily(storeCtx, family, s.codec.RefreshTTL())
	cancel()
	if err != nil {
		return nil, s.systemError(ctx, base, "create token family", err)
	}

	if err := s.limiter.Reset(ctx, key, security.LimitLogin); err != nil {
		s.logger.Warn("Failed to reset login rate limit", "error", err)
	}

	metrics.RecordLoginAttempt(ctx, "success")
	instrumentation.AddTokenFamilyAttributes(span, family.FamilyID, family.Generation, false)

	ev := base
	ev.Type = audit.EventLoginSuccess
	ev.Severity = audit.SeverityLow
	ev.ActorID = s.admin.ID
	ev.Details = map[string]any{"familyId": family.FamilyID}
	s.audit(ctx, ev)

	s.logger.Info("Admin logged in",
		"user_id", util.HashForLogging(s.admin.ID),
		"family_id", util.SafeTruncate(family.FamilyID, 8))

	return &LoginResult{Tokens: pair, User: s.admin}, nil
}

// systemError audits an unexpected failure and hides it behind KindSystem
func (s *Service) systemError(ctx context.Context, base audit.Event, op string, err error) error {
	s.logger.Error("Authentication failure", "operation", op, "error", err)
	ev := base
	ev.Type = audit.EventSystemError
	ev.Severity = audit.SeverityHigh
	ev.Details = map[string]any{"operation": op}
	s.audit(ctx, ev)
	return newError(KindSystem, err)
}
