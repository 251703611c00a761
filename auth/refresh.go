package auth

import (
	"context"
	"errors"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/internal/util"
	"github.com/folio-works/adminguard/security"
	"github.com/folio-works/adminguard/storage"
	"github.com/folio-works/adminguard/token"
)

// RefreshRequest carries a refresh token and the caller identity
type RefreshRequest struct {
	RefreshToken string
	ClientIP     string
	UserAgent    string
}

// RefreshAccessToken exchanges a refresh token for a new pair. A refresh
// token is single use: presenting one that is not the family's current
// token revokes the whole family and fails with KindReplayDetected. Any
// store failure fails with KindRevoked.
func (s *Service) RefreshAccessToken(ctx context.Context, req RefreshRequest) (pair *TokenPair, err error) {
	ctx, span := s.startSpan(ctx, "auth.refresh", req.ClientIP)
	defer func() { endSpan(span, err) }()

	metrics := s.inst.Metrics()
	base := audit.Event{
		Action:    "refresh",
		IP:        req.ClientIP,
		UserAgent: req.UserAgent,
	}

	claims, err := s.codec.VerifyRefresh(req.RefreshToken)
	if err != nil {
		kind := tokenErrorKind(err)
		metrics.RecordTokenRefresh(ctx, kind.String())
		ev := base
		ev.Type = audit.EventTokenRefreshFail
		ev.Severity = audit.SeverityLow
		ev.Details = map[string]any{"reason": kind.String()}
		s.audit(ctx, ev)
		return nil, newError(kind, err)
	}
	base.ActorID = claims.UserID

	d, limitErr := s.limiter.Check(ctx, clientKey(req.ClientIP), security.LimitAPI)
	if limitErr == nil && !d.Allowed {
		metrics.RecordTokenRefresh(ctx, "rate_limited")
		ev := base
		ev.Type = audit.EventRateLimitExceeded
		ev.Severity = audit.SeverityMedium
		ev.Details = map[string]any{"limitType": security.LimitAPI}
		s.audit(ctx, ev)
		return nil, rateLimited(d)
	}

	storeCtx, cancel := s.storeContext(ctx)
	family, err := s.families.GetFamily(storeCtx, claims.FamilyID)
	cancel()
	if err != nil {
		return nil, s.refreshRevoked(ctx, base, claims, "family_lookup", err)
	}

	if family.CurrentTokenID != claims.TokenID || family.UserID != claims.UserID {
		return nil, s.compromised(ctx, base, claims, family)
	}

	revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil || revoked {
		if err == nil {
			err = errors.New("refresh token blacklisted")
		}
		return nil, s.refreshRevoked(ctx, base, claims, "blacklisted", err)
	}

	user := token.User{ID: claims.UserID, Email: s.admin.Email, Role: s.admin.Role}
	pair, ac, rc, err := s.issue(user, claims.FamilyID)
	if err != nil {
		return nil, s.systemError(ctx, base, "issue tokens", err)
	}

	next := storage.FamilyRotation{TokenID: rc.TokenID, RefreshJTI: rc.ID, AccessJTI: ac.ID}
	storeCtx, cancel = s.storeContext(ctx)
	err = s.families.RotateFamily(storeCtx, claims.FamilyID, claims.TokenID, next, s.codec.RefreshTTL())
	cancel()
	switch {
	case errors.Is(err, storage.ErrReuseDetected):
		// another request rotated first; revoke what it issued too
		storeCtx, cancel = s.storeContext(ctx)
		if latest, gerr := s.families.GetFamily(storeCtx, claims.FamilyID); gerr == nil {
			family = latest
		}
		cancel()
		return nil, s.compromised(ctx, base, claims, family)
	case err != nil:
		return nil, s.refreshRevoked(ctx, base, claims, "rotate", err)
	}

	// the presented refresh token and the access token issued with it are
	// superseded by the new pair
	for _, jti := range []string{claims.ID, family.AccessJTI} {
		if jti == "" {
			continue
		}
		if err := s.blacklist.Revoke(ctx, jti, s.codec.AccessTTL()+BlacklistBuffer); err != nil {
			s.logger.Warn("Failed to blacklist superseded token",
				"jti", util.SafeTruncate(jti, 8),
				"error", err)
		}
	}

	metrics.RecordTokenRefresh(ctx, "success")
	instrumentation.AddTokenFamilyAttributes(span, claims.FamilyID, family.Generation+1, false)

	ev := base
	ev.Type = audit.EventTokenRefreshed
	ev.Severity = audit.SeverityLow
	ev.Details = map[string]any{
		"familyId":   claims.FamilyID,
		"generation": family.Generation + 1,
	}
	s.audit(ctx, ev)

	return pair, nil
}

func (s *Service) refreshRevoked(ctx context.Context, base audit.Event, claims *token.RefreshClaims, reason string, cause error) error {
	s.inst.Metrics().RecordTokenRefresh(ctx, "revoked")
	if !errors.Is(cause, storage.ErrFamilyNotFound) {
		s.logger.Warn("Refresh rejected",
			"reason", reason,
			"family_id", util.SafeTruncate(claims.FamilyID, 8),
			"error", cause)
	}

	ev := base
	ev.Type = audit.EventTokenRefreshFail
	ev.Severity = audit.SeverityMedium
	ev.Details = map[string]any{
		"reason":   reason,
		"familyId": claims.FamilyID,
	}
	s.audit(ctx, ev)
	return newError(KindRevoked, cause)
}

// compromised revokes a family after a superseded refresh token was presented.
// The presented token and the live descendant tokens are blacklisted for
// the full refresh lifetime.
func (s *Service) compromised(ctx context.Context, base audit.Event, claims *token.RefreshClaims, family *storage.TokenFamily) error {
	metrics := s.inst.Metrics()
	metrics.RecordTokenReuseDetected(ctx)
	metrics.RecordTokenRefresh(ctx, "reuse")

	ttl := s.codec.RefreshTTL()
	jtis := []string{claims.ID, family.CurrentJTI, family.AccessJTI}
	revoked := 0
	for _, jti := range jtis {
		if jti == "" {
			continue
		}
		if err := s.blacklist.Revoke(ctx, jti, ttl); err != nil {
			s.logger.Error("Failed to blacklist token of compromised family",
				"jti", util.SafeTruncate(jti, 8),
				"error", err)
			continue
		}
		revoked++
	}
	metrics.RecordTokenRevocation(ctx, "reuse", revoked)

	storeCtx, cancel := s.storeContext(ctx)
	err := s.families.InvalidateFamily(storeCtx, claims.FamilyID)
	cancel()
	if err != nil {
		s.logger.Error("Failed to invalidate compromised family",
			"family_id", util.SafeTruncate(claims.FamilyID, 8),
			"error", err)
	}

	s.logger.Error("Refresh token reuse detected, family revoked",
		"family_id", util.SafeTruncate(claims.FamilyID, 8),
		"generation", family.Generation,
		"user_id", util.HashForLogging(claims.UserID))

	ev := base
	ev.Type = audit.EventTokenReuse
	ev.Severity = audit.SeverityCritical
	ev.Details = map[string]any{
		"familyId":         claims.FamilyID,
		"presentedTokenId": claims.TokenID,
		"currentTokenId":   family.CurrentTokenID,
		"generation":       family.Generation,
		"revokedTokens":    revoked,
	}
	s.audit(ctx, ev)

	return newError(KindReplayDetected, storage.ErrReuseDetected)
}
