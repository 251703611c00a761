package auth

import (
	"context"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/internal/util"
)

// LogoutRequest carries whatever tokens the client still holds
type LogoutRequest struct {
	AccessToken  string
	RefreshToken string
	ClientIP     string
	UserAgent    string
}

// Logout revokes the presented tokens and their family. It never fails:
// missing, expired or foreign tokens are skipped and store errors are logged.
func (s *Service) Logout(ctx context.Context, req LogoutRequest) {
	ctx, span := s.startSpan(ctx, "auth.logout", req.ClientIP)
	defer endSpan(span, nil)

	ev := audit.Event{
		Type:      audit.EventLogout,
		Severity:  audit.SeverityLow,
		Action:    "logout",
		IP:        req.ClientIP,
		UserAgent: req.UserAgent,
	}
	details := map[string]any{}
	revoked := 0

	if req.AccessToken != "" {
		if claims, err := s.codec.VerifyAccess(req.AccessToken); err == nil {
			ev.ActorID = claims.UserID
			if err := s.blacklist.Revoke(ctx, claims.ID, s.codec.AccessTTL()+BlacklistBuffer); err != nil {
				s.logger.Warn("Failed to blacklist access token on logout",
					"jti", util.SafeTruncate(claims.ID, 8),
					"error", err)
			} else {
				revoked++
			}
			details["accessRevoked"] = true
		}
	}

	if req.RefreshToken != "" {
		if claims, err := s.codec.VerifyRefresh(req.RefreshToken); err == nil {
			ev.ActorID = claims.UserID
			storeCtx, cancel := s.storeContext(ctx)
			err := s.families.InvalidateFamily(storeCtx, claims.FamilyID)
			cancel()
			if err != nil {
				s.logger.Warn("Failed to invalidate family on logout",
					"family_id", util.SafeTruncate(claims.FamilyID, 8),
					"error", err)
			}
			if err := s.blacklist.Revoke(ctx, claims.ID, s.codec.RefreshTTL()); err != nil {
				s.logger.Warn("Failed to blacklist refresh token on logout",
					"jti", util.SafeTruncate(claims.ID, 8),
					"error", err)
			} else {
				revoked++
			}
			details["familyId"] = claims.FamilyID
		}
	}

	s.inst.Metrics().RecordTokenRevocation(ctx, "logout", revoked)
	if len(details) > 0 {
		ev.Details = details
	}
	s.audit(ctx, ev)
}
