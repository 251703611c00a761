package auth

import (
	"context"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/internal/util"
	"github.com/folio-works/adminguard/token"
)

// ValidateToken verifies an access token and checks it against the
// blacklist. A revoked but unexpired token fails with KindRevoked and is
// audited.
func (s *Service) ValidateToken(ctx context.Context, accessToken string) (*token.User, error) {
	claims, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	u := claims.User()
	return &u, nil
}

// Authenticate is ValidateToken returning the full claims
func (s *Service) Authenticate(ctx context.Context, accessToken string) (claims *token.AccessClaims, err error) {
	ci := clientInfoFrom(ctx)
	ctx, span := s.startSpan(ctx, "auth.validate", ci.IP)
	defer func() { endSpan(span, err) }()

	claims, err = s.codec.VerifyAccess(accessToken)
	if err != nil {
		return nil, newError(tokenErrorKind(err), err)
	}

	revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("Cannot check access token revocation",
			"jti", util.SafeTruncate(claims.ID, 8),
			"error", err)
		return nil, newError(KindSystem, err)
	}
	if revoked {
		s.audit(ctx, audit.Event{
			Type:      audit.EventRevokedTokenUsed,
			Severity:  audit.SeverityHigh,
			ActorID:   claims.UserID,
			Action:    "validate",
			IP:        ci.IP,
			UserAgent: ci.UserAgent,
			Details:   map[string]any{"jti": claims.ID},
		})
		return nil, newError(KindRevoked, nil)
	}

	return claims, nil
}
