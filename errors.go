package adminguard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/folio-works/adminguard/auth"
	"github.com/folio-works/adminguard/security"
)

// Error codes for responses produced outside auth.Service
const (
	ErrorCodeInvalidRequest   = "invalid_request"
	ErrorCodeRequestRejected  = "request_rejected"
	ErrorCodeCSRFFailed       = "csrf_validation_failed"
	ErrorCodeNotFound         = "not_found"
	ErrorCodeMethodNotAllowed = "method_not_allowed"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	// Error is a machine-readable code
	Error string `json:"error"`

	// Message is a generic human-readable description
	Message string `json:"message"`
}

// StatusForKind maps an auth error kind to its HTTP status
func StatusForKind(kind auth.Kind) int {
	switch kind {
	case auth.KindRateLimited:
		return http.StatusTooManyRequests
	case auth.KindInvalidCredentials, auth.KindInvalidToken, auth.KindExpired,
		auth.KindRevoked, auth.KindReplayDetected:
		return http.StatusUnauthorized
	case auth.KindMalformedRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error. Security headers are always set and a
// 401 carries WWW-Authenticate: Bearer.
func (g *Guard) writeError(w http.ResponseWriter, status int, code, message string) {
	security.SetSecurityHeaders(w, g.config.PublicURL)
	security.SetNoStore(w)
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	}
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message}); err != nil {
		g.logger.Error("Failed to encode error response", "error", err)
	}
}

// writeAuthError maps an auth.Service error to a response
func (g *Guard) writeAuthError(w http.ResponseWriter, err error) {
	kind := auth.KindOf(err)

	var ae *auth.Error
	if kind == auth.KindRateLimited && errors.As(err, &ae) {
		if ae.RateLimit != nil {
			for k, v := range ae.RateLimit.Headers() {
				w.Header().Set(k, v)
			}
		} else if ae.RetryAfter > 0 {
			w.Header().Set(security.HeaderRetryAfter, strconv.Itoa(max(int(ae.RetryAfter.Seconds()), 1)))
		}
	}

	g.writeError(w, StatusForKind(kind), kind.String(), kind.PublicMessage())
}

// writeRejected is the generic 403 for requests stopped by the pipeline
func (g *Guard) writeRejected(w http.ResponseWriter, code string) {
	g.writeError(w, http.StatusForbidden, code, auth.KindMalformedRequest.PublicMessage())
}
