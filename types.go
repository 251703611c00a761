package adminguard

import (
	"context"
	"net/http"

	"github.com/folio-works/adminguard/token"
)

// RequestContext is built once by the middleware and travels with the
// request context
type RequestContext struct {
	// ClientIP is the resolved client address
	ClientIP string

	// UserAgent as sent by the client
	UserAgent string

	// Headers is the request header set
	Headers http.Header

	// Body is the inspected body prefix, nil when inspection is off
	Body []byte

	// SessionID is the CSRF session cookie value, if any
	SessionID string

	// RequestID is the X-Request-ID of the request
	RequestID string

	// LimitType is the rate limit bucket the route falls into
	LimitType string
}

// LoginBody is the JSON accepted by the login endpoint
type LoginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of the admin
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken string       `json:"accessToken"`
	ExpiresIn   int          `json:"expiresIn"`
	TokenType   string       `json:"tokenType"`
	User        UserResponse `json:"user"`
}

// SessionResponse is returned by the session endpoint
type SessionResponse struct {
	User UserResponse `json:"user"`
}

func userResponse(u token.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Role: u.Role}
}

type contextKey int

const (
	requestContextKey contextKey = iota
	userContextKey
)

// WithRequestContext attaches rc to ctx
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom returns the RequestContext set by the middleware
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return rc, ok && rc != nil
}

// ContextWithUser attaches the authenticated user to ctx
func ContextWithUser(ctx context.Context, u *token.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext returns the user set by RequireAuth
func UserFromContext(ctx context.Context) (*token.User, bool) {
	u, ok := ctx.Value(userContextKey).(*token.User)
	return u, ok && u != nil
}
