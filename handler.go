package adminguard

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/folio-works/adminguard/auth"
	"github.com/folio-works/adminguard/security"
	"github.com/folio-works/adminguard/token"
)

// Endpoint paths
const (
	PathLogin   = "/api/auth/login"
	PathRefresh = "/api/auth/refresh"
	PathLogout  = "/api/auth/logout"
	PathSession = "/api/auth/session"
)

// Cookie names and scopes
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	refreshCookiePath  = "/api/auth"
)

// maxLoginBodyBytes bounds the login JSON body
const maxLoginBodyBytes = 4 << 10

// Handler serves the auth endpoints
type Handler struct {
	guard  *Guard
	auth   *auth.Service
	logger *slog.Logger
}

// NewHandler creates a handler over g
func NewHandler(g *Guard) *Handler {
	return &Handler{
		guard:  g,
		auth:   g.auth,
		logger: g.logger,
	}
}

// Register mounts the auth endpoints on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+PathLogin, h.ServeLogin)
	mux.HandleFunc("POST "+PathRefresh, h.ServeRefresh)
	mux.HandleFunc("POST "+PathLogout, h.ServeLogout)
	mux.Handle("GET "+PathSession, h.RequireAuth(http.HandlerFunc(h.ServeSession)))
}

// ServeLogin checks the admin credentials and opens a session
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxLoginBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil || body.Email == "" || body.Password == "" {
		h.guard.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "Email and password are required")
		return
	}

	rc := h.requestContext(r)
	result, err := h.auth.ValidateCredentials(r.Context(), auth.LoginRequest{
		Email:     body.Email,
		Password:  body.Password,
		ClientIP:  rc.ClientIP,
		UserAgent: rc.UserAgent,
	})
	if err != nil {
		h.guard.writeAuthError(w, err)
		return
	}

	h.writeTokens(w, result.Tokens, result.User)
}

// ServeRefresh rotates the refresh token from the refresh_token cookie
func (h *Handler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		h.guard.writeAuthError(w, auth.ErrInvalidToken)
		return
	}

	rc := h.requestContext(r)
	pair, err := h.auth.RefreshAccessToken(r.Context(), auth.RefreshRequest{
		RefreshToken: cookie.Value,
		ClientIP:     rc.ClientIP,
		UserAgent:    rc.UserAgent,
	})
	if err != nil {
		// a dead family should not keep its cookies around
		switch auth.KindOf(err) {
		case auth.KindReplayDetected, auth.KindRevoked, auth.KindExpired:
			h.clearCookies(w)
		}
		h.guard.writeAuthError(w, err)
		return
	}

	h.writeTokens(w, pair, h.auth.Admin())
}

// ServeLogout revokes whatever tokens the client presents. Always 204.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	rc := h.requestContext(r)
	req := auth.LogoutRequest{
		AccessToken: accessTokenFrom(r),
		ClientIP:    rc.ClientIP,
		UserAgent:   rc.UserAgent,
	}
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		req.RefreshToken = cookie.Value
	}

	h.auth.Logout(r.Context(), req)

	h.clearCookies(w)
	security.SetNoStore(w)
	w.WriteHeader(http.StatusNoContent)
}

// ServeSession returns the authenticated user
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		h.guard.writeAuthError(w, auth.ErrInvalidToken)
		return
	}
	h.writeJSON(w, http.StatusOK, SessionResponse{User: userResponse(*user)})
}

// RequireAuth admits requests carrying a valid, unrevoked access token in
// the Authorization header or the access_token cookie
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := accessTokenFrom(r)
		if tok == "" {
			h.guard.writeAuthError(w, auth.ErrInvalidToken)
			return
		}

		user, err := h.auth.ValidateToken(r.Context(), tok)
		if err != nil {
			h.logger.Debug("Access token rejected",
				"kind", auth.KindOf(err).String(),
				"request_id", security.GetRequestID(r.Context()))
			h.guard.writeAuthError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) writeTokens(w http.ResponseWriter, pair *auth.TokenPair, user token.User) {
	now := h.guard.now()
	secure := h.guard.config.SecureCookies()

	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  pair.AccessExpiresAt,
		MaxAge:   int(pair.AccessExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  pair.RefreshExpiresAt,
		MaxAge:   int(pair.RefreshExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})

	security.SetNoStore(w)
	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: pair.AccessToken,
		ExpiresIn:   pair.ExpiresIn(now),
		TokenType:   "Bearer",
		User:        userResponse(user),
	})
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	secure := h.guard.config.SecureCookies()
	for _, c := range []struct{ name, path string }{
		{AccessTokenCookie, "/"},
		{RefreshTokenCookie, refreshCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// requestContext returns the middleware's RequestContext, or one built from
// the request when the handler is mounted without the middleware
func (h *Handler) requestContext(r *http.Request) *RequestContext {
	if rc, ok := RequestContextFrom(r.Context()); ok {
		return rc
	}
	cfg := h.guard.config
	return &RequestContext{
		ClientIP:  security.GetClientIP(r, cfg.RateLimit.TrustProxy, cfg.RateLimit.TrustedProxyCount),
		UserAgent: r.UserAgent(),
		Headers:   r.Header,
		RequestID: security.GetRequestID(r.Context()),
		LimitType: h.guard.limitTypeFor(r.URL.Path),
	}
}

// accessTokenFrom prefers the Authorization header over the cookie
func accessTokenFrom(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		scheme, tok, ok := strings.Cut(authz, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}
