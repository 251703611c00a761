package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/oauth2"

	"github.com/folio-works/adminguard/storage"
)

// CSRF names.
const (
	CSRFHeader        = "X-CSRF-Token"
	CSRFCookie        = "XSRF-TOKEN"
	SessionCookie     = "adminguard_sid"
	DefaultCSRFTTL    = 2 * time.Hour
	sessionCookiePath = "/"
)

var (
	// ErrCSRFMissing means no token was presented or none is bound to the session
	ErrCSRFMissing = errors.New("csrf token missing")

	// ErrCSRFMismatch means the presented token is not the one bound to the session
	ErrCSRFMismatch = errors.New("csrf token mismatch")
)

// oauth2.GenerateVerifier output: 43 url-safe characters
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]{43,128}$`)

// CSRFConfig configures CSRF
type CSRFConfig struct {
	Store storage.CSRFStore

	// TTL of a token and its session binding. Default: DefaultCSRFTTL
	TTL time.Duration

	// Secure sets the Secure attribute on both cookies
	Secure bool

	// Timeout bounds each store call. Default: DefaultStoreTimeout
	Timeout time.Duration

	Logger *slog.Logger
}

// CSRF issues synchronizer tokens bound to a session id cookie. The token
// is readable by scripts (cookie XSRF-TOKEN, response header X-CSRF-Token)
// and must come back in the X-CSRF-Token request header.
type CSRF struct {
	store   storage.CSRFStore
	ttl     time.Duration
	secure  bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewCSRF builds a CSRF issuer/validator
func NewCSRF(cfg CSRFConfig) *CSRF {
	c := &CSRF{
		store:   cfg.Store,
		ttl:     cfg.TTL,
		secure:  cfg.Secure,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultCSRFTTL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultStoreTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// SessionID returns the session id from the request cookie, or "" when the
// cookie is absent or not one we could have issued
func (c *CSRF) SessionID(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || !sessionIDPattern.MatchString(cookie.Value) {
		return ""
	}
	return cookie.Value
}

// EnsureSession returns the request's session id, minting one and setting
// its cookie when needed
func (c *CSRF) EnsureSession(w http.ResponseWriter, r *http.Request) string {
	if id := c.SessionID(r); id != "" {
		return id
	}
	id := oauth2.GenerateVerifier()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     sessionCookiePath,
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return id
}

// Issue binds a token to sessionID and sends it to the client. An
// existing token is reused and its lifetime extended.
func (c *CSRF) Issue(ctx context.Context, w http.ResponseWriter, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.store.GetCSRFToken(ctx, sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		token = oauth2.GenerateVerifier()
	case err != nil:
		return "", fmt.Errorf("load csrf token: %w", err)
	}

	if err := c.store.SaveCSRFToken(ctx, sessionID, token, c.ttl); err != nil {
		return "", fmt.Errorf("save csrf token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     sessionCookiePath,
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: false,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set(CSRFHeader, token)
	return token, nil
}

// Validate checks the X-CSRF-Token header against the token bound to sessionID
func (c *CSRF) Validate(ctx context.Context, r *http.Request, sessionID string) error {
	presented := r.Header.Get(CSRFHeader)
	if presented == "" || sessionID == "" {
		return ErrCSRFMissing
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	expected, err := c.store.GetCSRFToken(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrCSRFMissing
	}
	if err != nil {
		return fmt.Errorf("load csrf token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}
