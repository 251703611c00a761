package adminguard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/internal/testutil"
	"github.com/folio-works/adminguard/security"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestMiddleware_SecurityHeaders(t *testing.T) {
	tg := newTestGuard(t, nil)
	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/projects").Do(tg.guard.Middleware(okHandler()))
	testutil.AssertStatus(t, rr, http.StatusOK)

	want := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Permissions-Policy":        security.PermissionsPolicy,
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"X-RateLimit-Limit":         "1000",
		"X-RateLimit-Remaining":     "999",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rr.Header().Get(security.RequestIDHeader) == "" {
		t.Error("expected a generated X-Request-ID")
	}
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	tg := newTestGuard(t, nil)

	var seen *RequestContext
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestContextFrom(r.Context())
	})

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/admin/posts").
		WithHeader(security.RequestIDHeader, "req-abc_123").
		WithHeader("User-Agent", "portfolio-ui/1.0").
		Do(tg.guard.Middleware(next))

	if got := rr.Header().Get(security.RequestIDHeader); got != "req-abc_123" {
		t.Errorf("X-Request-ID = %q", got)
	}
	if seen == nil {
		t.Fatal("expected a RequestContext")
	}
	if seen.RequestID != "req-abc_123" || seen.LimitType != security.LimitAdmin || seen.UserAgent != "portfolio-ui/1.0" {
		t.Errorf("request context = %+v", seen)
	}
	if seen.ClientIP == "" {
		t.Error("client ip not resolved")
	}
}

func TestMiddleware_AllowlistBypasses(t *testing.T) {
	tg := newTestGuard(t, nil)
	h := tg.guard.Middleware(okHandler())

	for _, path := range []string{"/health", "/healthz", "/robots.txt", "/static/app.js?x=../../etc/passwd"} {
		rr := testutil.NewHTTPRequest(http.MethodGet, path).Do(h)
		testutil.AssertStatus(t, rr, http.StatusOK)
		if rr.Header().Get("X-Frame-Options") != "" {
			t.Errorf("%s: allowlisted path went through the pipeline", path)
		}
	}
}

func TestMiddleware_RateLimit(t *testing.T) {
	tg := newTestGuard(t, func(c *Config) {
		c.RateLimit.Policies = map[string]security.RateLimitPolicy{
			security.LimitAPI: {Limit: 2, Window: time.Minute},
		}
	})
	h := tg.guard.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		testutil.AssertStatus(t, testutil.NewHTTPRequest(http.MethodGet, "/api/projects").Do(h), http.StatusOK)
	}

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/projects").Do(h)
	testutil.AssertStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("remaining = %q, want 0", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if got := decodeError(t, rr).Error; got != "rate_limited" {
		t.Errorf("error = %q, want rate_limited", got)
	}

	tg.flush()
	ev, ok := tg.sink.find(audit.EventRateLimitExceeded)
	if !ok {
		t.Fatal("expected RATE_LIMIT_EXCEEDED audit event")
	}
	if ev.Severity != audit.SeverityMedium {
		t.Errorf("severity = %v, want MEDIUM", ev.Severity)
	}

	// a different client has its own window
	other := testutil.NewHTTPRequest(http.MethodGet, "/api/projects").WithRemoteAddr("203.0.113.9:4000").Do(h)
	testutil.AssertStatus(t, other, http.StatusOK)

	// and the window ends
	tg.clock.Advance(time.Minute + time.Second)
	testutil.AssertStatus(t, testutil.NewHTTPRequest(http.MethodGet, "/api/projects").Do(h), http.StatusOK)
}

func TestMiddleware_RateLimitStoreDownFallsBackLocally(t *testing.T) {
	tg := newTestGuard(t, func(c *Config) {
		c.RateLimit.Policies = map[string]security.RateLimitPolicy{
			security.LimitAPI: {Limit: 1, Window: time.Minute},
		}
	})
	tg.store.IncrementFunc = func(context.Context, string, time.Duration) (int64, time.Duration, error) {
		return 0, 0, errors.New("valkey down")
	}
	h := tg.guard.Middleware(okHandler())

	testutil.AssertStatus(t, testutil.NewHTTPRequest(http.MethodGet, "/api/projects").Do(h), http.StatusOK)
	testutil.AssertStatus(t, testutil.NewHTTPRequest(http.MethodGet, "/api/projects").Do(h), http.StatusTooManyRequests)
}

func TestMiddleware_RateLimitStoreDownFailsOpen(t *testing.T) {
	tg := newTestGuard(t, func(c *Config) {
		c.RateLimit.DisableLocalFallback = true
		c.RateLimit.Policies = map[string]security.RateLimitPolicy{
			security.LimitAPI: {Limit: 1, Window: time.Minute},
		}
	})
	tg.store.IncrementFunc = func(context.Context, string, time.Duration) (int64, time.Duration, error) {
		return 0, 0, errors.New("valkey down")
	}
	h := tg.guard.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		testutil.AssertStatus(t, testutil.NewHTTPRequest(http.MethodGet, "/api/projects").Do(h), http.StatusOK)
	}
}

func TestMiddleware_SuspiciousPayloads(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		url      string
		body     string
		category string
	}{
		{"sql injection in query", http.MethodGet, "/api/projects?id=1%20UNION%20SELECT%20password%20FROM%20users", "", security.ThreatSQLInjection},
		{"xss in body", http.MethodPost, "/api/contact", `{"message":"<script>alert(1)</script>"}`, security.ThreatXSS},
		{"path traversal", http.MethodGet, "/api/files?name=%2e%2e%2fsecret", "", security.ThreatPathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTestGuard(t, nil)
			called := false
			h := tg.guard.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			rr := testutil.NewHTTPRequest(tt.method, tt.url).WithBody(tt.body).Do(h)
			testutil.AssertStatus(t, rr, http.StatusForbidden)
			if called {
				t.Error("handler must not run")
			}
			if got := decodeError(t, rr).Error; got != ErrorCodeRequestRejected {
				t.Errorf("error = %q", got)
			}

			// CRITICAL: flushed before the response
			ev, ok := tg.sink.find(audit.EventSuspiciousRequest)
			if !ok {
				t.Fatal("expected SUSPICIOUS_REQUEST in the sink")
			}
			if ev.Severity != audit.SeverityCritical || ev.Details["category"] != tt.category {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}

func TestMiddleware_BodyRestoredForHandler(t *testing.T) {
	tg := newTestGuard(t, nil)
	body := `{"title":"New case study","tags":["go","security"]}`

	var got string
	h := tg.guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
	}))

	testutil.NewHTTPRequest(http.MethodPut, "/api/projects/1").WithBody(body).Do(h)
	if got != body {
		t.Errorf("handler body = %q, want %q", got, body)
	}
}

func TestMiddleware_InspectionDisabled(t *testing.T) {
	tg := newTestGuard(t, func(c *Config) { c.Security.DisablePayloadInspection = true })
	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/files?name=/etc/passwd").Do(tg.guard.Middleware(okHandler()))
	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestMiddleware_CSRF(t *testing.T) {
	tg := newTestGuard(t, nil)
	login := tg.login(t)
	access := decodeTokens(t, login).AccessToken
	sid := testutil.FindCookie(login, security.SessionCookie)
	csrf := testutil.FindCookie(login, security.CSRFCookie)
	if sid == nil || csrf == nil {
		t.Fatal("login should hand out session and CSRF cookies")
	}
	if csrf.HttpOnly {
		t.Error("CSRF cookie must be readable by scripts")
	}
	if login.Header().Get(security.CSRFHeader) != csrf.Value {
		t.Error("CSRF token should also be sent as a header")
	}

	adminPost := func() *testutil.HTTPRequest {
		return testutil.NewHTTPRequest(http.MethodPost, "/api/admin/posts").
			WithHeader("Authorization", "Bearer "+access).
			WithBody(`{"title":"hello"}`)
	}

	t.Run("missing token", func(t *testing.T) {
		rr := adminPost().WithCookie(sid).Do(tg.mux)
		testutil.AssertStatus(t, rr, http.StatusForbidden)
		if got := decodeError(t, rr).Error; got != ErrorCodeCSRFFailed {
			t.Errorf("error = %q", got)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		rr := adminPost().WithCookie(sid).WithHeader(security.CSRFHeader, "forged").Do(tg.mux)
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})

	t.Run("token without session", func(t *testing.T) {
		rr := adminPost().WithHeader(security.CSRFHeader, csrf.Value).Do(tg.mux)
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})

	t.Run("valid token", func(t *testing.T) {
		rr := adminPost().WithCookie(sid).WithHeader(security.CSRFHeader, csrf.Value).Do(tg.mux)
		testutil.AssertStatus(t, rr, http.StatusOK)
	})

	t.Run("safe methods are not checked", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodGet, "/api/admin/posts").
			WithHeader("Authorization", "Bearer "+access).
			Do(tg.mux)
		testutil.AssertStatus(t, rr, http.StatusOK)
	})

	tg.flush()
	ev, ok := tg.sink.find(audit.EventCSRFValidationFail)
	if !ok {
		t.Fatal("expected CSRF_VALIDATION_FAILED audit event")
	}
	if ev.Severity != audit.SeverityHigh {
		t.Errorf("severity = %v, want HIGH", ev.Severity)
	}
}

func TestMiddleware_InternalErrorIsGeneric403(t *testing.T) {
	tg := newTestGuard(t, nil)
	tg.store.SaveCSRFTokenFunc = func(context.Context, string, string, time.Duration) error {
		return errors.New("store exploded")
	}

	rr := testutil.NewHTTPRequest(http.MethodPost, PathLogin).
		WithBody(`{"email":"` + testEmail + `","password":"` + testPassword + `"}`).
		Do(tg.mux)
	testutil.AssertStatus(t, rr, http.StatusForbidden)
	if strings.Contains(rr.Body.String(), "exploded") {
		t.Errorf("internal error leaked: %s", rr.Body.String())
	}

	tg.flush()
	if _, ok := tg.sink.find(audit.EventSystemError); !ok {
		t.Error("expected SYSTEM_ERROR audit event")
	}
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	tg := newTestGuard(t, nil)
	h := tg.guard.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/projects").Do(h)
	testutil.AssertStatus(t, rr, http.StatusForbidden)
	if strings.Contains(rr.Body.String(), "boom") {
		t.Errorf("panic value leaked: %s", rr.Body.String())
	}

	tg.flush()
	ev, ok := tg.sink.find(audit.EventSystemError)
	if !ok || ev.Severity != audit.SeverityHigh {
		t.Errorf("expected HIGH SYSTEM_ERROR, got %+v (found %v)", ev, ok)
	}
}

func TestLimitTypeFor(t *testing.T) {
	tg := newTestGuard(t, nil)
	tests := map[string]string{
		"/api/auth/login":  security.LimitAuth,
		"/api/admin/posts": security.LimitAdmin,
		"/api/projects":    security.LimitAPI,
		"/":                security.LimitAPI,
	}
	for path, want := range tests {
		if got := tg.guard.limitTypeFor(path); got != want {
			t.Errorf("limitTypeFor(%q) = %q, want %q", path, got, want)
		}
	}
}
