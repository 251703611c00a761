package adminguard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/auth"
	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/security"
)

const unknownClient = "unknown"

// statusRecorder captures the response status for metrics and for the
// panic handler, which may only write if nothing was sent yet
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware runs the request security pipeline in front of next:
// request id, security headers, rate limiting, payload inspection and
// CSRF. Allowlisted paths skip all of it.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.allowlisted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := g.now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		limitType := g.limitTypeFor(r.URL.Path)

		ctx, span := g.startSpan(r.Context(), "http.middleware",
			attribute.String(instrumentation.AttrHTTPMethod, r.Method),
			attribute.String(instrumentation.AttrHTTPRoute, endpointLabel(r.URL.Path)),
			attribute.String(instrumentation.AttrLimitType, limitType),
		)

		rc := &RequestContext{
			ClientIP:  security.GetClientIP(r, g.config.RateLimit.TrustProxy, g.config.RateLimit.TrustedProxyCount),
			UserAgent: r.UserAgent(),
			Headers:   r.Header,
			RequestID: security.RequestIDFrom(r),
			LimitType: limitType,
		}
		instrumentation.AddClientIP(g.inst, span, rc.ClientIP)

		ctx = security.WithRequestID(ctx, rc.RequestID)
		ctx = auth.WithClientInfo(ctx, auth.ClientInfo{IP: rc.ClientIP, UserAgent: rc.UserAgent})
		r = r.WithContext(ctx)

		defer func() {
			if p := recover(); p != nil {
				g.logger.Error("Panic recovered",
					"error", p,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", rc.RequestID)
				g.pipelineFailure(rw, r, rc, fmt.Errorf("panic: %v", p))
			}
			instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrHTTPStatusCode, rw.status))
			if rw.status >= http.StatusInternalServerError {
				instrumentation.SetSpanError(span, http.StatusText(rw.status))
			}
			span.End()
			g.inst.Metrics().RecordHTTPRequest(ctx, r.Method, endpointLabel(r.URL.Path), rw.status,
				float64(g.now().Sub(start).Microseconds())/1000)
		}()

		rw.Header().Set(security.RequestIDHeader, rc.RequestID)
		security.SetSecurityHeaders(rw, g.config.PublicURL)

		if !g.checkRateLimit(rw, r, rc) {
			return
		}
		if !g.inspect(rw, r, rc) {
			return
		}
		if !g.checkCSRF(rw, r, rc) {
			return
		}

		next.ServeHTTP(rw, r.WithContext(WithRequestContext(r.Context(), rc)))
	})
}

func (g *Guard) checkRateLimit(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	key := rc.ClientIP
	if key == "" {
		key = unknownClient
	}

	decision, err := g.limiter.Check(r.Context(), key, rc.LimitType)
	if err != nil {
		g.pipelineFailure(w, r, rc, fmt.Errorf("rate limit check: %w", err))
		return false
	}
	for k, v := range decision.Headers() {
		w.Header().Set(k, v)
	}
	if decision.Allowed {
		return true
	}

	g.audit.Log(r.Context(), g.requestEvent(r, rc, audit.EventRateLimitExceeded, audit.SeverityMedium, map[string]any{
		"limitType":  rc.LimitType,
		"limit":      decision.Limit,
		"retryAfter": int(decision.RetryAfter.Seconds()),
	}))
	g.writeError(w, http.StatusTooManyRequests, auth.KindRateLimited.String(), auth.KindRateLimited.PublicMessage())
	return false
}

func (g *Guard) inspect(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	if g.config.Security.DisablePayloadInspection {
		return true
	}

	finding, body, err := g.inspector.Inspect(r)
	if err != nil {
		g.pipelineFailure(w, r, rc, err)
		return false
	}
	rc.Body = body
	if finding == nil {
		return true
	}

	g.logger.Warn("Suspicious request blocked",
		"finding", finding.String(),
		"path", r.URL.Path,
		"request_id", rc.RequestID)
	g.inst.Metrics().RecordSuspiciousRequest(r.Context(), finding.Category)
	g.audit.Log(r.Context(), g.requestEvent(r, rc, audit.EventSuspiciousRequest, audit.SeverityCritical, map[string]any{
		"category": finding.Category,
		"rule":     finding.Rule,
		"source":   finding.Source,
	}))
	g.writeRejected(w, ErrorCodeRequestRejected)
	return false
}

func (g *Guard) checkCSRF(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	if !isStateChanging(r.Method) {
		return true
	}

	if hasAnyPrefix(r.URL.Path, g.config.Security.CSRFProtectedPrefixes) {
		sid := g.csrf.SessionID(r)
		err := g.csrf.Validate(r.Context(), r, sid)
		switch {
		case errors.Is(err, security.ErrCSRFMissing), errors.Is(err, security.ErrCSRFMismatch):
			g.inst.Metrics().RecordCSRFFailure(r.Context())
			g.audit.Log(r.Context(), g.requestEvent(r, rc, audit.EventCSRFValidationFail, audit.SeverityHigh, map[string]any{
				"reason": err.Error(),
			}))
			g.writeRejected(w, ErrorCodeCSRFFailed)
			return false
		case err != nil:
			g.pipelineFailure(w, r, rc, err)
			return false
		}
		rc.SessionID = sid
	}

	if hasAnyPrefix(r.URL.Path, g.config.Security.CSRFIssuePaths) {
		sid := g.csrf.EnsureSession(w, r)
		if _, err := g.csrf.Issue(r.Context(), w, sid); err != nil {
			g.pipelineFailure(w, r, rc, err)
			return false
		}
		rc.SessionID = sid
	}
	return true
}

// pipelineFailure answers any internal error with a generic 403
func (g *Guard) pipelineFailure(w http.ResponseWriter, r *http.Request, rc *RequestContext, err error) {
	g.logger.Error("Security pipeline failed",
		"error", err,
		"path", r.URL.Path,
		"request_id", rc.RequestID)
	g.audit.Log(r.Context(), g.requestEvent(r, rc, audit.EventSystemError, audit.SeverityHigh, map[string]any{
		"stage": "middleware",
	}))

	if rec, ok := w.(*statusRecorder); ok && rec.wroteHeader {
		return
	}
	g.writeRejected(w, ErrorCodeRequestRejected)
}

func (g *Guard) requestEvent(r *http.Request, rc *RequestContext, eventType string, sev audit.Severity, details map[string]any) audit.Event {
	if details == nil {
		details = map[string]any{}
	}
	details["requestId"] = rc.RequestID
	return audit.Event{
		Type:      eventType,
		Severity:  sev,
		Resource:  r.URL.Path,
		Action:    r.Method,
		IP:        rc.ClientIP,
		UserAgent: rc.UserAgent,
		Details:   details,
	}
}

func (g *Guard) allowlisted(path string) bool {
	for _, p := range g.config.Security.AllowlistPaths {
		if path == p {
			return true
		}
	}
	return hasAnyPrefix(path, g.config.Security.AllowlistPrefixes)
}

func (g *Guard) limitTypeFor(path string) string {
	for _, rp := range g.config.RateLimit.Routes {
		if strings.HasPrefix(path, rp.Prefix) {
			return rp.LimitType
		}
	}
	return security.LimitAPI
}

func (g *Guard) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if g.inst == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return g.inst.Tracer("http").Start(ctx, name, trace.WithAttributes(attrs...))
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// endpointLabel keeps metric cardinality bounded
func endpointLabel(path string) string {
	switch {
	case path == PathLogin, path == PathRefresh, path == PathLogout, path == PathSession:
		return path
	case strings.HasPrefix(path, "/api/auth/"):
		return "/api/auth/"
	case strings.HasPrefix(path, "/api/admin/"):
		return "/api/admin/"
	case strings.HasPrefix(path, "/api/"):
		return "/api/"
	default:
		return "other"
	}
}
