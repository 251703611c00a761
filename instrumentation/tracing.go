package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never attach token values, passwords or CSRF tokens to spans. Only
// identifiers (jti, family id) and outcomes belong here.
const (
	AttrUserID          = "auth.user_id"
	AttrTokenFamilyID   = "auth.token.family_id"  //nolint:gosec // identifier, not a credential
	AttrTokenGeneration = "auth.token.generation" //nolint:gosec // rotation counter
	AttrTokenReuse      = "auth.token.reuse"      //nolint:gosec // boolean flag
	AttrErrorKind       = "auth.error_kind"

	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	AttrLimitType      = "security.rate_limit.type"
	AttrLimitRemaining = "security.rate_limit.remaining"
	AttrClientIP       = "security.client_ip"
	AttrThreatCategory = "security.threat.category"
	AttrAuditEventType = "security.audit.event_type"

	AttrHTTPRoute      = "http.route"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status without an error value (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddTokenFamilyAttributes tags a span with rotation metadata (nil-safe)
func AddTokenFamilyAttributes(span trace.Span, familyID string, generation int, reuse bool) {
	if familyID != "" {
		SetSpanAttributes(span, attribute.String(AttrTokenFamilyID, familyID))
	}
	SetSpanAttributes(span,
		attribute.Int(AttrTokenGeneration, generation),
		attribute.Bool(AttrTokenReuse, reuse),
	)
}

// AddClientIP tags a span with the client IP if the configuration allows it
func AddClientIP(inst *Instrumentation, span trace.Span, ip string) {
	if ip == "" || !inst.ShouldLogClientIPs() {
		return
	}
	SetSpanAttributes(span, attribute.String(AttrClientIP, ip))
}
