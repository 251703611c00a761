package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Auth
	LoginAttempts      metric.Int64Counter
	TokenRefreshed     metric.Int64Counter
	TokenReuseDetected metric.Int64Counter
	TokenRevoked       metric.Int64Counter

	// Security
	RateLimitExceeded  metric.Int64Counter
	BlacklistHits      metric.Int64Counter
	SuspiciousRequests metric.Int64Counter
	CSRFFailures       metric.Int64Counter
	LocalLimiters      metric.Int64ObservableGauge

	// Audit
	AuditEventsTotal metric.Int64Counter
	AuditFlushes     metric.Int64Counter
	AuditBatchSize   metric.Int64Histogram
	AuditPending     metric.Int64ObservableGauge

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

type counterDef struct {
	target      *metric.Int64Counter
	meter       string
	name        string
	description string
	unit        string
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterDef{
		{&m.HTTPRequestsTotal, "http", "adminguard.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.LoginAttempts, "auth", "adminguard.auth.login.attempts", "Login attempts by result", "{attempt}"},
		{&m.TokenRefreshed, "auth", "adminguard.auth.token.refreshed", "Refresh attempts by result", "{refresh}"},
		{&m.TokenReuseDetected, "auth", "adminguard.auth.token.reuse_detected", "Refresh token replays detected", "{event}"},
		{&m.TokenRevoked, "auth", "adminguard.auth.token.revoked", "Tokens revoked by reason", "{token}"},
		{&m.RateLimitExceeded, "security", "adminguard.security.rate_limit.exceeded", "Requests rejected by the rate limiter", "{request}"},
		{&m.BlacklistHits, "security", "adminguard.security.blacklist.hits", "Revoked tokens presented", "{token}"},
		{&m.SuspiciousRequests, "security", "adminguard.security.suspicious_requests", "Requests blocked by payload inspection", "{request}"},
		{&m.CSRFFailures, "security", "adminguard.security.csrf.failures", "CSRF token validation failures", "{request}"},
		{&m.AuditEventsTotal, "audit", "adminguard.audit.events.total", "Audit events recorded", "{event}"},
		{&m.AuditFlushes, "audit", "adminguard.audit.flushes", "Audit batch flushes by result", "{flush}"},
		{&m.StorageOperationTotal, "storage", "adminguard.storage.operations.total", "Storage operations by result", "{operation}"},
	}

	var err error
	for _, c := range counters {
		*c.target, err = inst.Meter(c.meter).Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = inst.Meter("http").Float64Histogram(
		"adminguard.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = inst.Meter("storage").Float64Histogram(
		"adminguard.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.AuditBatchSize, err = inst.Meter("audit").Int64Histogram(
		"adminguard.audit.batch.size",
		metric.WithDescription("Number of audit events written per flush"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.batch.size histogram: %w", err)
	}

	m.AuditPending, err = inst.Meter("audit").Int64ObservableGauge(
		"adminguard.audit.pending",
		metric.WithDescription("Audit events waiting for the next flush"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.pending gauge: %w", err)
	}

	m.LocalLimiters, err = inst.Meter("security").Int64ObservableGauge(
		"adminguard.security.local_limiters",
		metric.WithDescription("Active in-process rate limiter buckets"),
		metric.WithUnit("{limiter}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.local_limiters gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordLoginAttempt records a login attempt; result is "success", "failure" or "rate_limited"
func (m *Metrics) RecordLoginAttempt(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTokenRefresh records a refresh attempt
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTokenReuseDetected records a refresh token replay
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordTokenRevocation records a revocation; reason is "logout" or "reuse"
func (m *Metrics) RecordTokenRevocation(ctx context.Context, reason string, count int) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limitType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limit_type", limitType)))
}

// RecordBlacklistHit records a revoked token being presented
func (m *Metrics) RecordBlacklistHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.BlacklistHits.Add(ctx, 1)
}

// RecordSuspiciousRequest records a request blocked by payload inspection
func (m *Metrics) RecordSuspiciousRequest(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.SuspiciousRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

// RecordCSRFFailure records a failed CSRF validation
func (m *Metrics) RecordCSRFFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.CSRFFailures.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType, severity string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("severity", severity),
	))
}

// RecordAuditFlush records one audit flush and its batch size
func (m *Metrics) RecordAuditFlush(ctx context.Context, result string, batchSize int) {
	if m == nil {
		return
	}
	m.AuditFlushes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.AuditBatchSize.Record(ctx, int64(batchSize))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
