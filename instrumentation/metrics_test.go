package instrumentation

import (
	"context"
	"testing"
)

func TestMetrics_RecordAll(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	m := inst.Metrics()

	// Should not panic
	m.RecordHTTPRequest(ctx, "POST", "/api/auth/login", 200, 12.5)
	m.RecordLoginAttempt(ctx, "failure")
	m.RecordTokenRefresh(ctx, "success")
	m.RecordTokenReuseDetected(ctx)
	m.RecordTokenRevocation(ctx, "logout", 2)
	m.RecordRateLimitExceeded(ctx, "login")
	m.RecordBlacklistHit(ctx)
	m.RecordSuspiciousRequest(ctx, "sql_injection")
	m.RecordCSRFFailure(ctx)
	m.RecordAuditEvent(ctx, "LOGIN_SUCCESS", "LOW")
	m.RecordAuditFlush(ctx, "success", 10)
	m.RecordStorageOperation(ctx, "rotate_family", "success", 0.4)
}

func TestMetrics_NilReceiver(t *testing.T) {
	ctx := context.Background()
	var m *Metrics

	// Should not panic
	m.RecordHTTPRequest(ctx, "GET", "/", 200, 1)
	m.RecordLoginAttempt(ctx, "success")
	m.RecordTokenRefresh(ctx, "success")
	m.RecordTokenReuseDetected(ctx)
	m.RecordTokenRevocation(ctx, "reuse", 1)
	m.RecordRateLimitExceeded(ctx, "api")
	m.RecordBlacklistHit(ctx)
	m.RecordSuspiciousRequest(ctx, "xss")
	m.RecordCSRFFailure(ctx)
	m.RecordAuditEvent(ctx, "LOGOUT", "LOW")
	m.RecordAuditFlush(ctx, "error", 0)
	m.RecordStorageOperation(ctx, "get_family", "error", 2)

	var inst *Instrumentation
	if inst.Metrics() != nil {
		t.Error("nil instrumentation should return nil metrics")
	}
}
