package security

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/internal/util"
	"github.com/folio-works/adminguard/storage"
)

// Limit types.
const (
	LimitLogin = "login"
	LimitAPI   = "api"
	LimitAuth  = "auth"
	LimitAdmin = "admin"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// DefaultStoreTimeout bounds every storage call made by this package
const DefaultStoreTimeout = 2 * time.Second

// RateLimitPolicy allows Limit requests per Window
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies returns the built-in policies
func DefaultPolicies() map[string]RateLimitPolicy {
	return map[string]RateLimitPolicy{
		LimitLogin: {Limit: 100, Window: 15 * time.Minute},
		LimitAPI:   {Limit: 1000, Window: 15 * time.Minute},
		LimitAuth:  {Limit: 200, Window: 15 * time.Minute},
		LimitAdmin: {Limit: 300, Window: 15 * time.Minute},
	}
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration

	// Degraded is set when the shared store could not be reached and the
	// decision came from the local fallback or from failing open
	Degraded bool
}

// Headers returns the X-RateLimit-* headers, plus Retry-After when blocked
func (d Decision) Headers() map[string]string {
	h := Headers(d.Remaining, d.Limit, d.ResetAt)
	if !d.Allowed {
		h[HeaderRetryAfter] = strconv.Itoa(retryAfterSeconds(d.RetryAfter))
	}
	return h
}

// Headers builds the standard rate limit headers. Reset is in unix seconds.
func Headers(remaining, limit int, resetAt time.Time) map[string]string {
	return map[string]string{
		HeaderRateLimitLimit:     strconv.Itoa(limit),
		HeaderRateLimitRemaining: strconv.Itoa(max(remaining, 0)),
		HeaderRateLimitReset:     strconv.FormatInt(resetAt.Unix(), 10),
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

// RateLimiterConfig configures a RateLimiter
type RateLimiterConfig struct {
	// Store holds the shared counters (required)
	Store storage.CounterStore

	// Policies per limit type. Missing types fall back to DefaultPolicies,
	// unknown types at check time use the "api" policy.
	Policies map[string]RateLimitPolicy

	// Fallback limits per process when Store fails. When nil, a store
	// failure admits the request.
	Fallback *LocalLimiter

	// Timeout bounds each store call. Default: DefaultStoreTimeout
	Timeout time.Duration

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
	Clock           func() time.Time
}

// RateLimiter is a fixed window limiter over a shared counter store. The
// first hit in a window sets its expiry and later hits only increment, so
// the window never slides.
type RateLimiter struct {
	store    storage.CounterStore
	policies map[string]RateLimitPolicy
	fallback *LocalLimiter
	timeout  time.Duration
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
	now      func() time.Time
}

// NewRateLimiter builds a RateLimiter
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	policies := DefaultPolicies()
	for name, p := range cfg.Policies {
		if p.Limit > 0 && p.Window > 0 {
			policies[name] = p
		}
	}

	rl := &RateLimiter{
		store:    cfg.Store,
		policies: policies,
		fallback: cfg.Fallback,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		inst:     cfg.Instrumentation,
		now:      cfg.Clock,
	}
	if rl.timeout <= 0 {
		rl.timeout = DefaultStoreTimeout
	}
	if rl.logger == nil {
		rl.logger = slog.Default()
	}
	if rl.now == nil {
		rl.now = time.Now
	}
	return rl
}

// Policy returns the policy applied to limitType
func (rl *RateLimiter) Policy(limitType string) RateLimitPolicy {
	if p, ok := rl.policies[limitType]; ok {
		return p
	}
	return rl.policies[LimitAPI]
}

func counterKey(key, limitType string) string {
	return "ratelimit:" + limitType + ":" + key
}

// Check counts one hit for key under limitType. Store failures never
// reach the caller: the local fallback decides, or the request is admitted.
func (rl *RateLimiter) Check(ctx context.Context, key, limitType string) (Decision, error) {
	if key == "" {
		return Decision{}, errors.New("rate limit key is required")
	}
	policy := rl.Policy(limitType)
	ck := counterKey(key, limitType)
	now := rl.now()

	ctx, span := rl.startSpan(ctx, "rate_limit.check", limitType)
	defer span.End()

	storeCtx, cancel := context.WithTimeout(ctx, rl.timeout)
	count, ttl, err := rl.store.Increment(storeCtx, ck, policy.Window)
	cancel()

	if err != nil {
		d := rl.degraded(ck, policy, now)
		rl.logger.Warn("Rate limit store unavailable, degrading",
			"limit_type", limitType,
			"key", util.HashForLogging(key),
			"fallback", rl.fallback != nil,
			"allowed", d.Allowed,
			"error", err)
		instrumentation.RecordError(span, err)
		if !d.Allowed {
			rl.inst.Metrics().RecordRateLimitExceeded(ctx, limitType)
		}
		return d, nil
	}

	if ttl <= 0 || ttl > policy.Window {
		ttl = policy.Window
	}
	d := Decision{
		Allowed:   count <= int64(policy.Limit),
		Limit:     policy.Limit,
		Remaining: max(policy.Limit-int(count), 0),
		ResetAt:   now.Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
		rl.inst.Metrics().RecordRateLimitExceeded(ctx, limitType)
	}

	instrumentation.SetSpanAttributes(span,
		attribute.Bool("security.rate_limit.allowed", d.Allowed),
		attribute.Int(instrumentation.AttrLimitRemaining, d.Remaining),
	)
	instrumentation.SetSpanSuccess(span)
	return d, nil
}

func (rl *RateLimiter) degraded(ck string, policy RateLimitPolicy, now time.Time) Decision {
	d := Decision{
		Allowed:  true,
		Limit:    policy.Limit,
		ResetAt:  now.Add(policy.Window),
		Degraded: true,
	}
	if rl.fallback == nil {
		d.Remaining = policy.Limit
		return d
	}
	if !rl.fallback.Allow(ck, policy.Limit, policy.Window) {
		d.Allowed = false
		d.RetryAfter = policy.Window / time.Duration(policy.Limit)
	}
	return d
}

// Reset clears the counter for key, typically after a successful login
func (rl *RateLimiter) Reset(ctx context.Context, key, limitType string) error {
	ck := counterKey(key, limitType)
	if rl.fallback != nil {
		rl.fallback.Reset(ck)
	}

	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()
	return rl.store.ResetCounter(ctx, ck)
}
