// Package security implements the request-level defenses of adminguard:
// the distributed rate limiter, the token blacklist policy, payload
// inspection, CSRF tokens, response headers, client IP resolution and the
// admin password check.
//
// # Rate Limiting
//
// RateLimiter is a fixed window counter per (client key, limit type) kept in
// a storage.CounterStore, so every replica shares the same budget:
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{
//		Store:    store,
//		Fallback: security.NewLocalLimiter(0, logger),
//	})
//	d, _ := limiter.Check(ctx, clientIP, security.LimitLogin)
//	for k, v := range d.Headers() {
//		w.Header().Set(k, v)
//	}
//	if !d.Allowed {
//		// 429
//	}
//
// When the store fails the limiter does not block on its own: with a
// LocalLimiter configured it falls back to an in-process token bucket per
// key (LRU bounded), otherwise it admits the request. Either way the
// decision is marked Degraded and a warning is logged.
//
// # Blacklist
//
// Blacklist wraps a storage.BlacklistStore with a timeout and an explicit
// failure policy. It fails closed unless BlacklistConfig.FailOpen is set.
//
// # Payload inspection
//
// Inspector runs a fixed set of SQL-injection, XSS and path-traversal
// signatures over the path, the raw and decoded query and the first
// DefaultMaxInspectBytes of the body. The body is restored afterwards.
package security
