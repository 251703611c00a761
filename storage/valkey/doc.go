// Package valkey provides a Valkey storage backend for adminguard.
//
// Valkey is wire-compatible with Redis. The Store type implements
// [storage.Store] so several instances of the service can share rate-limit
// counters, token families, the token blacklist and CSRF tokens. The
// AuditPending type implements the audit pending queue so that buffered audit
// events survive a restart of one instance.
//
// # Key Schema
//
// All keys use a configurable prefix (default "adminguard:"):
//
//	{prefix}family:{familyID}     -> HASH(userId, currentTokenId, currentJti, accessJti, generation, createdAt, updatedAt)
//	{prefix}blacklist:{jti}       -> unix seconds when revoked (with TTL)
//	{prefix}ratelimit:{key}       -> counter (with PEXPIRE set on first hit)
//	{prefix}csrf:{sessionID}      -> CSRF token (with TTL)
//	{prefix}audit:pending         -> LIST of JSON(audit.Event)
//
// # Atomic Operations
//
// Family rotation, counter increments and the audit drain run as Lua scripts
// so that concurrent requests on different instances see a single winner:
//
//   - RotateFamily: compare currentTokenId and swap in one step
//   - Increment: INCR and set the window expiry only on the first hit
//   - Drain: read and delete the pending audit list in one step
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "adminguard:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
