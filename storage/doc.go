// Package storage defines the persistence contracts of the auth subsystem.
//
// The interfaces are:
//   - TokenFamilyStore: refresh token families with atomic rotation
//   - BlacklistStore: revoked token ids (jti) with expiry
//   - CounterStore: fixed-window counters for rate limiting
//   - CSRFStore: CSRF tokens bound to a session id
//
// Implementations are provided in subpackages:
//   - storage/memory: in-process storage for development, tests and single instances
//   - storage/mock: function-field fakes for unit testing failure modes
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
