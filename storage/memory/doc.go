// Package memory provides an in-memory implementation of the storage interfaces.
//
// All state lives in maps guarded by one mutex, which makes RotateFamily and
// Increment trivially atomic. Expired entries are evicted lazily on access and
// by a background cleanup loop. It is suitable for development, tests and
// single-instance deployments; use storage/valkey when several instances
// share the same limits, families and blacklist.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
package memory
