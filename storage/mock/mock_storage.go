// Package mock provides a storage.Store whose every method can be overridden,
// for testing fail-open and fail-closed behavior.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/folio-works/adminguard/storage"
	"github.com/folio-works/adminguard/storage/memory"
)

// Store delegates to an in-memory store unless the matching Func field is set
type Store struct {
	mu         sync.Mutex
	callCounts map[string]int
	inner      *memory.Store

	CreateFamilyFunc     func(ctx context.Context, family *storage.TokenFamily, ttl time.Duration) error
	GetFamilyFunc        func(ctx context.Context, familyID string) (*storage.TokenFamily, error)
	RotateFamilyFunc     func(ctx context.Context, familyID, oldTokenID string, next storage.FamilyRotation, ttl time.Duration) error
	InvalidateFamilyFunc func(ctx context.Context, familyID string) error
	BlacklistFunc        func(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklistedFunc    func(ctx context.Context, jti string) (bool, error)
	IncrementFunc        func(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	ResetCounterFunc     func(ctx context.Context, key string) error
	SaveCSRFTokenFunc    func(ctx context.Context, sessionID, token string, ttl time.Duration) error
	GetCSRFTokenFunc     func(ctx context.Context, sessionID string) (string, error)
}

var _ storage.Store = (*Store)(nil)

// New creates a mock store backed by a fresh memory store
func New() *Store {
	return &Store{
		callCounts: make(map[string]int),
		inner:      memory.New(),
	}
}

// Inner returns the delegate store
func (m *Store) Inner() *memory.Store {
	return m.inner
}

// Stop stops the delegate's cleanup loop
func (m *Store) Stop() {
	m.inner.Stop()
}

// CallCount returns how many times the named method was called
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

// FailAll makes every method return err
func (m *Store) FailAll(err error) {
	m.CreateFamilyFunc = func(context.Context, *storage.TokenFamily, time.Duration) error { return err }
	m.GetFamilyFunc = func(context.Context, string) (*storage.TokenFamily, error) { return nil, err }
	m.RotateFamilyFunc = func(context.Context, string, string, storage.FamilyRotation, time.Duration) error { return err }
	m.InvalidateFamilyFunc = func(context.Context, string) error { return err }
	m.BlacklistFunc = func(context.Context, string, time.Duration) error { return err }
	m.IsBlacklistedFunc = func(context.Context, string) (bool, error) { return false, err }
	m.IncrementFunc = func(context.Context, string, time.Duration) (int64, time.Duration, error) { return 0, 0, err }
	m.ResetCounterFunc = func(context.Context, string) error { return err }
	m.SaveCSRFTokenFunc = func(context.Context, string, string, time.Duration) error { return err }
	m.GetCSRFTokenFunc = func(context.Context, string) (string, error) { return "", err }
}

func (m *Store) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[method]++
}

// CreateFamily implements storage.TokenFamilyStore
func (m *Store) CreateFamily(ctx context.Context, family *storage.TokenFamily, ttl time.Duration) error {
	m.record("CreateFamily")
	if m.CreateFamilyFunc != nil {
		return m.CreateFamilyFunc(ctx, family, ttl)
	}
	return m.inner.CreateFamily(ctx, family, ttl)
}

// GetFamily implements storage.TokenFamilyStore
func (m *Store) GetFamily(ctx context.Context, familyID string) (*storage.TokenFamily, error) {
	m.record("GetFamily")
	if m.GetFamilyFunc != nil {
		return m.GetFamilyFunc(ctx, familyID)
	}
	return m.inner.GetFamily(ctx, familyID)
}

// RotateFamily implements storage.TokenFamilyStore
func (m *Store) RotateFamily(ctx context.Context, familyID, oldTokenID string, next storage.FamilyRotation, ttl time.Duration) error {
	m.record("RotateFamily")
	if m.RotateFamilyFunc != nil {
		return m.RotateFamilyFunc(ctx, familyID, oldTokenID, next, ttl)
	}
	return m.inner.RotateFamily(ctx, familyID, oldTokenID, next, ttl)
}

// InvalidateFamily implements storage.TokenFamilyStore
func (m *Store) InvalidateFamily(ctx context.Context, familyID string) error {
	m.record("InvalidateFamily")
	if m.InvalidateFamilyFunc != nil {
		return m.InvalidateFamilyFunc(ctx, familyID)
	}
	return m.inner.InvalidateFamily(ctx, familyID)
}

// Blacklist implements storage.BlacklistStore
func (m *Store) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	m.record("Blacklist")
	if m.BlacklistFunc != nil {
		return m.BlacklistFunc(ctx, jti, ttl)
	}
	return m.inner.Blacklist(ctx, jti, ttl)
}

// IsBlacklisted implements storage.BlacklistStore
func (m *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	m.record("IsBlacklisted")
	if m.IsBlacklistedFunc != nil {
		return m.IsBlacklistedFunc(ctx, jti)
	}
	return m.inner.IsBlacklisted(ctx, jti)
}

// Increment implements storage.CounterStore
func (m *Store) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.record("Increment")
	if m.IncrementFunc != nil {
		return m.IncrementFunc(ctx, key, window)
	}
	return m.inner.Increment(ctx, key, window)
}

// ResetCounter implements storage.CounterStore
func (m *Store) ResetCounter(ctx context.Context, key string) error {
	m.record("ResetCounter")
	if m.ResetCounterFunc != nil {
		return m.ResetCounterFunc(ctx, key)
	}
	return m.inner.ResetCounter(ctx, key)
}

// SaveCSRFToken implements storage.CSRFStore
func (m *Store) SaveCSRFToken(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	m.record("SaveCSRFToken")
	if m.SaveCSRFTokenFunc != nil {
		return m.SaveCSRFTokenFunc(ctx, sessionID, token, ttl)
	}
	return m.inner.SaveCSRFToken(ctx, sessionID, token, ttl)
}

// GetCSRFToken implements storage.CSRFStore
func (m *Store) GetCSRFToken(ctx context.Context, sessionID string) (string, error) {
	m.record("GetCSRFToken")
	if m.GetCSRFTokenFunc != nil {
		return m.GetCSRFTokenFunc(ctx, sessionID)
	}
	return m.inner.GetCSRFToken(ctx, sessionID)
}
