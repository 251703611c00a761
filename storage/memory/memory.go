package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/internal/util"
	"github.com/folio-works/adminguard/storage"
)

const (
	// familyIDLogLength is the number of characters of a family id included in logs
	familyIDLogLength = 8

	// maxFamilies is the threshold for warning about excessive live sessions.
	// A single-admin deployment should never come close to it.
	maxFamilies = 10000
)

type familyEntry struct {
	family    storage.TokenFamily
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

type expiringValue struct {
	value     string
	expiresAt time.Time
}

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu sync.Mutex

	families  map[string]*familyEntry
	blacklist map[string]time.Time // jti -> expiry
	counters  map[string]*counterEntry
	csrf      map[string]expiringValue

	now func() time.Time

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	familiesCount atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.Store            = (*Store)(nil)
	_ storage.TokenFamilyStore = (*Store)(nil)
	_ storage.BlacklistStore   = (*Store)(nil)
	_ storage.CounterStore     = (*Store)(nil)
	_ storage.CSRFStore        = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		families:        make(map[string]*familyEntry),
		blacklist:       make(map[string]time.Time),
		counters:        make(map[string]*counterEntry),
		csrf:            make(map[string]expiringValue),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// FamilyCount returns the number of live token families
func (s *Store) FamilyCount() int64 {
	return s.familiesCount.Load()
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// TokenFamilyStore Implementation
// ============================================================

// CreateFamily stores a new token family
func (s *Store) CreateFamily(ctx context.Context, family *storage.TokenFamily, ttl time.Duration) error {
	ctx, span := s.startStorageSpan(ctx, "create_family")
	defer span.End()
	start := time.Now()

	var err error
	defer func() { s.recordStorageOperation(ctx, span, "create_family", err, start) }()

	if family == nil || family.FamilyID == "" {
		err = fmt.Errorf("family id cannot be empty")
		return err
	}
	if ttl <= 0 {
		err = fmt.Errorf("family ttl must be positive")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := *family
	if stored.Generation == 0 {
		stored.Generation = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if _, exists := s.families[stored.FamilyID]; !exists {
		s.familiesCount.Add(1)
	}
	s.families[stored.FamilyID] = &familyEntry{family: stored, expiresAt: now.Add(ttl)}

	if n := len(s.families); n > maxFamilies {
		s.logger.Warn("Token family count above threshold",
			"current_count", n,
			"max_threshold", maxFamilies)
	}

	return nil
}

// GetFamily returns a copy of the family record
func (s *Store) GetFamily(ctx context.Context, familyID string) (*storage.TokenFamily, error) {
	ctx, span := s.startStorageSpan(ctx, "get_family")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	entry, err := s.liveFamilyLocked(familyID)
	s.mu.Unlock()

	s.recordStorageOperation(ctx, span, "get_family", err, start)
	if err != nil {
		return nil, err
	}
	family := entry.family
	return &family, nil
}

// RotateFamily performs the compare-and-swap under the store mutex
func (s *Store) RotateFamily(ctx context.Context, familyID, oldTokenID string, next storage.FamilyRotation, ttl time.Duration) error {
	ctx, span := s.startStorageSpan(ctx, "rotate_family")
	defer span.End()
	start := time.Now()

	var err error
	defer func() { s.recordStorageOperation(ctx, span, "rotate_family", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	var entry *familyEntry
	entry, err = s.liveFamilyLocked(familyID)
	if err != nil {
		return err
	}

	if entry.family.CurrentTokenID != oldTokenID {
		s.logger.Debug("Rotation rejected, token id is not current",
			"family_id", util.SafeTruncate(familyID, familyIDLogLength),
			"generation", entry.family.Generation)
		err = storage.ErrReuseDetected
		return err
	}

	now := s.now()
	entry.family.CurrentTokenID = next.TokenID
	entry.family.CurrentJTI = next.RefreshJTI
	entry.family.AccessJTI = next.AccessJTI
	entry.family.Generation++
	entry.family.UpdatedAt = now
	entry.expiresAt = now.Add(ttl)

	return nil
}

// InvalidateFamily deletes a family
func (s *Store) InvalidateFamily(ctx context.Context, familyID string) error {
	ctx, span := s.startStorageSpan(ctx, "invalidate_family")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	if _, ok := s.families[familyID]; ok {
		delete(s.families, familyID)
		s.familiesCount.Add(-1)
	}
	s.mu.Unlock()

	s.recordStorageOperation(ctx, span, "invalidate_family", nil, start)
	return nil
}

// liveFamilyLocked must be called with s.mu held
func (s *Store) liveFamilyLocked(familyID string) (*familyEntry, error) {
	entry, ok := s.families[familyID]
	if !ok {
		return nil, storage.ErrFamilyNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.families, familyID)
		s.familiesCount.Add(-1)
		return nil, storage.ErrFamilyNotFound
	}
	return entry, nil
}

// ============================================================
// BlacklistStore Implementation
// ============================================================

// Blacklist records jti as revoked until ttl elapses.
// Re-blacklisting keeps the later of the two expiries.
func (s *Store) Blacklist(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return fmt.Errorf("jti cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)
	if existing, ok := s.blacklist[jti]; ok && existing.After(expiresAt) {
		return nil
	}
	s.blacklist[jti] = expiresAt
	return nil
}

// IsBlacklisted reports whether jti is revoked
func (s *Store) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.blacklist[jti]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.blacklist, jti)
		return false, nil
	}
	return true, nil
}

// ============================================================
// CounterStore Implementation
// ============================================================

// Increment implements a fixed window counter
func (s *Store) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, fmt.Errorf("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.counters[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &counterEntry{expiresAt: now.Add(window)}
		s.counters[key] = entry
	}
	entry.count++

	return entry.count, entry.expiresAt.Sub(now), nil
}

// ResetCounter deletes the counter for key
func (s *Store) ResetCounter(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// ============================================================
// CSRFStore Implementation
// ============================================================

// SaveCSRFToken stores the token issued to a session
func (s *Store) SaveCSRFToken(_ context.Context, sessionID, token string, ttl time.Duration) error {
	if sessionID == "" || token == "" {
		return fmt.Errorf("session id and token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrf[sessionID] = expiringValue{value: token, expiresAt: s.now().Add(ttl)}
	return nil
}

// GetCSRFToken returns the token issued to a session
func (s *Store) GetCSRFToken(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.csrf[sessionID]
	if !ok {
		return "", storage.ErrNotFound
	}
	if !s.now().Before(v.expiresAt) {
		delete(s.csrf, sessionID)
		return "", storage.ErrNotFound
	}
	return v.value, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for id, entry := range s.families {
		if !now.Before(entry.expiresAt) {
			delete(s.families, id)
			s.familiesCount.Add(-1)
			cleaned++
		}
	}

	for jti, expiresAt := range s.blacklist {
		if !now.Before(expiresAt) {
			delete(s.blacklist, jti)
			cleaned++
		}
	}

	for key, entry := range s.counters {
		if !now.Before(entry.expiresAt) {
			delete(s.counters, key)
			cleaned++
		}
	}

	for id, v := range s.csrf {
		if !now.Before(v.expiresAt) {
			delete(s.csrf, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned, "families", len(s.families))
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	switch {
	case err == nil:
		instrumentation.SetSpanSuccess(span)
	case errors.Is(err, storage.ErrFamilyNotFound), errors.Is(err, storage.ErrReuseDetected):
		result = "rejected"
		instrumentation.SetSpanSuccess(span)
	default:
		result = "error"
		instrumentation.RecordError(span, err)
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
