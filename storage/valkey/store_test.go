package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if no server is reachable at VALKEY_TEST_ADDR
// (default localhost:6379). Each test gets a unique prefix.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("agtest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{Address: "invalid:99999"})
	assert.Error(t, err)
}

func TestKeyHelpers(t *testing.T) {
	s := &Store{prefix: "p:"}

	assert.Equal(t, "p:family:f1", s.familyKey("f1"))
	assert.Equal(t, "p:blacklist:j1", s.blacklistKey("j1"))
	assert.Equal(t, "p:ratelimit:login:1.2.3.4", s.counterKey("login:1.2.3.4"))
	assert.Equal(t, "p:csrf:s1", s.csrfKey("s1"))
}

func TestFamilyFromHash(t *testing.T) {
	created := time.UnixMilli(1_760_000_000_000)
	fields := map[string]string{
		"userId":         "admin",
		"currentTokenId": "tok-2",
		"currentJti":     "rjti",
		"accessJti":      "ajti",
		"generation":     "2",
		"createdAt":      "1760000000000",
		"updatedAt":      "1760000000500",
	}

	family, err := familyFromHash("fam", fields)
	require.NoError(t, err)
	assert.Equal(t, "fam", family.FamilyID)
	assert.Equal(t, "tok-2", family.CurrentTokenID)
	assert.Equal(t, 2, family.Generation)
	assert.True(t, family.CreatedAt.Equal(created))

	fields["generation"] = "not-a-number"
	_, err = familyFromHash("fam", fields)
	assert.Error(t, err)
}

func TestValidateStringLength(t *testing.T) {
	assert.NoError(t, validateStringLength("short", 10, "id"))
	err := validateStringLength("this is far too long", 5, "id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInputTooLarge))
}

// ============================================================
// TokenFamilyStore Tests
// ============================================================

func TestFamily_CreateGetRotate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.CreateFamily(ctx, &storage.TokenFamily{
		FamilyID:       "fam-1",
		UserID:         "admin",
		CurrentTokenID: "tok-1",
		CurrentJTI:     "rjti-1",
		AccessJTI:      "ajti-1",
	}, time.Minute)
	require.NoError(t, err)

	family, err := s.GetFamily(ctx, "fam-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", family.CurrentTokenID)
	assert.Equal(t, 1, family.Generation)

	next := storage.FamilyRotation{TokenID: "tok-2", RefreshJTI: "rjti-2", AccessJTI: "ajti-2"}
	require.NoError(t, s.RotateFamily(ctx, "fam-1", "tok-1", next, time.Minute))

	family, err = s.GetFamily(ctx, "fam-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", family.CurrentTokenID)
	assert.Equal(t, "ajti-2", family.AccessJTI)
	assert.Equal(t, 2, family.Generation)

	err = s.RotateFamily(ctx, "fam-1", "tok-1", storage.FamilyRotation{TokenID: "tok-3"}, time.Minute)
	assert.ErrorIs(t, err, storage.ErrReuseDetected)
}

func TestFamily_NotFoundAndInvalidate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.GetFamily(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrFamilyNotFound)

	err = s.RotateFamily(ctx, "missing", "tok", storage.FamilyRotation{TokenID: "x"}, time.Minute)
	assert.ErrorIs(t, err, storage.ErrFamilyNotFound)

	require.NoError(t, s.CreateFamily(ctx, &storage.TokenFamily{FamilyID: "fam", CurrentTokenID: "t"}, time.Minute))
	require.NoError(t, s.InvalidateFamily(ctx, "fam"))
	_, err = s.GetFamily(ctx, "fam")
	assert.ErrorIs(t, err, storage.ErrFamilyNotFound)
}

func TestFamily_ConcurrentRotationSingleWinner(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateFamily(ctx, &storage.TokenFamily{FamilyID: "fam", CurrentTokenID: "tok-1"}, time.Minute))

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RotateFamily(ctx, "fam", "tok-1", storage.FamilyRotation{TokenID: "next"}, time.Minute)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

// ============================================================
// Blacklist, counter and CSRF Tests
// ============================================================

func TestBlacklist(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Blacklist(ctx, "jti-1", time.Minute))
	require.NoError(t, s.Blacklist(ctx, "jti-1", time.Minute), "blacklist is idempotent")

	ok, err := s.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsBlacklisted(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrement_FixedWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	count, remaining, err := s.Increment(ctx, "login:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.InDelta(t, time.Minute.Milliseconds(), remaining.Milliseconds(), 1000)

	count, remaining2, err := s.Increment(ctx, "login:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.LessOrEqual(t, remaining2, remaining, "second hit must not extend the window")

	require.NoError(t, s.ResetCounter(ctx, "login:1.2.3.4"))
	count, _, err = s.Increment(ctx, "login:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCSRFToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.GetCSRFToken(ctx, "sess")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.SaveCSRFToken(ctx, "sess", "tok", time.Minute))
	got, err := s.GetCSRFToken(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
}

// ============================================================
// AuditPending Tests
// ============================================================

func TestAuditPending_AppendDrain(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := NewAuditPending(s)

	for i := 0; i < 3; i++ {
		n, err := p.Append(ctx, audit.Event{
			ID:       fmt.Sprintf("evt-%d", i),
			Type:     audit.EventLoginFailed,
			Severity: audit.SeverityMedium,
		})
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}

	n, err := p.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events, err := p.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-0", events[0].ID)
	assert.Equal(t, audit.SeverityMedium, events[0].Severity)

	events, err = p.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAuditPending_WithBuffer(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var written []audit.Event
	buf := audit.NewBuffer(audit.Config{
		Pending: NewAuditPending(s),
		Sink: audit.SinkFunc(func(_ context.Context, events []audit.Event) error {
			written = append(written, events...)
			return nil
		}),
		FlushInterval: time.Hour,
	})

	buf.Log(ctx, audit.Event{Type: audit.EventLoginSuccess})
	buf.Log(ctx, audit.Event{Type: audit.EventTokenReuse, Severity: audit.SeverityCritical})

	assert.Len(t, written, 2)
	require.NoError(t, buf.Stop(ctx))
}
