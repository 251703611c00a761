package valkey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/folio-works/adminguard/storage"
)

// ============================================================
// BlacklistStore Implementation
// ============================================================

// Blacklist records jti as revoked until ttl elapses
func (s *Store) Blacklist(ctx context.Context, jti string, ttl time.Duration) (err error) {
	start := time.Now()
	defer func() { s.recordOperation(ctx, "blacklist", err, start) }()

	if jti == "" {
		return fmt.Errorf("jti cannot be empty")
	}
	if err := validateStringLength(jti, MaxIDLength, "jti"); err != nil {
		return err
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	// GT keeps the longer expiry when a jti is blacklisted twice
	key := s.blacklistKey(jti)
	value := strconv.FormatInt(time.Now().Unix(), 10)
	cmds := valkeygo.Commands{
		s.client.B().Set().Key(key).Value(value).Nx().Ex(ttl).Build(),
		s.client.B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Gt().Build(),
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil && !isNilError(err) {
			return fmt.Errorf("failed to blacklist token: %w", err)
		}
	}
	return nil
}

// IsBlacklisted reports whether jti is revoked
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (revoked bool, err error) {
	start := time.Now()
	defer func() { s.recordOperation(ctx, "is_blacklisted", err, start) }()

	n, err := s.client.Do(ctx, s.client.B().Exists().Key(s.blacklistKey(jti)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

// ============================================================
// CounterStore Implementation
// ============================================================

// Increment implements a fixed window counter using a Lua script
func (s *Store) Increment(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error) {
	start := time.Now()
	defer func() { s.recordOperation(ctx, "increment", err, start) }()

	if window <= 0 {
		return 0, 0, fmt.Errorf("window must be positive")
	}

	values, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaIncrementWindow).
			Numkeys(1).
			Key(s.counterKey(key)).
			Arg(millis(window)).
			Build(),
	).AsIntSlice()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected counter reply length %d", len(values))
	}

	return values[0], time.Duration(values[1]) * time.Millisecond, nil
}

// ResetCounter deletes the counter for key
func (s *Store) ResetCounter(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { s.recordOperation(ctx, "reset_counter", err, start) }()

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.counterKey(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

// ============================================================
// CSRFStore Implementation
// ============================================================

// SaveCSRFToken stores the CSRF token issued to a session
func (s *Store) SaveCSRFToken(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	if sessionID == "" || token == "" {
		return fmt.Errorf("session id and token cannot be empty")
	}
	if err := validateStringLength(sessionID, MaxIDLength, "session id"); err != nil {
		return err
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.csrfKey(sessionID)).Value(token).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save csrf token: %w", err)
	}
	return nil
}

// GetCSRFToken returns the CSRF token issued to a session
func (s *Store) GetCSRFToken(ctx context.Context, sessionID string) (string, error) {
	token, err := s.client.Do(ctx, s.client.B().Get().Key(s.csrfKey(sessionID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("failed to get csrf token: %w", err)
	}
	return token, nil
}
