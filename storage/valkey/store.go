package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "adminguard:"

	// idLogLength is the number of characters to include when logging identifiers
	idLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for identifiers (jti, family id, session id)
	MaxIDLength = 256
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "adminguard:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.Store
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
}

// Compile-time interface checks
var (
	_ storage.Store            = (*Store)(nil)
	_ storage.TokenFamilyStore = (*Store)(nil)
	_ storage.BlacklistStore   = (*Store)(nil)
	_ storage.CounterStore     = (*Store)(nil)
	_ storage.CSRFStore        = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return NewWithClient(client, prefix, logger), nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of
// connection setup; Close still closes the client.
func NewWithClient(client valkeygo.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// Client exposes the underlying client so other components (such as
// AuditPending) can share the connection pool.
func (s *Store) Client() valkeygo.Client {
	return s.client
}

// Prefix returns the key prefix used by the store
func (s *Store) Prefix() string {
	return s.prefix
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables storage operation metrics
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// ============================================================
// Key Helpers
// ============================================================

// familyKey returns the key for a token family: {prefix}family:{familyID}
func (s *Store) familyKey(familyID string) string {
	return fmt.Sprintf("%sfamily:%s", s.prefix, familyID)
}

// blacklistKey returns the key for a revoked jti: {prefix}blacklist:{jti}
func (s *Store) blacklistKey(jti string) string {
	return fmt.Sprintf("%sblacklist:%s", s.prefix, jti)
}

// counterKey returns the key for a rate-limit counter: {prefix}ratelimit:{key}
func (s *Store) counterKey(key string) string {
	return fmt.Sprintf("%sratelimit:%s", s.prefix, key)
}

// csrfKey returns the key for a session's CSRF token: {prefix}csrf:{sessionID}
func (s *Store) csrfKey(sessionID string) string {
	return fmt.Sprintf("%scsrf:%s", s.prefix, sessionID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaCreateFamily writes a family hash and its expiry in one step.
//
// KEYS[1] = family key
// ARGV[1] = user id
// ARGV[2] = current token id
// ARGV[3] = current refresh jti
// ARGV[4] = current access jti
// ARGV[5] = generation
// ARGV[6] = created at (unix ms)
// ARGV[7] = ttl in milliseconds
const luaCreateFamily = `
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
    'userId', ARGV[1],
    'currentTokenId', ARGV[2],
    'currentJti', ARGV[3],
    'accessJti', ARGV[4],
    'generation', ARGV[5],
    'createdAt', ARGV[6],
    'updatedAt', ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
return 'OK'
`

// luaRotateFamily swaps the current token of a family if and only if the
// presented token id is still current.
//
// Security: only ONE concurrent rotation for a given token id can succeed.
//
// KEYS[1] = family key
// ARGV[1] = presented (old) token id
// ARGV[2] = new token id
// ARGV[3] = new refresh jti
// ARGV[4] = new access jti
// ARGV[5] = updated at (unix ms)
// ARGV[6] = ttl in milliseconds
//
// Returns:
//   - "OK" on success
//   - "NOT_FOUND" if the family does not exist (revoked or expired)
//   - "REUSE" if the presented token id is not the current one
const luaRotateFamily = `
local current = redis.call('HGET', KEYS[1], 'currentTokenId')
if not current then
    return 'NOT_FOUND'
end
if current ~= ARGV[1] then
    return 'REUSE'
end
redis.call('HSET', KEYS[1],
    'currentTokenId', ARGV[2],
    'currentJti', ARGV[3],
    'accessJti', ARGV[4],
    'updatedAt', ARGV[5])
redis.call('HINCRBY', KEYS[1], 'generation', 1)
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 'OK'
`

// luaIncrementWindow implements a fixed window counter. The expiry is set
// on the first hit only so later hits never extend the window.
//
// KEYS[1] = counter key
// ARGV[1] = window in milliseconds
//
// Returns {count, pttl}
const luaIncrementWindow = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// luaDrainList returns every element of a list and deletes it in one step.
//
// KEYS[1] = list key
const luaDrainList = `
local items = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return items
`

// ============================================================
// Helper methods
// ============================================================

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds maximum length of %d bytes", errInputTooLarge, fieldName, maxLen)
	}
	return nil
}

// millis renders a duration as an integer millisecond argument
func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// unixMillis renders a time as an integer millisecond argument
func unixMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *Store) recordOperation(ctx context.Context, operation string, err error, start time.Time) {
	if s.instrumentation == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result,
		float64(time.Since(start).Microseconds())/1000)
}
