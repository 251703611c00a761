package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFamilyNotFound is returned when a token family does not exist or has expired.
	// A missing family means the session was revoked.
	ErrFamilyNotFound = errors.New("token family not found")

	// ErrReuseDetected is returned by RotateFamily when the presented token id
	// is not the family's current token id.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrNotFound is returned for missing CSRF tokens and similar lookups.
	ErrNotFound = errors.New("not found")
)

// TokenFamily is the server-side record of one login session.
// Every refresh token issued for the session shares FamilyID; only the token
// whose id equals CurrentTokenID may be exchanged.
type TokenFamily struct {
	FamilyID       string    `json:"familyId"`
	UserID         string    `json:"userId"`
	CurrentTokenID string    `json:"currentTokenId"`
	CurrentJTI     string    `json:"currentJti"` // jti of the live refresh token
	AccessJTI      string    `json:"accessJti"`  // jti of the access token issued with it
	Generation     int       `json:"generation"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FamilyRotation describes the token pair that replaces the current one
type FamilyRotation struct {
	TokenID    string
	RefreshJTI string
	AccessJTI  string
}

// TokenFamilyStore persists token families.
// All methods accept context.Context for tracing and cancellation.
type TokenFamilyStore interface {
	// CreateFamily stores a new family at generation 1 with the given TTL
	CreateFamily(ctx context.Context, family *TokenFamily, ttl time.Duration) error

	// GetFamily returns ErrFamilyNotFound when the family is missing or expired
	GetFamily(ctx context.Context, familyID string) (*TokenFamily, error)

	// RotateFamily atomically replaces the current token of a family if and
	// only if its CurrentTokenID equals oldTokenID, then renews the TTL.
	// Returns ErrFamilyNotFound or ErrReuseDetected otherwise.
	// SECURITY: This operation MUST be a single compare-and-swap.
	RotateFamily(ctx context.Context, familyID, oldTokenID string, next FamilyRotation, ttl time.Duration) error

	// InvalidateFamily deletes a family. Deleting a missing family is not an error.
	InvalidateFamily(ctx context.Context, familyID string) error
}

// BlacklistStore records revoked token ids until their natural expiry
type BlacklistStore interface {
	// Blacklist is idempotent; the entry disappears after ttl
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error

	// IsBlacklisted reports whether jti has been revoked
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// CounterStore backs fixed-window rate limiting
type CounterStore interface {
	// Increment atomically increments the counter for key. The first increment
	// in a window sets the expiry to window; later increments never extend it.
	// Returns the new count and the time left until the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)

	// ResetCounter deletes the counter for key
	ResetCounter(ctx context.Context, key string) error
}

// CSRFStore keeps the CSRF token issued to each session
type CSRFStore interface {
	SaveCSRFToken(ctx context.Context, sessionID, token string, ttl time.Duration) error

	// GetCSRFToken returns ErrNotFound when no token exists for the session
	GetCSRFToken(ctx context.Context, sessionID string) (string, error)
}

// Store combines every storage interface. Both memory and valkey implement it.
type Store interface {
	TokenFamilyStore
	BlacklistStore
	CounterStore
	CSRFStore
}
