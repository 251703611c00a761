package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoPasswordConfigured is returned when neither a hash nor an allowed
// plaintext password is set
var ErrNoPasswordConfigured = errors.New("no admin password configured")

// PasswordVerifier checks the admin password
type PasswordVerifier struct {
	hash      []byte
	plaintext [sha256.Size]byte
	usePlain  bool
}

// NewPasswordVerifier prefers the bcrypt hash. The plaintext password is
// only used when there is no hash and allowPlaintext is true; deciding
// allowPlaintext is the caller's job.
func NewPasswordVerifier(hash, plaintext string, allowPlaintext bool) (*PasswordVerifier, error) {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash: %w", err)
		}
		return &PasswordVerifier{hash: []byte(hash)}, nil
	}
	if plaintext != "" && allowPlaintext {
		return &PasswordVerifier{plaintext: sha256.Sum256([]byte(plaintext)), usePlain: true}, nil
	}
	return nil, ErrNoPasswordConfigured
}

// UsesPlaintext reports whether the plaintext fallback is active
func (v *PasswordVerifier) UsesPlaintext() bool { return v.usePlain }

// Verify reports whether password matches
func (v *PasswordVerifier) Verify(password string) bool {
	if v.usePlain {
		sum := sha256.Sum256([]byte(password))
		return subtle.ConstantTimeCompare(sum[:], v.plaintext[:]) == 1
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(password)) == nil
}

// HashPassword returns a bcrypt hash of password. cost 0 selects bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
