package security

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordVerifier_Bcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret-passphrase", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	v, err := NewPasswordVerifier(hash, "ignored-plaintext", true)
	if err != nil {
		t.Fatalf("NewPasswordVerifier() error = %v", err)
	}
	if v.UsesPlaintext() {
		t.Error("hash should take precedence over plaintext")
	}
	if !v.Verify("s3cret-passphrase") {
		t.Error("correct password rejected")
	}
	if v.Verify("ignored-plaintext") || v.Verify("") {
		t.Error("wrong password accepted")
	}
}

func TestPasswordVerifier_Plaintext(t *testing.T) {
	v, err := NewPasswordVerifier("", "dev-password", true)
	if err != nil {
		t.Fatalf("NewPasswordVerifier() error = %v", err)
	}
	if !v.UsesPlaintext() {
		t.Error("plaintext fallback should be active")
	}
	if !v.Verify("dev-password") || v.Verify("dev-passwor") {
		t.Error("plaintext comparison wrong")
	}
}

func TestPasswordVerifier_Errors(t *testing.T) {
	if _, err := NewPasswordVerifier("", "dev-password", false); !errors.Is(err, ErrNoPasswordConfigured) {
		t.Errorf("plaintext without permission: error = %v", err)
	}
	if _, err := NewPasswordVerifier("", "", true); !errors.Is(err, ErrNoPasswordConfigured) {
		t.Errorf("nothing configured: error = %v", err)
	}
	if _, err := NewPasswordVerifier("not-a-bcrypt-hash", "", false); err == nil {
		t.Error("invalid hash accepted")
	}
	if _, err := HashPassword("", 0); err == nil {
		t.Error("empty password hashed")
	}
}
