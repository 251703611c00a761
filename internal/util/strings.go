package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SafeTruncate returns at most the first maxLen bytes of s.
// A negative maxLen yields the empty string.
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// MaskEmail keeps the first character of the local part and the domain.
//
//	MaskEmail("admin@example.com") // "a***@example.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// HashForLogging returns a short, stable, non-reversible fingerprint of a
// sensitive value so log lines can be correlated without exposing it.
func HashForLogging(value string) string {
	if value == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
