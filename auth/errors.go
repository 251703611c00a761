package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/folio-works/adminguard/security"
)

// Kind classifies an authentication failure
type Kind int

const (
	// KindRateLimited is recoverable after RetryAfter
	KindRateLimited Kind = iota + 1
	KindInvalidCredentials
	KindInvalidToken
	KindExpired
	KindRevoked
	// KindReplayDetected means a superseded refresh token was presented and
	// the whole session family was revoked
	KindReplayDetected
	KindMalformedRequest
	KindSystem
)

var kindNames = map[Kind]string{
	KindRateLimited:        "rate_limited",
	KindInvalidCredentials: "invalid_credentials",
	KindInvalidToken:       "invalid_token",
	KindExpired:            "token_expired",
	KindRevoked:            "token_revoked",
	KindReplayDetected:     "token_reuse_detected",
	KindMalformedRequest:   "malformed_request",
	KindSystem:             "server_error",
}

// public messages never say which part of a credential was wrong
var kindMessages = map[Kind]string{
	KindRateLimited:        "Too many requests, please try again later",
	KindInvalidCredentials: "Invalid credentials",
	KindInvalidToken:       "Invalid or missing token",
	KindExpired:            "Token expired",
	KindRevoked:            "Session is no longer valid",
	KindReplayDetected:     "Session is no longer valid",
	KindMalformedRequest:   "Request rejected",
	KindSystem:             "Request could not be processed",
}

// String returns the machine-readable error code
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// PublicMessage is safe to show to clients
func (k Kind) PublicMessage() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[KindSystem]
}

// Error is returned by every Service operation
type Error struct {
	Kind Kind

	// RetryAfter is set for KindRateLimited
	RetryAfter time.Duration

	// RateLimit carries the limiter decision for KindRateLimited
	RateLimit *security.Decision

	// Err is the internal cause. Never shown to clients.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrRevoked) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrExpired            = &Error{Kind: KindExpired}
	ErrRevoked            = &Error{Kind: KindRevoked}
	ErrReplayDetected     = &Error{Kind: KindReplayDetected}
	ErrMalformedRequest   = &Error{Kind: KindMalformedRequest}
	ErrSystem             = &Error{Kind: KindSystem}
)

// KindOf returns the kind of err. Errors that did not come from this
// package are KindSystem.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindSystem
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func rateLimited(d security.Decision) *Error {
	return &Error{
		Kind:       KindRateLimited,
		RetryAfter: d.RetryAfter,
		RateLimit:  &d,
	}
}
