// Package token signs and verifies the HMAC JWTs used for admin sessions.
//
// Access tokens are short-lived and carry the admin identity. Refresh
// tokens carry a family id and a per-rotation token id; the family record
// in storage decides whether a refresh token is still the live one. The two
// kinds use different secrets and a "typ" claim, so one can never be
// accepted in place of the other.
package token
