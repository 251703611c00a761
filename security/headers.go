package security

import (
	"net/http"
	"net/url"
)

// PermissionsPolicy disables browser features the admin API never needs
const PermissionsPolicy = "camera=(), microphone=(), geolocation=(), payment=(), usb=(), " +
	"magnetometer=(), gyroscope=(), accelerometer=(), interest-cohort=()"

// SetSecurityHeaders sets the fixed response headers. HSTS is only sent
// when publicURL is https.
func SetSecurityHeaders(w http.ResponseWriter, publicURL string) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", PermissionsPolicy)

	if parsed, err := url.Parse(publicURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// SetNoStore marks a response as uncacheable. Used for anything carrying tokens.
func SetNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
