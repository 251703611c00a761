package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity ranks an audit event
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

// String returns the upper-case name stored in the audit log
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseSeverity is the inverse of String
func ParseSeverity(name string) (Severity, error) {
	for sev, n := range severityNames {
		if n == name {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// MarshalJSON encodes the severity by name
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Event is one audit record
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	ActorID   string         `json:"actorId,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Event types.
const (
	// Authentication
	EventLoginSuccess      = "LOGIN_SUCCESS"
	EventLoginFailed       = "LOGIN_FAILED"
	EventLoginRateLimited  = "LOGIN_RATE_LIMITED"
	EventLogout            = "LOGOUT"
	EventTokenRefreshed    = "TOKEN_REFRESHED"
	EventTokenRefreshFail  = "TOKEN_REFRESH_FAILED"
	EventTokenReuse        = "TOKEN_REUSE_DETECTED"
	EventRevokedTokenUsed  = "REVOKED_TOKEN_USED"
	EventFamilyInvalidated = "TOKEN_FAMILY_INVALIDATED"

	// Request security
	EventRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	EventSuspiciousRequest  = "SUSPICIOUS_REQUEST"
	EventCSRFValidationFail = "CSRF_VALIDATION_FAILED"
	EventSystemError        = "SYSTEM_ERROR"
)
