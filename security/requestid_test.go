package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidRequestID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"abc123", true},
		{"req_ID-123", true},
		{"6f1c2a0e-8d7b-4c1e-9f2a-3b4c5d6e7f80", true},
		{"", false},
		{"has space", false},
		{"crlf\r\ninjected", false},
		{"Root=1-abc", false},
		{strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		if got := ValidRequestID(tt.id); got != tt.valid {
			t.Errorf("ValidRequestID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("propagates valid upstream id", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(RequestIDHeader, "upstream-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if seen != "upstream-123" || w.Header().Get(RequestIDHeader) != "upstream-123" {
			t.Errorf("context id %q, header %q", seen, w.Header().Get(RequestIDHeader))
		}
	})

	t.Run("replaces invalid upstream id", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(RequestIDHeader, "bad id\r\nX-Evil: 1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		got := w.Header().Get(RequestIDHeader)
		if !ValidRequestID(got) || got != seen {
			t.Errorf("generated id %q (context %q)", got, seen)
		}
	})

	t.Run("generates unique ids", func(t *testing.T) {
		a, b := NewRequestID(), NewRequestID()
		if a == b {
			t.Error("ids should be unique")
		}
	})
}
