package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/folio-works/adminguard/storage/mock"
)

func newTestCSRF(t *testing.T) (*CSRF, *mock.Store) {
	t.Helper()
	store := mock.New()
	t.Cleanup(store.Stop)
	return NewCSRF(CSRFConfig{Store: store, Secure: true}), store
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRF_EnsureSession(t *testing.T) {
	c, _ := newTestCSRF(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	id := c.EnsureSession(w, r)
	if id == "" {
		t.Fatal("session id not minted")
	}
	cookie := findCookie(w, SessionCookie)
	if cookie == nil || cookie.Value != id || !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("session cookie = %+v", cookie)
	}

	// existing cookie is reused
	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodPost, "/api/admin/posts", nil)
	r2.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
	if got := c.EnsureSession(w2, r2); got != id {
		t.Errorf("EnsureSession() = %q, want %q", got, id)
	}
	if findCookie(w2, SessionCookie) != nil {
		t.Error("cookie should not be reset for an existing session")
	}

	// forged short value is ignored
	r3 := httptest.NewRequest(http.MethodPost, "/api/admin/posts", nil)
	r3.AddCookie(&http.Cookie{Name: SessionCookie, Value: "short"})
	if c.SessionID(r3) != "" {
		t.Error("malformed session cookie accepted")
	}
}

func TestCSRF_IssueAndValidate(t *testing.T) {
	c, _ := newTestCSRF(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	sid := c.EnsureSession(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	token, err := c.Issue(ctx, w, sid)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if w.Header().Get(CSRFHeader) != token {
		t.Error("token missing from response header")
	}
	cookie := findCookie(w, CSRFCookie)
	if cookie == nil || cookie.Value != token || cookie.HttpOnly {
		t.Fatalf("csrf cookie = %+v, want script-readable cookie with token", cookie)
	}

	again, err := c.Issue(ctx, httptest.NewRecorder(), sid)
	if err != nil || again != token {
		t.Errorf("second Issue() = %q, %v; want the same token", again, err)
	}

	r := httptest.NewRequest(http.MethodDelete, "/api/admin/posts/1", nil)
	r.Header.Set(CSRFHeader, token)
	if err := c.Validate(ctx, r, sid); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestCSRF_ValidateFailures(t *testing.T) {
	c, _ := newTestCSRF(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	sid := c.EnsureSession(w, httptest.NewRequest(http.MethodPost, "/", nil))
	if _, err := c.Issue(ctx, w, sid); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name    string
		header  string
		session string
		want    error
	}{
		{"no header", "", sid, ErrCSRFMissing},
		{"no session", "anything", "", ErrCSRFMissing},
		{"unknown session", "anything", "unknown-session", ErrCSRFMissing},
		{"wrong token", "wrong-token", sid, ErrCSRFMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/admin/posts", nil)
			if tt.header != "" {
				r.Header.Set(CSRFHeader, tt.header)
			}
			if err := c.Validate(ctx, r, tt.session); !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCSRF_StoreErrors(t *testing.T) {
	c, store := newTestCSRF(t)
	store.FailAll(errors.New("store down"))

	if _, err := c.Issue(context.Background(), httptest.NewRecorder(), "sid"); err == nil {
		t.Error("Issue() should fail when the store fails")
	}

	r := httptest.NewRequest(http.MethodPost, "/api/admin/posts", nil)
	r.Header.Set(CSRFHeader, "token")
	err := c.Validate(context.Background(), r, "sid")
	if err == nil || errors.Is(err, ErrCSRFMismatch) || errors.Is(err, ErrCSRFMissing) {
		t.Errorf("Validate() error = %v, want a store error", err)
	}
}
