package token

import (
	"errors"
	"testing"
	"time"
)

var (
	testAccessSecret  = []byte("access-secret-0123456789abcdefghijkl")
	testRefreshSecret = []byte("refresh-secret-0123456789abcdefghijk")
)

func newTestCodec(t *testing.T, mutate func(*Config)) (*Codec, *time.Time) {
	t.Helper()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	cfg := Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Issuer:        "portfolio",
		Audience:      "portfolio-admin",
		Clock:         func() time.Time { return now },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewCodec(cfg)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c, &now
}

var admin = User{ID: "admin", Email: "owner@example.com", Role: "admin"}

func TestNewCodec_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"short access secret", Config{AccessSecret: []byte("short"), RefreshSecret: testRefreshSecret}},
		{"short refresh secret", Config{AccessSecret: testAccessSecret, RefreshSecret: []byte("short")}},
		{"same secrets", Config{AccessSecret: testAccessSecret, RefreshSecret: testAccessSecret}},
		{"unknown algorithm", Config{AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret, Algorithm: "RS256"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCodec(tt.cfg); err == nil {
				t.Error("NewCodec() should fail")
			}
		})
	}
}

func TestNewCodec_Defaults(t *testing.T) {
	c, err := NewCodec(Config{AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	if c.AccessTTL() != DefaultAccessTTL {
		t.Errorf("AccessTTL() = %v, want %v", c.AccessTTL(), DefaultAccessTTL)
	}
	if c.RefreshTTL() != DefaultRefreshTTL {
		t.Errorf("RefreshTTL() = %v, want %v", c.RefreshTTL(), DefaultRefreshTTL)
	}
	if c.issuer != DefaultIssuer {
		t.Errorf("issuer = %q, want %q", c.issuer, DefaultIssuer)
	}
}

func TestAccessRoundTrip(t *testing.T) {
	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		t.Run(alg, func(t *testing.T) {
			c, now := newTestCodec(t, func(cfg *Config) { cfg.Algorithm = alg })

			signed, issued, err := c.SignAccess(admin)
			if err != nil {
				t.Fatalf("SignAccess() error = %v", err)
			}
			if issued.ID == "" {
				t.Error("jti should be set")
			}
			if !issued.ExpiresAt.Equal(now.Add(DefaultAccessTTL)) {
				t.Errorf("exp = %v, want %v", issued.ExpiresAt, now.Add(DefaultAccessTTL))
			}

			claims, err := c.VerifyAccess(signed)
			if err != nil {
				t.Fatalf("VerifyAccess() error = %v", err)
			}
			if claims.User() != admin {
				t.Errorf("User() = %+v, want %+v", claims.User(), admin)
			}
			if claims.ID != issued.ID {
				t.Errorf("jti = %q, want %q", claims.ID, issued.ID)
			}
		})
	}
}

func TestRefreshRoundTrip(t *testing.T) {
	c, _ := newTestCodec(t, nil)

	signed, issued, err := c.SignRefresh(admin.ID, "")
	if err != nil {
		t.Fatalf("SignRefresh() error = %v", err)
	}
	if issued.FamilyID == "" || issued.TokenID == "" || issued.ID == "" {
		t.Fatalf("new refresh token missing ids: %+v", issued)
	}

	claims, err := c.VerifyRefresh(signed)
	if err != nil {
		t.Fatalf("VerifyRefresh() error = %v", err)
	}
	if claims.FamilyID != issued.FamilyID || claims.TokenID != issued.TokenID {
		t.Errorf("claims = %+v, want family %s token %s", claims, issued.FamilyID, issued.TokenID)
	}

	_, next, err := c.SignRefresh(admin.ID, issued.FamilyID)
	if err != nil {
		t.Fatalf("SignRefresh() error = %v", err)
	}
	if next.FamilyID != issued.FamilyID {
		t.Error("rotation should keep the family id")
	}
	if next.TokenID == issued.TokenID || next.ID == issued.ID {
		t.Error("rotation should issue fresh token id and jti")
	}
}

func TestVerify_Expired(t *testing.T) {
	c, now := newTestCodec(t, nil)

	access, _, _ := c.SignAccess(admin)
	refresh, _, _ := c.SignRefresh(admin.ID, "")

	*now = now.Add(DefaultAccessTTL + time.Second)
	if _, err := c.VerifyAccess(access); !errors.Is(err, ErrExpired) {
		t.Errorf("VerifyAccess() error = %v, want ErrExpired", err)
	}
	if _, err := c.VerifyRefresh(refresh); err != nil {
		t.Errorf("refresh token should still be valid, got %v", err)
	}

	*now = now.Add(DefaultRefreshTTL)
	if _, err := c.VerifyRefresh(refresh); !errors.Is(err, ErrExpired) {
		t.Errorf("VerifyRefresh() error = %v, want ErrExpired", err)
	}
}

func TestVerify_Leeway(t *testing.T) {
	c, now := newTestCodec(t, func(cfg *Config) { cfg.Leeway = 30 * time.Second })

	access, _, _ := c.SignAccess(admin)
	*now = now.Add(DefaultAccessTTL + 10*time.Second)
	if _, err := c.VerifyAccess(access); err != nil {
		t.Errorf("token within leeway rejected: %v", err)
	}
}

func TestVerify_SignatureInvalid(t *testing.T) {
	c, _ := newTestCodec(t, nil)
	other, _ := newTestCodec(t, func(cfg *Config) {
		cfg.AccessSecret = []byte("another-access-secret-0123456789abc")
		cfg.RefreshSecret = []byte("another-refresh-secret-0123456789ab")
	})

	access, _, _ := other.SignAccess(admin)
	if _, err := c.VerifyAccess(access); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("VerifyAccess() error = %v, want ErrSignatureInvalid", err)
	}

	refresh, _, _ := other.SignRefresh(admin.ID, "")
	if _, err := c.VerifyRefresh(refresh); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("VerifyRefresh() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerify_WrongType(t *testing.T) {
	c, _ := newTestCodec(t, nil)

	access, _, _ := c.SignAccess(admin)
	refresh, _, _ := c.SignRefresh(admin.ID, "")

	if _, err := c.VerifyAccess(refresh); !errors.Is(err, ErrMalformed) {
		t.Errorf("refresh as access: error = %v, want ErrMalformed", err)
	}
	if _, err := c.VerifyRefresh(access); !errors.Is(err, ErrMalformed) {
		t.Errorf("access as refresh: error = %v, want ErrMalformed", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	c, _ := newTestCodec(t, nil)
	otherIssuer, _ := newTestCodec(t, func(cfg *Config) { cfg.Issuer = "someone-else" })
	otherAudience, _ := newTestCodec(t, func(cfg *Config) { cfg.Audience = "public" })

	foreignIss, _, _ := otherIssuer.SignAccess(admin)
	foreignAud, _, _ := otherAudience.SignAccess(admin)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"two segments", "a.b"},
		{"wrong issuer", foreignIss},
		{"wrong audience", foreignAud},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.VerifyAccess(tt.token); !errors.Is(err, ErrMalformed) {
				t.Errorf("VerifyAccess() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestVerify_NoneAlgorithmRejected(t *testing.T) {
	c, _ := newTestCodec(t, nil)

	// {"alg":"none","typ":"JWT"}.{"userId":"admin","typ":"access"}.
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1c2VySWQiOiJhZG1pbiIsInR5cCI6ImFjY2VzcyJ9."
	_, err := c.VerifyAccess(unsigned)
	if err == nil {
		t.Fatal("unsigned token accepted")
	}
	if errors.Is(err, ErrExpired) {
		t.Errorf("unexpected error kind: %v", err)
	}
}

func TestSign_RequiresUserID(t *testing.T) {
	c, _ := newTestCodec(t, nil)

	if _, _, err := c.SignAccess(User{}); err == nil {
		t.Error("SignAccess() without user id should fail")
	}
	if _, _, err := c.SignRefresh("", ""); err == nil {
		t.Error("SignRefresh() without user id should fail")
	}
}
