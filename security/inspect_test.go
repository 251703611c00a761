package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInspector_Detects(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		body     string
		category string
		source   string
	}{
		{"union select in query", "/api/projects?id=1%20UNION%20SELECT%20password%20FROM%20users", "", ThreatSQLInjection, "query"},
		{"quoted tautology in body", "/api/auth/login", `{"email":"x' OR '1'='1","password":"p"}`, ThreatSQLInjection, "body"},
		{"numeric tautology", "/api/search?q=a%20or%201=1", "", ThreatSQLInjection, "query"},
		{"stacked drop", "/api/admin/posts", `{"title":"a'; DROP TABLE posts; --"}`, ThreatSQLInjection, "body"},
		{"sleep", "/api/search?q=sleep(5)", "", ThreatSQLInjection, "query"},
		{"script tag", "/api/admin/posts", `{"content":"<script>alert(1)</script>"}`, ThreatXSS, "body"},
		{"javascript uri", "/api/admin/links?href=javascript:alert(1)", "", ThreatXSS, "query"},
		{"event handler", "/api/admin/posts", `{"content":"<b onmouseover=alert(1)>"}`, ThreatXSS, "body"},
		{"iframe", "/api/admin/posts", `<iframe src="https://evil.example">`, ThreatXSS, "body"},
		{"dot dot in path", "/static/../../etc/shadow", "", ThreatPathTraversal, "path"},
		{"encoded dot dot", "/api/files?name=%2e%2e%2fsecret", "", ThreatPathTraversal, "query"},
		{"passwd", "/api/files?name=/etc/passwd", "", ThreatPathTraversal, "query"},
	}

	in := NewInspector(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			r := httptest.NewRequest(http.MethodPost, tt.target, body)

			f, _, err := in.Inspect(r)
			if err != nil {
				t.Fatalf("Inspect() error = %v", err)
			}
			if f == nil {
				t.Fatal("expected a finding")
			}
			if f.Category != tt.category || f.Source != tt.source {
				t.Errorf("finding = %s, want %s in %s", f, tt.category, tt.source)
			}
		})
	}
}

func TestInspector_BenignRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"login", "/api/auth/login", `{"email":"owner@example.com","password":"correct horse battery staple"}`},
		{"apostrophe", "/api/admin/posts", `{"title":"Don't panic","content":"It's fine -- really"}`},
		{"colors", "/api/admin/theme", `{"primary":"#ff8800","accent":"#00aaff"}`},
		{"markdown", "/api/admin/posts", `{"content":"Use **bold** and [links](https://example.com)"}`},
		{"query", "/api/projects?tag=go&page=2", ""},
		{"relative words", "/api/search?q=select%20a%20theme", ""},
	}

	in := NewInspector(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			r := httptest.NewRequest(http.MethodPost, tt.target, body)
			f, _, err := in.Inspect(r)
			if err != nil {
				t.Fatalf("Inspect() error = %v", err)
			}
			if f != nil {
				t.Errorf("false positive: %s", f)
			}
		})
	}
}

func TestInspector_RestoresBody(t *testing.T) {
	payload := strings.Repeat("a", 100) + "tail"
	r := httptest.NewRequest(http.MethodPost, "/api/admin/posts", strings.NewReader(payload))

	in := NewInspector(16)
	_, prefix, err := in.Inspect(r)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if len(prefix) != 16 {
		t.Errorf("inspected %d bytes, want 16", len(prefix))
	}

	rest, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(rest) != payload {
		t.Error("body was not restored for the next handler")
	}
	if err := r.Body.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestInspector_BodyReadError(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/admin/posts", errReader{})
	if _, _, err := NewInspector(0).Inspect(r); err == nil {
		t.Error("read failures should be reported")
	}
}
