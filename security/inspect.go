package security

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
)

// Threat categories reported by Inspector.
const (
	ThreatSQLInjection  = "sql_injection"
	ThreatXSS           = "xss"
	ThreatPathTraversal = "path_traversal"
)

// DefaultMaxInspectBytes is how much of a body Inspector reads
const DefaultMaxInspectBytes = 64 << 10

type signature struct {
	category string
	name     string
	re       *regexp.Regexp
}

var signatures = []signature{
	{ThreatSQLInjection, "union_select", regexp.MustCompile(`(?i)\bunion\b(\s+all)?\s+select\b`)},
	{ThreatSQLInjection, "tautology", regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`)},
	{ThreatSQLInjection, "numeric_tautology", regexp.MustCompile(`(?i)\b(or|and)\s+\d+\s*=\s*\d+`)},
	{ThreatSQLInjection, "stacked_query", regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update|exec)\s`)},
	{ThreatSQLInjection, "comment_terminator", regexp.MustCompile(`'\s*(--|#|/\*)`)},
	{ThreatSQLInjection, "time_based", regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep|waitfor\s+delay)\s*[\('"]`)},

	{ThreatXSS, "script_tag", regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
	{ThreatXSS, "javascript_uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{ThreatXSS, "event_handler", regexp.MustCompile(`(?i)\bon(error|load|click|mouseover|focus|blur|submit)\s*=`)},
	{ThreatXSS, "embedded_frame", regexp.MustCompile(`(?i)<\s*(iframe|object|embed|svg)\b[^>]*>`)},

	{ThreatPathTraversal, "dot_dot", regexp.MustCompile(`\.\.[/\\]`)},
	{ThreatPathTraversal, "encoded_dot_dot", regexp.MustCompile(`(?i)%2e%2e(%2f|%5c|/|\\)`)},
	{ThreatPathTraversal, "system_file", regexp.MustCompile(`(?i)(/etc/(passwd|shadow)|\\windows\\system32)`)},
}

// Finding describes the first signature a request matched
type Finding struct {
	Category string
	Rule     string
	Source   string // "path", "query" or "body"
}

func (f *Finding) String() string {
	return fmt.Sprintf("%s/%s in %s", f.Category, f.Rule, f.Source)
}

// Inspector matches request paths, queries and bodies against known attack
// signatures. It is a coarse filter in front of proper input handling.
type Inspector struct {
	maxBytes int64
}

// NewInspector creates an Inspector reading at most maxBytes of each body.
// maxBytes <= 0 selects DefaultMaxInspectBytes.
func NewInspector(maxBytes int64) *Inspector {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxInspectBytes
	}
	return &Inspector{maxBytes: maxBytes}
}

// Inspect returns the first match, or nil. The inspected prefix of the body
// is put back so the next handler reads the full body.
func (in *Inspector) Inspect(r *http.Request) (*Finding, []byte, error) {
	if f := match(r.URL.Path, "path"); f != nil {
		return f, nil, nil
	}

	if raw := r.URL.RawQuery; raw != "" {
		if f := match(raw, "query"); f != nil {
			return f, nil, nil
		}
		if decoded, err := url.QueryUnescape(raw); err == nil && decoded != raw {
			if f := match(decoded, "query"); f != nil {
				return f, nil, nil
			}
		}
	}

	body, err := in.peekBody(r)
	if err != nil {
		return nil, nil, err
	}
	if len(body) > 0 {
		if f := match(string(body), "body"); f != nil {
			return f, body, nil
		}
	}
	return nil, body, nil
}

func (in *Inspector) peekBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	prefix, err := io.ReadAll(io.LimitReader(r.Body, in.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	r.Body = &replayBody{
		Reader: io.MultiReader(bytes.NewReader(prefix), r.Body),
		Closer: r.Body,
	}
	return prefix, nil
}

type replayBody struct {
	io.Reader
	io.Closer
}

func match(s, source string) *Finding {
	for _, sig := range signatures {
		if sig.re.MatchString(s) {
			return &Finding{Category: sig.category, Rule: sig.name, Source: source}
		}
	}
	return nil
}
