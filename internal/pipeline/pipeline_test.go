package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/config"
	"github.com/repovet/repovet/internal/forge"
	"github.com/repovet/repovet/internal/score"
)

// fileJSON renders a contents-API response body for a small text file.
func fileJSON(content string) string {
	return `{"type": "file", "encoding": "base64", "size": ` + strconv.Itoa(len(content)) +
		`, "content": "` + base64.StdEncoding.EncodeToString([]byte(content)) + `"}`
}

// healthyForge serves complete responses for every snapshot endpoint of
// acme/widget. Tests override or delete entries to simulate outages.
func healthyForge() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/repos/acme/widget": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"full_name": "acme/widget",
				"description": "a widget assembly toolkit with a reasonably detailed description",
				"stargazers_count": 320,
				"forks_count": 12,
				"archived": false,
				"default_branch": "main",
				"created_at": "2021-06-01T00:00:00Z",
				"pushed_at": "2026-08-20T00:00:00Z",
				"license": {"key": "mit", "name": "MIT License"}
			}`))
		},
		"/repos/acme/widget/contents/": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[
				{"name": "README.md", "path": "README.md", "type": "file", "size": 420},
				{"name": "LICENSE", "path": "LICENSE", "type": "file", "size": 1100},
				{"name": "package.json", "path": "package.json", "type": "file", "size": 300},
				{"name": "package-lock.json", "path": "package-lock.json", "type": "file", "size": 9000},
				{"name": "index.js", "path": "index.js", "type": "file", "size": 64}
			]`))
		},
		"/repos/acme/widget/commits": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[
				{"sha": "aaa111", "commit": {"author": {"date": "2026-08-19T10:00:00Z"}, "message": "tighten input validation"}},
				{"sha": "bbb222", "commit": {"author": {"date": "2026-07-02T10:00:00Z"}, "message": "add retry to fetcher"}}
			]`))
		},
		"/repos/acme/widget/contributors": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"login": "alice", "contributions": 40}, {"login": "bob", "contributions": 7}]`))
		},
		"/users/acme": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"login": "acme", "type": "Organization", "created_at": "2018-02-01T00:00:00Z", "public_repos": 25, "followers": 90}`))
		},
		"/repos/acme/widget/readme": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html><body><article><h1>widget</h1><p>Widget assembles components into runnable bundles and ships with usage examples, an install guide, and API documentation spread over several paragraphs.</p></article></body></html>`))
		},
	}
}

// newScanner builds a Scanner against an httptest forge. mutate, when set,
// adjusts the config before construction.
func newScanner(t *testing.T, handlers map[string]http.HandlerFunc, log *audit.Logger, mutate func(*config.Config)) *Scanner {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range handlers {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.Forge.BaseURL = srv.URL
	cfg.Forge.RequestsPerSec = 1000 // keep the limiter out of the way
	if mutate != nil {
		mutate(cfg)
	}
	if log == nil {
		log = audit.NewNop()
	}
	return New(cfg, "test", log)
}

func TestScanCompleteRepository(t *testing.T) {
	var logbuf bytes.Buffer
	s := newScanner(t, healthyForge(), audit.NewWriter(&logbuf), nil)

	out, err := s.Scan(context.Background(), "scan-123", "https://github.com/acme/widget")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if out.Snapshot == nil || out.Snapshot.Ref.String() != "acme/widget" {
		t.Fatalf("snapshot ref wrong: %+v", out.Snapshot)
	}
	if len(out.Degraded) != 0 {
		t.Errorf("degraded = %v, want none", out.Degraded)
	}
	if out.Duration <= 0 {
		t.Error("duration not measured")
	}

	r := out.Result
	for name, v := range map[string]int{
		"safety":     r.SafetyScore,
		"legitimacy": r.LegitimacyScore,
		"overall":    r.OverallScore,
		"confidence": r.Confidence,
	} {
		if v < 0 || v > 100 {
			t.Errorf("%s score %d out of range", name, v)
		}
	}
	if r.Summary.TotalCount != len(r.Vulnerabilities) {
		t.Errorf("summary total %d != %d findings", r.Summary.TotalCount, len(r.Vulnerabilities))
	}

	logs := logbuf.String()
	for _, want := range []string{`"event":"scan_started"`, `"event":"scan_completed"`, `"scan_id":"scan-123"`} {
		if !strings.Contains(logs, want) {
			t.Errorf("audit log missing %s:\n%s", want, logs)
		}
	}
}

func TestScanInvalidURL(t *testing.T) {
	s := newScanner(t, healthyForge(), nil, nil)

	for _, raw := range []string{
		"",
		"not a url",
		"https://gitlab.com/acme/widget",
		"https://github.com/acme",
		"ftp://github.com/acme/widget",
	} {
		t.Run(raw, func(t *testing.T) {
			out, err := s.Scan(context.Background(), "", raw)
			if out != nil {
				t.Fatalf("invalid URL produced an outcome: %+v", out)
			}
			if !errors.Is(err, forge.ErrInvalidRepoURL) {
				t.Errorf("error = %v, want ErrInvalidRepoURL", err)
			}
			if got := Category(err); got != CategoryInvalidInput {
				t.Errorf("category = %q, want %q", got, CategoryInvalidInput)
			}
		})
	}
}

func TestScanRepoNotFound(t *testing.T) {
	mux := map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
	}
	s := newScanner(t, mux, nil, nil)

	_, err := s.Scan(context.Background(), "scan-404", "https://github.com/nobody/nothing")
	if !errors.Is(err, forge.ErrRepoNotFound) {
		t.Fatalf("error = %v, want ErrRepoNotFound", err)
	}
	if got := Category(err); got != CategoryNotFound {
		t.Errorf("category = %q, want %q", got, CategoryNotFound)
	}
}

func TestScanDegradedPartsAbsorbed(t *testing.T) {
	handlers := healthyForge()
	handlers["/repos/acme/widget/contributors"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}
	var logbuf bytes.Buffer
	s := newScanner(t, handlers, audit.NewWriter(&logbuf), nil)

	out, err := s.Scan(context.Background(), "scan-deg", "https://github.com/acme/widget")
	if err != nil {
		t.Fatalf("degraded scan must not fail: %v", err)
	}

	if len(out.Degraded) != 1 || out.Degraded[0] != "contributors" {
		t.Fatalf("degraded = %v, want [contributors]", out.Degraded)
	}
	found := false
	for _, note := range out.Result.Notes {
		if note == "Incomplete data: contributors could not be fetched" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing degradation note, got %v", out.Result.Notes)
	}
	if out.Result.Confidence >= 100 {
		t.Errorf("confidence = %d, want reduced below 100", out.Result.Confidence)
	}
	if !strings.Contains(logbuf.String(), `"event":"fetch_degraded"`) {
		t.Error("fetch_degraded event not logged")
	}
}

func TestScanCancelledContext(t *testing.T) {
	s := newScanner(t, healthyForge(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := s.Scan(ctx, "scan-cancel", "https://github.com/acme/widget")
	if out != nil {
		t.Fatalf("cancelled scan produced an outcome: %+v", out)
	}
	if got := Category(err); got != CategoryInternalError {
		t.Errorf("category = %q, want %q", got, CategoryInternalError)
	}
	if !strings.Contains(err.Error(), "scan aborted") {
		t.Errorf("error = %v, want scan aborted", err)
	}
}

func TestScanCustomPattern(t *testing.T) {
	handlers := healthyForge()
	handlers["/repos/acme/widget/contents/index.js"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fileJSON(`fetch("https://beacon.example-telemetry.com/p");` + "\n")))
	}
	s := newScanner(t, handlers, nil, func(cfg *config.Config) {
		cfg.Scan.Patterns = []config.ScanPattern{{
			Name:        "telemetry beacon",
			Regex:       `beacon\.example-telemetry\.com`,
			Severity:    config.SeverityHigh,
			Description: "Calls a known telemetry collection endpoint",
			Exts:        []string{".js"},
		}}
	})

	out, err := s.Scan(context.Background(), "scan-pat", "https://github.com/acme/widget")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var hit *analyze.Vulnerability
	for i := range out.Result.Vulnerabilities {
		if out.Result.Vulnerabilities[i].Details == "telemetry beacon" {
			hit = &out.Result.Vulnerabilities[i]
		}
	}
	if hit == nil {
		t.Fatalf("custom pattern never matched; findings: %+v", out.Result.Vulnerabilities)
	}
	if hit.Severity != analyze.SeverityHigh {
		t.Errorf("severity = %q, want high", hit.Severity)
	}
	if hit.Description != "Calls a known telemetry collection endpoint" {
		t.Errorf("description = %q", hit.Description)
	}
	if hit.Location != "index.js:1" {
		t.Errorf("location = %q, want index.js:1", hit.Location)
	}
}

func TestScanUserAgent(t *testing.T) {
	var gotUA string
	handlers := healthyForge()
	base := handlers["/repos/acme/widget"]
	handlers["/repos/acme/widget"] = func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		base(w, r)
	}

	s := newScanner(t, handlers, nil, nil)
	if _, err := s.Scan(context.Background(), "", "https://github.com/acme/widget"); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if gotUA != "repovet/test" {
		t.Errorf("User-Agent = %q, want repovet/test", gotUA)
	}

	s = newScanner(t, handlers, nil, func(cfg *config.Config) {
		cfg.Forge.UserAgent = "custom-agent/9"
	})
	if _, err := s.Scan(context.Background(), "", "https://github.com/acme/widget"); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if gotUA != "custom-agent/9" {
		t.Errorf("User-Agent = %q, want custom-agent/9", gotUA)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"scan error", &ScanError{Category: CategoryNotFound, Err: errors.New("x")}, CategoryNotFound},
		{"wrapped scan error", &ScanError{Category: CategoryInvalidInput, Err: errors.New("x")}, CategoryInvalidInput},
		{"plain error", errors.New("disk on fire"), CategoryInternalError},
		{"nil", nil, CategoryInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Category(tt.err); got != tt.want {
				t.Errorf("Category() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWeightsFor(t *testing.T) {
	cfg := config.Defaults()
	w := weightsFor(cfg)
	if w.Legitimacy != score.DefaultWeights().Legitimacy {
		t.Errorf("default legitimacy weights changed: %+v", w.Legitimacy)
	}
	if !w.QualityPenalty {
		t.Error("quality penalty disabled by default")
	}

	cfg.Scan.LegacyLegitimacyWeights = true
	off := false
	cfg.Scan.QualityPenalty = &off
	w = weightsFor(cfg)
	if w.Legitimacy != score.LegacyLegitimacyWeights() {
		t.Errorf("legacy legitimacy weights not applied: %+v", w.Legitimacy)
	}
	if w.QualityPenalty {
		t.Error("quality penalty still enabled")
	}
}

func TestTablesFor(t *testing.T) {
	cfg := config.Defaults()
	base := len(analyze.DefaultTables().DangerousCalls)

	cfg.Scan.Patterns = []config.ScanPattern{{
		Name:     "homebrew rule",
		Regex:    `drop\s+table`,
		Severity: config.SeverityCritical,
		Exts:     []string{".sql"},
	}}
	tables := tablesFor(cfg)
	if len(tables.DangerousCalls) != base+1 {
		t.Fatalf("rules = %d, want %d", len(tables.DangerousCalls), base+1)
	}
	added := tables.DangerousCalls[base]
	if added.Name != "homebrew rule" || added.Severity != analyze.SeverityCritical {
		t.Errorf("appended rule wrong: %+v", added)
	}
	if !added.Pattern.MatchString("drop table users") {
		t.Error("appended pattern does not match")
	}
}
