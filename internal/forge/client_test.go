package forge

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:        srv.URL,
		Token:          "test-token",
		RequestsPerSec: 1000, // keep the limiter out of the way
	})
}

// fullRepoHandlers returns healthy responses for every snapshot endpoint.
// Tests delete or replace entries to simulate partial outages.
func fullRepoHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/repos/octocat/hello-world": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"full_name": "octocat/hello-world",
				"description": "a demo repository with a long enough description",
				"stargazers_count": 1500,
				"forks_count": 40,
				"archived": false,
				"default_branch": "main",
				"created_at": "2020-01-01T00:00:00Z",
				"pushed_at": "2026-08-20T00:00:00Z",
				"license": {"key": "mit", "name": "MIT License"}
			}`))
		},
		"/repos/octocat/hello-world/contents/": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[
				{"name": "README.md", "path": "README.md", "type": "file", "size": 120},
				{"name": "package.json", "path": "package.json", "type": "file", "size": 300}
			]`))
		},
		"/repos/octocat/hello-world/commits": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[
				{"sha": "abc123", "commit": {"author": {"date": "2026-08-20T00:00:00Z"}, "message": "fix parser"}}
			]`))
		},
		"/repos/octocat/hello-world/contributors": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"login": "octocat", "contributions": 42}]`))
		},
		"/users/octocat": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"login": "octocat", "type": "Organization", "created_at": "2015-03-01T00:00:00Z", "public_repos": 12}`))
		},
		"/repos/octocat/hello-world/readme": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html><body><article><h1>hello-world</h1><p>This project demonstrates the demo pipeline end to end with several paragraphs of real prose so the extractor has something to work with.</p></article></body></html>`))
		},
	}
}

func muxFor(handlers map[string]http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	for pattern, h := range handlers {
		mux.HandleFunc(pattern, h)
	}
	return mux
}

func TestFetchSnapshotComplete(t *testing.T) {
	c := newTestClient(t, muxFor(fullRepoHandlers()))
	ref := RepoRef{Owner: "octocat", Name: "hello-world"}

	snap, err := c.FetchSnapshot(context.Background(), ref)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	if got := snap.Fetched.Completeness(); got != 1.0 {
		t.Errorf("completeness = %v, want 1.0 (degraded: %v)", got, snap.Fetched.Degraded())
	}
	if snap.Repo == nil || snap.Repo.FullName != "octocat/hello-world" {
		t.Errorf("repo metadata missing or wrong: %+v", snap.Repo)
	}
	if snap.Repo.Stars != 1500 {
		t.Errorf("stars = %d, want 1500", snap.Repo.Stars)
	}
	if len(snap.Files) != 2 {
		t.Errorf("files = %d, want 2", len(snap.Files))
	}
	if len(snap.Commits) != 1 || snap.Commits[0].SHA != "abc123" {
		t.Errorf("commits wrong: %+v", snap.Commits)
	}
	if len(snap.Contributors) != 1 {
		t.Errorf("contributors = %d, want 1", len(snap.Contributors))
	}
	if snap.Owner == nil || snap.Owner.Type != "Organization" {
		t.Errorf("owner wrong: %+v", snap.Owner)
	}
	if snap.ReadmeText == "" || !strings.Contains(snap.ReadmeText, "demo pipeline") {
		t.Errorf("readme text not extracted: %q", snap.ReadmeText)
	}
	if snap.FetchedAt.IsZero() {
		t.Error("FetchedAt not stamped")
	}
}

func TestFetchSnapshotRepoNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	c := newTestClient(t, mux)

	_, err := c.FetchSnapshot(context.Background(), RepoRef{Owner: "nobody", Name: "nothing"})
	if !errors.Is(err, ErrRepoNotFound) {
		t.Fatalf("error = %v, want ErrRepoNotFound", err)
	}
}

func TestFetchSnapshotDegraded(t *testing.T) {
	handlers := fullRepoHandlers()
	handlers["/repos/octocat/hello-world/contributors"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}
	c := newTestClient(t, muxFor(handlers))

	snap, err := c.FetchSnapshot(context.Background(), RepoRef{Owner: "octocat", Name: "hello-world"})
	if err != nil {
		t.Fatalf("degraded fetch must not fail: %v", err)
	}
	if snap.Fetched.Contributors {
		t.Error("contributors marked fetched despite 500")
	}
	if !snap.Fetched.Repo || !snap.Fetched.Files {
		t.Errorf("healthy parts lost: %+v", snap.Fetched)
	}
	if got := snap.Fetched.Completeness(); got != 0.8 {
		t.Errorf("completeness = %v, want 0.8", got)
	}
	degraded := snap.Fetched.Degraded()
	if len(degraded) != 1 || degraded[0] != "contributors" {
		t.Errorf("degraded = %v, want [contributors]", degraded)
	}
}

func TestFileContent(t *testing.T) {
	// The platform wraps base64 at 60 columns; the decoder must cope.
	encoded := base64.StdEncoding.EncodeToString([]byte("API_KEY=sk_live_1234567890abcdefghij\n"))
	wrapped := encoded[:20] + "\n" + encoded[20:]

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/contents/.env", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type": "file", "encoding": "base64", "size": 37, "content": "` + wrapped + `"}`))
	})
	mux.HandleFunc("/repos/a/b/contents/huge.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type": "file", "encoding": "base64", "size": 999999999, "content": ""}`))
	})
	mux.HandleFunc("/repos/a/b/contents/src", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type": "dir", "encoding": "", "size": 0, "content": ""}`))
	})
	mux.HandleFunc("/repos/a/b/contents/weird.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type": "file", "encoding": "base64", "size": 5, "content": "!!!not-base64!!!"}`))
	})
	c := newTestClient(t, mux)
	ref := RepoRef{Owner: "a", Name: "b"}
	ctx := context.Background()

	text, ok := c.FileContent(ctx, ref, ".env")
	if !ok {
		t.Fatal("FileContent(.env) not ok")
	}
	if !strings.Contains(text, "API_KEY=sk_live_") {
		t.Errorf("decoded content wrong: %q", text)
	}

	tests := []struct {
		name string
		path string
	}{
		{"oversize file", "huge.bin"},
		{"directory entry", "src"},
		{"undecodable payload", "weird.txt"},
		{"missing file", "no-such-file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if text, ok := c.FileContent(ctx, ref, tt.path); ok || text != "" {
				t.Errorf("FileContent(%s) = (%q, %v), want (\"\", false)", tt.path, text, ok)
			}
		})
	}
}

func TestDirListing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/contents/examples", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name": "basic.js", "path": "examples/basic.js", "type": "file", "size": 50}]`))
	})
	c := newTestClient(t, mux)
	ref := RepoRef{Owner: "a", Name: "b"}

	entries := c.DirListing(context.Background(), ref, "examples")
	if len(entries) != 1 || entries[0].Name != "basic.js" {
		t.Errorf("entries = %+v, want basic.js", entries)
	}

	if entries := c.DirListing(context.Background(), ref, "no-such-dir"); entries != nil {
		t.Errorf("missing dir listing = %+v, want nil", entries)
	}
}

func TestBranchProtected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/branches/main", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name": "main", "protected": true}`))
	})
	c := newTestClient(t, mux)
	ref := RepoRef{Owner: "a", Name: "b"}

	protected, ok := c.BranchProtected(context.Background(), ref, "main")
	if !ok || !protected {
		t.Errorf("BranchProtected(main) = (%v, %v), want (true, true)", protected, ok)
	}

	if _, ok := c.BranchProtected(context.Background(), ref, "gone"); ok {
		t.Error("unknown branch reported ok")
	}
	if _, ok := c.BranchProtected(context.Background(), ref, ""); ok {
		t.Error("empty branch reported ok")
	}
}

func TestReadmeTextUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	c := newTestClient(t, mux)

	if text := c.ReadmeText(context.Background(), RepoRef{Owner: "a", Name: "b"}); text != "" {
		t.Errorf("ReadmeText on 404 = %q, want empty", text)
	}
}

func TestRequestHeaders(t *testing.T) {
	var gotAuth, gotAccept, gotUA string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{}`))
	})
	c := newTestClient(t, mux)

	var repo Repository
	if err := c.get(context.Background(), "/repos/a/b", &repo); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != acceptJSON {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotUA != "repovet" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestFetchSnapshotContextCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		http.NotFound(w, r)
	})
	c := newTestClient(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := c.FetchSnapshot(ctx, RepoRef{Owner: "a", Name: "b"})
	if err == nil && snap.Fetched.Completeness() > 0 {
		t.Error("cancelled fetch reported fetched parts")
	}
}
