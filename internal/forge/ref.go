// Package forge fetches repository metadata and file contents from a code
// hosting platform's REST API and bundles them into an immutable snapshot
// for analysis.
//
// The client speaks the GitHub REST dialect but keeps the base URL and
// accepted host configurable so tests and self-hosted installs can point it
// elsewhere. All reads are anonymous-capable; a token only raises rate
// limits. The client never performs write operations.
package forge

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Sentinel errors surfaced to callers. Every other failure the fetcher sees
// degrades the snapshot instead of propagating.
var (
	// ErrInvalidRepoURL means the repository URL failed validation. No
	// network request is made for an invalid URL.
	ErrInvalidRepoURL = errors.New("invalid repository URL")

	// ErrRepoNotFound means the platform reported the repository itself as
	// missing. Secondary fetch failures never produce this.
	ErrRepoNotFound = errors.New("repository not found")
)

// segmentPattern matches one path segment: platform usernames and repository
// names. No slashes, no empty, nothing outside the platform's charset.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// RepoRef identifies a repository on the configured host. Construct via
// ParseRepoURL; the zero value is not valid.
type RepoRef struct {
	Owner string
	Name  string
}

// String returns the canonical owner/name form.
func (r RepoRef) String() string { return r.Owner + "/" + r.Name }

// ParseRepoURL validates raw and extracts the owner/name pair. Only
// http(s)://(www.)?<host>/<owner>/<repo> shapes are accepted; query strings,
// fragments, extra path segments, and foreign hosts are all rejected with
// ErrInvalidRepoURL before any fetch occurs. A trailing ".git" on the
// repository segment is tolerated. host defaults to github.com when empty.
func ParseRepoURL(raw, host string) (RepoRef, error) {
	if host == "" {
		host = "github.com"
	}

	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return RepoRef{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return RepoRef{}, fmt.Errorf("%w: scheme %q", ErrInvalidRepoURL, u.Scheme)
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return RepoRef{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}

	h := strings.ToLower(u.Hostname())
	if h != host && h != "www."+host {
		return RepoRef{}, fmt.Errorf("%w: host %q", ErrInvalidRepoURL, u.Hostname())
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 {
		return RepoRef{}, fmt.Errorf("%w: path %q", ErrInvalidRepoURL, u.Path)
	}
	owner := parts[0]
	name := strings.TrimSuffix(parts[1], ".git")
	if !segmentPattern.MatchString(owner) || !segmentPattern.MatchString(name) {
		return RepoRef{}, fmt.Errorf("%w: path %q", ErrInvalidRepoURL, u.Path)
	}

	return RepoRef{Owner: owner, Name: name}, nil
}
