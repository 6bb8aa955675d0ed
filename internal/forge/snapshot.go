package forge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

// FetchStatus records which of the five snapshot sub-requests succeeded.
// A failed part leaves its zero value in the snapshot and lowers scoring
// confidence; it is never fatal.
type FetchStatus struct {
	Repo         bool
	Files        bool
	Commits      bool
	Contributors bool
	Owner        bool
}

// Completeness returns the fraction of the five sub-requests that
// succeeded, in [0,1].
func (s FetchStatus) Completeness() float64 {
	n := 0
	for _, ok := range []bool{s.Repo, s.Files, s.Commits, s.Contributors, s.Owner} {
		if ok {
			n++
		}
	}
	return float64(n) / 5
}

// Degraded lists the parts that failed, for notes and audit events.
func (s FetchStatus) Degraded() []string {
	var parts []string
	if !s.Repo {
		parts = append(parts, "repository")
	}
	if !s.Files {
		parts = append(parts, "files")
	}
	if !s.Commits {
		parts = append(parts, "commits")
	}
	if !s.Contributors {
		parts = append(parts, "contributors")
	}
	if !s.Owner {
		parts = append(parts, "owner")
	}
	return parts
}

// Snapshot is the immutable input to analysis: repository metadata and the
// root file listing as of a single fetch pass. Analyzers share one snapshot
// read-only; it is never mutated after FetchSnapshot returns. FetchedAt is
// the scan's notion of "now" so that scoring the same snapshot twice gives
// identical results.
type Snapshot struct {
	Ref          RepoRef
	Repo         *Repository
	Files        []FileEntry
	Commits      []Commit
	Contributors []Contributor
	Owner        *Account
	ReadmeText   string
	Fetched      FetchStatus
	FetchedAt    time.Time
}

// FetchSnapshot issues the snapshot sub-requests concurrently and joins
// them. Each goroutine writes only its own fields; the Wait is the barrier.
// Only a not-found on the repository metadata itself aborts the fetch
// (ErrRepoNotFound); any other failure leaves that part degraded. The
// rendered README is fetched as best-effort enrichment and does not count
// toward completeness.
func (c *Client) FetchSnapshot(ctx context.Context, ref RepoRef) (*Snapshot, error) {
	snap := &Snapshot{Ref: ref, FetchedAt: time.Now().UTC()}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var repo Repository
		err := c.get(gctx, repoPath(ref), &repo)
		if err != nil {
			if errors.Is(err, errNotFound) {
				return fmt.Errorf("%w: %s", ErrRepoNotFound, ref)
			}
			return nil
		}
		snap.Repo = &repo
		snap.Fetched.Repo = true
		return nil
	})

	g.Go(func() error {
		var files []FileEntry
		if err := c.get(gctx, repoPath(ref)+"/contents/", &files); err == nil {
			snap.Files = files
			snap.Fetched.Files = true
		}
		return nil
	})

	g.Go(func() error {
		var commits []Commit
		if err := c.get(gctx, repoPath(ref)+"/commits?per_page=30", &commits); err == nil {
			snap.Commits = commits
			snap.Fetched.Commits = true
		}
		return nil
	})

	g.Go(func() error {
		var contributors []Contributor
		if err := c.get(gctx, repoPath(ref)+"/contributors?per_page=30", &contributors); err == nil {
			snap.Contributors = contributors
			snap.Fetched.Contributors = true
		}
		return nil
	})

	g.Go(func() error {
		var owner Account
		if err := c.get(gctx, "/users/"+url.PathEscape(ref.Owner), &owner); err == nil {
			snap.Owner = &owner
			snap.Fetched.Owner = true
		}
		return nil
	})

	g.Go(func() error {
		snap.ReadmeText = c.ReadmeText(gctx, ref)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}
