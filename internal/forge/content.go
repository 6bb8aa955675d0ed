package forge

import (
	"context"
	"encoding/base64"
	"io"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// contentPayload is the contents-API response for a single file.
type contentPayload struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

// FileContent fetches one file's decoded text. The bool reports whether the
// content was actually retrieved; callers must treat false as "unknown",
// never as "clean". Oversize files, non-file entries, undecodable payloads,
// and network failures all yield ("", false).
func (c *Client) FileContent(ctx context.Context, ref RepoRef, path string) (string, bool) {
	var payload contentPayload
	if err := c.get(ctx, repoPath(ref)+"/contents/"+escapePath(path), &payload); err != nil {
		return "", false
	}
	if payload.Type != "file" || payload.Size > c.maxContent {
		return "", false
	}
	if payload.Encoding != "base64" {
		return "", false
	}

	// The platform wraps base64 content with newlines.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload.Content, "\n", ""))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// DirListing lists a subdirectory via the contents API. Empty on any
// failure; callers treat that the same as an empty directory.
func (c *Client) DirListing(ctx context.Context, ref RepoRef, dir string) []FileEntry {
	var entries []FileEntry
	if err := c.get(ctx, repoPath(ref)+"/contents/"+escapePath(dir), &entries); err != nil {
		return nil
	}
	return entries
}

// BranchProtected reports whether branch has protection enabled. The second
// return is false when the status could not be determined; callers skip the
// check rather than treating unknown as unprotected.
func (c *Client) BranchProtected(ctx context.Context, ref RepoRef, branch string) (protected, ok bool) {
	if branch == "" {
		return false, false
	}
	var payload struct {
		Protected bool `json:"protected"`
	}
	if err := c.get(ctx, repoPath(ref)+"/branches/"+url.PathEscape(branch), &payload); err != nil {
		return false, false
	}
	return payload.Protected, true
}

// ReadmeText fetches the platform-rendered README and reduces it to plain
// text. Catches READMEs that live outside the root listing (docs/, .github/).
// Returns "" when unavailable; absence here is not evidence of absence.
func (c *Client) ReadmeText(ctx context.Context, ref RepoRef) string {
	var html string
	err := c.request(ctx, repoPath(ref)+"/readme", acceptHTML, func(r io.Reader) error {
		b, readErr := io.ReadAll(r)
		if readErr != nil {
			return readErr
		}
		html = string(b)
		return nil
	})
	if err != nil || strings.TrimSpace(html) == "" {
		return ""
	}

	pageURL, err := url.Parse("https://" + c.host + "/" + ref.Owner + "/" + ref.Name)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}
