package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for client construction. Zero-valued Options fields fall back to
// these so tests can build a client with only BaseURL set.
const (
	DefaultBaseURL        = "https://api.github.com"
	DefaultHost           = "github.com"
	DefaultTimeout        = 10 * time.Second
	DefaultRequestsPerSec = 8
	DefaultMaxContentSize = 1 << 20 // 1 MiB per fetched file

	acceptJSON = "application/vnd.github+json"
	acceptHTML = "application/vnd.github.html"

	// maxAPIResponse caps how much of any API response body is read.
	maxAPIResponse = 8 << 20
)

// errNotFound marks a 404 from any endpoint. FetchSnapshot promotes it to
// ErrRepoNotFound only for the repository-metadata request; everywhere else
// it is just another degraded fetch.
var errNotFound = errors.New("not found")

// Options configure a Client.
type Options struct {
	BaseURL        string
	Host           string // accepted host for repository URLs
	Token          string
	UserAgent      string
	Timeout        time.Duration
	RequestsPerSec float64
	MaxContentSize int64
}

// Client is a read-only REST client for the hosting platform. Safe for
// concurrent use.
type Client struct {
	base       string
	host       string
	token      string
	userAgent  string
	maxContent int64
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a Client, filling unset options with defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "repovet"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = DefaultRequestsPerSec
	}
	if opts.MaxContentSize <= 0 {
		opts.MaxContentSize = DefaultMaxContentSize
	}

	burst := int(opts.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		host:       opts.Host,
		token:      opts.Token,
		userAgent:  opts.UserAgent,
		maxContent: opts.MaxContentSize,
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst),
	}
}

// Host returns the hostname repository URLs must carry for this client.
func (c *Client) Host() string { return c.host }

// ParseRepoURL validates raw against this client's accepted host.
func (c *Client) ParseRepoURL(raw string) (RepoRef, error) {
	return ParseRepoURL(raw, c.host)
}

// get issues a GET for path and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.request(ctx, path, acceptJSON, func(r io.Reader) error {
		if out == nil {
			return nil
		}
		return json.NewDecoder(r).Decode(out)
	})
}

// request issues a rate-limited GET and hands the bounded body to read.
// 404 responses return errNotFound; other non-200 statuses return a plain
// error with the status code.
func (c *Client) request(ctx context.Context, path, accept string, read func(io.Reader) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return read(io.LimitReader(resp.Body, maxAPIResponse))
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("forge: GET %s: %w", path, errNotFound)
	default:
		return fmt.Errorf("forge: GET %s: status %d", path, resp.StatusCode)
	}
}

// repoPath builds the /repos/{owner}/{name} prefix for a reference.
func repoPath(ref RepoRef) string {
	return "/repos/" + url.PathEscape(ref.Owner) + "/" + url.PathEscape(ref.Name)
}

// escapePath escapes each segment of a repository-relative path while
// preserving the separators the contents API expects.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
