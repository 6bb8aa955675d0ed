// Package pipeline runs one repository scan end to end: URL validation,
// snapshot fetch, concurrent analysis, scoring. It owns the scan lifecycle
// audit events but nothing else; persistence, metrics, and event emission
// stay with the callers so the same Scanner serves both the one-shot CLI
// and the server worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/config"
	"github.com/repovet/repovet/internal/forge"
	"github.com/repovet/repovet/internal/score"
)

// Error categories surfaced on terminal scan failures. They are part of the
// API and persistence contracts; response bodies and scan records carry them
// verbatim.
const (
	CategoryInvalidInput  = "invalid_input"
	CategoryNotFound      = "not_found"
	CategoryInternalError = "internal_error"
)

// ScanError is a terminal scan failure tagged with its reporting category.
type ScanError struct {
	Category string
	Err      error
}

func (e *ScanError) Error() string { return e.Err.Error() }
func (e *ScanError) Unwrap() error { return e.Err }

// Category extracts the reporting category from a scan failure. Anything
// that is not a ScanError counts as internal.
func Category(err error) string {
	var serr *ScanError
	if errors.As(err, &serr) {
		return serr.Category
	}
	return CategoryInternalError
}

// categorize maps an error onto the reporting taxonomy via the forge
// sentinels.
func categorize(err error) *ScanError {
	switch {
	case errors.Is(err, forge.ErrInvalidRepoURL):
		return &ScanError{Category: CategoryInvalidInput, Err: err}
	case errors.Is(err, forge.ErrRepoNotFound):
		return &ScanError{Category: CategoryNotFound, Err: err}
	default:
		return &ScanError{Category: CategoryInternalError, Err: err}
	}
}

// Outcome bundles a successful scan's artifacts with the context callers
// need for persistence, metrics, and emission.
type Outcome struct {
	Snapshot *forge.Snapshot
	Result   *score.Result
	Degraded []string // snapshot parts that could not be fetched
	Duration time.Duration
}

// Scanner executes scans against one hosting platform with one scoring
// profile. Safe for concurrent use; the server worker pool shares a single
// Scanner across all workers.
type Scanner struct {
	client  *forge.Client
	runner  *analyze.Runner
	engine  *score.Engine
	log     *audit.Logger
	timeout time.Duration
}

// New builds a Scanner from configuration. The rule tables and scoring
// weights are fixed here; a config reload that changes them takes effect by
// constructing a fresh Scanner.
func New(cfg *config.Config, version string, log *audit.Logger) *Scanner {
	userAgent := cfg.Forge.UserAgent
	if userAgent == "" {
		userAgent = "repovet/" + version
	}

	client := forge.NewClient(forge.Options{
		BaseURL:        cfg.Forge.BaseURL,
		Host:           cfg.Forge.Host,
		Token:          cfg.Forge.Token,
		UserAgent:      userAgent,
		Timeout:        time.Duration(cfg.Forge.TimeoutSeconds) * time.Second,
		RequestsPerSec: cfg.Forge.RequestsPerSec,
		MaxContentSize: int64(cfg.Forge.MaxContentKB) * 1024,
	})

	tables := tablesFor(cfg)
	return &Scanner{
		client:  client,
		runner:  analyze.NewRunner(tables, client, log),
		engine:  score.NewEngine(weightsFor(cfg), tables),
		log:     log,
		timeout: time.Duration(cfg.Scan.TimeoutSeconds) * time.Second,
	}
}

// Client exposes the platform client for callers that need URL validation
// before enqueueing or follow-up content reads after a scan (the SBOM
// builder).
func (s *Scanner) Client() *forge.Client { return s.client }

// Scan runs one scan to completion. On success every field of the Outcome
// is populated; on failure the error is always a *ScanError carrying the
// reporting category. scanID is only a log correlation handle and may be
// empty for one-shot runs.
func (s *Scanner) Scan(ctx context.Context, scanID, rawURL string) (*Outcome, error) {
	start := time.Now()

	ref, err := s.client.ParseRepoURL(rawURL)
	if err != nil {
		serr := categorize(err)
		s.log.LogScanFailed(rawURL, scanID, serr.Category, err)
		return nil, serr
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.log.LogScanStarted(ref.String(), scanID)

	snap, err := s.client.FetchSnapshot(ctx, ref)
	if err != nil {
		serr := categorize(err)
		s.log.LogScanFailed(ref.String(), scanID, serr.Category, err)
		return nil, serr
	}

	// Fetch and analysis absorb cancellation into degraded parts, so the
	// deadline has to be surfaced here or a timed-out scan would quietly
	// score an empty snapshot.
	if err := ctx.Err(); err != nil {
		serr := &ScanError{Category: CategoryInternalError, Err: fmt.Errorf("scan aborted: %w", err)}
		s.log.LogScanFailed(ref.String(), scanID, serr.Category, serr.Err)
		return nil, serr
	}

	degraded := snap.Fetched.Degraded()
	for _, part := range degraded {
		s.log.LogFetchDegraded(ref.String(), scanID, part)
	}

	vulns, quality := s.runner.Run(ctx, snap)
	if err := ctx.Err(); err != nil {
		serr := &ScanError{Category: CategoryInternalError, Err: fmt.Errorf("scan aborted: %w", err)}
		s.log.LogScanFailed(ref.String(), scanID, serr.Category, serr.Err)
		return nil, serr
	}

	summary := analyze.Summarize(vulns)
	result := s.engine.Score(snap, vulns, summary, quality)

	duration := time.Since(start)
	s.log.LogScanCompleted(ref.String(), scanID, result.OverallScore,
		result.SafetyScore, result.LegitimacyScore, result.Confidence,
		summary.TotalCount, duration)

	return &Outcome{
		Snapshot: snap,
		Result:   &result,
		Degraded: degraded,
		Duration: duration,
	}, nil
}

// weightsFor derives the scoring profile from configuration.
func weightsFor(cfg *config.Config) score.Weights {
	w := score.DefaultWeights()
	if cfg.Scan.LegacyLegitimacyWeights {
		w.Legitimacy = score.LegacyLegitimacyWeights()
	}
	w.QualityPenalty = cfg.QualityPenaltyEnabled()
	return w
}

// tablesFor appends the configured custom patterns to the embedded rule
// tables. The config layer has already compiled every regex during
// validation, so MustCompile failing here means Validate was bypassed.
func tablesFor(cfg *config.Config) *analyze.Tables {
	t := analyze.DefaultTables()
	for _, p := range cfg.Scan.Patterns {
		t.DangerousCalls = append(t.DangerousCalls, analyze.PatternRule{
			Name:        p.Name,
			Pattern:     regexp.MustCompile(p.Regex),
			Severity:    analyze.Severity(p.Severity),
			Description: p.Description,
			CWE:         p.CWE,
			Exts:        p.Exts,
		})
	}
	return t
}
