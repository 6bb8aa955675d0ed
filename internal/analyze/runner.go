package analyze

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
)

// ContentFetcher is the slice of the forge client the analyzers use. The
// boolean contract matters: false means "could not determine", never
// "clean".
type ContentFetcher interface {
	FileContent(ctx context.Context, ref forge.RepoRef, path string) (string, bool)
	DirListing(ctx context.Context, ref forge.RepoRef, dir string) []forge.FileEntry
	BranchProtected(ctx context.Context, ref forge.RepoRef, branch string) (protected, ok bool)
}

// Analyzer is one independent pass over the snapshot. Implementations must
// be safe to run concurrently with each other and must confine per-file
// failures; the runner only guards against whole-analyzer panics.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, snap *forge.Snapshot) []Vulnerability
}

// Runner executes the finding analyzers and the quality analyzer as one
// concurrent fan-out over a shared read-only snapshot.
type Runner struct {
	analyzers []Analyzer
	quality   *QualityAnalyzer
	log       *audit.Logger
}

// NewRunner wires the standard analyzer set against one rule table and one
// fetcher.
func NewRunner(t *Tables, f ContentFetcher, log *audit.Logger) *Runner {
	return &Runner{
		analyzers: []Analyzer{
			NewDependencyScanner(t, f, log),
			NewCodePatternDetector(t, f, log),
			NewAdvancedPatternDetector(t, f, log),
			NewConfigScanner(t, f, log),
			NewSupplyChainScanner(t, f, log),
			NewPlatformSecurityScanner(t, f, log),
		},
		quality: NewQualityAnalyzer(t, f, log),
		log:     log,
	}
}

// Run fans the analyzers out and joins them. Each goroutine writes only its
// own result slot; the Wait call is the barrier before aggregation. A
// panicking analyzer is logged and contributes nothing. The returned finding
// list is sorted and never nil.
func (r *Runner) Run(ctx context.Context, snap *forge.Snapshot) ([]Vulnerability, QualityMetrics) {
	results := make([][]Vulnerability, len(r.analyzers))
	quality := QualityMetrics{Issues: []string{}}

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range r.analyzers {
		g.Go(func() error {
			defer r.recoverAnalyzer(snap, a.Name())
			results[i] = a.Analyze(gctx, snap)
			return nil
		})
	}
	g.Go(func() error {
		defer r.recoverAnalyzer(snap, r.quality.Name())
		quality = r.quality.Metrics(gctx, snap)
		return nil
	})
	_ = g.Wait() // analyzers never return errors; this is the join barrier

	vulns := []Vulnerability{}
	for _, part := range results {
		vulns = append(vulns, part...)
	}
	SortFindings(vulns)
	return vulns, quality
}

func (r *Runner) recoverAnalyzer(snap *forge.Snapshot, name string) {
	if rec := recover(); rec != nil {
		r.log.LogAnalyzerError(snap.Ref.String(), name, fmt.Sprintf("analyzer panic: %v", rec))
	}
}
