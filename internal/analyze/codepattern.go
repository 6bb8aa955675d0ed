package analyze

import (
	"context"
	"fmt"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
	"github.com/repovet/repovet/internal/normalize"
)

// CodePatternDetector scans sampled code files for hardcoded secrets,
// dangerous calls, and weak cryptography.
type CodePatternDetector struct {
	tables  *Tables
	fetcher ContentFetcher
	log     *audit.Logger
}

func NewCodePatternDetector(t *Tables, f ContentFetcher, log *audit.Logger) *CodePatternDetector {
	return &CodePatternDetector{tables: t, fetcher: f, log: log}
}

func (d *CodePatternDetector) Name() string { return "code-pattern" }

func (d *CodePatternDetector) Analyze(ctx context.Context, snap *forge.Snapshot) []Vulnerability {
	facts := SurveyListing(d.tables, snap.Files)
	var vulns []Vulnerability
	for _, e := range sampleCodeFiles(facts.CodeFiles) {
		vulns = append(vulns, d.scanFile(ctx, snap.Ref, e)...)
	}
	return vulns
}

// scanFile inspects a single file. A panic while scanning is confined to
// that file; the remaining sample is still processed.
func (d *CodePatternDetector) scanFile(ctx context.Context, ref forge.RepoRef, e forge.FileEntry) (vulns []Vulnerability) {
	defer func() {
		if r := recover(); r != nil {
			d.log.LogAnalyzerError(ref.String(), d.Name(), fmt.Sprintf("panic scanning %s: %v", e.Path, r))
			vulns = nil
		}
	}()

	content, ok := d.fetcher.FileContent(ctx, ref, e.Path)
	if !ok {
		return nil
	}
	text := normalize.ForScan(content)
	ext := extOf(e.Name)

	vulns = append(vulns, matchSecrets(d.tables.SecretPatterns, text, e.Path)...)
	vulns = append(vulns, matchRules(d.tables.DangerousCalls, ext, text, e.Path, TypeCodePattern)...)
	vulns = append(vulns, matchRules(d.tables.WeakCrypto, ext, text, e.Path, TypeCodePattern)...)
	return vulns
}
