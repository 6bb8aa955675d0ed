package analyze

import (
	"context"
	"testing"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
)

// fakeFetcher serves canned content; the test fixture for every analyzer.
type fakeFetcher struct {
	files     map[string]string
	dirs      map[string][]forge.FileEntry
	protected map[string]bool
}

func (f *fakeFetcher) FileContent(_ context.Context, _ forge.RepoRef, path string) (string, bool) {
	c, ok := f.files[path]
	return c, ok
}

func (f *fakeFetcher) DirListing(_ context.Context, _ forge.RepoRef, dir string) []forge.FileEntry {
	return f.dirs[dir]
}

func (f *fakeFetcher) BranchProtected(_ context.Context, _ forge.RepoRef, branch string) (bool, bool) {
	p, ok := f.protected[branch]
	return p, ok
}

// countingFetcher tracks how many content fetches an analyzer issues.
type countingFetcher struct {
	fakeFetcher
	fetches int
}

func (f *countingFetcher) FileContent(ctx context.Context, ref forge.RepoRef, path string) (string, bool) {
	f.fetches++
	return f.fakeFetcher.FileContent(ctx, ref, path)
}

func fileEntry(name string) forge.FileEntry {
	return forge.FileEntry{Name: name, Path: name, Type: "file"}
}

func dirEntry(name string) forge.FileEntry {
	return forge.FileEntry{Name: name, Path: name, Type: "dir"}
}

func testSnapshot(files ...forge.FileEntry) *forge.Snapshot {
	return &forge.Snapshot{
		Ref:   forge.RepoRef{Owner: "acme", Name: "widget"},
		Files: files,
	}
}

func TestRunnerJoinsAllAnalyzers(t *testing.T) {
	fetcher := &fakeFetcher{
		files: map[string]string{
			"package.json": `{"dependencies": {"flatmap-stream": "0.1.1"}}`,
			"app.js":       "function main() {\n  eval(userInput)\n}\n",
		},
	}
	runner := NewRunner(DefaultTables(), fetcher, audit.NewNop())

	snap := testSnapshot(fileEntry("package.json"), fileEntry("app.js"), fileEntry(".env"))
	vulns, quality := runner.Run(context.Background(), snap)

	if len(vulns) == 0 {
		t.Fatal("no findings from a snapshot with planted issues")
	}
	want := map[string]bool{
		"dependency":    false, // flatmap-stream
		"code_pattern":  false, // eval
		"configuration": false, // .env
	}
	for _, v := range vulns {
		want[string(v.Type)] = true
	}
	for typ, seen := range want {
		if !seen {
			t.Errorf("no %s finding in %+v", typ, vulns)
		}
	}
	if quality.TotalFilesAnalyzed != 1 {
		t.Errorf("quality analyzed %d files, want 1", quality.TotalFilesAnalyzed)
	}

	// Sorted worst first.
	for i := 1; i < len(vulns); i++ {
		if severityRank[vulns[i-1].Severity] > severityRank[vulns[i].Severity] {
			t.Fatalf("findings not sorted by severity at %d: %v then %v",
				i, vulns[i-1].Severity, vulns[i].Severity)
		}
	}
}

type panickyAnalyzer struct{}

func (panickyAnalyzer) Name() string { return "panicky" }
func (panickyAnalyzer) Analyze(context.Context, *forge.Snapshot) []Vulnerability {
	panic("boom")
}

type steadyAnalyzer struct{}

func (steadyAnalyzer) Name() string { return "steady" }
func (steadyAnalyzer) Analyze(context.Context, *forge.Snapshot) []Vulnerability {
	return []Vulnerability{NewVulnerability(SeverityLow, TypeCodePattern, "steady finding", "x.js")}
}

func TestRunnerRecoversPanickingAnalyzer(t *testing.T) {
	runner := &Runner{
		analyzers: []Analyzer{panickyAnalyzer{}, steadyAnalyzer{}},
		quality:   NewQualityAnalyzer(DefaultTables(), &fakeFetcher{}, audit.NewNop()),
		log:       audit.NewNop(),
	}

	vulns, quality := runner.Run(context.Background(), testSnapshot())
	if len(vulns) != 1 || vulns[0].Description != "steady finding" {
		t.Fatalf("surviving analyzer output lost: %+v", vulns)
	}
	if quality.Issues == nil {
		t.Error("quality issues must never be nil")
	}
}

func TestRunnerEmptySnapshot(t *testing.T) {
	runner := NewRunner(DefaultTables(), &fakeFetcher{}, audit.NewNop())
	vulns, quality := runner.Run(context.Background(), testSnapshot())

	if vulns == nil {
		t.Fatal("finding list must be empty, not nil")
	}
	if quality.TotalFilesAnalyzed != 0 {
		t.Errorf("analyzed %d files from empty listing", quality.TotalFilesAnalyzed)
	}
	if quality.QualityScore != 0 {
		t.Errorf("quality score %d for empty sample, want 0", quality.QualityScore)
	}
}
