package analyze

import (
	"context"
	"fmt"
	"regexp"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
	"github.com/repovet/repovet/internal/normalize"
)

// AdvancedPatternDetector scans sampled code files for injection heuristics
// and systems-language smells that need more than a single regex: unmatched
// allocations and check-then-use races are judged per file, not per match.
type AdvancedPatternDetector struct {
	tables  *Tables
	fetcher ContentFetcher
	log     *audit.Logger
}

func NewAdvancedPatternDetector(t *Tables, f ContentFetcher, log *audit.Logger) *AdvancedPatternDetector {
	return &AdvancedPatternDetector{tables: t, fetcher: f, log: log}
}

func (d *AdvancedPatternDetector) Name() string { return "advanced-pattern" }

var (
	allocPattern = regexp.MustCompile(`\b(?:malloc|calloc|realloc|strdup)\s*\(`)
	freePattern  = regexp.MustCompile(`\bfree\s*\(`)

	// Check-then-use pairs per language family. Both halves present in one
	// file is the smell; proving the race would need data flow we don't do.
	toctouChecks = map[string]*regexp.Regexp{
		"c":  regexp.MustCompile(`\baccess\s*\(`),
		"py": regexp.MustCompile(`\bos\.path\.exists\s*\(`),
		"js": regexp.MustCompile(`\bfs\.existsSync\s*\(`),
	}
	toctouUses = map[string]*regexp.Regexp{
		"c":  regexp.MustCompile(`\b(?:fopen|open)\s*\(`),
		"py": regexp.MustCompile(`\bopen\s*\(`),
		"js": regexp.MustCompile(`\bfs\.(?:readFile|writeFile|createReadStream|unlink)`),
	}
)

// toctouFamily maps a file extension to its check-then-use pattern family.
func toctouFamily(ext string) string {
	switch ext {
	case ".c", ".cc", ".cpp", ".h", ".hpp":
		return "c"
	case ".py":
		return "py"
	case ".js", ".jsx", ".ts", ".tsx", ".mjs":
		return "js"
	}
	return ""
}

func (d *AdvancedPatternDetector) Analyze(ctx context.Context, snap *forge.Snapshot) []Vulnerability {
	facts := SurveyListing(d.tables, snap.Files)
	var vulns []Vulnerability
	for _, e := range sampleCodeFiles(facts.CodeFiles) {
		vulns = append(vulns, d.scanFile(ctx, snap.Ref, e)...)
	}
	return vulns
}

func (d *AdvancedPatternDetector) scanFile(ctx context.Context, ref forge.RepoRef, e forge.FileEntry) (vulns []Vulnerability) {
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

	vulns = append(vulns, matchRules(d.tables.InjectionPatterns, ext, text, e.Path, TypeCodePattern)...)
	vulns = append(vulns, matchRules(d.tables.MemoryPatterns, ext, text, e.Path, TypeCodePattern)...)
	vulns = append(vulns, scanUnfreedAllocations(ext, text, e.Path)...)
	vulns = append(vulns, scanCheckThenUse(ext, text, e.Path)...)
	return vulns
}

// scanUnfreedAllocations flags C-family files that allocate heap memory but
// never call free. One finding per file, at the first allocation.
func scanUnfreedAllocations(ext, text, file string) []Vulnerability {
	if toctouFamily(ext) != "c" {
		return nil
	}
	allocs := allocPattern.FindAllStringIndex(text, -1)
	if len(allocs) == 0 || freePattern.MatchString(text) {
		return nil
	}
	v := NewVulnerability(SeverityMedium, TypeCodePattern,
		"Heap allocations with no matching free in file",
		location(file, lineOf(text, allocs[0][0])))
	v.Details = fmt.Sprintf("%d allocation calls, 0 free calls (CWE-401)", len(allocs))
	return []Vulnerability{v}
}

// scanCheckThenUse flags files that test for a path's existence and then
// open it, the classic TOCTOU shape. One finding per file, at the check.
func scanCheckThenUse(ext, text, file string) []Vulnerability {
	family := toctouFamily(ext)
	if family == "" {
		return nil
	}
	check := toctouChecks[family].FindStringIndex(text)
	if check == nil || !toctouUses[family].MatchString(text[check[1]:]) {
		return nil
	}
	v := NewVulnerability(SeverityMedium, TypeCodePattern,
		"Existence check followed by file use (possible TOCTOU race)",
		location(file, lineOf(text, check[0])))
	v.Details = "CWE-367"
	return []Vulnerability{v}
}
