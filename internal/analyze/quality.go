package analyze

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
)

// QualityMetrics summarizes maintainability signals over the sampled code
// files. It feeds the safety code_quality sub-score but carries no findings
// of its own.
type QualityMetrics struct {
	TotalFilesAnalyzed int      `json:"total_files_analyzed"`
	AvgFileSize        float64  `json:"avg_file_size"`
	AvgComplexity      float64  `json:"avg_complexity"`
	CommentRatio       float64  `json:"comment_ratio"`
	LargeFilesCount    int      `json:"large_files_count"`
	DuplicationRisk    float64  `json:"code_duplication_risk"`
	QualityScore       int      `json:"quality_score"`
	Issues             []string `json:"issues"`
}

// QualityAnalyzer measures complexity, comment density, file sizes, and
// duplication risk over a capped sample of code files.
type QualityAnalyzer struct {
	tables  *Tables
	fetcher ContentFetcher
	log     *audit.Logger
}

func NewQualityAnalyzer(t *Tables, f ContentFetcher, log *audit.Logger) *QualityAnalyzer {
	return &QualityAnalyzer{tables: t, fetcher: f, log: log}
}

func (a *QualityAnalyzer) Name() string { return "quality" }

// branchTokens approximates cyclomatic complexity: one per branching or
// looping construct, plus boolean connectives.
var branchTokens = regexp.MustCompile(`\b(?:if|for|while|case|when|catch|except|rescue)\b|&&|\|\|`)

// hashCommentExts are languages whose line comments start with #.
var hashCommentExts = map[string]bool{
	".py": true, ".rb": true, ".sh": true, ".bash": true, ".zsh": true,
}

const largeFileLines = 500

// fileMeasure is one sampled file's raw numbers.
type fileMeasure struct {
	name       string
	lines      int
	complexity int
	code       int
	comments   int
}

// Metrics samples code files and aggregates their measurements. An empty
// sample yields zero metrics with an explanatory issue, never an error.
func (a *QualityAnalyzer) Metrics(ctx context.Context, snap *forge.Snapshot) QualityMetrics {
	facts := SurveyListing(a.tables, snap.Files)

	var measures []fileMeasure
	for _, e := range sampleCodeFiles(facts.CodeFiles) {
		if m, ok := a.measure(ctx, snap.Ref, e); ok {
			measures = append(measures, m)
		}
	}
	return aggregateQuality(measures)
}

func (a *QualityAnalyzer) measure(ctx context.Context, ref forge.RepoRef, e forge.FileEntry) (m fileMeasure, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.LogAnalyzerError(ref.String(), a.Name(), fmt.Sprintf("panic measuring %s: %v", e.Path, r))
			ok = false
		}
	}()

	content, fetched := a.fetcher.FileContent(ctx, ref, e.Path)
	if !fetched {
		return fileMeasure{}, false
	}

	m = fileMeasure{name: e.Name, complexity: 1}
	hashComments := hashCommentExts[extOf(e.Name)]
	for _, line := range strings.Split(content, "\n") {
		m.lines++
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isCommentLine(trimmed, hashComments) {
			m.comments++
			continue
		}
		m.code++
		m.complexity += len(branchTokens.FindAllStringIndex(trimmed, -1))
	}
	return m, true
}

func isCommentLine(trimmed string, hashComments bool) bool {
	if hashComments {
		return strings.HasPrefix(trimmed, "#")
	}
	return strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/*") ||
		strings.HasPrefix(trimmed, "* ") || trimmed == "*" || strings.HasPrefix(trimmed, "*/")
}

func aggregateQuality(measures []fileMeasure) QualityMetrics {
	qm := QualityMetrics{Issues: []string{}}
	qm.TotalFilesAnalyzed = len(measures)
	if len(measures) == 0 {
		qm.Issues = append(qm.Issues, "no code files available for analysis")
		return qm
	}

	var totalLines, totalComplexity, totalCode, totalComments int
	for _, m := range measures {
		totalLines += m.lines
		totalComplexity += m.complexity
		totalCode += m.code
		totalComments += m.comments
		if m.lines > largeFileLines {
			qm.LargeFilesCount++
		}
	}
	n := float64(len(measures))
	qm.AvgFileSize = float64(totalLines) / n
	qm.AvgComplexity = float64(totalComplexity) / n
	if totalCode > 0 {
		qm.CommentRatio = float64(totalComments) / float64(totalCode)
	}
	qm.DuplicationRisk = duplicationRisk(measures)

	score := 100
	switch {
	case qm.AvgComplexity > 20:
		score -= 25
		qm.Issues = append(qm.Issues, "high average complexity")
	case qm.AvgComplexity > 10:
		score -= 10
		qm.Issues = append(qm.Issues, "elevated average complexity")
	}
	switch {
	case qm.CommentRatio < 0.05:
		score -= 15
		qm.Issues = append(qm.Issues, "almost no comments")
	case qm.CommentRatio < 0.10:
		score -= 5
		qm.Issues = append(qm.Issues, "sparse comments")
	case qm.CommentRatio >= 0.15:
		score += 5
	}
	switch {
	case qm.LargeFilesCount > 3:
		score -= 10
		qm.Issues = append(qm.Issues, "many large files")
	case qm.LargeFilesCount > 0:
		score -= 3
	}
	switch {
	case qm.DuplicationRisk > 0.3:
		score -= 15
		qm.Issues = append(qm.Issues, "possible duplicated code")
	case qm.DuplicationRisk > 0.15:
		score -= 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	qm.QualityScore = score
	return qm
}

// duplicationRisk estimates copy-paste likelihood: the fraction of sampled
// files that have a near-twin in size and complexity under a near-identical
// name stem (utils.js next to utils2.js).
func duplicationRisk(measures []fileMeasure) float64 {
	if len(measures) < 2 {
		return 0
	}
	suspect := make([]bool, len(measures))
	for i := 0; i < len(measures); i++ {
		for j := i + 1; j < len(measures); j++ {
			if nearTwin(measures[i], measures[j]) {
				suspect[i] = true
				suspect[j] = true
			}
		}
	}
	count := 0
	for _, s := range suspect {
		if s {
			count++
		}
	}
	return float64(count) / float64(len(measures))
}

func nearTwin(a, b fileMeasure) bool {
	if !withinTenPercent(a.lines, b.lines, 5) || !withinTenPercent(a.complexity, b.complexity, 2) {
		return false
	}
	as := stemOf(a.name)
	bs := stemOf(b.name)
	return as == bs || osaDistance(as, bs) <= 1
}

func withinTenPercent(a, b, floor int) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	limit := max(a, b) / 10
	if limit < floor {
		limit = floor
	}
	return diff <= limit
}

func stemOf(name string) string {
	name = strings.ToLower(name)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}
