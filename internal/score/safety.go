package score

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/forge"
)

// Formula constants outside the Weights surface: fixed thresholds of the
// safety sub-score arithmetic.
const (
	scriptFileLimit = 5

	recentWindow  = 90 * 24 * time.Hour
	freshWindow   = 30 * 24 * time.Hour
	staleWindow   = 365 * 24 * time.Hour
	activeCommits = 5
)

func (e *Engine) safetyBreakdown(snap *forge.Snapshot, facts analyze.Facts, vulns []analyze.Vulnerability, quality analyze.QualityMetrics, card *scorecard) SafetyBreakdown {
	b := SafetyBreakdown{
		DependencyRisks:    e.dependencyRisks(facts, card),
		CodeSecurity:       e.codeSecurity(facts, card),
		ConfigHygiene:      e.configHygiene(facts, card),
		CodeQuality:        e.codeQualitySafety(facts, quality, card),
		MaintenancePosture: e.maintenancePosture(snap, card),
	}

	// Findings deduct from the sub-score matching their type. Clamping
	// happens after every deduction; intermediate values may leave range.
	b.DependencyRisks -= e.findingPenalty(vulns, analyze.TypeDependency)
	b.CodeSecurity -= e.findingPenalty(vulns, analyze.TypeCodePattern)
	b.ConfigHygiene -= e.findingPenalty(vulns, analyze.TypeConfiguration)

	b.DependencyRisks = clamp(b.DependencyRisks)
	b.CodeSecurity = clamp(b.CodeSecurity)
	b.ConfigHygiene = clamp(b.ConfigHygiene)
	b.CodeQuality = clamp(b.CodeQuality)
	b.MaintenancePosture = clamp(b.MaintenancePosture)

	w := e.weights.Safety
	b.Total = clamp(round(
		w.DependencyRisks*float64(b.DependencyRisks) +
			w.CodeSecurity*float64(b.CodeSecurity) +
			w.ConfigHygiene*float64(b.ConfigHygiene) +
			w.CodeQuality*float64(b.CodeQuality) +
			w.MaintenancePosture*float64(b.MaintenancePosture)))
	return b
}

// findingPenalty totals the per-severity deductions for one finding type.
func (e *Engine) findingPenalty(vulns []analyze.Vulnerability, t analyze.FindingType) int {
	p := e.weights.Penalties
	total := 0
	for _, v := range vulns {
		if v.Type != t {
			continue
		}
		switch v.Severity {
		case analyze.SeverityCritical:
			total += p.Critical
		case analyze.SeverityHigh:
			total += p.High
		case analyze.SeverityMedium:
			total += p.Medium
		case analyze.SeverityLow:
			total += p.Low
		}
	}
	return total
}

func (e *Engine) dependencyRisks(facts analyze.Facts, card *scorecard) int {
	s := 50
	if !facts.HasManifest {
		card.note("No dependency manifest recognized; dependency checks limited")
		return s - 20
	}
	s += 30
	if facts.HasLockfile {
		s += 20
		card.positive("Lock file pins dependency versions")
	} else {
		s -= 10
		card.risk("Dependency manifest without a lock file; versions are not pinned")
	}
	return s
}

func (e *Engine) codeSecurity(facts analyze.Facts, card *scorecard) int {
	s := 70
	for _, name := range facts.BinaryFiles {
		s -= e.tables.BinaryPenalties[strings.ToLower(path.Ext(name))]
	}
	if n := len(facts.BinaryFiles); n > 0 {
		card.risk(fmt.Sprintf("Compiled binaries committed to the repository (%d)", n))
	}
	if facts.HasSecurityPolicy {
		s += 20
		card.positive("Security policy published")
	}
	if len(facts.ScriptFiles) > scriptFileLimit {
		s -= 15
		card.risk(fmt.Sprintf("Large number of shell scripts at the repository root (%d)", len(facts.ScriptFiles)))
	}
	return s
}

func (e *Engine) configHygiene(facts analyze.Facts, card *scorecard) int {
	s := 50
	if facts.HasGitignore {
		s += 30
	} else {
		s -= 20
	}
	// Dominant penalty: committed credentials outweigh everything else in
	// this category and always surface as a risk.
	if len(facts.SecretsFiles) > 0 {
		s -= 40
		for _, name := range facts.SecretsFiles {
			card.risk("Secrets file committed: " + name)
		}
	}
	return s
}

func (e *Engine) codeQualitySafety(facts analyze.Facts, quality analyze.QualityMetrics, card *scorecard) int {
	s := 40
	if facts.HasReadme {
		s += 30
	} else {
		s -= 20
		card.risk("No README documentation")
	}
	if facts.HasTests {
		s += 20
		card.positive("Test suite present")
	} else {
		card.risk("No test suite detected")
	}
	if facts.HasLicense {
		s += 10
	} else {
		s -= 10
	}
	if e.weights.QualityPenalty && quality.TotalFilesAnalyzed > 0 && quality.QualityScore < e.weights.QualityFloor {
		s -= 10
		card.risk(fmt.Sprintf("Low code quality score (%d/100)", quality.QualityScore))
	}
	return s
}

// maintenancePosture scores commit recency against the snapshot's fetch
// time, never the wall clock, keeping scoring reproducible. Archived
// repositories score zero outright.
func (e *Engine) maintenancePosture(snap *forge.Snapshot, card *scorecard) int {
	if snap.Repo != nil && snap.Repo.Archived {
		card.risk("Repository is archived and no longer maintained")
		return 0
	}

	now := snap.FetchedAt
	recent := 0
	var newest time.Time
	for _, c := range snap.Commits {
		d := c.Commit.Author.Date
		if d.IsZero() {
			continue
		}
		if d.After(newest) {
			newest = d
		}
		if now.Sub(d) <= recentWindow {
			recent++
		}
	}

	s := 20
	switch {
	case recent >= activeCommits:
		s += 40
	case recent >= 1:
		s += 20
	}
	if !newest.IsZero() {
		switch age := now.Sub(newest); {
		case age < freshWindow:
			s += 30
			card.positive("Actively maintained: commits within the last month")
		case age > staleWindow:
			s -= 20
			card.risk("No commits in over a year")
		}
	}
	return s
}
