package score

import (
	"math"
	"strings"
	"time"

	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/forge"
)

const (
	minDescriptionLen = 30

	// Community bonuses apply above these counts; below nearZeroStars the
	// repository is flagged instead.
	contributorFloor = 5
	forkFloor        = 10
	nearZeroStars    = 2

	contributorBonus = 15
	forkBonus        = 10

	youngAccount   = 90 * 24 * time.Hour
	matureAccount  = 2 * 365 * 24 * time.Hour
	prolificOwner  = 5
	starLogDivisor = 4
)

func (e *Engine) legitimacyBreakdown(snap *forge.Snapshot, facts analyze.Facts, card *scorecard) LegitimacyBreakdown {
	b := LegitimacyBreakdown{
		WorkingEvidence:  clamp(e.workingEvidence(facts, card)),
		Transparency:     clamp(e.transparency(snap, facts, card)),
		Community:        clamp(e.community(snap, card)),
		AuthorReputation: clamp(e.authorReputation(snap, card)),
		License:          clamp(e.licenseScore(snap, card)),
	}

	w := e.weights.Legitimacy
	b.Total = clamp(round(
		w.WorkingEvidence*float64(b.WorkingEvidence) +
			w.Transparency*float64(b.Transparency) +
			w.Community*float64(b.Community) +
			w.AuthorReputation*float64(b.AuthorReputation) +
			w.License*float64(b.License)))
	return b
}

// workingEvidence rewards artifacts suggesting the project actually builds
// and runs: pinned dependencies, container builds, examples, CI.
func (e *Engine) workingEvidence(facts analyze.Facts, card *scorecard) int {
	s := 30
	if facts.HasLockfile {
		s += 20
	}
	if facts.HasDockerfile {
		s += 15
	}
	if facts.HasExamples {
		s += 20
		card.positive("Examples or demos provided")
	} else {
		card.risk("No examples or demos showing the project in use")
	}
	if facts.HasCI {
		s += 15
		card.positive("Continuous integration configured")
	}
	return s
}

func (e *Engine) transparency(snap *forge.Snapshot, facts analyze.Facts, card *scorecard) int {
	s := 20
	if facts.HasReadme {
		s += 35
	} else {
		s -= 20
	}

	description := ""
	if snap.Repo != nil {
		description = strings.TrimSpace(snap.Repo.Description)
	}
	if len(description) >= minDescriptionLen {
		s += 20
	} else {
		card.risk("Short or missing repository description")
	}

	if facts.HasContributing {
		s += 15
	}
	if facts.HasChangelog {
		s += 10
	}
	return s
}

// community log-scales the star count so a handful of viral repositories
// cannot saturate the signal, then adds flat bonuses for contributor and
// fork counts above their floors.
func (e *Engine) community(snap *forge.Snapshot, card *scorecard) int {
	stars, forks := 0, 0
	if snap.Repo != nil {
		stars = snap.Repo.Stars
		forks = snap.Repo.Forks
	}

	s := 20.0
	starSignal := math.Log10(float64(stars)+1) / starLogDivisor * 100
	if starSignal > 100 {
		starSignal = 100
	}
	s += starSignal * 0.40

	if len(snap.Contributors) > contributorFloor {
		s += contributorBonus
		card.positive("Multiple active contributors")
	}
	if forks > forkFloor {
		s += forkBonus
	}

	if len(snap.Contributors) == 1 {
		card.risk("Single contributor; no second set of eyes on changes")
	}
	if stars < nearZeroStars {
		card.risk("Near-zero community engagement")
	}
	return round(s)
}

func (e *Engine) authorReputation(snap *forge.Snapshot, card *scorecard) int {
	s := 40
	owner := snap.Owner
	if owner == nil {
		return s
	}

	if strings.EqualFold(owner.Type, "Organization") {
		s += 30
		card.positive("Owned by an organization account")
	}
	if !owner.CreatedAt.IsZero() {
		switch age := snap.FetchedAt.Sub(owner.CreatedAt); {
		case age > matureAccount:
			s += 20
		case age < youngAccount:
			s -= 10
			card.risk("Owner account created less than 90 days ago")
		}
	}
	if owner.PublicRepos > prolificOwner {
		s += 10
	}
	return s
}

func (e *Engine) licenseScore(snap *forge.Snapshot, card *scorecard) int {
	if snap.Repo == nil || snap.Repo.License == nil {
		card.risk("No license declared")
		return 30
	}

	lic := snap.Repo.License
	name := strings.ToLower(lic.Key + " " + lic.Name)
	for _, family := range e.tables.PopularLicenses {
		if strings.Contains(name, family) {
			card.positive("Recognized open-source license: " + lic.Name)
			return 70 + 30
		}
	}
	return 70 + 10
}
