package score

import (
	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/forge"
)

// Engine computes a Result from a snapshot and the analyzer outputs. Tables
// and weights are fixed at construction; Score never consults the clock,
// the network, or any other ambient state.
type Engine struct {
	weights Weights
	tables  *analyze.Tables
}

func NewEngine(w Weights, t *analyze.Tables) *Engine {
	return &Engine{weights: w, tables: t}
}

// Score produces the final scoring artifact. Scoring the same inputs twice
// yields an identical Result.
func (e *Engine) Score(snap *forge.Snapshot, vulns []analyze.Vulnerability, summary analyze.Summary, quality analyze.QualityMetrics) Result {
	if vulns == nil {
		vulns = []analyze.Vulnerability{}
	}
	if quality.Issues == nil {
		quality.Issues = []string{}
	}

	card := newScorecard()
	for _, part := range snap.Fetched.Degraded() {
		card.note("Incomplete data: " + part + " could not be fetched")
	}
	if len(snap.Files) == 0 {
		card.note("Repository file listing is empty")
	}

	facts := analyze.SurveyListing(e.tables, snap.Files)
	safety := e.safetyBreakdown(snap, facts, vulns, quality, card)
	legitimacy := e.legitimacyBreakdown(snap, facts, card)

	overall := clamp(round(
		e.weights.SafetyShare*float64(safety.Total) +
			e.weights.LegitimacyShare*float64(legitimacy.Total)))

	return Result{
		SafetyScore:        safety.Total,
		LegitimacyScore:    legitimacy.Total,
		OverallScore:       overall,
		Confidence:         e.confidence(snap.Fetched, safety.Total, legitimacy.Total),
		Breakdown:          Breakdown{Safety: safety, Legitimacy: legitimacy},
		Notes:              card.notes,
		RiskFactors:        card.risks,
		PositiveIndicators: card.positives,
		Vulnerabilities:    vulns,
		Summary:            summary,
		Quality:            quality,
	}
}

// confidence blends fetch completeness with a coarse both-axes-scored
// proxy, reported as an integer percentage.
func (e *Engine) confidence(fetched forge.FetchStatus, safetyTotal, legitimacyTotal int) int {
	proxy := 0.5
	if safetyTotal > 30 && legitimacyTotal > 30 {
		proxy = 1.0
	}
	v := 100 * (e.weights.CompletenessWeight*fetched.Completeness() + e.weights.ProxyWeight*proxy)
	return clamp(round(v))
}
