package score

import (
	"github.com/repovet/repovet/internal/analyze"
)

// SafetyBreakdown carries the five safety sub-scores and their weighted
// total, each clamped to [0,100]. JSON field names are part of the reporting
// contract; downstream consumers destructure them directly.
type SafetyBreakdown struct {
	Total              int `json:"total"`
	DependencyRisks    int `json:"dependency_risks"`
	CodeSecurity       int `json:"code_security"`
	ConfigHygiene      int `json:"config_hygiene"`
	CodeQuality        int `json:"code_quality"`
	MaintenancePosture int `json:"maintenance_posture"`
}

// LegitimacyBreakdown carries the five legitimacy sub-scores and their
// weighted total.
type LegitimacyBreakdown struct {
	Total            int `json:"total"`
	WorkingEvidence  int `json:"working_evidence"`
	Transparency     int `json:"transparency"`
	Community        int `json:"community"`
	AuthorReputation int `json:"author_reputation"`
	License          int `json:"license"`
}

// Breakdown nests both axes under their contract keys.
type Breakdown struct {
	Safety     SafetyBreakdown     `json:"safety"`
	Legitimacy LegitimacyBreakdown `json:"legitimacy"`
}

// Result is the final scoring artifact. It is written once per scan and
// never mutated; the persistence and emit layers receive it as-is.
type Result struct {
	SafetyScore        int                     `json:"safety_score"`
	LegitimacyScore    int                     `json:"legitimacy_score"`
	OverallScore       int                     `json:"overall_score"`
	Confidence         int                     `json:"confidence"`
	Breakdown          Breakdown               `json:"breakdown"`
	Notes              []string                `json:"notes"`
	RiskFactors        []string                `json:"risk_factors"`
	PositiveIndicators []string                `json:"positive_indicators"`
	Vulnerabilities    []analyze.Vulnerability `json:"vulnerabilities"`
	Summary            analyze.Summary         `json:"vulnerability_summary"`
	Quality            analyze.QualityMetrics  `json:"code_quality_metrics"`
}

// Grade maps the overall score onto the four advisory bands used in
// human-facing output.
func (r Result) Grade() string {
	switch {
	case r.OverallScore >= 75:
		return "low risk"
	case r.OverallScore >= 50:
		return "moderate risk"
	case r.OverallScore >= 25:
		return "high risk"
	default:
		return "critical risk"
	}
}

// scorecard accumulates the narrative lists while sub-scores are computed.
type scorecard struct {
	risks     []string
	positives []string
	notes     []string
}

func newScorecard() *scorecard {
	return &scorecard{
		risks:     []string{},
		positives: []string{},
		notes:     []string{},
	}
}

func (c *scorecard) risk(msg string)     { c.risks = append(c.risks, msg) }
func (c *scorecard) positive(msg string) { c.positives = append(c.positives, msg) }
func (c *scorecard) note(msg string)     { c.notes = append(c.notes, msg) }
