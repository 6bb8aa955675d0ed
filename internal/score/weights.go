// Package score turns a repository snapshot, its findings, and its quality
// metrics into Safety and Legitimacy scores. The engine is a pure function
// of its inputs: the same snapshot and findings always produce the same
// Result. All tunable parameters live in Weights so divergent scoring
// profiles are configuration, not code forks.
package score

import "math"

// SafetyWeights blends the five safety sub-scores into the safety total.
type SafetyWeights struct {
	DependencyRisks    float64
	CodeSecurity       float64
	ConfigHygiene      float64
	CodeQuality        float64
	MaintenancePosture float64
}

// LegitimacyWeights blends the five legitimacy sub-scores.
type LegitimacyWeights struct {
	WorkingEvidence  float64
	Transparency     float64
	Community        float64
	AuthorReputation float64
	License          float64
}

// FindingPenalties are per-severity deductions applied to the sub-score
// matching a finding's type, before clamping.
type FindingPenalties struct {
	Critical int
	High     int
	Medium   int
	Low      int
}

// Weights parameterizes the scoring engine: category weights for both axes,
// the overall blend, finding penalties, the quality penalty toggle, and the
// confidence formula.
type Weights struct {
	Safety     SafetyWeights
	Legitimacy LegitimacyWeights

	// Overall = round(SafetyShare*safety + LegitimacyShare*legitimacy).
	SafetyShare     float64
	LegitimacyShare float64

	Penalties FindingPenalties

	// QualityPenalty subtracts from the safety code_quality sub-score when
	// the measured quality score falls below QualityFloor.
	QualityPenalty bool
	QualityFloor   int

	// Confidence = round(100 * (CompletenessWeight*completeness +
	// ProxyWeight*proxy)) where completeness is the fraction of fetch calls
	// that succeeded and proxy is 1.0 when both axis totals exceed 30,
	// else 0.5.
	CompletenessWeight float64
	ProxyWeight        float64
}

// DefaultWeights is the canonical scoring profile.
func DefaultWeights() Weights {
	return Weights{
		Safety: SafetyWeights{
			DependencyRisks:    0.30,
			CodeSecurity:       0.30,
			ConfigHygiene:      0.15,
			CodeQuality:        0.15,
			MaintenancePosture: 0.10,
		},
		Legitimacy: LegitimacyWeights{
			WorkingEvidence:  0.40,
			Transparency:     0.20,
			Community:        0.15,
			AuthorReputation: 0.15,
			License:          0.10,
		},
		SafetyShare:     0.45,
		LegitimacyShare: 0.55,
		Penalties: FindingPenalties{
			Critical: 20,
			High:     10,
			Medium:   5,
			Low:      2,
		},
		QualityPenalty:     true,
		QualityFloor:       40,
		CompletenessWeight: 0.6,
		ProxyWeight:        0.4,
	}
}

// LegacyLegitimacyWeights is the older legitimacy profile that weighted
// community and transparency more evenly. Selectable through configuration
// for score continuity with results produced under it.
func LegacyLegitimacyWeights() LegitimacyWeights {
	return LegitimacyWeights{
		WorkingEvidence:  0.25,
		Transparency:     0.20,
		Community:        0.25,
		AuthorReputation: 0.20,
		License:          0.10,
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round(f float64) int {
	return int(math.Round(f))
}
