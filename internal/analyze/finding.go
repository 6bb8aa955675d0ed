// Package analyze implements the pattern analyzers that inspect a repository
// snapshot for security and supply-chain findings. Analyzers are independent,
// run concurrently over the same read-only snapshot, and aggregate by plain
// concatenation; the scoring engine consumes their output.
package analyze

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Severity classifies how bad a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for sorting, worst first.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// FindingType classifies which scoring axis a finding counts against.
type FindingType string

const (
	TypeDependency    FindingType = "dependency"
	TypeCodePattern   FindingType = "code_pattern"
	TypeConfiguration FindingType = "configuration"
)

// Vulnerability is a single flagged issue. Immutable once built; analyzers
// append to their own slices and the runner concatenates.
type Vulnerability struct {
	Severity    Severity    `json:"severity"`
	Type        FindingType `json:"type"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	CVE         string      `json:"cve_id,omitempty"`
	Details     string      `json:"details,omitempty"`
	Fingerprint string      `json:"fingerprint"`
}

// NewVulnerability builds a finding and stamps its fingerprint. Callers set
// CVE and Details on the returned value before appending.
func NewVulnerability(severity Severity, typ FindingType, description, location string) Vulnerability {
	return Vulnerability{
		Severity:    severity,
		Type:        typ,
		Description: description,
		Location:    location,
		Fingerprint: fingerprint(typ, description, location),
	}
}

// fingerprint derives a short stable id from the identity fields. Two scans
// of the same snapshot produce the same fingerprints, so downstream consumers
// can dedupe or reference findings across reports.
func fingerprint(typ FindingType, description, location string) string {
	sum := blake2b.Sum256([]byte(string(typ) + "\x00" + description + "\x00" + location))
	return hex.EncodeToString(sum[:8])
}

// TypeCounts breaks the summary down by finding type.
type TypeCounts struct {
	Dependency    int `json:"dependency"`
	CodePattern   int `json:"code_pattern"`
	Configuration int `json:"configuration"`
}

// Summary is the derived aggregate over a finding list. Total always equals
// both the severity sum and the type sum.
type Summary struct {
	TotalCount    int        `json:"total_count"`
	CriticalCount int        `json:"critical_count"`
	HighCount     int        `json:"high_count"`
	MediumCount   int        `json:"medium_count"`
	LowCount      int        `json:"low_count"`
	ByType        TypeCounts `json:"by_type"`
}

// Summarize counts findings per severity and per type. Pure function; empty
// input yields all zeros.
func Summarize(vulns []Vulnerability) Summary {
	var s Summary
	s.TotalCount = len(vulns)
	for _, v := range vulns {
		switch v.Severity {
		case SeverityCritical:
			s.CriticalCount++
		case SeverityHigh:
			s.HighCount++
		case SeverityMedium:
			s.MediumCount++
		case SeverityLow:
			s.LowCount++
		}
		switch v.Type {
		case TypeDependency:
			s.ByType.Dependency++
		case TypeCodePattern:
			s.ByType.CodePattern++
		case TypeConfiguration:
			s.ByType.Configuration++
		}
	}
	return s
}

// SortFindings orders a finding list worst-severity first, then by location
// and description. Aggregation order is analyzer-completion order, so the
// sort is what makes reports deterministic.
func SortFindings(vulns []Vulnerability) {
	sort.SliceStable(vulns, func(i, j int) bool {
		if severityRank[vulns[i].Severity] != severityRank[vulns[j].Severity] {
			return severityRank[vulns[i].Severity] < severityRank[vulns[j].Severity]
		}
		if vulns[i].Location != vulns[j].Location {
			return vulns[i].Location < vulns[j].Location
		}
		return vulns[i].Description < vulns[j].Description
	})
}

// location renders a file:line reference, or just the file when the line is
// unknown.
func location(file string, line int) string {
	if line <= 0 {
		return file
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// lineOf converts a byte offset into a 1-based line number.
func lineOf(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	return 1 + strings.Count(text[:offset], "\n")
}
