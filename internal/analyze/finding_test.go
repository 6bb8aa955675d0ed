package analyze

import "testing"

func TestSummarizeIdentities(t *testing.T) {
	tests := []struct {
		name  string
		vulns []Vulnerability
	}{
		{"empty", nil},
		{"single", []Vulnerability{
			NewVulnerability(SeverityCritical, TypeDependency, "bad dep", "package.json"),
		}},
		{"mixed", []Vulnerability{
			NewVulnerability(SeverityCritical, TypeDependency, "a", "f1"),
			NewVulnerability(SeverityHigh, TypeCodePattern, "b", "f2"),
			NewVulnerability(SeverityHigh, TypeCodePattern, "c", "f3"),
			NewVulnerability(SeverityMedium, TypeConfiguration, "d", "f4"),
			NewVulnerability(SeverityLow, TypeConfiguration, "e", "f5"),
			NewVulnerability(SeverityLow, TypeDependency, "f", "f6"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.vulns)
			if s.TotalCount != len(tt.vulns) {
				t.Errorf("total = %d, want %d", s.TotalCount, len(tt.vulns))
			}
			bySeverity := s.CriticalCount + s.HighCount + s.MediumCount + s.LowCount
			if bySeverity != s.TotalCount {
				t.Errorf("severity sum %d != total %d", bySeverity, s.TotalCount)
			}
			byType := s.ByType.Dependency + s.ByType.CodePattern + s.ByType.Configuration
			if byType != s.TotalCount {
				t.Errorf("type sum %d != total %d", byType, s.TotalCount)
			}
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	a := NewVulnerability(SeverityHigh, TypeCodePattern, "eval() executes arbitrary code", "app.js:3")
	b := NewVulnerability(SeverityHigh, TypeCodePattern, "eval() executes arbitrary code", "app.js:3")
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("identical findings got different fingerprints: %s vs %s", a.Fingerprint, b.Fingerprint)
	}
	if len(a.Fingerprint) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(a.Fingerprint))
	}

	c := NewVulnerability(SeverityHigh, TypeCodePattern, "eval() executes arbitrary code", "app.js:4")
	if a.Fingerprint == c.Fingerprint {
		t.Error("different locations share a fingerprint")
	}
}

func TestSortFindings(t *testing.T) {
	vulns := []Vulnerability{
		NewVulnerability(SeverityLow, TypeConfiguration, "z", "b"),
		NewVulnerability(SeverityCritical, TypeDependency, "a", "c"),
		NewVulnerability(SeverityMedium, TypeCodePattern, "m", "a"),
		NewVulnerability(SeverityCritical, TypeDependency, "a", "a"),
	}
	SortFindings(vulns)

	if vulns[0].Severity != SeverityCritical || vulns[0].Location != "a" {
		t.Errorf("first = %+v, want critical at a", vulns[0])
	}
	if vulns[1].Severity != SeverityCritical || vulns[1].Location != "c" {
		t.Errorf("second = %+v, want critical at c", vulns[1])
	}
	if vulns[3].Severity != SeverityLow {
		t.Errorf("last = %+v, want the low finding", vulns[3])
	}
}

func TestLineOf(t *testing.T) {
	text := "one\ntwo\nthree"
	tests := []struct {
		offset int
		want   int
	}{
		{0, 1},
		{3, 1},
		{4, 2},
		{8, 3},
		{999, 3}, // clamped to end
	}
	for _, tt := range tests {
		if got := lineOf(text, tt.offset); got != tt.want {
			t.Errorf("lineOf(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}
}
