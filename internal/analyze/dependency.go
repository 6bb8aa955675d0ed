package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
)

// Dependency is one direct dependency parsed out of a manifest.
type Dependency struct {
	Name   string
	Spec   string
	Dev    bool
	Source string // manifest file it was parsed from
}

// ParsePackageJSON extracts direct dependencies (runtime and dev) from a
// package.json document. Returns nil when the document does not parse.
func ParsePackageJSON(content string) []Dependency {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &manifest); err != nil {
		return nil
	}

	deps := make([]Dependency, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name, spec := range manifest.Dependencies {
		deps = append(deps, Dependency{Name: name, Spec: spec, Source: "package.json"})
	}
	for name, spec := range manifest.DevDependencies {
		deps = append(deps, Dependency{Name: name, Spec: spec, Dev: true, Source: "package.json"})
	}
	return deps
}

// ParseRequirements extracts pinned and unpinned entries from a
// requirements.txt. Comments, pip option lines, and includes are skipped.
func ParseRequirements(content string) []Dependency {
	var deps []Dependency
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		// Drop environment markers and inline comments.
		if i := strings.IndexAny(line, ";#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		name := line
		spec := ""
		for _, op := range []string{"==", ">=", "<=", "~=", "!=", ">", "<"} {
			if i := strings.Index(line, op); i >= 0 {
				name = strings.TrimSpace(line[:i])
				spec = strings.TrimSpace(line[i:])
				break
			}
		}
		// Strip extras: package[extra] installs the same package.
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		if name == "" {
			continue
		}
		deps = append(deps, Dependency{Name: name, Spec: spec, Source: "requirements.txt"})
	}
	return deps
}

// cleanVersion strips range operators and prefixes down to the bare version
// a spec resolves to at minimum.
func cleanVersion(spec string) string {
	spec = strings.TrimSpace(spec)
	spec = strings.TrimLeft(spec, "^~=<>!v ")
	if i := strings.IndexAny(spec, " ,"); i >= 0 {
		spec = spec[:i]
	}
	return spec
}

// isWildcardSpec reports whether a version spec pins nothing at all.
func isWildcardSpec(spec string) bool {
	switch strings.TrimSpace(spec) {
	case "*", "latest", "x":
		return true
	}
	return false
}

// versionLess compares dotted version strings numerically field by field,
// falling back to string comparison for non-numeric fields. Good enough for
// "is this below the fixed release" checks against the embedded table.
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var af, bf string
		if i < len(as) {
			af = as[i]
		}
		if i < len(bs) {
			bf = bs[i]
		}
		an, aerr := strconv.Atoi(af)
		bn, berr := strconv.Atoi(bf)
		if aerr == nil && berr == nil {
			if an != bn {
				return an < bn
			}
			continue
		}
		if af != bf {
			return af < bf
		}
	}
	return false
}

// matchVulnerable reports whether a dependency spec falls inside a table
// entry's affected range. Wildcard specs cannot be placed in a version
// range, but packages that are bad at any version still match.
func matchVulnerable(entry VulnerablePackage, spec string) bool {
	if len(entry.Versions) == 0 && entry.Below == "" {
		return true
	}
	if isWildcardSpec(spec) {
		return false
	}
	v := cleanVersion(spec)
	for _, bad := range entry.Versions {
		if v == bad {
			return true
		}
	}
	if entry.Below != "" && v != "" {
		return versionLess(v, entry.Below)
	}
	return false
}

// DependencyScanner flags known-vulnerable and unpinned direct dependencies
// in the manifests found at the repository root.
type DependencyScanner struct {
	tables  *Tables
	fetcher ContentFetcher
	log     *audit.Logger
}

func NewDependencyScanner(t *Tables, f ContentFetcher, log *audit.Logger) *DependencyScanner {
	return &DependencyScanner{tables: t, fetcher: f, log: log}
}

func (s *DependencyScanner) Name() string { return "dependency" }

func (s *DependencyScanner) Analyze(ctx context.Context, snap *forge.Snapshot) []Vulnerability {
	var vulns []Vulnerability
	for _, dep := range FetchDependencies(ctx, s.fetcher, snap) {
		entry, known := s.tables.VulnerablePackages[strings.ToLower(dep.Name)]
		switch {
		case known && matchVulnerable(entry, dep.Spec):
			v := NewVulnerability(entry.Severity, TypeDependency,
				fmt.Sprintf("Known-vulnerable dependency %s %s: %s", dep.Name, dep.Spec, entry.Note),
				dep.Source)
			v.CVE = entry.CVE
			if dep.Dev {
				v.Details = "devDependency"
			}
			vulns = append(vulns, v)
		case isWildcardSpec(dep.Spec):
			v := NewVulnerability(SeverityMedium, TypeDependency,
				fmt.Sprintf("Dependency %s uses wildcard version %q", dep.Name, dep.Spec),
				dep.Source)
			vulns = append(vulns, v)
		case dep.Spec == "" && dep.Source == "requirements.txt":
			v := NewVulnerability(SeverityLow, TypeDependency,
				fmt.Sprintf("Dependency %s is not pinned to a version", dep.Name),
				dep.Source)
			vulns = append(vulns, v)
		}
	}
	return vulns
}

// FetchDependencies pulls and parses the supported manifests named in the
// root listing. Shared by the dependency scanner, the supply-chain scanner,
// and the SBOM builder; each caller fetches independently.
func FetchDependencies(ctx context.Context, fetcher ContentFetcher, snap *forge.Snapshot) []Dependency {
	var deps []Dependency
	for _, e := range snap.Files {
		if e.Type != "file" {
			continue
		}
		switch strings.ToLower(e.Name) {
		case "package.json":
			if content, ok := fetcher.FileContent(ctx, snap.Ref, e.Path); ok {
				deps = append(deps, ParsePackageJSON(content)...)
			}
		case "requirements.txt":
			if content, ok := fetcher.FileContent(ctx, snap.Ref, e.Path); ok {
				deps = append(deps, ParseRequirements(content)...)
			}
		}
	}
	return deps
}
