package analyze

import (
	"context"
	"fmt"
	"strings"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
	"github.com/repovet/repovet/internal/normalize"
)

// SupplyChainScanner inspects parsed dependencies for typosquatting,
// deprecated packages, license-family conflicts, and dependency sprawl.
type SupplyChainScanner struct {
	tables  *Tables
	fetcher ContentFetcher
	log     *audit.Logger
}

func NewSupplyChainScanner(t *Tables, f ContentFetcher, log *audit.Logger) *SupplyChainScanner {
	return &SupplyChainScanner{tables: t, fetcher: f, log: log}
}

func (s *SupplyChainScanner) Name() string { return "supply-chain" }

func (s *SupplyChainScanner) Analyze(ctx context.Context, snap *forge.Snapshot) []Vulnerability {
	deps := FetchDependencies(ctx, s.fetcher, snap)
	if len(deps) == 0 {
		return nil
	}

	popular := make(map[string]bool, len(s.tables.PopularPackages))
	for _, p := range s.tables.PopularPackages {
		popular[p] = true
	}

	var vulns []Vulnerability
	for _, dep := range deps {
		name := strings.ToLower(dep.Name)
		base := scopeBase(name)

		if v, ok := s.checkTyposquat(base, dep, popular); ok {
			vulns = append(vulns, v)
		}
		if note, ok := s.tables.DeprecatedPackages[name]; ok {
			v := NewVulnerability(SeverityLow, TypeDependency,
				fmt.Sprintf("Deprecated package %s", dep.Name), dep.Source)
			v.Details = note
			vulns = append(vulns, v)
		}
	}

	vulns = append(vulns, s.checkLicenseConflict(snap, deps)...)

	if len(deps) > s.tables.MaxDirectDeps {
		v := NewVulnerability(SeverityLow, TypeDependency,
			fmt.Sprintf("Large direct dependency count (%d)", len(deps)),
			deps[0].Source)
		v.Details = "wide supply-chain attack surface"
		vulns = append(vulns, v)
	}
	return vulns
}

// checkTyposquat compares a dependency name against the popular list. An
// exact match is the real package and is never flagged; a homoglyph
// skeleton match or an edit distance of one is. Very short names are
// skipped because one edit swamps them.
func (s *SupplyChainScanner) checkTyposquat(base string, dep Dependency, popular map[string]bool) (Vulnerability, bool) {
	if popular[base] || len(base) < 4 {
		return Vulnerability{}, false
	}
	skel := normalize.Skeleton(base)
	for _, p := range s.tables.PopularPackages {
		if skel == p {
			v := NewVulnerability(SeverityHigh, TypeDependency,
				fmt.Sprintf("Dependency %q is a look-alike of popular package %q", dep.Name, p),
				dep.Source)
			v.Details = "homoglyph characters in package name"
			return v, true
		}
		if osaDistance(skel, p) == 1 {
			v := NewVulnerability(SeverityHigh, TypeDependency,
				fmt.Sprintf("Dependency %q closely resembles popular package %q", dep.Name, p),
				dep.Source)
			v.Details = "possible typosquat"
			return v, true
		}
	}
	return Vulnerability{}, false
}

// checkLicenseConflict flags GPL-named dependencies inside a permissively
// licensed project.
func (s *SupplyChainScanner) checkLicenseConflict(snap *forge.Snapshot, deps []Dependency) []Vulnerability {
	if snap.Repo == nil || snap.Repo.License == nil {
		return nil
	}
	key := strings.ToLower(snap.Repo.License.Key)
	permissive := false
	for _, fam := range s.tables.PermissiveLicenses {
		if strings.Contains(key, fam) {
			permissive = true
			break
		}
	}
	if !permissive {
		return nil
	}

	var vulns []Vulnerability
	for _, dep := range deps {
		if strings.Contains(strings.ToLower(dep.Name), "gpl") {
			v := NewVulnerability(SeverityMedium, TypeDependency,
				fmt.Sprintf("GPL-named dependency %s under a permissive project license", dep.Name),
				dep.Source)
			v.Details = "license-family conflict"
			vulns = append(vulns, v)
		}
	}
	return vulns
}

// scopeBase strips an npm scope so @types/react compares as react.
func scopeBase(name string) string {
	if strings.HasPrefix(name, "@") {
		if i := strings.Index(name, "/"); i >= 0 {
			return name[i+1:]
		}
	}
	return name
}

// osaDistance is the optimal string alignment distance: Levenshtein plus
// adjacent transposition, the standard typosquat measure.
func osaDistance(a, b string) int {
	ar, br := []rune(a), []rune(b)
	la, lb := len(ar), len(br)
	d := make([][]int, la+1)
	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ar[i-1] == br[j-2] && ar[i-2] == br[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+1)
			}
		}
	}
	return d[la][lb]
}
