package analyze

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
	"github.com/repovet/repovet/internal/normalize"
)

// PlatformSecurityScanner checks what the hosting platform itself knows:
// branch protection, security feature flags, and workflow action hygiene.
// Its workflow interpolation check deliberately overlaps the config
// scanner's; both run on every scan.
type PlatformSecurityScanner struct {
	tables  *Tables
	fetcher ContentFetcher
	log     *audit.Logger
}

func NewPlatformSecurityScanner(t *Tables, f ContentFetcher, log *audit.Logger) *PlatformSecurityScanner {
	return &PlatformSecurityScanner{tables: t, fetcher: f, log: log}
}

func (s *PlatformSecurityScanner) Name() string { return "platform-security" }

var (
	usesPattern       = regexp.MustCompile(`uses:\s*([\w./-]+)@([\w./-]+)`)
	actionTagPattern  = regexp.MustCompile(`^v(\d+)`)
	mutableActionRefs = map[string]bool{"main": true, "master": true, "latest": true}
)

func (s *PlatformSecurityScanner) Analyze(ctx context.Context, snap *forge.Snapshot) []Vulnerability {
	var vulns []Vulnerability

	if snap.Repo != nil {
		// Strict equality on the flag value: a missing or empty status is
		// not enabled, and only the literal "enabled" passes.
		var secretScanning, dependabot string
		if sa := snap.Repo.SecurityAndAnalysis; sa != nil {
			secretScanning = sa.SecretScanning.Status
			dependabot = sa.DependabotSecurityUpdates.Status
		}
		if secretScanning != "enabled" {
			vulns = append(vulns, NewVulnerability(SeverityMedium, TypeConfiguration,
				"Platform secret scanning is not enabled", "repository settings"))
		}
		if dependabot != "enabled" {
			vulns = append(vulns, NewVulnerability(SeverityMedium, TypeConfiguration,
				"Automated dependency security updates are not enabled", "repository settings"))
		}

		if branch := snap.Repo.DefaultBranch; branch != "" {
			if protected, ok := s.fetcher.BranchProtected(ctx, snap.Ref, branch); ok && !protected {
				vulns = append(vulns, NewVulnerability(SeverityMedium, TypeConfiguration,
					"Default branch has no protection rules", "branch:"+branch))
			}
		}
	}

	vulns = append(vulns, s.scanActionRefs(ctx, snap.Ref)...)
	return vulns
}

func (s *PlatformSecurityScanner) scanActionRefs(ctx context.Context, ref forge.RepoRef) []Vulnerability {
	var vulns []Vulnerability
	entries := s.fetcher.DirListing(ctx, ref, ".github/workflows")
	scanned := 0
	for _, e := range entries {
		if e.Type != "file" || (extOf(e.Name) != ".yml" && extOf(e.Name) != ".yaml") {
			continue
		}
		if scanned >= maxWorkflowFiles {
			break
		}
		scanned++
		content, ok := s.fetcher.FileContent(ctx, ref, e.Path)
		if !ok {
			continue
		}
		vulns = append(vulns, s.scanWorkflowActions(ref, e.Path, normalize.ForScan(content))...)
	}
	return vulns
}

func (s *PlatformSecurityScanner) scanWorkflowActions(ref forge.RepoRef, file, text string) (vulns []Vulnerability) {
	defer func() {
		if r := recover(); r != nil {
			s.log.LogAnalyzerError(ref.String(), s.Name(), fmt.Sprintf("panic scanning %s: %v", file, r))
			vulns = nil
		}
	}()

	for _, m := range usesPattern.FindAllStringSubmatchIndex(text, -1) {
		action := text[m[2]:m[3]]
		tag := text[m[4]:m[5]]
		line := lineOf(text, m[0])

		if mutableActionRefs[strings.ToLower(tag)] {
			v := NewVulnerability(SeverityMedium, TypeConfiguration,
				fmt.Sprintf("Action %s pinned to mutable ref %q", action, tag),
				location(file, line))
			v.Details = "ref can be rewritten after review"
			vulns = append(vulns, v)
			continue
		}
		if tm := actionTagPattern.FindStringSubmatch(tag); tm != nil {
			current, known := s.tables.ActionMajors[action]
			if major, err := strconv.Atoi(tm[1]); err == nil && known && major < current {
				vulns = append(vulns, NewVulnerability(SeverityLow, TypeConfiguration,
					fmt.Sprintf("Action %s uses outdated major version v%d (current v%d)", action, major, current),
					location(file, line)))
			}
		}
	}

	if m := untrustedContextPattern.FindStringIndex(text); m != nil {
		v := NewVulnerability(SeverityHigh, TypeConfiguration,
			"Untrusted expression interpolation in workflow",
			location(file, lineOf(text, m[0])))
		v.Details = "CWE-94"
		vulns = append(vulns, v)
	}
	return vulns
}
