package analyze

import (
	"fmt"
	"math"
	"path"
	"slices"
	"strings"

	"github.com/repovet/repovet/internal/forge"
)

// Per-analyzer work bounds. Content fetches dominate scan latency, so each
// content-scanning analyzer samples at most maxContentFiles files and each
// rule reports at most maxMatchesPerRule hits per file.
const (
	maxContentFiles   = 20
	maxMatchesPerRule = 10
	maxWorkflowFiles  = 10
)

// sampleCodeFiles bounds a candidate list to the analyzer file cap,
// preserving listing order.
func sampleCodeFiles(files []forge.FileEntry) []forge.FileEntry {
	if len(files) > maxContentFiles {
		return files[:maxContentFiles]
	}
	return files
}

func extOf(name string) string {
	return strings.ToLower(path.Ext(name))
}

// shannonEntropy measures bits per character over a token. Used to separate
// real credentials from placeholder values that match a secret pattern.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}
	var h float64
	for _, count := range freq {
		p := float64(count) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// looksPlaceholder filters tokens that are documentation values rather than
// live credentials.
func looksPlaceholder(token string) bool {
	lower := strings.ToLower(token)
	for _, marker := range []string{
		"example", "changeme", "change_me", "placeholder", "your_", "your-",
		"xxxx", "${", "<", "%s", "dummy", "sample",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// matchSecrets applies the secret patterns to normalized file text.
// The matched token itself is never copied into the finding; only its
// length is reported.
func matchSecrets(patterns []SecretPattern, text, file string) []Vulnerability {
	var vulns []Vulnerability
	for _, p := range patterns {
		idx := p.Pattern.SubexpIndex("token")
		for _, m := range p.Pattern.FindAllStringSubmatchIndex(text, maxMatchesPerRule) {
			token := text[m[0]:m[1]]
			if idx > 0 && m[2*idx] >= 0 {
				token = text[m[2*idx] : m[2*idx+1]]
			}
			if len(token) < p.MinLen {
				continue
			}
			if p.MinEntropy > 0 && shannonEntropy(token) < p.MinEntropy {
				continue
			}
			if looksPlaceholder(token) {
				continue
			}
			v := NewVulnerability(p.Severity, TypeCodePattern,
				fmt.Sprintf("Possible hardcoded %s", p.Name),
				location(file, lineOf(text, m[0])))
			v.Details = fmt.Sprintf("token length %d", len(token))
			vulns = append(vulns, v)
		}
	}
	return vulns
}

// matchRules applies generic pattern rules to normalized file text,
// honoring each rule's extension filter.
func matchRules(rules []PatternRule, ext, text, file string, typ FindingType) []Vulnerability {
	var vulns []Vulnerability
	for _, r := range rules {
		if len(r.Exts) > 0 && !slices.Contains(r.Exts, ext) {
			continue
		}
		for _, m := range r.Pattern.FindAllStringIndex(text, maxMatchesPerRule) {
			v := NewVulnerability(r.Severity, typ, r.Description,
				location(file, lineOf(text, m[0])))
			v.Details = r.Name
			if r.CWE != "" {
				v.Details = r.Name + " (" + r.CWE + ")"
			}
			vulns = append(vulns, v)
		}
	}
	return vulns
}
