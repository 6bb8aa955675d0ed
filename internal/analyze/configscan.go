package analyze

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/forge"
	"github.com/repovet/repovet/internal/normalize"
)

// ConfigScanner flags committed secrets files and dangerous configuration:
// Dockerfile hygiene, CI workflow injection vectors, and permissive server
// or proxy settings.
type ConfigScanner struct {
	tables  *Tables
	fetcher ContentFetcher
	log     *audit.Logger
}

func NewConfigScanner(t *Tables, f ContentFetcher, log *audit.Logger) *ConfigScanner {
	return &ConfigScanner{tables: t, fetcher: f, log: log}
}

func (s *ConfigScanner) Name() string { return "config" }

var (
	dockerSecretPattern = regexp.MustCompile(`(?i)^(?:ENV|ARG)\s+\w*(?:password|secret|token|api_?key|private_key)\w*[ =]+(\S+)`)
	pipeToShellPattern  = regexp.MustCompile(`(?i)(?:curl|wget)[^|\n]*\|\s*(?:sudo\s+)?(?:ba|z)?sh\b`)

	untrustedContextPattern = regexp.MustCompile(`\$\{\{[^}]*(?:github\.event\.|github\.head_ref)[^}]*\}\}`)
	checkoutHeadPattern     = regexp.MustCompile(`ref:\s*\$\{\{\s*github\.event\.pull_request\.head`)

	corsAnyOriginPattern = regexp.MustCompile(`(?i)(?:Access-Control-Allow-Origin["'\s:,=]*\*|\borigin\s*:\s*["']\*["'])`)
)

func (s *ConfigScanner) Analyze(ctx context.Context, snap *forge.Snapshot) []Vulnerability {
	facts := SurveyListing(s.tables, snap.Files)
	var vulns []Vulnerability

	for _, name := range facts.SecretsFiles {
		vulns = append(vulns, NewVulnerability(SeverityCritical, TypeConfiguration,
			"Secrets file committed to the repository", name))
	}

	if facts.HasDockerfile {
		vulns = append(vulns, s.scanDockerfile(ctx, snap.Ref, facts.DockerfileName)...)
	}
	vulns = append(vulns, s.scanWorkflows(ctx, snap.Ref)...)
	vulns = append(vulns, s.scanServerFiles(ctx, snap.Ref, snap.Files)...)
	return vulns
}

func (s *ConfigScanner) scanDockerfile(ctx context.Context, ref forge.RepoRef, name string) (vulns []Vulnerability) {
	defer func() {
		if r := recover(); r != nil {
			s.log.LogAnalyzerError(ref.String(), s.Name(), fmt.Sprintf("panic scanning %s: %v", name, r))
			vulns = nil
		}
	}()

	content, ok := s.fetcher.FileContent(ctx, ref, name)
	if !ok {
		return nil
	}
	text := normalize.ForScan(content)

	hasUser := false
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		fields := strings.Fields(trimmed)
		if len(fields) == 0 {
			continue
		}
		lineNo := i + 1

		switch strings.ToUpper(fields[0]) {
		case "FROM":
			if v, bad := checkBaseImage(fields, name, lineNo); bad {
				vulns = append(vulns, v)
			}
		case "USER":
			hasUser = true
			if len(fields) > 1 && strings.EqualFold(fields[1], "root") {
				vulns = append(vulns, NewVulnerability(SeverityMedium, TypeConfiguration,
					"Container explicitly runs as root", location(name, lineNo)))
			}
		}

		if m := dockerSecretPattern.FindStringSubmatch(trimmed); m != nil && !looksPlaceholder(m[1]) {
			vulns = append(vulns, NewVulnerability(SeverityHigh, TypeConfiguration,
				"Secret value baked into the image", location(name, lineNo)))
		}
		if pipeToShellPattern.MatchString(trimmed) {
			vulns = append(vulns, NewVulnerability(SeverityHigh, TypeConfiguration,
				"Remote script piped straight into a shell", location(name, lineNo)))
		}
	}

	if !hasUser {
		vulns = append(vulns, NewVulnerability(SeverityLow, TypeConfiguration,
			"No USER instruction; container runs as root", name))
	}
	return vulns
}

// checkBaseImage judges a FROM line. Digest-pinned, variable, and scratch
// images pass; :latest and untagged images are flagged.
func checkBaseImage(fields []string, file string, lineNo int) (Vulnerability, bool) {
	image := ""
	for _, f := range fields[1:] {
		if !strings.HasPrefix(f, "--") {
			image = f
			break
		}
	}
	switch {
	case image == "" || image == "scratch",
		strings.HasPrefix(image, "$"),
		strings.Contains(image, "@"):
		return Vulnerability{}, false
	case strings.HasSuffix(image, ":latest"):
		return NewVulnerability(SeverityMedium, TypeConfiguration,
			"Base image pinned to :latest", location(file, lineNo)), true
	case !strings.Contains(image, ":"):
		return NewVulnerability(SeverityMedium, TypeConfiguration,
			"Untagged base image defaults to :latest", location(file, lineNo)), true
	}
	return Vulnerability{}, false
}

func (s *ConfigScanner) scanWorkflows(ctx context.Context, ref forge.RepoRef) []Vulnerability {
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
		if content, ok := s.fetcher.FileContent(ctx, ref, e.Path); ok {
			vulns = append(vulns, s.scanWorkflow(ref, e.Path, normalize.ForScan(content))...)
		}
	}
	return vulns
}

func (s *ConfigScanner) scanWorkflow(ref forge.RepoRef, file, text string) (vulns []Vulnerability) {
	defer func() {
		if r := recover(); r != nil {
			s.log.LogAnalyzerError(ref.String(), s.Name(), fmt.Sprintf("panic scanning %s: %v", file, r))
			vulns = nil
		}
	}()

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil || len(root.Content) == 0 {
		return scanWorkflowRaw(file, text)
	}
	doc := root.Content[0]

	// Untrusted event context interpolated into run blocks is script
	// injection: the expression expands before the shell parses the script.
	walkRunBlocks(doc, func(run *yaml.Node) {
		if untrustedContextPattern.MatchString(run.Value) {
			v := NewVulnerability(SeverityHigh, TypeConfiguration,
				"Untrusted event context interpolated into a run block",
				location(file, run.Line))
			v.Details = "CWE-94"
			vulns = append(vulns, v)
		}
	})

	if workflowHasTrigger(doc, "pull_request_target") {
		if m := checkoutHeadPattern.FindStringIndex(text); m != nil {
			v := NewVulnerability(SeverityCritical, TypeConfiguration,
				"pull_request_target workflow checks out the PR head",
				location(file, lineOf(text, m[0])))
			v.Details = "untrusted code runs with secrets access"
			vulns = append(vulns, v)
		}
	}

	if !workflowHasPermissions(doc) {
		vulns = append(vulns, NewVulnerability(SeverityLow, TypeConfiguration,
			"Workflow has no explicit permissions block", file))
	}
	return vulns
}

// scanWorkflowRaw is the fallback for workflows that do not parse as YAML.
func scanWorkflowRaw(file, text string) []Vulnerability {
	var vulns []Vulnerability
	if m := untrustedContextPattern.FindStringIndex(text); m != nil {
		v := NewVulnerability(SeverityHigh, TypeConfiguration,
			"Untrusted event context interpolated into a run block",
			location(file, lineOf(text, m[0])))
		v.Details = "CWE-94"
		vulns = append(vulns, v)
	}
	if strings.Contains(text, "pull_request_target") {
		if m := checkoutHeadPattern.FindStringIndex(text); m != nil {
			v := NewVulnerability(SeverityCritical, TypeConfiguration,
				"pull_request_target workflow checks out the PR head",
				location(file, lineOf(text, m[0])))
			v.Details = "untrusted code runs with secrets access"
			vulns = append(vulns, v)
		}
	}
	if !strings.Contains(text, "permissions:") {
		vulns = append(vulns, NewVulnerability(SeverityLow, TypeConfiguration,
			"Workflow has no explicit permissions block", file))
	}
	return vulns
}

// mapValue returns the value node for key in a mapping node. Raw key text is
// compared, which sidesteps YAML's resolution of bare "on" keys.
func mapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// walkRunBlocks visits every scalar value under a "run" mapping key.
func walkRunBlocks(n *yaml.Node, fn func(*yaml.Node)) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			walkRunBlocks(c, fn)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Value == "run" && v.Kind == yaml.ScalarNode {
				fn(v)
			}
			walkRunBlocks(v, fn)
		}
	}
}

// workflowHasTrigger reports whether the on: section names trigger, in any
// of its scalar, sequence, or mapping forms.
func workflowHasTrigger(doc *yaml.Node, trigger string) bool {
	on := mapValue(doc, "on")
	if on == nil {
		return false
	}
	switch on.Kind {
	case yaml.ScalarNode:
		return on.Value == trigger
	case yaml.SequenceNode:
		for _, c := range on.Content {
			if c.Value == trigger {
				return true
			}
		}
	case yaml.MappingNode:
		return mapValue(on, trigger) != nil
	}
	return false
}

// workflowHasPermissions accepts either a top-level permissions block or one
// on every job.
func workflowHasPermissions(doc *yaml.Node) bool {
	if mapValue(doc, "permissions") != nil {
		return true
	}
	jobs := mapValue(doc, "jobs")
	if jobs == nil || jobs.Kind != yaml.MappingNode || len(jobs.Content) == 0 {
		return false
	}
	for i := 0; i+1 < len(jobs.Content); i += 2 {
		if mapValue(jobs.Content[i+1], "permissions") == nil {
			return false
		}
	}
	return true
}

// serverFileNames are root entries worth checking for permissive CORS and
// missing security headers.
var serverFileNames = map[string]bool{
	"nginx.conf": true, "caddyfile": true, "haproxy.cfg": true,
	"server.js": true, "app.js": true, "index.js": true, "main.js": true,
	"app.py": true, "main.py": true, "server.py": true, "wsgi.py": true,
}

func (s *ConfigScanner) scanServerFiles(ctx context.Context, ref forge.RepoRef, files []forge.FileEntry) []Vulnerability {
	var vulns []Vulnerability
	for _, e := range files {
		if e.Type != "file" || !serverFileNames[strings.ToLower(e.Name)] {
			continue
		}
		content, ok := s.fetcher.FileContent(ctx, ref, e.Path)
		if !ok {
			continue
		}
		text := normalize.ForScan(content)

		if m := corsAnyOriginPattern.FindStringIndex(text); m != nil {
			vulns = append(vulns, NewVulnerability(SeverityMedium, TypeConfiguration,
				"CORS configured to allow any origin", location(e.Path, lineOf(text, m[0]))))
		}

		lower := strings.ToLower(e.Name)
		switch {
		case lower == "nginx.conf" || lower == "caddyfile" || lower == "haproxy.cfg":
			if !strings.Contains(text, "X-Frame-Options") &&
				!strings.Contains(text, "Content-Security-Policy") &&
				!strings.Contains(text, "Strict-Transport-Security") {
				vulns = append(vulns, NewVulnerability(SeverityLow, TypeConfiguration,
					"Proxy config sets no security headers", e.Path))
			}
		case strings.HasSuffix(lower, ".js"):
			if strings.Contains(text, "express(") && !strings.Contains(text, "helmet") {
				vulns = append(vulns, NewVulnerability(SeverityLow, TypeConfiguration,
					"Express app without security-header middleware", e.Path))
			}
		}
	}
	return vulns
}
