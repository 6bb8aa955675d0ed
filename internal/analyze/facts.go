package analyze

import (
	"path"
	"strings"

	"github.com/repovet/repovet/internal/forge"
)

// Facts are listing-level observations shared by the analyzers and the
// scoring engine: which well-known files exist and which entries deserve a
// closer look. Derived once per scan from the root file listing; content is
// never consulted here.
type Facts struct {
	HasManifest       bool
	ManifestNames     []string
	HasLockfile       bool
	HasGitignore      bool
	HasReadme         bool
	HasLicense        bool
	HasTests          bool
	HasCI             bool
	HasDockerfile     bool
	DockerfileName    string
	HasSecurityPolicy bool
	HasContributing   bool
	HasChangelog      bool
	HasExamples       bool
	SecretsFiles      []string
	BinaryFiles       []string
	ScriptFiles       []string
	CodeFiles         []forge.FileEntry
}

// SurveyListing walks the root listing once and records the facts. Name
// comparisons are case-insensitive; paths in the returned slices keep their
// original casing so findings point at real entries.
func SurveyListing(t *Tables, files []forge.FileEntry) Facts {
	var f Facts

	present := make(map[string]bool, len(files))
	for _, e := range files {
		present[strings.ToLower(e.Name)] = true
	}

	for _, e := range files {
		name := strings.ToLower(e.Name)
		stem := strings.TrimSuffix(name, path.Ext(name))
		ext := path.Ext(name)

		if e.Type == "dir" {
			switch name {
			case "test", "tests", "__tests__", "spec":
				f.HasTests = true
			case "examples", "example", "demo", "demos", "samples":
				f.HasExamples = true
			case ".github", ".circleci":
				f.HasCI = true
			}
			continue
		}

		if _, ok := t.ManifestLockfiles[name]; ok {
			f.HasManifest = true
			f.ManifestNames = append(f.ManifestNames, e.Name)
		}

		switch {
		case name == ".gitignore":
			f.HasGitignore = true
		case stem == "readme":
			f.HasReadme = true
		case stem == "license" || stem == "licence" || stem == "copying":
			f.HasLicense = true
		case stem == "contributing":
			f.HasContributing = true
		case stem == "changelog" || stem == "changes" || stem == "history":
			f.HasChangelog = true
		case stem == "security":
			f.HasSecurityPolicy = true
		case name == "dockerfile" || strings.HasPrefix(name, "dockerfile."):
			f.HasDockerfile = true
			f.DockerfileName = e.Name
		case name == ".travis.yml" || name == ".gitlab-ci.yml" ||
			name == "azure-pipelines.yml" || name == "jenkinsfile":
			f.HasCI = true
		}

		if strings.Contains(name, ".test.") || strings.Contains(name, "_test.") ||
			strings.Contains(name, ".spec.") {
			f.HasTests = true
		}

		if isSecretsFile(name) {
			f.SecretsFiles = append(f.SecretsFiles, e.Name)
		}
		if _, ok := t.BinaryPenalties[ext]; ok {
			f.BinaryFiles = append(f.BinaryFiles, e.Name)
		}
		if t.ScriptExtensions[ext] {
			f.ScriptFiles = append(f.ScriptFiles, e.Name)
		}
		if t.CodeExtensions[ext] {
			f.CodeFiles = append(f.CodeFiles, e)
		}
	}

	// A lockfile only counts when it pairs with a manifest that is present.
	for manifest, locks := range t.ManifestLockfiles {
		if !present[manifest] {
			continue
		}
		for _, lock := range locks {
			if present[lock] {
				f.HasLockfile = true
			}
		}
	}

	return f
}

// isSecretsFile reports whether a root listing name is a committed
// credentials file. Template variants (.env.example and friends) document
// required variables without carrying values, so they are excluded.
func isSecretsFile(name string) bool {
	if name == ".env" {
		return true
	}
	if strings.HasPrefix(name, ".env.") {
		switch strings.TrimPrefix(name, ".env.") {
		case "example", "sample", "template", "dist":
			return false
		}
		return true
	}
	switch name {
	case "credentials.json", "secrets.json", "secrets.yml", "secrets.yaml",
		"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519", ".netrc", ".htpasswd":
		return true
	}
	return strings.HasSuffix(name, ".pem") || strings.HasSuffix(name, ".p12") ||
		strings.HasSuffix(name, ".pfx")
}
