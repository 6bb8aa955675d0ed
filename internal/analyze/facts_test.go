package analyze

import (
	"testing"

	"github.com/repovet/repovet/internal/forge"
)

func TestSurveyListing(t *testing.T) {
	tables := DefaultTables()
	listing := []forge.FileEntry{
		fileEntry("README.md"),
		fileEntry("LICENSE"),
		fileEntry(".gitignore"),
		fileEntry("package.json"),
		fileEntry("package-lock.json"),
		fileEntry("Dockerfile"),
		fileEntry("SECURITY.md"),
		fileEntry("deploy.sh"),
		fileEntry("helper.exe"),
		fileEntry("index.js"),
		fileEntry("index.test.js"),
		dirEntry("tests"),
		dirEntry(".github"),
		dirEntry("examples"),
	}

	f := SurveyListing(tables, listing)

	checks := []struct {
		name string
		got  bool
	}{
		{"HasManifest", f.HasManifest},
		{"HasLockfile", f.HasLockfile},
		{"HasGitignore", f.HasGitignore},
		{"HasReadme", f.HasReadme},
		{"HasLicense", f.HasLicense},
		{"HasTests", f.HasTests},
		{"HasCI", f.HasCI},
		{"HasDockerfile", f.HasDockerfile},
		{"HasSecurityPolicy", f.HasSecurityPolicy},
		{"HasExamples", f.HasExamples},
	}
	for _, c := range checks {
		if !c.got {
			t.Errorf("%s = false, want true", c.name)
		}
	}

	if f.DockerfileName != "Dockerfile" {
		t.Errorf("DockerfileName = %q", f.DockerfileName)
	}
	if len(f.ScriptFiles) != 1 || f.ScriptFiles[0] != "deploy.sh" {
		t.Errorf("ScriptFiles = %v", f.ScriptFiles)
	}
	if len(f.BinaryFiles) != 1 || f.BinaryFiles[0] != "helper.exe" {
		t.Errorf("BinaryFiles = %v", f.BinaryFiles)
	}
	// index.js and index.test.js are both code files; manifests are not.
	if len(f.CodeFiles) != 2 {
		t.Errorf("CodeFiles = %v", f.CodeFiles)
	}
	if len(f.SecretsFiles) != 0 {
		t.Errorf("SecretsFiles = %v", f.SecretsFiles)
	}
}

func TestSurveyListingCaseInsensitive(t *testing.T) {
	f := SurveyListing(DefaultTables(), []forge.FileEntry{
		fileEntry("readme.rst"),
		fileEntry("Licence.txt"),
		fileEntry("PACKAGE.JSON"),
		fileEntry("dockerfile.prod"),
	})
	if !f.HasReadme || !f.HasLicense || !f.HasManifest || !f.HasDockerfile {
		t.Errorf("case-insensitive survey missed entries: %+v", f)
	}
}

func TestLockfileRequiresMatchingManifest(t *testing.T) {
	tables := DefaultTables()

	// A stray lockfile with no manifest does not count.
	f := SurveyListing(tables, []forge.FileEntry{fileEntry("yarn.lock")})
	if f.HasLockfile {
		t.Error("HasLockfile = true without a manifest")
	}

	// go.sum pairs with go.mod, not with package.json.
	f = SurveyListing(tables, []forge.FileEntry{fileEntry("package.json"), fileEntry("go.sum")})
	if f.HasLockfile {
		t.Error("HasLockfile = true for a cross-ecosystem pair")
	}

	f = SurveyListing(tables, []forge.FileEntry{fileEntry("go.mod"), fileEntry("go.sum")})
	if !f.HasLockfile {
		t.Error("HasLockfile = false for go.mod + go.sum")
	}
}

func TestIsSecretsFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".env", true},
		{".env.production", true},
		{".env.local", true},
		{".env.example", false},
		{".env.sample", false},
		{".env.template", false},
		{"credentials.json", true},
		{"id_rsa", true},
		{"server.pem", true},
		{"cert.p12", true},
		{".netrc", true},
		{"config.json", false},
		{"environment.yml", false},
	}
	for _, tt := range tests {
		if got := isSecretsFile(tt.name); got != tt.want {
			t.Errorf("isSecretsFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
