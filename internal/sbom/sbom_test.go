package sbom

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/forge"
)

type fakeFetcher struct {
	files map[string]string
}

func (f *fakeFetcher) FileContent(_ context.Context, _ forge.RepoRef, path string) (string, bool) {
	c, ok := f.files[path]
	return c, ok
}

func (f *fakeFetcher) DirListing(_ context.Context, _ forge.RepoRef, _ string) []forge.FileEntry {
	return nil
}

func (f *fakeFetcher) BranchProtected(_ context.Context, _ forge.RepoRef, _ string) (bool, bool) {
	return false, false
}

func testSnapshot() *forge.Snapshot {
	return &forge.Snapshot{
		Ref:       forge.RepoRef{Owner: "acme", Name: "widget"},
		Repo:      &forge.Repository{FullName: "acme/widget", Description: "widget assembly kit"},
		FetchedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestFromDependencies_ComponentMapping(t *testing.T) {
	deps := []analyze.Dependency{
		{Name: "left-pad", Spec: "^1.3.0", Source: "package.json"},
		{Name: "@scope/runner", Spec: "2.0.0", Dev: true, Source: "package.json"},
		{Name: "Django_Rest", Spec: "==3.14.0", Source: "requirements.txt"},
		{Name: "flask", Spec: "", Source: "requirements.txt"},
	}

	bom := FromDependencies(testSnapshot(), deps, "1.0.0")

	if bom.Metadata == nil || bom.Metadata.Component == nil {
		t.Fatal("missing metadata root component")
	}
	root := bom.Metadata.Component
	if root.Name != "acme/widget" {
		t.Errorf("root name = %q, want acme/widget", root.Name)
	}
	if root.Description != "widget assembly kit" {
		t.Errorf("root description = %q", root.Description)
	}
	if root.Type != cdx.ComponentTypeApplication {
		t.Errorf("root type = %q, want application", root.Type)
	}
	if bom.Metadata.Timestamp != "2026-03-01T09:30:00Z" {
		t.Errorf("timestamp = %q, want snapshot fetch time", bom.Metadata.Timestamp)
	}
	if !strings.HasPrefix(bom.SerialNumber, "urn:uuid:") {
		t.Errorf("serial number = %q, want urn:uuid: prefix", bom.SerialNumber)
	}

	if bom.Components == nil {
		t.Fatal("missing components")
	}
	components := *bom.Components
	if len(components) != 4 {
		t.Fatalf("got %d components, want 4", len(components))
	}

	// Sorted by bom-ref.
	wantRefs := []string{
		"pkg:npm/%40scope/runner@2.0.0",
		"pkg:npm/left-pad@1.3.0",
		"pkg:pypi/django-rest@3.14.0",
		"pkg:pypi/flask",
	}
	for i, want := range wantRefs {
		if components[i].BOMRef != want {
			t.Errorf("component %d ref = %q, want %q", i, components[i].BOMRef, want)
		}
	}

	byName := map[string]cdx.Component{}
	for _, c := range components {
		byName[c.Name] = c
	}

	leftPad := byName["left-pad"]
	if leftPad.Version != "1.3.0" {
		t.Errorf("left-pad version = %q, want 1.3.0", leftPad.Version)
	}
	if leftPad.Scope != cdx.ScopeRequired {
		t.Errorf("left-pad scope = %q, want required", leftPad.Scope)
	}
	if leftPad.Type != cdx.ComponentTypeLibrary {
		t.Errorf("left-pad type = %q, want library", leftPad.Type)
	}

	runner := byName["@scope/runner"]
	if runner.Scope != cdx.ScopeOptional {
		t.Errorf("dev dependency scope = %q, want optional", runner.Scope)
	}

	flask := byName["flask"]
	if flask.Version != "" {
		t.Errorf("unpinned version = %q, want empty", flask.Version)
	}
	if flask.Properties == nil || len(*flask.Properties) != 1 {
		t.Fatal("flask missing manifest property")
	}
	if p := (*flask.Properties)[0]; p.Name != "repovet:manifest" || p.Value != "requirements.txt" {
		t.Errorf("flask property = %s=%s, want repovet:manifest=requirements.txt", p.Name, p.Value)
	}

	if bom.Dependencies == nil || len(*bom.Dependencies) != 1 {
		t.Fatal("missing dependency graph")
	}
	graph := (*bom.Dependencies)[0]
	if graph.Ref != root.BOMRef {
		t.Errorf("graph ref = %q, want root ref %q", graph.Ref, root.BOMRef)
	}
	if graph.Dependencies == nil || len(*graph.Dependencies) != 4 {
		t.Error("graph should list all four direct dependencies")
	}
}

func TestFromDependencies_DuplicateKeepsRuntimeScope(t *testing.T) {
	deps := []analyze.Dependency{
		{Name: "vitest", Spec: "1.0.0", Source: "package.json"},
		{Name: "vitest", Spec: "1.0.0", Dev: true, Source: "package.json"},
	}

	bom := FromDependencies(testSnapshot(), deps, "1.0.0")

	components := *bom.Components
	if len(components) != 1 {
		t.Fatalf("got %d components, want 1 after dedupe", len(components))
	}
	if components[0].Scope != cdx.ScopeRequired {
		t.Errorf("scope = %q, want required to win over optional", components[0].Scope)
	}
}

func TestFromDependencies_NoDeps(t *testing.T) {
	bom := FromDependencies(testSnapshot(), nil, "1.0.0")

	if bom.Components != nil {
		t.Error("expected no components block for empty dependency list")
	}
	if bom.Dependencies != nil {
		t.Error("expected no dependency graph for empty dependency list")
	}
	if bom.Metadata == nil || bom.Metadata.Component == nil {
		t.Error("metadata root component should be present regardless")
	}
}

func TestBuild_FetchesManifests(t *testing.T) {
	snap := testSnapshot()
	snap.Files = []forge.FileEntry{
		{Name: "package.json", Path: "package.json", Type: "file"},
		{Name: "README.md", Path: "README.md", Type: "file"},
	}

	fetcher := &fakeFetcher{files: map[string]string{
		"package.json": `{"dependencies": {"express": "^4.18.0"}}`,
	}}

	bom := Build(context.Background(), fetcher, snap, "1.0.0")

	if bom.Components == nil || len(*bom.Components) != 1 {
		t.Fatal("expected one component from package.json")
	}
	c := (*bom.Components)[0]
	if c.Name != "express" || c.Version != "4.18.0" {
		t.Errorf("component = %s@%s, want express@4.18.0", c.Name, c.Version)
	}
	if c.PackageURL != "pkg:npm/express@4.18.0" {
		t.Errorf("purl = %q", c.PackageURL)
	}
}

func TestPackageURL(t *testing.T) {
	tests := []struct {
		name string
		dep  analyze.Dependency
		want string
	}{
		{
			name: "npm plain",
			dep:  analyze.Dependency{Name: "lodash", Spec: "4.17.21", Source: "package.json"},
			want: "pkg:npm/lodash@4.17.21",
		},
		{
			name: "npm scoped",
			dep:  analyze.Dependency{Name: "@angular/core", Spec: "^17.0.0", Source: "package.json"},
			want: "pkg:npm/%40angular/core@17.0.0",
		},
		{
			name: "npm wildcard has no version",
			dep:  analyze.Dependency{Name: "leftish", Spec: "*", Source: "package.json"},
			want: "pkg:npm/leftish",
		},
		{
			name: "pypi normalized",
			dep:  analyze.Dependency{Name: "Typing_Extensions", Spec: "==4.9.0", Source: "requirements.txt"},
			want: "pkg:pypi/typing-extensions@4.9.0",
		},
		{
			name: "unknown manifest",
			dep:  analyze.Dependency{Name: "something", Spec: "1.0", Source: "Cargo.toml"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := packageURL(tt.dep); got != tt.want {
				t.Errorf("packageURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBareVersion(t *testing.T) {
	tests := []struct {
		spec string
		want string
	}{
		{spec: "1.2.3", want: "1.2.3"},
		{spec: "^1.2.3", want: "1.2.3"},
		{spec: "~0.9", want: "0.9"},
		{spec: "==3.14.0", want: "3.14.0"},
		{spec: ">=2.0, <3.0", want: "2.0"},
		{spec: ">=2.0.0 <3.0.0", want: "2.0.0"},
		{spec: "v5.0.1", want: "5.0.1"},
		{spec: "*", want: ""},
		{spec: "latest", want: ""},
		{spec: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			if got := bareVersion(tt.spec); got != tt.want {
				t.Errorf("bareVersion(%q) = %q, want %q", tt.spec, got, tt.want)
			}
		})
	}
}

func TestWrite_EncodesCycloneDXJSON(t *testing.T) {
	deps := []analyze.Dependency{
		{Name: "express", Spec: "^4.18.0", Source: "package.json"},
	}
	bom := FromDependencies(testSnapshot(), deps, "1.0.0")

	var buf bytes.Buffer
	if err := Write(&buf, bom); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	var doc struct {
		BOMFormat    string `json:"bomFormat"`
		SpecVersion  string `json:"specVersion"`
		SerialNumber string `json:"serialNumber"`
		Components   []struct {
			Name string `json:"name"`
			Purl string `json:"purl"`
		} `json:"components"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if doc.BOMFormat != "CycloneDX" {
		t.Errorf("bomFormat = %q, want CycloneDX", doc.BOMFormat)
	}
	if doc.SpecVersion == "" {
		t.Error("specVersion missing")
	}
	if !strings.HasPrefix(doc.SerialNumber, "urn:uuid:") {
		t.Errorf("serialNumber = %q", doc.SerialNumber)
	}
	if len(doc.Components) != 1 || doc.Components[0].Purl != "pkg:npm/express@4.18.0" {
		t.Errorf("components = %+v", doc.Components)
	}
}
