// Package sbom renders the dependency manifests discovered during a scan as
// a CycloneDX bill of materials.
package sbom

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"

	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/forge"
)

// Build fetches and parses the snapshot's dependency manifests and assembles
// a BOM describing them. The fetcher is the same slice of the forge client
// the analyzers use; sbom fetches independently of them.
func Build(ctx context.Context, fetcher analyze.ContentFetcher, snap *forge.Snapshot, toolVersion string) *cdx.BOM {
	return FromDependencies(snap, analyze.FetchDependencies(ctx, fetcher, snap), toolVersion)
}

// FromDependencies assembles a BOM from already-parsed dependencies. The
// scanned repository is the metadata root component; each direct dependency
// becomes a library component carrying its purl and source manifest. The
// BOM timestamp is the snapshot's fetch time, so rebuilding from the same
// snapshot describes the same moment.
func FromDependencies(snap *forge.Snapshot, deps []analyze.Dependency, toolVersion string) *cdx.BOM {
	root := cdx.Component{
		BOMRef: snap.Ref.String(),
		Type:   cdx.ComponentTypeApplication,
		Name:   snap.Ref.String(),
	}
	if snap.Repo != nil {
		root.Description = snap.Repo.Description
	}

	bom := cdx.NewBOM()
	bom.SerialNumber = "urn:uuid:" + uuid.NewString()
	bom.Metadata = &cdx.Metadata{
		Timestamp: snap.FetchedAt.UTC().Format(time.RFC3339),
		Tools: &cdx.ToolsChoice{
			Components: &[]cdx.Component{{
				Type:    cdx.ComponentTypeApplication,
				Name:    "repovet",
				Version: toolVersion,
			}},
		},
		Component: &root,
	}

	// Runtime and dev blocks can name the same package; one component per
	// ref, with the runtime occurrence winning the scope.
	seen := make(map[string]int)
	var components []cdx.Component
	for _, dep := range deps {
		c := component(dep)
		if i, dup := seen[c.BOMRef]; dup {
			if components[i].Scope == cdx.ScopeOptional && c.Scope == cdx.ScopeRequired {
				components[i].Scope = cdx.ScopeRequired
			}
			continue
		}
		seen[c.BOMRef] = len(components)
		components = append(components, c)
	}

	sort.Slice(components, func(i, j int) bool {
		return components[i].BOMRef < components[j].BOMRef
	})

	if len(components) > 0 {
		refs := make([]string, len(components))
		for i, c := range components {
			refs[i] = c.BOMRef
		}
		bom.Components = &components
		bom.Dependencies = &[]cdx.Dependency{{Ref: root.BOMRef, Dependencies: &refs}}
	}

	return bom
}

// Write encodes the BOM as indented CycloneDX JSON.
func Write(w io.Writer, bom *cdx.BOM) error {
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(bom)
}

func component(dep analyze.Dependency) cdx.Component {
	c := cdx.Component{
		Type:    cdx.ComponentTypeLibrary,
		Name:    dep.Name,
		Version: bareVersion(dep.Spec),
		Scope:   cdx.ScopeRequired,
		Properties: &[]cdx.Property{
			{Name: "repovet:manifest", Value: dep.Source},
		},
	}
	if dep.Dev {
		c.Scope = cdx.ScopeOptional
	}

	if purl := packageURL(dep); purl != "" {
		c.PackageURL = purl
		c.BOMRef = purl
	} else {
		c.BOMRef = dep.Source + "/" + dep.Name
	}
	return c
}

// packageURL renders the purl for a dependency, or "" when the manifest does
// not map to a known package ecosystem.
func packageURL(dep analyze.Dependency) string {
	var purl string
	switch dep.Source {
	case "package.json":
		// Scoped packages encode the @ of the namespace.
		purl = "pkg:npm/" + strings.Replace(dep.Name, "@", "%40", 1)
	case "requirements.txt":
		// PyPI names are case-insensitive and treat _ and - alike.
		purl = "pkg:pypi/" + strings.ToLower(strings.ReplaceAll(dep.Name, "_", "-"))
	default:
		return ""
	}
	if v := bareVersion(dep.Spec); v != "" {
		purl += "@" + v
	}
	return purl
}

// bareVersion reduces a manifest version spec to the concrete version it
// names, or "" for wildcards and specs that pin nothing.
func bareVersion(spec string) string {
	spec = strings.TrimSpace(spec)
	switch spec {
	case "", "*", "latest", "x":
		return ""
	}
	spec = strings.TrimLeft(spec, "^~=<>!v ")
	if i := strings.IndexAny(spec, " ,|"); i >= 0 {
		spec = spec[:i]
	}
	return spec
}
