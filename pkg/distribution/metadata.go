// Package distribution defines the structured form of an uploaded package
// distribution: its core metadata (PEP 566 / core-metadata fields), the
// artifact bytes and the digests published alongside them. The upload
// boundary builds a Distribution; the ingestion engine consumes it.
package distribution

// CoreMetadata carries the descriptive fields of a distribution as parsed
// from its metadata file. Optional fields are plain strings; absent values
// are empty strings, never pointers, to keep downstream display simple.
type CoreMetadata struct {
	MetadataVersion        string   `json:"metadata_version"`
	Name                   string   `json:"name"`
	Version                string   `json:"version"`
	Platforms              []string `json:"platforms,omitempty"`
	SupportedPlatforms     []string `json:"supported_platforms,omitempty"`
	Summary                string   `json:"summary,omitempty"`
	Description            string   `json:"description,omitempty"`
	DescriptionContentType string   `json:"description_content_type,omitempty"`
	Keywords               []string `json:"keywords,omitempty"`
	HomePage               string   `json:"home_page,omitempty"`
	DownloadURL            string   `json:"download_url,omitempty"`
	Author                 string   `json:"author,omitempty"`
	AuthorEmail            string   `json:"author_email,omitempty"`
	Maintainer             string   `json:"maintainer,omitempty"`
	MaintainerEmail        string   `json:"maintainer_email,omitempty"`
	License                string   `json:"license,omitempty"`
	Classifiers            []string `json:"classifiers,omitempty"`
	RequiresDists          []string `json:"requires_dists,omitempty"`
	RequiresPython         string   `json:"requires_python,omitempty"`
	RequiresExternals      []string `json:"requires_externals,omitempty"`
	ProjectURLs            []string `json:"project_urls,omitempty"`
	ProvidesExtras         []string `json:"provides_extras,omitempty"`
	ProvidesDists          []string `json:"provides_dists,omitempty"`
	ObsoletesDists         []string `json:"obsoletes_dists,omitempty"`

	// Legacy PEP 314 fields, carried through when present.
	Requires  []string `json:"requires,omitempty"`
	Provides  []string `json:"provides,omitempty"`
	Obsoletes []string `json:"obsoletes,omitempty"`
}

// DependencyKind classifies the relationship between a release and another
// named package.
type DependencyKind string

const (
	KindRequires         DependencyKind = "requires"
	KindProvides         DependencyKind = "provides"
	KindObsoletes        DependencyKind = "obsoletes"
	KindRequiresDist     DependencyKind = "requires_dist"
	KindProvidesDist     DependencyKind = "provides_dist"
	KindObsoletesDist    DependencyKind = "obsoletes_dist"
	KindRequiresExternal DependencyKind = "requires_external"
)

// Dependency is one dependency-like declaration of a release. The specifier
// is kept as published; the index does not parse requirement strings.
type Dependency struct {
	Kind      DependencyKind `json:"kind"`
	Specifier string         `json:"specifier"`
}

// Dependencies flattens the dependency-like metadata fields into tagged
// rows, in field order. Empty fields contribute nothing.
func (m *CoreMetadata) Dependencies() []Dependency {
	var deps []Dependency

	add := func(kind DependencyKind, specifiers []string) {
		for _, s := range specifiers {
			deps = append(deps, Dependency{Kind: kind, Specifier: s})
		}
	}

	add(KindRequiresDist, m.RequiresDists)
	add(KindProvidesDist, m.ProvidesDists)
	add(KindObsoletesDist, m.ObsoletesDists)
	add(KindRequiresExternal, m.RequiresExternals)
	add(KindRequires, m.Requires)
	add(KindProvides, m.Provides)
	add(KindObsoletes, m.Obsoletes)

	return deps
}
