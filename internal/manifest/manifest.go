// Package manifest loads and validates application build manifests.
//
// A manifest is the buildozer-style key/value file an application ships
// with:
//
//	[app]
//	title = Drone Strike
//	package.name = dronestrike
//	package.domain = org.example
//	version = 1.0.0
//	requirements = python3,pygame
//	android.archs = arm64-v8a, armeabi-v7a
//	android.permissions = INTERNET
//
// The same sections and keys can be written as a YAML document, in which case
// list values may be YAML sequences.
package manifest

import (
	"path/filepath"
	"slices"

	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/version"
)

// Manifest is a parsed and validated build manifest. It is never modified
// after Parse returns.
type Manifest struct {
	// Dir is the directory the manifest was loaded from; relative paths in
	// the manifest are resolved against it.
	Dir string

	Title         string
	PackageName   string
	PackageDomain string
	Version       string
	VersionCode   int

	Requirements []Requirement
	Archs        []arch.Arch

	API         int
	MinAPI      int
	NDKAPI      int
	Permissions []string
	Orientation string
	Fullscreen  bool

	Assets Assets

	// LocalRecipes is the directory holding the application's own recipes.
	LocalRecipes string

	// Warnings lists the unknown keys that were ignored.
	Warnings []string
}

// Assets selects the files bundled into the package.
type Assets struct {
	SourceDir        string
	IncludeExts      []string
	IncludePatterns  []string
	ExcludePatterns  []string
	RequiredPatterns []string
}

// Requirement names a recipe the application needs, optionally pinned.
type Requirement struct {
	Name    string
	Op      string // "", "==" or ">="
	Version string
}

func (r Requirement) String() string {
	return r.Name + r.Op + r.Version
}

// Satisfied reports whether a recipe at version v meets the requirement.
func (r Requirement) Satisfied(v string) bool {
	switch r.Op {
	case "==":
		return version.Compare(v, r.Version) == 0
	case ">=":
		return version.Compare(v, r.Version) >= 0
	}
	return true
}

// PackageID returns the application id, e.g. "org.example.dronestrike".
func (m *Manifest) PackageID() string {
	return m.PackageDomain + "." + m.PackageName
}

// ArchNames returns the canonical names of the target architectures in
// manifest order.
func (m *Manifest) ArchNames() []string {
	names := make([]string, len(m.Archs))
	for i, a := range m.Archs {
		names[i] = a.Name
	}
	return names
}

// RequirementNames returns the required recipe names.
func (m *Manifest) RequirementNames() []string {
	names := make([]string, len(m.Requirements))
	for i, r := range m.Requirements {
		names[i] = r.Name
	}
	return names
}

// SourceDir returns the absolute-or-manifest-relative asset source directory.
func (m *Manifest) SourceDir() string {
	return m.resolve(m.Assets.SourceDir)
}

// RecipeDir returns the local recipe directory, or "" if none is set.
func (m *Manifest) RecipeDir() string {
	if m.LocalRecipes == "" {
		return ""
	}
	return m.resolve(m.LocalRecipes)
}

// HasArch reports whether the manifest targets the named architecture.
func (m *Manifest) HasArch(name string) bool {
	return slices.ContainsFunc(m.Archs, func(a arch.Arch) bool { return a.Name == name })
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
