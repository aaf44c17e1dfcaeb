// Package assemble packages per-architecture build outputs, assets and
// application metadata into an Android package.
package assemble

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/goplus/apkbuild/internal/build"
	"github.com/goplus/apkbuild/internal/manifest"
)

// buildInfoName is the package entry holding Metadata.
const buildInfoName = "META-INF/apkbuild/build-info.json"

// Metadata describes a package. It is embedded in the package and returned
// with the Artifact.
type Metadata struct {
	BuildID     string        `json:"build_id"`
	Title       string        `json:"title"`
	PackageID   string        `json:"package"`
	Version     string        `json:"version"`
	VersionCode int           `json:"version_code"`
	Permissions []string      `json:"permissions"`
	Orientation string        `json:"orientation"`
	Archs       []string      `json:"archs"`
	Signed      bool          `json:"signed"`
	Recipes     []RecipeBuild `json:"recipes,omitempty"`
	BuiltAt     time.Time     `json:"built_at"`
}

// RecipeBuild records the recipe output a package was assembled from.
type RecipeBuild struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Arch        string `json:"arch"`
	Fingerprint string `json:"fingerprint"`
}

// Artifact is the result of one Assemble call.
type Artifact struct {
	Path     string
	Metadata Metadata
	// Libs maps each architecture to its package entries under lib/.
	Libs map[string][]string
	// Assets are the package entries under assets/.
	Assets []string
	Signed bool
}

// Options configures Assemble.
type Options struct {
	// OutDir receives the package. It is created if needed.
	OutDir string
	// Signing, if set, signs the package with Signer.
	Signing *Signing
	// Signer defaults to an Apksigner found on PATH.
	Signer Signer
	// BuildID defaults to a random UUID.
	BuildID string
}

// Assemble writes the package for m from outputs, which maps architecture
// names to the outputs built for them. It fails with an *AssemblyError if
// an architecture of m has no outputs, a required asset pattern matches
// nothing, or the package cannot be written or signed.
func Assemble(ctx context.Context, m *manifest.Manifest, outputs map[string][]build.Output, opts Options) (*Artifact, error) {
	log := logr.FromContextOrDiscard(ctx)

	for _, a := range m.ArchNames() {
		if _, ok := outputs[a]; !ok {
			return nil, &AssemblyError{Arch: a}
		}
	}

	outDir, err := filepath.Abs(opts.OutDir)
	if err != nil {
		return nil, &AssemblyError{Err: err}
	}
	assets, err := selectAssets(m, outDir)
	if err != nil {
		return nil, &AssemblyError{Err: fmt.Errorf("select assets: %w", err)}
	}
	if err := checkRequired(m.Assets.RequiredPatterns, assets); err != nil {
		return nil, err
	}

	art := &Artifact{
		Libs:   make(map[string][]string),
		Signed: opts.Signing != nil,
	}
	art.Metadata = Metadata{
		BuildID:     opts.BuildID,
		Title:       m.Title,
		PackageID:   m.PackageID(),
		Version:     m.Version,
		VersionCode: m.VersionCode,
		Permissions: m.Permissions,
		Orientation: m.Orientation,
		Archs:       m.ArchNames(),
		Signed:      art.Signed,
		BuiltAt:     time.Now().UTC(),
	}
	if art.Metadata.BuildID == "" {
		art.Metadata.BuildID = uuid.New().String()
	}

	var entries []entry
	for _, a := range m.ArchNames() {
		owner := make(map[string]string)
		for _, out := range outputs[a] {
			art.Metadata.Recipes = append(art.Metadata.Recipes, RecipeBuild{
				Name:        out.Recipe,
				Version:     out.Version,
				Arch:        a,
				Fingerprint: out.Fingerprint.String(),
			})
			for _, lib := range out.Libs {
				name := path.Join("lib", a, path.Base(lib))
				if prev, ok := owner[name]; ok {
					return nil, &AssemblyError{Err: fmt.Errorf("%s is provided by both %s and %s", name, prev, out.Recipe)}
				}
				owner[name] = out.Recipe
				entries = append(entries, entry{name: name, src: filepath.Join(out.Dir, filepath.FromSlash(lib)), store: true})
				art.Libs[a] = append(art.Libs[a], name)
			}
		}
	}
	for _, as := range assets {
		name := "assets/" + as.Rel
		entries = append(entries, entry{name: name, src: as.Path})
		art.Assets = append(art.Assets, name)
	}

	xmlData, err := renderManifest(m)
	if err != nil {
		return nil, &AssemblyError{Err: err}
	}
	info, err := json.MarshalIndent(art.Metadata, "", "  ")
	if err != nil {
		return nil, &AssemblyError{Err: err}
	}
	entries = append(entries,
		entry{name: androidManifestName, data: xmlData},
		entry{name: buildInfoName, data: info},
	)
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &AssemblyError{Err: err}
	}
	base := m.PackageName + "-" + m.Version
	unsigned := filepath.Join(outDir, base+"-unsigned.apk")
	if err := writePackage(unsigned, entries); err != nil {
		return nil, &AssemblyError{Err: fmt.Errorf("write package: %w", err)}
	}

	art.Path = unsigned
	if opts.Signing != nil {
		signer := opts.Signer
		if signer == nil {
			signer = &Apksigner{}
		}
		signed := filepath.Join(outDir, base+".apk")
		if err := signer.Sign(ctx, unsigned, signed, *opts.Signing); err != nil {
			os.Remove(signed)
			return nil, &AssemblyError{Err: fmt.Errorf("sign package: %w", err)}
		}
		os.Remove(unsigned)
		art.Path = signed
	} else {
		log.Info("No signing key configured, package is unsigned", "path", unsigned)
	}

	log.Info("Assembled package", "path", art.Path, "archs", art.Metadata.Archs, "assets", len(art.Assets), "signed", art.Signed)
	return art, nil
}

// entry is one file of the package, read from src or given as data.
type entry struct {
	name  string
	src   string
	data  []byte
	store bool // native libraries are stored uncompressed
}

// writePackage writes entries to a zip at dest. The file only appears at
// dest once it is complete.
func writePackage(dest string, entries []entry) error {
	f, err := os.CreateTemp(filepath.Dir(dest), ".package-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	w := zip.NewWriter(f)
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), dest)
}

func writeEntry(w *zip.Writer, e entry) error {
	header := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
	if e.store {
		header.Method = zip.Store
	}
	if e.data != nil {
		header.SetMode(0o644)
		zw, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		_, err = zw.Write(e.data)
		return err
	}

	file, err := os.Open(e.src)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	header.Modified = info.ModTime()
	header.SetMode(info.Mode())
	zw, err := w.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(zw, file)
	return err
}
