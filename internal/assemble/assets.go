package assemble

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	xslice "github.com/frantjc/x/slice"
	"github.com/goplus/apkbuild/internal/manifest"
)

// asset is one file bundled under assets/.
type asset struct {
	Rel  string // slash-separated, relative to the source dir
	Path string
}

// matchPattern reports whether the relative path rel matches pattern. A
// pattern matches the path itself, its base name, or any directory above it.
func matchPattern(pattern, rel string) bool {
	pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "./"), "/")
	if ok, _ := path.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		if ok, _ := path.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if ok, _ := path.Match(pattern, dir); ok {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, rel string) bool {
	return xslice.Some(patterns, func(p string, _ int) bool { return matchPattern(p, rel) })
}

// selectAssets walks the manifest's source directory and returns the files
// whose extension is listed or that match an include pattern, minus those
// matching an exclude pattern. Hidden files and directories are skipped, as
// is skip (the output directory, when it lies inside the source).
// The returned assets are in lexical order.
func selectAssets(m *manifest.Manifest, skip string) ([]asset, error) {
	src, err := filepath.Abs(m.SourceDir())
	if err != nil {
		return nil, err
	}
	var assets []asset
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == src {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || (skip != "" && p == skip) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		ext := strings.TrimPrefix(path.Ext(rel), ".")
		included := xslice.Includes(m.Assets.IncludeExts, ext) || matchAny(m.Assets.IncludePatterns, rel)
		if included && !matchAny(m.Assets.ExcludePatterns, rel) {
			assets = append(assets, asset{Rel: rel, Path: p})
		}
		return nil
	})
	return assets, err
}

// checkRequired returns an *AssemblyError for the first required pattern
// that no selected asset matches.
func checkRequired(patterns []string, assets []asset) error {
	for _, p := range patterns {
		if !xslice.Some(assets, func(a asset, _ int) bool { return matchPattern(p, a.Rel) }) {
			return &AssemblyError{Pattern: p}
		}
	}
	return nil
}
