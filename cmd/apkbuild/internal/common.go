package internal

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/goplus/apkbuild/internal/env"
	"github.com/goplus/apkbuild/internal/manifest"
	"github.com/goplus/apkbuild/internal/recipe"
	"github.com/goplus/apkbuild/internal/resolve"
	"github.com/spf13/cobra"
)

// planFlags are shared by every command that resolves a manifest.
type planFlags struct {
	recipeDirs     []string
	strictManifest bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.recipeDirs, "recipes", nil, "Recipe directories; later directories override earlier ones (default $APKBUILD_RECIPES)")
	cmd.Flags().BoolVar(&f.strictManifest, "strict-manifest", false, "Reject unknown manifest keys instead of warning")
}

// load parses the manifest at path and resolves its build plan against
// the configured recipe directories and the manifest's local recipes.
func (f *planFlags) load(ctx context.Context, path string) (*manifest.Manifest, *resolve.Plan, error) {
	log := logr.FromContextOrDiscard(ctx)

	opts := manifest.Options{}
	if f.strictManifest {
		opts.UnknownKeys = manifest.Reject
	}
	m, err := manifest.Load(path, opts)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range m.Warnings {
		log.Info("Manifest warning", "manifest", path, "warning", w)
	}
	log.V(1).Info("Loaded manifest", "manifest", path, "requirements", m.RequirementNames(), "archs", m.ArchNames())

	dirs := f.recipeDirs
	if len(dirs) == 0 {
		if d := os.Getenv("APKBUILD_RECIPES"); d != "" {
			dirs = []string{d}
		}
	}
	if d := m.RecipeDir(); d != "" {
		dirs = append(dirs, d)
	}

	catalog, err := recipe.NewCatalog()
	if err != nil {
		return nil, nil, err
	}
	for _, dir := range dirs {
		c, err := recipe.LoadDir(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("load recipes from %s: %w", dir, err)
		}
		log.V(1).Info("Loaded recipes", "dir", dir, "count", c.Len())
		catalog = catalog.Merge(c)
	}

	plan, err := resolve.Resolve(m.Requirements, catalog, m.Archs)
	if err != nil {
		return nil, nil, err
	}
	return m, plan, nil
}

// cacheDir returns dir, or the default cache directory if dir is empty.
func cacheDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return env.CacheDir()
}
