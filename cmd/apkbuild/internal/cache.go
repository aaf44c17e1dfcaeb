package internal

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goplus/apkbuild/internal/build"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/api/resource"
)

var cacheDirFlag string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the build cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached builds",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var pruneOpts struct {
	all     bool
	recipes []string
	maxSize string
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached builds",
	Long: `Prune removes cached builds: every build with --all, the builds of the
named recipes with --recipe, or the oldest builds until the cache fits in
--max-size. Cached builds never expire on their own.`,
	Args: cobra.NoArgs,
	RunE: runCachePrune,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheDirFlag, "cache-dir", "", "Build cache directory (default $APKBUILD_CACHE_DIR or the user cache dir)")
	cachePruneCmd.Flags().BoolVar(&pruneOpts.all, "all", false, "Remove every cached build")
	cachePruneCmd.Flags().StringSliceVar(&pruneOpts.recipes, "recipe", nil, "Remove the cached builds of these recipes")
	cachePruneCmd.Flags().StringVar(&pruneOpts.maxSize, "max-size", "", "Evict the oldest builds until the cache is at most this size, e.g. 500Mi or 2G")
	cacheCmd.AddCommand(cacheListCmd, cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache() (*build.Cache, error) {
	dir, err := cacheDir(cacheDirFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache dir: %w", err)
	}
	return build.OpenCache(dir, build.LockWait)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	entries, err := cache.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECIPE\tARCH\tVERSION\tSIZE\tBUILT\tFINGERPRINT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Recipe, e.Arch, e.Version,
			resource.NewQuantity(e.Size, resource.BinarySI).String(),
			e.BuiltAt.Local().Format(time.DateTime),
			shortDigest(e.Fingerprint),
		)
	}
	return w.Flush()
}

func shortDigest(d digest.Digest) string {
	if d.Validate() != nil {
		return "-"
	}
	s := d.Encoded()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	opts := build.PruneOptions{All: pruneOpts.all, Recipes: pruneOpts.recipes}
	if pruneOpts.maxSize != "" {
		q, err := resource.ParseQuantity(pruneOpts.maxSize)
		if err != nil {
			return fmt.Errorf("invalid --max-size %q: %w", pruneOpts.maxSize, err)
		}
		if q.Sign() <= 0 {
			return fmt.Errorf("invalid --max-size %q: must be positive", pruneOpts.maxSize)
		}
		opts.MaxBytes = q.Value()
	}
	if !opts.All && len(opts.Recipes) == 0 && opts.MaxBytes == 0 {
		return fmt.Errorf("nothing to prune: pass --all, --recipe or --max-size")
	}

	cache, err := openCache()
	if err != nil {
		return err
	}
	removed, err := cache.Prune(cmd.Context(), opts)
	var freed int64
	for _, e := range removed {
		freed += e.Size
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached build(s), %s freed\n",
		len(removed), resource.NewQuantity(freed, resource.BinarySI).String())
	return err
}
