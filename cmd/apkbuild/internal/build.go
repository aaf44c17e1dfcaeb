package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	"github.com/goplus/apkbuild/internal/assemble"
	"github.com/goplus/apkbuild/internal/build"
	"github.com/goplus/apkbuild/internal/env"
	"github.com/goplus/apkbuild/internal/toolchain"
	"github.com/spf13/cobra"
)

var buildOpts struct {
	planFlags

	cacheDir    string
	outDir      string
	ndk         string
	sdk         string
	concurrency int
	jobs        int
	timeout     time.Duration
	failFast    bool
	strictCache bool
	keystore    string
	keyAlias    string
	publish     string
}

var buildCmd = &cobra.Command{
	Use:   "build <manifest>",
	Short: "Build the Android package described by a manifest",
	Long: `Build resolves the recipes a manifest requires, builds each of them for
every target architecture, reusing cached results, and assembles the package.
The path of the package is printed on success.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	flags := buildCmd.Flags()
	buildOpts.register(buildCmd)
	flags.StringVar(&buildOpts.cacheDir, "cache-dir", "", "Build cache directory (default $APKBUILD_CACHE_DIR or the user cache dir)")
	flags.StringVarP(&buildOpts.outDir, "out", "o", "", "Output directory for the package (default <manifest dir>/bin)")
	flags.StringVar(&buildOpts.ndk, "ndk", "", "Android NDK root (default $ANDROID_NDK_HOME or $ANDROID_NDK_ROOT)")
	flags.StringVar(&buildOpts.sdk, "sdk", "", "Android SDK root (default $ANDROID_HOME or $ANDROID_SDK_ROOT)")
	flags.IntVar(&buildOpts.concurrency, "concurrency", 0, "Architectures built at once (0 builds all at once)")
	flags.IntVarP(&buildOpts.jobs, "jobs", "j", runtime.NumCPU(), "Parallel jobs passed to each recipe")
	flags.DurationVar(&buildOpts.timeout, "timeout", toolchain.DefaultStepTimeout, "Timeout of a single build step")
	flags.BoolVar(&buildOpts.failFast, "fail-fast", false, "Stop every architecture on the first failure")
	flags.BoolVar(&buildOpts.strictCache, "strict-cache", false, "Fail instead of waiting when another build holds a cache slot")
	flags.StringVar(&buildOpts.keystore, "keystore", "", "Keystore to sign the package with; unsigned without it")
	flags.StringVar(&buildOpts.keyAlias, "key-alias", "", "Key alias in the keystore")
	flags.StringVar(&buildOpts.publish, "publish", "", "Bucket URL to upload the package to, e.g. file:///srv/apks or s3://bucket")
	rootCmd.AddCommand(buildCmd)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logr.FromContextOrDiscard(ctx)

	m, plan, err := buildOpts.load(ctx, args[0])
	if err != nil {
		return err
	}
	log.V(1).Info("Resolved build plan", "order", plan.Order, "archs", plan.ArchNames())

	dir, err := cacheDir(buildOpts.cacheDir)
	if err != nil {
		return fmt.Errorf("failed to get cache dir: %w", err)
	}
	policy := build.LockWait
	if buildOpts.strictCache {
		policy = build.LockStrict
	}
	cache, err := build.OpenCache(dir, policy)
	if err != nil {
		return err
	}
	downloadDir, err := env.DownloadDir()
	if err != nil {
		return fmt.Errorf("failed to get download dir: %w", err)
	}
	workDir, err := env.BuildDir()
	if err != nil {
		return fmt.Errorf("failed to get build dir: %w", err)
	}

	cfg := toolchain.Config{
		NDK:         buildOpts.ndk,
		SDK:         buildOpts.sdk,
		StepTimeout: buildOpts.timeout,
		Jobs:        buildOpts.jobs,
	}
	if cfg.NDK == "" {
		cfg.NDK = firstEnv("ANDROID_NDK_HOME", "ANDROID_NDK_ROOT")
	}
	if cfg.SDK == "" {
		cfg.SDK = firstEnv("ANDROID_HOME", "ANDROID_SDK_ROOT")
	}
	// Step output is streamed only at -VV and above; failures always
	// carry its tail.
	if verbosity >= 2 {
		cfg.Output = cmd.ErrOrStderr()
	}

	builder := build.NewBuilder(cache, toolchain.NewInvoker(cfg, downloadDir), build.Options{
		API:         m.NDKAPI,
		Concurrency: buildOpts.concurrency,
		FailFast:    buildOpts.failFast,
		WorkDir:     workDir,
	})
	outputs, err := builder.Build(ctx, plan)
	if err != nil {
		return err
	}

	aopts := assemble.Options{OutDir: buildOpts.outDir}
	if aopts.OutDir == "" {
		aopts.OutDir = filepath.Join(m.Dir, "bin")
	}
	if buildOpts.keystore != "" {
		aopts.Signing = &assemble.Signing{
			Keystore:     buildOpts.keystore,
			KeyAlias:     buildOpts.keyAlias,
			KeystorePass: os.Getenv(assemble.KeystorePassEnv),
			KeyPass:      os.Getenv(assemble.KeyPassEnv),
		}
		signer := &assemble.Apksigner{Runner: toolchain.Runner{Timeout: buildOpts.timeout}}
		if cfg.SDK != "" {
			if signer.Path, err = assemble.FindApksigner(cfg.SDK); err != nil {
				return err
			}
		}
		aopts.Signer = signer
	}
	art, err := assemble.Assemble(ctx, m, outputs, aopts)
	if err != nil {
		return err
	}

	if buildOpts.publish != "" {
		if _, err := assemble.Publish(ctx, art, buildOpts.publish); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), art.Path)
	return nil
}
