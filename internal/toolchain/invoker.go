package toolchain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-logr/logr"
	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/recipe"
)

// BuildEnv describes where one (recipe, architecture) build happens.
type BuildEnv struct {
	API int
	// Prefix is the install directory the recipe's steps write to.
	Prefix string
	// WorkDir is scratch space; it is emptied before the build.
	WorkDir string
	// Deps maps every transitive dependency to its install prefix.
	Deps map[string]string
	// Revision is the commit a git source must check out, from
	// Invoker.Revision; empty skips the check.
	Revision string
}

// Output is the result of a successful build.
type Output struct {
	// Libs are the shared libraries matched by the recipe's libs globs,
	// relative to the prefix.
	Libs []string
}

// Invoker builds recipes with external tools.
type Invoker struct {
	cfg     Config
	fetcher *Fetcher
	runner  *Runner
}

// NewInvoker returns an invoker for cfg. Downloads are kept in
// downloadDir.
func NewInvoker(cfg Config, downloadDir string) *Invoker {
	return &Invoker{
		cfg:     cfg,
		fetcher: &Fetcher{Client: http.DefaultClient, Dir: downloadDir},
		runner:  &Runner{Timeout: cfg.stepTimeout(), Output: cfg.Output},
	}
}

// Revision returns the commit r's git source currently points at, or ""
// when r is not fetched from git.
func (inv *Invoker) Revision(ctx context.Context, r *recipe.Recipe) (string, error) {
	return inv.fetcher.Revision(ctx, r)
}

// Build fetches r's source and runs its steps for a. Failures are returned
// as *ToolchainError. Build steps are never retried.
func (inv *Invoker) Build(ctx context.Context, r *recipe.Recipe, a arch.Arch, env BuildEnv) (*Output, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("recipe", r.Name, "arch", a.Name)
	fail := func(step string, err error) error {
		var terr *ToolchainError
		if errors.As(err, &terr) {
			terr.Recipe, terr.Arch = r.Name, a.Name
			if terr.Step == "" {
				terr.Step = step
			}
			return terr
		}
		return &ToolchainError{Recipe: r.Name, Arch: a.Name, Step: step, ExitCode: -1, Err: err}
	}

	src := filepath.Join(env.WorkDir, "src")
	ins, err := r.Eval(recipe.Vars{
		Arch:   a,
		API:    env.API,
		Jobs:   inv.cfg.Jobs,
		Prefix: env.Prefix,
		Source: src,
		Deps:   env.Deps,
		Tools:  inv.cfg.Tools(a, env.API),

		BuildArgs: inv.cfg.BuildArgs(a, env.API, env.Prefix, depPrefixes(env.Deps)),
	})
	if err != nil {
		return nil, fail("eval", err)
	}

	for _, dir := range []string{env.WorkDir, env.Prefix} {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fail("prepare", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fail("prepare", err)
		}
	}

	log.V(1).Info("Fetching source")
	if err := inv.fetcher.Fetch(ctx, r, ins.URL, env.Revision, src); err != nil {
		return nil, fail("fetch", err)
	}
	if err := os.MkdirAll(src, 0755); err != nil {
		return nil, fail("fetch", err)
	}

	stepEnv := inv.cfg.Env(a, env.API, depPrefixes(env.Deps))
	for _, step := range ins.Steps {
		dir := src
		if step.Dir != "" {
			dir = filepath.Join(src, step.Dir)
		}
		vars := make(map[string]string, len(stepEnv)+len(step.Env))
		for k, v := range stepEnv {
			vars[k] = v
		}
		for k, v := range step.Env {
			vars[k] = v
		}
		log.Info("Running", "step", step.Name)
		err := inv.runner.Run(ctx, Command{
			Name: step.Name,
			Path: step.Command,
			Args: step.Args,
			Dir:  dir,
			Env:  mergeEnv(os.Environ(), vars),
		})
		if err != nil {
			return nil, fail(step.Name, err)
		}
	}

	libs, err := CollectLibs(env.Prefix, r.Libs)
	if err != nil {
		return nil, fail("collect", err)
	}
	return &Output{Libs: libs}, nil
}

// CollectLibs matches each glob in patterns under prefix and returns the
// matches relative to prefix. A pattern that matches nothing is an error.
func CollectLibs(prefix string, patterns []string) ([]string, error) {
	var libs []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(prefix, filepath.FromSlash(p)))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no library matches %q under %s", p, prefix)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(prefix, m)
			if err != nil {
				return nil, err
			}
			libs = append(libs, filepath.ToSlash(rel))
		}
	}
	sort.Strings(libs)
	return libs, nil
}

func depPrefixes(deps map[string]string) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	prefixes := make([]string, len(names))
	for i, name := range names {
		prefixes[i] = deps[name]
	}
	return prefixes
}
