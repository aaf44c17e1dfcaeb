// Package build runs a build plan: one worker per architecture, each
// building the plan's recipes in order and reusing cached outputs whose
// fingerprint still matches.
package build

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/recipe"
	"github.com/goplus/apkbuild/internal/resolve"
	"github.com/goplus/apkbuild/internal/toolchain"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// Invoker builds one recipe for one architecture.
type Invoker interface {
	// Revision pins a mutable source (a git ref) to the commit it names
	// now; it returns "" for sources pinned by content.
	Revision(ctx context.Context, r *recipe.Recipe) (string, error)
	Build(ctx context.Context, r *recipe.Recipe, a arch.Arch, env toolchain.BuildEnv) (*toolchain.Output, error)
}

// Options configures a Builder.
type Options struct {
	// API is the ndk api level recipes are built against.
	API int
	// Concurrency bounds the architectures built at once; 0 means all.
	Concurrency int
	// FailFast cancels the other architectures on the first failure.
	// By default every architecture runs to completion.
	FailFast bool
	// WorkDir holds per-build scratch directories.
	WorkDir string
}

// Output is the built (or cached) result of one recipe for one arch.
type Output struct {
	Recipe      string
	Version     string
	Arch        string
	Fingerprint digest.Digest
	// Dir is the install prefix; Libs are relative to it.
	Dir    string
	Libs   []string
	Cached bool
}

// Builder executes build plans.
type Builder struct {
	cache   *Cache
	invoker Invoker
	opts    Options
}

// NewBuilder returns a builder storing outputs in cache.
func NewBuilder(cache *Cache, invoker Invoker, opts Options) *Builder {
	return &Builder{cache: cache, invoker: invoker, opts: opts}
}

// Build runs plan and returns the outputs per architecture name, each in
// plan order. If any build fails the error is a *Report; outputs of the
// builds that succeeded are still returned.
func (b *Builder) Build(ctx context.Context, plan *resolve.Plan) (map[string][]Output, error) {
	var (
		mu      sync.Mutex
		outputs = make(map[string][]Output, len(plan.Archs))
		reports = make(map[string]*Report, len(plan.Archs))
	)

	var g *errgroup.Group
	gctx := ctx
	if b.opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if b.opts.Concurrency > 0 {
		g.SetLimit(b.opts.Concurrency)
	}

	revs := &revisions{invoker: b.invoker}
	for _, a := range plan.Archs {
		g.Go(func() error {
			outs, report := b.buildArch(gctx, plan, a, revs)
			mu.Lock()
			outputs[a.Name] = outs
			reports[a.Name] = report
			mu.Unlock()
			if b.opts.FailFast && len(report.Failures) > 0 {
				return report
			}
			return nil
		})
	}
	g.Wait()

	final := &Report{}
	for _, a := range plan.Archs {
		r := reports[a.Name]
		if r == nil {
			continue
		}
		for _, f := range r.Failures {
			// Under fail-fast, siblings stopped by the cancellation are
			// skipped, not failed.
			if b.opts.FailFast && ctx.Err() == nil && errors.Is(f.Err, context.Canceled) {
				final.Skipped = append(final.Skipped, Skip{Recipe: f.Recipe, Arch: f.Arch, Reason: "cancelled"})
				continue
			}
			final.Failures = append(final.Failures, f)
		}
		final.Skipped = append(final.Skipped, r.Skipped...)
	}
	if len(final.Failures) > 0 {
		return outputs, final
	}
	if err := ctx.Err(); err != nil {
		return outputs, err
	}
	return outputs, nil
}

// buildArch builds the plan for one architecture. A failed recipe skips
// everything that depends on it; independent recipes still build.
func (b *Builder) buildArch(ctx context.Context, plan *resolve.Plan, a arch.Arch, revs *revisions) ([]Output, *Report) {
	log := logr.FromContextOrDiscard(ctx).WithValues("arch", a.Name)
	report := &Report{}
	built := make(map[string]Output)
	failed := make(map[string]string) // recipe -> failed recipe that caused it
	var outs []Output

	for _, step := range plan.ArchSteps(a) {
		r := step.Recipe
		closure := plan.Closure(r.Name)

		if cause := firstFailed(closure, failed); cause != "" {
			failed[r.Name] = cause
			report.Skipped = append(report.Skipped, Skip{Recipe: r.Name, Arch: a.Name, Reason: "dependency " + cause + " failed"})
			continue
		}
		if ctx.Err() != nil || (b.opts.FailFast && len(report.Failures) > 0) {
			failed[r.Name] = r.Name
			report.Skipped = append(report.Skipped, Skip{Recipe: r.Name, Arch: a.Name, Reason: "cancelled"})
			continue
		}

		deps := make(map[string]string, len(closure))
		fps := make([]digest.Digest, 0, len(closure))
		for _, d := range closure {
			deps[d] = built[d].Dir
			fps = append(fps, built[d].Fingerprint)
		}
		rctx := logr.NewContext(ctx, log.WithValues("recipe", r.Name))
		rev, err := revs.get(rctx, r)
		if err != nil {
			err = &toolchain.ToolchainError{Recipe: r.Name, Arch: a.Name, Step: "fetch", ExitCode: -1, Err: err}
			failed[r.Name] = r.Name
			report.Failures = append(report.Failures, Failure{Recipe: r.Name, Arch: a.Name, Err: err})
			continue
		}
		key := Key{Recipe: r.Name, Arch: a.Name, Fingerprint: Fingerprint(r, rev, a, b.opts.API, fps)}

		out, err := b.buildOne(rctx, r, a, key, rev, deps)
		if err != nil {
			failed[r.Name] = r.Name
			report.Failures = append(report.Failures, Failure{Recipe: r.Name, Arch: a.Name, Err: err})
			continue
		}
		built[r.Name] = *out
		outs = append(outs, *out)
	}
	return outs, report
}

func (b *Builder) buildOne(ctx context.Context, r *recipe.Recipe, a arch.Arch, key Key, rev string, deps map[string]string) (*Output, error) {
	log := logr.FromContextOrDiscard(ctx)

	unlock, err := b.cache.Acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire cache slot %s/%s: %w", key.Recipe, key.Arch, err)
	}
	defer unlock()

	// Checked under the slot lock: a concurrent holder may have just
	// built it.
	entry, ok, err := b.cache.Get(key)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Info("Cache hit", "fingerprint", key.Fingerprint.Encoded()[:12])
		return &Output{
			Recipe:      r.Name,
			Version:     r.Version,
			Arch:        a.Name,
			Fingerprint: key.Fingerprint,
			Dir:         entry.Dir,
			Libs:        entry.Libs,
			Cached:      true,
		}, nil
	}

	prefix, err := b.cache.Prepare(key)
	if err != nil {
		return nil, err
	}
	log.Info("Building", "version", r.Version)
	res, err := b.invoker.Build(ctx, r, a, toolchain.BuildEnv{
		API:     b.opts.API,
		Prefix:  prefix,
		WorkDir: filepath.Join(b.opts.WorkDir, a.Name, r.Name),
		Deps:    deps,

		Revision: rev,
	})
	if err != nil {
		return nil, err
	}

	entry = &Entry{Version: r.Version, Libs: res.Libs}
	if err := b.cache.Put(key, entry); err != nil {
		return nil, err
	}
	return &Output{
		Recipe:      r.Name,
		Version:     r.Version,
		Arch:        a.Name,
		Fingerprint: key.Fingerprint,
		Dir:         entry.Dir,
		Libs:        entry.Libs,
	}, nil
}

// revisions resolves each recipe's source revision once per Build, so
// every architecture fingerprints the same commit.
type revisions struct {
	invoker Invoker
	mu      sync.Mutex
	m       map[string]*revision
}

type revision struct {
	once   sync.Once
	commit string
	err    error
}

func (rs *revisions) get(ctx context.Context, r *recipe.Recipe) (string, error) {
	rs.mu.Lock()
	if rs.m == nil {
		rs.m = make(map[string]*revision)
	}
	rev, ok := rs.m[r.Name]
	if !ok {
		rev = &revision{}
		rs.m[r.Name] = rev
	}
	rs.mu.Unlock()

	rev.once.Do(func() {
		rev.commit, rev.err = rs.invoker.Revision(ctx, r)
		if rev.err == nil && rev.commit != "" {
			logr.FromContextOrDiscard(ctx).V(1).Info("Resolved source revision", "ref", r.Ref, "commit", rev.commit)
		}
	})
	return rev.commit, rev.err
}

func firstFailed(names []string, failed map[string]string) string {
	for _, n := range names {
		if cause, ok := failed[n]; ok {
			return cause
		}
	}
	return ""
}
