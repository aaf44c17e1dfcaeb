package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/recipe"
	"github.com/goplus/apkbuild/internal/toolchain"
)

// fakeInvoker "builds" a recipe by writing lib/lib<name>.so into the prefix.
type fakeInvoker struct {
	mu    sync.Mutex
	calls map[string]int
	envs  map[string]toolchain.BuildEnv

	// fail makes the build of "recipe/arch" fail.
	fail map[string]bool
	// block makes the build of "recipe/arch" wait for ctx to be cancelled.
	block map[string]bool
	// gate, if set, is received from before each build.
	gate chan struct{}

	// revs is the source revision of each recipe; revErr fails its lookup.
	revs     map[string]string
	revErr   map[string]error
	resolves map[string]int
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		calls: make(map[string]int),
		envs:  make(map[string]toolchain.BuildEnv),
		fail:  make(map[string]bool),
		block: make(map[string]bool),

		revs:     make(map[string]string),
		revErr:   make(map[string]error),
		resolves: make(map[string]int),
	}
}

func (f *fakeInvoker) Revision(ctx context.Context, r *recipe.Recipe) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves[r.Name]++
	return f.revs[r.Name], f.revErr[r.Name]
}

func (f *fakeInvoker) setRevision(name, rev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revs[name] = rev
}

func (f *fakeInvoker) Build(ctx context.Context, r *recipe.Recipe, a arch.Arch, env toolchain.BuildEnv) (*toolchain.Output, error) {
	key := r.Name + "/" + a.Name
	f.mu.Lock()
	f.calls[key]++
	f.envs[key] = env
	fail, block := f.fail[key], f.block[key]
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, &toolchain.ToolchainError{Recipe: r.Name, Arch: a.Name, Step: "install", ExitCode: 2}
	}

	lib := filepath.Join("lib", "lib"+r.Name+".so")
	if err := os.MkdirAll(filepath.Join(env.Prefix, "lib"), 0o755); err != nil {
		return nil, err
	}
	data := fmt.Sprintf("%s %s %s", r.Name, r.Version, a.Name)
	if err := os.WriteFile(filepath.Join(env.Prefix, lib), []byte(data), 0o644); err != nil {
		return nil, err
	}
	return &toolchain.Output{Libs: []string{filepath.ToSlash(lib)}}, nil
}

func (f *fakeInvoker) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeInvoker) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeInvoker) env(key string) toolchain.BuildEnv {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.envs[key]
}
