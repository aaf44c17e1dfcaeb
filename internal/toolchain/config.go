// Package toolchain runs the external tools that build recipes: fetching
// sources, composing per-architecture compiler environments and running
// build steps as subprocesses.
package toolchain

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goplus/apkbuild/internal/arch"
)

// DefaultStepTimeout bounds a single build step when Config.StepTimeout is
// zero.
const DefaultStepTimeout = 30 * time.Minute

// Config is everything the invoker needs to know about the host. It is
// passed explicitly and never read from or written to the process
// environment, so concurrent architecture builds share it safely.
type Config struct {
	// NDK is the Android NDK root. Without it, compilers are looked up
	// on PATH by their target-prefixed names.
	NDK string
	// SDK is the Android SDK root.
	SDK string
	// HostTag selects the NDK prebuilt directory, e.g. "linux-x86_64".
	// Empty means the running host.
	HostTag string

	// ExtraEnv is added to every step's environment, after the computed
	// toolchain variables.
	ExtraEnv map[string]string

	StepTimeout time.Duration
	// Jobs is the parallelism passed to recipes as ${jobs}.
	Jobs int

	// Output, if set, receives the live output of every step.
	Output io.Writer
}

// BinDir returns the NDK's llvm prebuilt bin directory, or "" without an
// NDK.
func (c *Config) BinDir() string {
	if c.NDK == "" {
		return ""
	}
	tag := c.HostTag
	if tag == "" {
		var err error
		if tag, err = arch.HostTag(); err != nil {
			return ""
		}
	}
	return filepath.Join(c.NDK, "toolchains", "llvm", "prebuilt", tag, "bin")
}

// Tools returns the compiler and binutils paths for a at api, keyed by the
// names recipes use in ${tools.<name>}.
func (c *Config) Tools(a arch.Arch, api int) map[string]string {
	bin := c.BinDir()
	tool := func(name string) string {
		if bin == "" {
			return name
		}
		return filepath.Join(bin, name)
	}
	return map[string]string{
		"cc":     a.Clang(bin, api, false),
		"cxx":    a.Clang(bin, api, true),
		"ar":     tool("llvm-ar"),
		"ranlib": tool("llvm-ranlib"),
		"strip":  tool("llvm-strip"),
		"nm":     tool("llvm-nm"),
		"ld":     tool("ld.lld"),
	}
}

// Env returns the variables a build step for a runs with: compilers,
// flags for the target api level and search paths for every dependency
// prefix in deps.
func (c *Config) Env(a arch.Arch, api int, deps []string) map[string]string {
	tools := c.Tools(a, api)
	env := map[string]string{
		"CC":     tools["cc"],
		"CXX":    tools["cxx"],
		"AR":     tools["ar"],
		"RANLIB": tools["ranlib"],
		"STRIP":  tools["strip"],
		"NM":     tools["nm"],
		"LD":     tools["ld"],

		"ANDROID_ABI": a.Name,
		"ANDROID_API": strconv.Itoa(api),
	}
	if c.NDK != "" {
		env["ANDROID_NDK_HOME"] = c.NDK
	}
	if c.SDK != "" {
		env["ANDROID_HOME"] = c.SDK
	}

	cflags := append([]string{"-fPIC", "-DANDROID", "-D__ANDROID_API__=" + strconv.Itoa(api)}, a.CFlags...)
	var ldflags, pkgconfig, prefixes []string
	for _, dep := range deps {
		cflags = append(cflags, "-I"+filepath.Join(dep, "include"))
		ldflags = append(ldflags, "-L"+filepath.Join(dep, "lib"))
		pkgconfig = append(pkgconfig, filepath.Join(dep, "lib", "pkgconfig"))
		prefixes = append(prefixes, dep)
	}
	env["CFLAGS"] = strings.Join(cflags, " ")
	env["CXXFLAGS"] = env["CFLAGS"]
	if len(ldflags) > 0 {
		env["LDFLAGS"] = strings.Join(ldflags, " ")
		env["PKG_CONFIG_PATH"] = strings.Join(pkgconfig, string(os.PathListSeparator))
		env["CMAKE_PREFIX_PATH"] = strings.Join(prefixes, ";")
	}

	for k, v := range c.ExtraEnv {
		env[k] = v
	}
	return env
}

func (c *Config) stepTimeout() time.Duration {
	if c.StepTimeout > 0 {
		return c.StepTimeout
	}
	return DefaultStepTimeout
}

// mergeEnv returns base with override applied, sorted by name.
func mergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
