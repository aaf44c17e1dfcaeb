//go:build unix

package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/recipe"
	"github.com/google/go-cmp/cmp"
)

func parseRecipe(t *testing.T, src string) *recipe.Recipe {
	t.Helper()
	recipes, err := recipe.Parse(filepath.Join(t.TempDir(), "r.hcl"), []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	return recipes[0]
}

func TestInvokerBuild(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "foo.c"), []byte("int foo;\n"), 0644); err != nil {
		t.Fatal(err)
	}
	r := parseRecipe(t, `
recipe "libfoo" {
  version = "1.0"
  path    = "`+srcDir+`"
  libs    = ["lib/*.so"]

  step "compile" {
    command = "sh"
    args    = ["-c", "mkdir -p ${prefix}/lib && echo \"$CC $ANDROID_API $FOO\" > ${prefix}/lib/libfoo.so"]
    env     = { FOO = "bar-${target.name}" }
  }
}
`)
	a, _ := arch.Lookup("arm64-v8a")
	work := t.TempDir()
	prefix := filepath.Join(work, "out")
	inv := NewInvoker(Config{NDK: "/ndk", HostTag: "linux-x86_64", StepTimeout: time.Minute}, t.TempDir())

	out, err := inv.Build(context.Background(), r, a, BuildEnv{API: 21, Prefix: prefix, WorkDir: filepath.Join(work, "work")})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if diff := cmp.Diff([]string{"lib/libfoo.so"}, out.Libs); diff != "" {
		t.Errorf("libs mismatch (-want +got):\n%s", diff)
	}
	data, err := os.ReadFile(filepath.Join(prefix, "lib", "libfoo.so"))
	if err != nil {
		t.Fatal(err)
	}
	want := "/ndk/toolchains/llvm/prebuilt/linux-x86_64/bin/aarch64-linux-android21-clang 21 bar-arm64-v8a\n"
	if string(data) != want {
		t.Errorf("step output = %q, want %q", data, want)
	}
}

func TestInvokerBuildFailure(t *testing.T) {
	r := parseRecipe(t, `
recipe "broken" {
  version = "1.0"

  step "configure" {
    command = "sh"
    args    = ["-c", "echo 'fatal: missing header zlib.h' >&2; exit 2"]
  }
  step "install" {
    command = "sh"
    args    = ["-c", "touch ${prefix}/installed"]
  }
}
`)
	a, _ := arch.Lookup("x86")
	work := t.TempDir()
	prefix := filepath.Join(work, "out")
	inv := NewInvoker(Config{}, t.TempDir())

	_, err := inv.Build(context.Background(), r, a, BuildEnv{API: 21, Prefix: prefix, WorkDir: filepath.Join(work, "work")})
	var terr *ToolchainError
	if !errors.As(err, &terr) {
		t.Fatalf("Build() = %v, want ToolchainError", err)
	}
	if terr.Recipe != "broken" || terr.Arch != "x86" || terr.Step != "configure" || terr.ExitCode != 2 {
		t.Errorf("got %+v", terr)
	}
	if !strings.Contains(terr.Tail(5), "zlib.h") {
		t.Errorf("diagnostics not captured: %q", terr.Output)
	}
	if _, err := os.Stat(filepath.Join(prefix, "installed")); !os.IsNotExist(err) {
		t.Error("steps after the failing one ran")
	}
}

func TestInvokerMissingLibs(t *testing.T) {
	r := parseRecipe(t, `
recipe "nolib" {
  version = "1.0"
  libs    = ["lib/libnolib.so"]
}
`)
	a, _ := arch.Lookup("x86_64")
	work := t.TempDir()
	_, err := NewInvoker(Config{}, t.TempDir()).Build(context.Background(), r, a,
		BuildEnv{API: 21, Prefix: filepath.Join(work, "out"), WorkDir: filepath.Join(work, "work")})
	var terr *ToolchainError
	if !errors.As(err, &terr) || terr.Step != "collect" {
		t.Fatalf("Build() = %v, want collect failure", err)
	}
}

func TestConfigEnv(t *testing.T) {
	a, _ := arch.Lookup("armeabi-v7a")
	cfg := Config{NDK: "/ndk", HostTag: "linux-x86_64", ExtraEnv: map[string]string{"MAKEFLAGS": "-s"}}
	env := cfg.Env(a, 21, []string{"/cache/libffi/out", "/cache/openssl/out"})

	if got, want := env["CC"], "/ndk/toolchains/llvm/prebuilt/linux-x86_64/bin/armv7a-linux-androideabi21-clang"; got != want {
		t.Errorf("CC = %q, want %q", got, want)
	}
	if got, want := env["LDFLAGS"], "-L/cache/libffi/out/lib -L/cache/openssl/out/lib"; got != want {
		t.Errorf("LDFLAGS = %q, want %q", got, want)
	}
	if !strings.Contains(env["CFLAGS"], "-march=armv7-a") || !strings.Contains(env["CFLAGS"], "-I/cache/openssl/out/include") {
		t.Errorf("CFLAGS = %q", env["CFLAGS"])
	}
	if env["MAKEFLAGS"] != "-s" {
		t.Error("extra env not applied")
	}

	// No NDK: tools are looked up on PATH.
	if got := (&Config{}).Tools(a, 24)["cc"]; got != "armv7a-linux-androideabi24-clang" {
		t.Errorf("cc without NDK = %q", got)
	}
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"PATH=/bin", "CC=gcc", "broken"}, map[string]string{"CC": "clang", "AR": "llvm-ar"})
	want := []string{"AR=llvm-ar", "CC=clang", "PATH=/bin"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mergeEnv mismatch (-want +got):\n%s", diff)
	}
}
