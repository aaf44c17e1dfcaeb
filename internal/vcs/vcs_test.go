package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

type testRemote struct {
	url    string
	v1, v2 string // commits tagged v1 and v2
	dir    string
	t      *testing.T
}

func (r *testRemote) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s: %v\n%s", args[0], err, out)
	}
	return strings.TrimSpace(string(out))
}

func (r *testRemote) commit(content, msg string) string {
	r.t.Helper()
	if err := os.WriteFile(filepath.Join(r.dir, "VERSION"), []byte(content), 0644); err != nil {
		r.t.Fatal(err)
	}
	r.git("add", "VERSION")
	r.git("commit", "--quiet", "-m", msg)
	return r.git("rev-parse", "HEAD")
}

// newRemote creates a local repository on branch "main" with two tagged
// commits; v1 also carries the annotated tag "release-1".
func newRemote(t *testing.T) *testRemote {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	r := &testRemote{dir: filepath.Join(t.TempDir(), "remote"), t: t}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		t.Fatal(err)
	}
	r.git("init", "--quiet")
	r.git("symbolic-ref", "HEAD", "refs/heads/main")
	r.v1 = r.commit("1\n", "v1")
	r.git("tag", "v1")
	r.git("tag", "-a", "-m", "first release", "release-1")
	r.v2 = r.commit("2\n", "v2")
	r.git("tag", "v2")
	r.url = "file://" + filepath.ToSlash(r.dir)
	return r
}

func TestGit_Sync(t *testing.T) {
	remote := newRemote(t)
	git := NewGit()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "src")

	if err := git.Sync(ctx, remote.url, "v1", dir); err != nil {
		t.Fatalf("Sync (init) failed: %v", err)
	}
	if got, err := git.Head(ctx, dir); err != nil || got != remote.v1 {
		t.Errorf("Head() = %s, %v, want %s", got, err, remote.v1)
	}
	data, err := os.ReadFile(filepath.Join(dir, "VERSION"))
	if err != nil || string(data) != "1\n" {
		t.Errorf("VERSION = %q, %v", data, err)
	}

	if err := git.Sync(ctx, remote.url, "v2", dir); err != nil {
		t.Fatalf("Sync (update) failed: %v", err)
	}
	if got, _ := git.Head(ctx, dir); got != remote.v2 {
		t.Errorf("Head() after update = %s, want %s", got, remote.v2)
	}
}

func TestGit_SyncErrors(t *testing.T) {
	remote := newRemote(t)
	ctx := context.Background()

	err := NewGit().Sync(ctx, remote.url, "no-such-tag", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "fetch") {
		t.Errorf("Sync(no-such-tag) = %v, want fetch error", err)
	}

	missing := &Git{Path: filepath.Join(t.TempDir(), "nogit")}
	if err := missing.Sync(ctx, remote.url, "v1", t.TempDir()); err == nil {
		t.Error("expected error with a missing git executable")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := NewGit().Sync(cancelled, remote.url, "v1", t.TempDir()); err == nil {
		t.Error("expected error with a cancelled context")
	}
}

func TestGit_Resolve(t *testing.T) {
	remote := newRemote(t)
	git := NewGit()
	ctx := context.Background()

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"Tag", "v1", remote.v1},
		{"AnnotatedTag", "release-1", remote.v1},
		{"Branch", "main", remote.v2},
		{"FullRef", "refs/tags/v2", remote.v2},
		{"Head", "", remote.v2},
		{"Commit", remote.v1, remote.v1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := git.Resolve(ctx, remote.url, tt.ref)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.ref, got, tt.want)
			}
		})
	}

	t.Run("Missing", func(t *testing.T) {
		if _, err := git.Resolve(ctx, remote.url, "no-such-ref"); err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("Resolve(no-such-ref) = %v, want not found", err)
		}
	})

	// A branch resolves to its new tip once it moves.
	v3 := remote.commit("3\n", "v3")
	if got, err := git.Resolve(ctx, remote.url, "main"); err != nil || got != v3 {
		t.Errorf("Resolve(main) after a new commit = %s, %v, want %s", got, err, v3)
	}
}
