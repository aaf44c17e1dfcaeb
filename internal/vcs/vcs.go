// Package vcs fetches recipe sources from version control.
//
// A git source is named by a remote and a ref. Because branch refs move,
// the builder pins each ref to a commit with Resolve before fingerprinting,
// and checks after Sync that the checkout is that commit.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

var reCommit = regexp.MustCompile(`^[0-9a-f]{40}$`)

// VCS is a version control client.
type VCS interface {
	// Resolve returns the commit that ref names on remote, without
	// fetching it. An empty ref is the remote HEAD.
	Resolve(ctx context.Context, remote, ref string) (string, error)

	// Sync makes dir a shallow checkout of ref from remote, initializing
	// the repository if needed.
	Sync(ctx context.Context, remote, ref, dir string) error

	// Head returns the commit checked out in dir.
	Head(ctx context.Context, dir string) (string, error)
}

// Git drives the git command line.
type Git struct {
	// Path is the git executable; empty means "git" on PATH.
	Path string
}

// NewGit returns a client running the git found on PATH.
func NewGit() *Git {
	return &Git{}
}

// Resolve looks ref up with ls-remote, preferring the peeled commit of an
// annotated tag. Full commit hashes are returned unchanged.
func (g *Git) Resolve(ctx context.Context, remote, ref string) (string, error) {
	if reCommit.MatchString(ref) {
		return ref, nil
	}
	if ref == "" {
		ref = "HEAD"
	}
	out, err := g.output(ctx, "", "ls-remote", remote, ref)
	if err != nil {
		return "", fmt.Errorf("ls-remote %s %s: %w", remote, ref, err)
	}

	refs := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if hash, name, ok := strings.Cut(strings.TrimSpace(line), "\t"); ok {
			refs[name] = hash
		}
	}
	// Same precedence as git's own ref disambiguation.
	for _, name := range []string{ref, "refs/" + ref, "refs/tags/" + ref, "refs/heads/" + ref} {
		if hash, ok := refs[name+"^{}"]; ok {
			return hash, nil
		}
		if hash, ok := refs[name]; ok {
			return hash, nil
		}
	}
	return "", fmt.Errorf("ref %s not found in %s", ref, remote)
}

func (g *Git) Sync(ctx context.Context, remote, ref, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if _, err := g.output(ctx, dir, "init", "--quiet"); err != nil {
			return fmt.Errorf("init %s: %w", dir, err)
		}
	}
	if ref == "" {
		ref = "HEAD"
	}
	if _, err := g.output(ctx, dir, "fetch", "--quiet", "--depth", "1", remote, ref); err != nil {
		return fmt.Errorf("fetch %s %s: %w", remote, ref, err)
	}
	if _, err := g.output(ctx, dir, "checkout", "--quiet", "--force", "FETCH_HEAD"); err != nil {
		return fmt.Errorf("checkout %s: %w", ref, err)
	}
	return nil
}

func (g *Git) Head(ctx context.Context, dir string) (string, error) {
	out, err := g.output(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// output runs git in dir and returns its stdout. A failing command is
// reported by its stderr.
func (g *Git) output(ctx context.Context, dir string, args ...string) (string, error) {
	bin := g.Path
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
