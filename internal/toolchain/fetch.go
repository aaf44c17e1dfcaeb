package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/goplus/apkbuild/internal/recipe"
	"github.com/goplus/apkbuild/internal/vcs"
	"github.com/opencontainers/go-digest"
)

// MaxFetchAttempts bounds the attempts for a network fetch.
const MaxFetchAttempts = 3

// Fetcher obtains recipe sources. Network fetches are the only operations
// that are retried.
type Fetcher struct {
	Client *http.Client
	VCS    vcs.VCS
	// Dir holds downloaded archives, named by their digest so a verified
	// download is reused by later builds of any architecture.
	Dir string

	// InitialInterval is the first retry delay; it doubles per attempt.
	InitialInterval time.Duration
}

// Fetch places the source of r into dest. url is the recipe's evaluated
// archive url, if any. For git sources, a non-empty rev is the commit the
// checkout must be at, as returned by Revision.
func (f *Fetcher) Fetch(ctx context.Context, r *recipe.Recipe, url, rev, dest string) error {
	switch {
	case url != "":
		archive, err := f.download(ctx, url, r.SHA256)
		if err != nil {
			return err
		}
		return Unpack(archive, dest)
	case r.Git != "":
		_, err := retry(ctx, f.InitialInterval, "git "+r.Git, func() (struct{}, error) {
			return struct{}{}, f.vcs().Sync(ctx, r.Git, r.Ref, dest)
		})
		if err != nil || rev == "" {
			return err
		}
		head, err := f.vcs().Head(ctx, dest)
		if err != nil {
			return err
		}
		if head != rev {
			return fmt.Errorf("git %s: ref %q moved to %s during the build, expected %s", r.Git, r.Ref, head, rev)
		}
		return nil
	case r.Path != "":
		return os.CopyFS(dest, os.DirFS(r.Path))
	}
	return nil
}

// Revision returns the commit r's git ref currently names, or "" for
// sources that are pinned by content.
func (f *Fetcher) Revision(ctx context.Context, r *recipe.Recipe) (string, error) {
	if r.Git == "" {
		return "", nil
	}
	return retry(ctx, f.InitialInterval, "git "+r.Git, func() (string, error) {
		return f.vcs().Resolve(ctx, r.Git, r.Ref)
	})
}

func (f *Fetcher) vcs() vcs.VCS {
	if f.VCS != nil {
		return f.VCS
	}
	return vcs.NewGit()
}

// download fetches url into the download directory and verifies it
// against the hex sha256 want.
func (f *Fetcher) download(ctx context.Context, url, want string) (string, error) {
	expected := digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(want))
	if err := expected.Validate(); err != nil {
		return "", fmt.Errorf("invalid sha256 %q: %w", want, err)
	}

	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return "", err
	}
	file := filepath.Join(f.Dir, expected.Encoded()+"-"+archiveName(url))
	if verify(file, expected) == nil {
		logr.FromContextOrDiscard(ctx).V(1).Info("Reusing download", "url", url, "file", file)
		return file, nil
	}

	_, err := retry(ctx, f.InitialInterval, url, func() (struct{}, error) {
		return struct{}{}, f.get(ctx, url, file, expected)
	})
	if err != nil {
		return "", err
	}
	return file, nil
}

func (f *Fetcher) get(ctx context.Context, url, file string, expected digest.Digest) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	tmp, err := os.CreateTemp(f.Dir, ".download-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	defer os.Remove(tmp.Name())

	verifier := expected.Verifier()
	_, err = io.Copy(io.MultiWriter(tmp, verifier), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if !verifier.Verified() {
		// The server delivered the full body; a retry would fetch the
		// same bytes.
		return backoff.Permanent(fmt.Errorf("GET %s: sha256 mismatch, want %s", url, expected.Encoded()))
	}
	return os.Rename(tmp.Name(), file)
}

func verify(file string, expected digest.Digest) error {
	fp, err := os.Open(file)
	if err != nil {
		return err
	}
	defer fp.Close()
	got, err := expected.Algorithm().FromReader(fp)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%s: digest %s, want %s", file, got, expected)
	}
	return nil
}

// retry runs op with exponential backoff, at most MaxFetchAttempts times.
func retry[T any](ctx context.Context, initial time.Duration, what string, op backoff.Operation[T]) (T, error) {
	log := logr.FromContextOrDiscard(ctx)
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(MaxFetchAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Info("Fetch failed, retrying", "source", what, "in", next, "err", err)
		}),
	)
}

func archiveName(url string) string {
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	if name == "." || name == "/" {
		return "archive"
	}
	return name
}

var errUnsupportedArchive = errors.New("unsupported archive format")
