package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
)

// fakeVCS fails the first fail syncs and resolves, then records the ref
// it was asked for. Every ref resolves to, and checks out as, head.
type fakeVCS struct {
	calls    atomic.Int32
	resolves atomic.Int32
	fail     int32
	head     string
}

func (v *fakeVCS) Resolve(ctx context.Context, remote, ref string) (string, error) {
	if v.resolves.Add(1) <= v.fail {
		return "", errors.New("connection reset")
	}
	return v.head, nil
}

func (v *fakeVCS) Sync(ctx context.Context, remote, ref, dir string) error {
	if v.calls.Add(1) <= v.fail {
		return errors.New("connection reset")
	}
	return os.WriteFile(filepath.Join(dir, "REF"), []byte(ref), 0644)
}

func (v *fakeVCS) Head(ctx context.Context, dir string) (string, error) { return v.head, nil }
