package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"
)

func putEntry(t *testing.T, c *Cache, recipe, arch string, size int, builtAt time.Time) Key {
	t.Helper()
	key := Key{Recipe: recipe, Arch: arch, Fingerprint: digest.FromString(recipe + arch)}
	unlock, err := c.Acquire(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()
	out, err := c.Prepare(key)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "lib.so"), make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(key, &Entry{Version: "1.0", Libs: []string{"lib.so"}, BuiltAt: builtAt}); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestCache_GetPut(t *testing.T) {
	c, err := OpenCache(t.TempDir(), LockWait)
	if err != nil {
		t.Fatal(err)
	}
	key := putEntry(t, c, "libffi", "arm64-v8a", 100, time.Time{})

	e, ok, err := c.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want hit", ok, err)
	}
	if e.Size != 100 || e.Version != "1.0" || e.Dir != c.OutDir(key) || e.BuiltAt.IsZero() {
		t.Errorf("unexpected entry %+v", e)
	}

	t.Run("FingerprintMismatch", func(t *testing.T) {
		other := key
		other.Fingerprint = digest.FromString("other")
		if _, ok, err := c.Get(other); ok || err != nil {
			t.Errorf("Get = %v, %v; want miss", ok, err)
		}
	})
	t.Run("Missing", func(t *testing.T) {
		if _, ok, err := c.Get(Key{Recipe: "zlib", Arch: "x86"}); ok || err != nil {
			t.Errorf("Get = %v, %v; want miss", ok, err)
		}
	})
	t.Run("Corrupt", func(t *testing.T) {
		corrupt := putEntry(t, c, "sqlite3", "x86", 1, time.Time{})
		path := filepath.Join(c.Dir(), "sqlite3", "x86", entryFile)
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, ok, err := c.Get(corrupt); ok || err != nil {
			t.Errorf("Get = %v, %v; want miss", ok, err)
		}
	})
	t.Run("OutDirRemoved", func(t *testing.T) {
		gone := putEntry(t, c, "openssl", "x86", 1, time.Time{})
		if err := os.RemoveAll(c.OutDir(gone)); err != nil {
			t.Fatal(err)
		}
		if _, ok, err := c.Get(gone); ok || err != nil {
			t.Errorf("Get = %v, %v; want miss", ok, err)
		}
	})
	t.Run("Prepare", func(t *testing.T) {
		unlock, err := c.Acquire(context.Background(), key)
		if err != nil {
			t.Fatal(err)
		}
		defer unlock()
		out, err := c.Prepare(key)
		if err != nil {
			t.Fatal(err)
		}
		if ents, _ := os.ReadDir(out); len(ents) != 0 {
			t.Errorf("out dir not emptied: %v", ents)
		}
		if _, ok, _ := c.Get(key); ok {
			t.Error("entry survived Prepare")
		}
	})
}

func TestCache_AcquireStrict(t *testing.T) {
	c, err := OpenCache(t.TempDir(), LockStrict)
	if err != nil {
		t.Fatal(err)
	}
	key := Key{Recipe: "libffi", Arch: "arm64-v8a"}
	unlock, err := c.Acquire(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Acquire(context.Background(), key); !errors.Is(err, ErrSlotBusy) {
		t.Errorf("second Acquire error = %v, want ErrSlotBusy", err)
	}
	other, err := c.Acquire(context.Background(), Key{Recipe: "libffi", Arch: "x86"})
	if err != nil {
		t.Errorf("Acquire of another slot failed: %v", err)
	} else {
		other()
	}

	unlock()
	again, err := c.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again()
}

func TestCache_AcquireWait(t *testing.T) {
	c, err := OpenCache(t.TempDir(), LockWait)
	if err != nil {
		t.Fatal(err)
	}
	key := Key{Recipe: "libffi", Arch: "arm64-v8a"}
	unlock, err := c.Acquire(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := c.Acquire(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Acquire error = %v, want DeadlineExceeded", err)
		}
	})

	acquired := make(chan struct{})
	go func() {
		u, err := c.Acquire(context.Background(), key)
		if err == nil {
			u()
		}
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("Acquire returned while the slot was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("waiting Acquire never returned")
	}
}

func TestCache_ListPrune(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	setup := func(t *testing.T) *Cache {
		c, err := OpenCache(t.TempDir(), LockWait)
		if err != nil {
			t.Fatal(err)
		}
		putEntry(t, c, "libffi", "arm64-v8a", 100, base)
		putEntry(t, c, "libffi", "x86", 100, base.Add(time.Hour))
		putEntry(t, c, "openssl", "arm64-v8a", 300, base.Add(2*time.Hour))
		return c
	}
	slots := func(entries []*Entry) []string {
		var s []string
		for _, e := range entries {
			s = append(s, e.Recipe+"/"+e.Arch)
		}
		return s
	}

	t.Run("List", func(t *testing.T) {
		entries, err := setup(t).List()
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"libffi/arm64-v8a", "libffi/x86", "openssl/arm64-v8a"}
		if diff := cmp.Diff(want, slots(entries)); diff != "" {
			t.Errorf("List mismatch (-want +got):\n%s", diff)
		}
	})

	tests := []struct {
		name    string
		opts    PruneOptions
		removed []string
		kept    []string
	}{
		{
			name:    "All",
			opts:    PruneOptions{All: true},
			removed: []string{"libffi/arm64-v8a", "libffi/x86", "openssl/arm64-v8a"},
		},
		{
			name:    "Recipes",
			opts:    PruneOptions{Recipes: []string{"libffi"}},
			removed: []string{"libffi/arm64-v8a", "libffi/x86"},
			kept:    []string{"openssl/arm64-v8a"},
		},
		{
			name:    "MaxBytes",
			opts:    PruneOptions{MaxBytes: 400},
			removed: []string{"libffi/arm64-v8a"},
			kept:    []string{"libffi/x86", "openssl/arm64-v8a"},
		},
		{
			name: "Nothing",
			kept: []string{"libffi/arm64-v8a", "libffi/x86", "openssl/arm64-v8a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setup(t)
			removed, err := c.Prune(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("Prune failed: %v", err)
			}
			if diff := cmp.Diff(tt.removed, slots(removed)); diff != "" {
				t.Errorf("removed mismatch (-want +got):\n%s", diff)
			}
			entries, err := c.List()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.kept, slots(entries)); diff != "" {
				t.Errorf("kept mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
