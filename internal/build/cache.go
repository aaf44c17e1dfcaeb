package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
)

// Cache directory layout:
//
//	cacheDir/
//	  <recipe>/
//	    <arch>/                # one slot per (recipe, arch)
//	      .lock                # cross-process slot lock
//	      entry.json           # written last; marks out/ as complete
//	      out/                 # install prefix of the build
//	        include/
//	        lib/
//	        ...
const (
	entryFile = "entry.json"
	lockFile  = ".lock"
	outDir    = "out"
)

// ErrSlotBusy is returned by Acquire under LockStrict when another build
// holds the slot.
var ErrSlotBusy = errors.New("cache slot is busy")

var errCorruptEntry = errors.New("corrupt cache entry")

// LockPolicy decides what a second concurrent request for a slot does.
type LockPolicy int

const (
	// LockWait blocks until the holder finishes, then re-reads the slot,
	// so a build finished by the holder is reused.
	LockWait LockPolicy = iota
	// LockStrict fails immediately with ErrSlotBusy.
	LockStrict
)

// Key identifies a cache entry. Recipe and Arch select the slot; a stored
// entry is only valid for the same Fingerprint.
type Key struct {
	Recipe      string
	Arch        string
	Fingerprint digest.Digest
}

func (k Key) slot() string { return k.Recipe + "/" + k.Arch }

// Entry describes one cached build.
type Entry struct {
	Recipe      string        `json:"recipe"`
	Arch        string        `json:"arch"`
	Version     string        `json:"version"`
	Fingerprint digest.Digest `json:"fingerprint"`
	Libs        []string      `json:"libs,omitempty"`
	BuiltAt     time.Time     `json:"built_at"`
	// Size is the total size of the out directory in bytes.
	Size int64 `json:"size"`

	// Dir is the out directory; it is derived from the slot, not stored.
	Dir string `json:"-"`
}

// Cache stores build outputs per (recipe, architecture). Locking is per
// slot: builds of unrelated slots never wait on each other.
type Cache struct {
	dir    string
	policy LockPolicy

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// OpenCache opens or creates the cache rooted at dir.
func OpenCache(dir string, policy LockPolicy) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, policy: policy, slots: make(map[string]chan struct{})}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) slotDir(recipe, arch string) string {
	return filepath.Join(c.dir, recipe, arch)
}

// OutDir returns the directory a build for key installs into.
func (c *Cache) OutDir(key Key) string {
	return filepath.Join(c.slotDir(key.Recipe, key.Arch), outDir)
}

// Get returns the entry stored for key. A missing entry, an entry with a
// different fingerprint and an unreadable entry are all misses.
func (c *Cache) Get(key Key) (*Entry, bool, error) {
	e, err := c.load(key.Recipe, key.Arch)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errCorruptEntry) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if e.Fingerprint != key.Fingerprint {
		return nil, false, nil
	}
	if _, err := os.Stat(e.Dir); err != nil {
		return nil, false, nil
	}
	return e, true, nil
}

// Prepare invalidates the slot of key and returns its empty out directory.
// The caller must hold the slot.
func (c *Cache) Prepare(key Key) (string, error) {
	slot := c.slotDir(key.Recipe, key.Arch)
	if err := os.Remove(filepath.Join(slot, entryFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	out := filepath.Join(slot, outDir)
	if err := os.RemoveAll(out); err != nil {
		return "", err
	}
	return out, os.MkdirAll(out, 0o755)
}

// Put records e as the entry for key. The build output must already be in
// OutDir(key), and the caller must hold the slot.
func (c *Cache) Put(key Key, e *Entry) error {
	e.Recipe, e.Arch, e.Fingerprint = key.Recipe, key.Arch, key.Fingerprint
	e.Dir = c.OutDir(key)
	if e.BuiltAt.IsZero() {
		e.BuiltAt = time.Now()
	}
	size, err := dirSize(e.Dir)
	if err != nil {
		return err
	}
	e.Size = size

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	slot := c.slotDir(key.Recipe, key.Arch)
	tmp, err := os.CreateTemp(slot, ".entry-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(slot, entryFile))
}

func (c *Cache) load(recipe, arch string) (*Entry, error) {
	slot := c.slotDir(recipe, arch)
	data, err := os.ReadFile(filepath.Join(slot, entryFile))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errCorruptEntry, recipe+"/"+arch, err)
	}
	e.Dir = filepath.Join(slot, outDir)
	return &e, nil
}

// Acquire takes the slot of key, in this process and across processes.
// The returned function releases it.
func (c *Cache) Acquire(ctx context.Context, key Key) (unlock func(), err error) {
	c.mu.Lock()
	sem, ok := c.slots[key.slot()]
	if !ok {
		sem = make(chan struct{}, 1)
		c.slots[key.slot()] = sem
	}
	c.mu.Unlock()

	if c.policy == LockStrict {
		select {
		case sem <- struct{}{}:
		default:
			return nil, ErrSlotBusy
		}
	} else {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	slot := c.slotDir(key.Recipe, key.Arch)
	if err := os.MkdirAll(slot, 0o755); err != nil {
		<-sem
		return nil, err
	}
	release, err := lockFileAt(ctx, filepath.Join(slot, lockFile), c.policy == LockStrict)
	if err != nil {
		<-sem
		return nil, err
	}
	return func() {
		release()
		<-sem
	}, nil
}

// List returns every entry in the cache, sorted by recipe then arch.
func (c *Cache) List() ([]*Entry, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*", "*", entryFile))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var entries []*Entry
	for _, m := range matches {
		arch := filepath.Dir(m)
		recipe := filepath.Dir(arch)
		e, err := c.load(filepath.Base(recipe), filepath.Base(arch))
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PruneOptions selects the entries Prune removes. With no option set,
// nothing is removed.
type PruneOptions struct {
	All bool
	// Recipes removes every slot of the named recipes.
	Recipes []string
	// MaxBytes evicts the oldest entries until the total size fits.
	MaxBytes int64
}

// Prune removes entries selected by opts and returns them. Each slot is
// taken before it is removed, following the cache's lock policy.
func (c *Cache) Prune(ctx context.Context, opts PruneOptions) ([]*Entry, error) {
	log := logr.FromContextOrDiscard(ctx)
	entries, err := c.List()
	if err != nil {
		return nil, err
	}

	selected := make(map[*Entry]bool)
	for _, e := range entries {
		if opts.All {
			selected[e] = true
			continue
		}
		for _, r := range opts.Recipes {
			if e.Recipe == r {
				selected[e] = true
			}
		}
	}
	if opts.MaxBytes > 0 {
		var total int64
		for _, e := range entries {
			if !selected[e] {
				total += e.Size
			}
		}
		byAge := make([]*Entry, len(entries))
		copy(byAge, entries)
		sort.SliceStable(byAge, func(i, j int) bool { return byAge[i].BuiltAt.Before(byAge[j].BuiltAt) })
		for _, e := range byAge {
			if total <= opts.MaxBytes {
				break
			}
			if !selected[e] {
				selected[e] = true
				total -= e.Size
			}
		}
	}

	var removed []*Entry
	for _, e := range entries {
		if !selected[e] {
			continue
		}
		key := Key{Recipe: e.Recipe, Arch: e.Arch}
		unlock, err := c.Acquire(ctx, key)
		if err != nil {
			return removed, err
		}
		slot := c.slotDir(e.Recipe, e.Arch)
		err = os.Remove(filepath.Join(slot, entryFile))
		if err == nil {
			err = os.RemoveAll(filepath.Join(slot, outDir))
		}
		unlock()
		if err != nil {
			return removed, err
		}
		log.V(1).Info("Pruned cache entry", "recipe", e.Recipe, "arch", e.Arch, "size", e.Size)
		removed = append(removed, e)
	}
	return removed, nil
}

func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	return size, err
}
