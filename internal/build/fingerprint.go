package build

import (
	"fmt"
	"slices"

	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/recipe"
	"github.com/opencontainers/go-digest"
)

// Fingerprint identifies the inputs of building r for a at api: the recipe
// definition, its version, the source revision (the commit of a git
// source, "" otherwise), the target and the fingerprints of every
// transitive dependency built for the same target. Changing any of them
// changes the fingerprint of r and of everything that depends on r.
func Fingerprint(r *recipe.Recipe, rev string, a arch.Arch, api int, deps []digest.Digest) digest.Digest {
	sorted := slices.Clone(deps)
	slices.Sort(sorted)

	d := digest.Canonical.Digester()
	h := d.Hash()
	fmt.Fprintf(h, "recipe %s %s\n", r.Name, r.Digest)
	fmt.Fprintf(h, "version %s\n", r.Version)
	if rev != "" {
		fmt.Fprintf(h, "revision %s\n", rev)
	}
	fmt.Fprintf(h, "arch %s\n", a.Name)
	fmt.Fprintf(h, "api %d\n", api)
	for _, dep := range sorted {
		fmt.Fprintf(h, "dep %s\n", dep)
	}
	return d.Digest()
}
