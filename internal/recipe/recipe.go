// Package recipe defines build recipes and the catalog they are looked up in.
//
// A recipe describes how to obtain and build one native dependency. Recipes
// are written in HCL; attributes that vary per architecture are kept as
// expressions and evaluated by Eval once the target is known:
//
//	recipe "libffi" {
//	  version = "3.4.4"
//	  url     = "https://github.com/libffi/libffi/releases/download/v${version}/libffi-${version}.tar.gz"
//	  sha256  = "d66c56ad259a82cf2a9dfc408b32bf5da52371500b84745f7fb8b645712df676"
//	  libs    = ["lib/libffi.so"]
//
//	  step "configure" {
//	    command = "./configure"
//	    args    = ["--host=${target.triple}", "--prefix=${prefix}"]
//	  }
//	  step "install" {
//	    command = "make"
//	    args    = ["-j${jobs}", "install"]
//	  }
//	}
package recipe

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/opencontainers/go-digest"
)

var reName = regexp.MustCompile(`^[a-z0-9][a-z0-9._+-]*$`)

// Recipe is one buildable dependency. Recipes are shared read-only across
// architecture workers.
type Recipe struct {
	Name    string
	Version string
	Depends []string

	// SHA256 is the expected hex digest of the downloaded archive.
	SHA256 string
	// Git and Ref select a git source; Path a local directory, relative
	// to the recipe file.
	Git  string
	Ref  string
	Path string

	// Libs are globs, relative to the install prefix, of the shared
	// libraries that go into the package.
	Libs []string

	// Digest identifies the recipe definition by content.
	Digest digest.Digest

	url   hcl.Expression
	steps []*stepDef
}

type stepDef struct {
	name    string
	archs   []string
	command hcl.Expression
	args    hcl.Expression
	env     hcl.Expression
	dir     hcl.Expression
}

// Catalog indexes recipes by name.
type Catalog struct {
	recipes map[string]*Recipe
}

// NewCatalog builds a catalog from recipes. Names must be unique. Recipes
// built in code without a Digest get one derived from their fields.
func NewCatalog(recipes ...*Recipe) (*Catalog, error) {
	c := &Catalog{recipes: make(map[string]*Recipe, len(recipes))}
	for _, r := range recipes {
		if err := c.add(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(r *Recipe) error {
	if !reName.MatchString(r.Name) {
		return fmt.Errorf("invalid recipe name %q", r.Name)
	}
	if _, ok := c.recipes[r.Name]; ok {
		return fmt.Errorf("duplicate recipe %q", r.Name)
	}
	if r.Digest == "" {
		deps := append([]string(nil), r.Depends...)
		sort.Strings(deps)
		r.Digest = digest.FromString(fmt.Sprintf("%s\n%s\n%s\n%s\n%s", r.Name, r.Version, strings.Join(deps, ","), r.SHA256, strings.Join(r.Libs, ",")))
	}
	c.recipes[r.Name] = r
	return nil
}

// Merge returns a catalog holding the recipes of c overridden by those of
// other with the same name.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	out := &Catalog{recipes: make(map[string]*Recipe, len(c.recipes)+len(other.recipes))}
	for name, r := range c.recipes {
		out.recipes[name] = r
	}
	for name, r := range other.recipes {
		out.recipes[name] = r
	}
	return out
}

// Lookup returns the recipe called name.
func (c *Catalog) Lookup(name string) (*Recipe, bool) {
	r, ok := c.recipes[name]
	return r, ok
}

// Names returns all recipe names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.recipes))
	for name := range c.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of recipes.
func (c *Catalog) Len() int { return len(c.recipes) }
