package resolve

import (
	"fmt"
	"strings"

	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/recipe"
)

// Plan is the ordered set of builds for one run. Every recipe in Order
// comes after all of its dependencies. Plans are built once and only read
// afterwards.
type Plan struct {
	Order []string
	Archs []arch.Arch

	recipes map[string]*recipe.Recipe
	deps    map[string][]string
}

// Step is one (recipe, architecture) build.
type Step struct {
	Recipe *recipe.Recipe
	Arch   arch.Arch
}

// Steps expands the plan into its per-architecture builds. The recipe order
// is the same for every architecture.
func (p *Plan) Steps() []Step {
	steps := make([]Step, 0, len(p.Order)*len(p.Archs))
	for _, a := range p.Archs {
		for _, name := range p.Order {
			steps = append(steps, Step{Recipe: p.recipes[name], Arch: a})
		}
	}
	return steps
}

// ArchSteps returns the steps of one architecture in build order.
func (p *Plan) ArchSteps(a arch.Arch) []Step {
	steps := make([]Step, len(p.Order))
	for i, name := range p.Order {
		steps[i] = Step{Recipe: p.recipes[name], Arch: a}
	}
	return steps
}

// Recipe returns the plan's recipe called name, or nil.
func (p *Plan) Recipe(name string) *recipe.Recipe {
	return p.recipes[name]
}

// Deps returns the direct dependencies of name in sorted order.
func (p *Plan) Deps(name string) []string {
	return p.deps[name]
}

// Closure returns every recipe name reachable from name, excluding name,
// in plan order.
func (p *Plan) Closure(name string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, d := range p.deps[n] {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(name)

	out := make([]string, 0, len(seen))
	for _, n := range p.Order {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// String renders the plan as text. The output depends only on the plan's
// content, so equal plans print identically.
func (p *Plan) String() string {
	var b strings.Builder
	for _, a := range p.Archs {
		fmt.Fprintf(&b, "%s:\n", a.Name)
		for i, name := range p.Order {
			r := p.recipes[name]
			fmt.Fprintf(&b, "  %d. %s %s", i+1, name, r.Version)
			if deps := p.deps[name]; len(deps) > 0 {
				fmt.Fprintf(&b, " (after %s)", strings.Join(deps, ", "))
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ArchNames returns the names of the plan's architectures.
func (p *Plan) ArchNames() []string {
	names := make([]string, len(p.Archs))
	for i, a := range p.Archs {
		names[i] = a.Name
	}
	return names
}
