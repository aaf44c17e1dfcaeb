// Package resolve turns a manifest's requirements into a build plan.
package resolve

import (
	"container/heap"
	"slices"
	"strings"

	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/manifest"
	"github.com/goplus/apkbuild/internal/recipe"
)

const (
	white = iota // unvisited
	gray         // on the DFS stack
	black        // done
)

// Resolve computes the build plan for required against catalog. The plan
// holds the transitive closure of the required recipes in dependency order,
// replicated once per architecture in archs.
//
// Resolve never mutates the catalog or its recipes.
func Resolve(required []manifest.Requirement, catalog *recipe.Catalog, archs []arch.Arch) (*Plan, error) {
	g := &graph{
		catalog: catalog,
		color:   make(map[string]int),
		deps:    make(map[string][]string),
	}

	roots := make([]manifest.Requirement, len(required))
	copy(roots, required)
	slices.SortFunc(roots, func(a, b manifest.Requirement) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, req := range roots {
		if err := g.visit(req.Name, ""); err != nil {
			return nil, err
		}
	}
	for _, req := range roots {
		r, _ := catalog.Lookup(req.Name)
		if !req.Satisfied(r.Version) {
			return nil, &VersionMismatchError{Name: req.Name, Want: req.Op + req.Version, Version: r.Version}
		}
	}

	return &Plan{
		Order:   g.order(),
		Archs:   slices.Clone(archs),
		recipes: g.recipes(),
		deps:    g.deps,
	}, nil
}

// graph is the dependency graph of the recipes reachable from the
// requirements. Nodes are recipe names; edges point from a recipe to the
// recipes it depends on.
type graph struct {
	catalog *recipe.Catalog
	color   map[string]int
	deps    map[string][]string
	stack   []string
}

func (g *graph) visit(name, parent string) error {
	switch g.color[name] {
	case black:
		return nil
	case gray:
		i := slices.Index(g.stack, name)
		return &CyclicDependencyError{Cycle: rotate(g.stack[i:])}
	}

	r, ok := g.catalog.Lookup(name)
	if !ok {
		return &UnknownRecipeError{Name: name, RequiredBy: parent}
	}

	g.color[name] = gray
	g.stack = append(g.stack, name)
	deps := r.SortedDepends()
	for _, dep := range deps {
		if err := g.visit(dep, name); err != nil {
			return err
		}
	}
	g.stack = g.stack[:len(g.stack)-1]
	g.color[name] = black
	g.deps[name] = deps
	return nil
}

// order returns the nodes in topological order. Among the recipes whose
// dependencies are all placed, the smallest name always goes first.
func (g *graph) order() []string {
	indeg := make(map[string]int, len(g.deps))
	dependents := make(map[string][]string)
	ready := &nameHeap{}
	for name, deps := range g.deps {
		indeg[name] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], name)
		}
		if len(deps) == 0 {
			heap.Push(ready, name)
		}
	}

	out := make([]string, 0, len(g.deps))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(string)
		out = append(out, n)
		for _, m := range dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

func (g *graph) recipes() map[string]*recipe.Recipe {
	out := make(map[string]*recipe.Recipe, len(g.deps))
	for name := range g.deps {
		out[name], _ = g.catalog.Lookup(name)
	}
	return out
}

// rotate shifts cycle so it starts at its smallest name.
func rotate(cycle []string) []string {
	if len(cycle) == 0 {
		return cycle
	}
	lo := 0
	for i, name := range cycle {
		if name < cycle[lo] {
			lo = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[lo:]...)
	return append(out, cycle[:lo]...)
}

type nameHeap []string

func (h nameHeap) Len() int           { return len(h) }
func (h nameHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h nameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nameHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *nameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
