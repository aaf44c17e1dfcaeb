package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/opencontainers/go-digest"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

const fileExt = ".hcl"

type recipeBlock struct {
	Version string         `hcl:"version"`
	Depends []string       `hcl:"depends,optional"`
	URL     hcl.Expression `hcl:"url,optional"`
	SHA256  string         `hcl:"sha256,optional"`
	Git     string         `hcl:"git,optional"`
	Ref     string         `hcl:"ref,optional"`
	Path    string         `hcl:"path,optional"`
	Libs    []string       `hcl:"libs,optional"`
	Steps   []*stepBlock   `hcl:"step,block"`
}

type stepBlock struct {
	Name    string         `hcl:"name,label"`
	Archs   []string       `hcl:"archs,optional"`
	Command hcl.Expression `hcl:"command"`
	Args    hcl.Expression `hcl:"args,optional"`
	Env     hcl.Expression `hcl:"env,optional"`
	Dir     hcl.Expression `hcl:"dir,optional"`
}

// LoadDir loads every .hcl file directly under dir into one catalog.
// Files are read in name order so duplicate reports are stable.
func LoadDir(dir string) (*Catalog, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+fileExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	c := &Catalog{recipes: make(map[string]*Recipe)}
	for _, file := range matches {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		recipes, err := Parse(file, src)
		if err != nil {
			return nil, err
		}
		for _, r := range recipes {
			if err := c.add(r); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
	}
	return c, nil
}

// Parse decodes the recipe blocks in one HCL source file.
func Parse(filename string, src []byte) ([]*Recipe, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse recipe file %s: %w", filename, diags)
	}
	body := file.Body.(*hclsyntax.Body)
	for name, attr := range body.Attributes {
		return nil, fmt.Errorf("%s: unexpected top-level attribute %q", attr.SrcRange, name)
	}

	var recipes []*Recipe
	for _, block := range body.Blocks {
		if block.Type != "recipe" || len(block.Labels) != 1 {
			return nil, fmt.Errorf("%s: expected a recipe \"<name>\" block, got %q", block.DefRange(), block.Type)
		}
		var rb recipeBlock
		if diags := gohcl.DecodeBody(block.Body, staticContext(block), &rb); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode recipe %q: %w", block.Labels[0], diags)
		}

		rng := block.Range()
		r := &Recipe{
			Name:    block.Labels[0],
			Version: rb.Version,
			Depends: rb.Depends,
			SHA256:  rb.SHA256,
			Git:     rb.Git,
			Ref:     rb.Ref,
			Path:    rb.Path,
			Libs:    rb.Libs,
			Digest:  digest.FromBytes(src[rng.Start.Byte:rng.End.Byte]),
			url:     rb.URL,
		}
		if err := r.validateSource(); err != nil {
			return nil, fmt.Errorf("%s: %w", block.DefRange(), err)
		}
		if r.Path != "" && !filepath.IsAbs(r.Path) {
			r.Path = filepath.Join(filepath.Dir(filename), r.Path)
		}
		for _, sb := range rb.Steps {
			r.steps = append(r.steps, &stepDef{
				name:    sb.Name,
				archs:   sb.Archs,
				command: sb.Command,
				args:    sb.Args,
				env:     sb.Env,
				dir:     sb.Dir,
			})
		}
		recipes = append(recipes, r)
	}
	return recipes, nil
}

// staticContext is the evaluation context of the attributes decoded at load
// time (sha256, git, ref, path, libs): only ${name} and ${version} are
// known before a target is chosen.
func staticContext(block *hclsyntax.Block) *hcl.EvalContext {
	vars := map[string]cty.Value{"name": cty.StringVal(block.Labels[0])}
	if attr, ok := block.Body.Attributes["version"]; ok {
		v, diags := attr.Expr.Value(&hcl.EvalContext{Variables: map[string]cty.Value{"name": vars["name"]}})
		if !diags.HasErrors() {
			if v, err := convert.Convert(v, cty.String); err == nil && v.IsKnown() && !v.IsNull() {
				vars["version"] = v
			}
		}
	}
	return &hcl.EvalContext{Variables: vars}
}

func (r *Recipe) validateSource() error {
	n := 0
	if hasValue(r.url) {
		n++
		if r.SHA256 == "" {
			return fmt.Errorf("recipe %q: url requires sha256", r.Name)
		}
	}
	if r.Git != "" {
		n++
	}
	if r.Path != "" {
		n++
	}
	if n > 1 {
		return fmt.Errorf("recipe %q: url, git and path are mutually exclusive", r.Name)
	}
	if r.Ref != "" && r.Git == "" {
		return fmt.Errorf("recipe %q: ref requires git", r.Name)
	}
	return nil
}

// hasValue reports whether an optional attribute was set. gohcl fills
// missing expression fields with a static null.
func hasValue(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		// References variables, so it was written by the user.
		return true
	}
	return !v.IsNull()
}
