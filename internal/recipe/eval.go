package recipe

import (
	"fmt"
	"slices"
	"sort"

	"github.com/goplus/apkbuild/internal/arch"
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Vars are the values a recipe's expressions can refer to when built for
// one architecture.
type Vars struct {
	Arch   arch.Arch
	API    int
	Jobs   int
	Prefix string // install prefix, ${prefix}
	Source string // unpacked source dir, ${source}
	// Deps maps each dependency name to its install prefix, ${deps.<name>}.
	Deps map[string]string
	// Tools maps tool variables (cc, cxx, ar, ...) to paths, ${tools.<name>}.
	Tools map[string]string
	// BuildArgs maps a build system (cmake, configure) to its standard
	// cross-compile arguments, ${buildsys.<name>}.
	BuildArgs map[string][]string
}

// Instructions are a recipe's steps evaluated for one architecture.
type Instructions struct {
	URL   string
	Steps []Step
}

// Step is one external command run while building a recipe.
type Step struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	// Dir is relative to the source directory; empty means the source
	// directory itself.
	Dir string
}

var functions = map[string]function.Function{
	"join":    stdlib.JoinFunc,
	"concat":  stdlib.ConcatFunc,
	"format":  stdlib.FormatFunc,
	"upper":   stdlib.UpperFunc,
	"lower":   stdlib.LowerFunc,
	"replace": stdlib.ReplaceFunc,
}

// Eval evaluates the recipe for the target described by vars. Steps whose
// archs filter excludes vars.Arch are dropped.
func (r *Recipe) Eval(vars Vars) (*Instructions, error) {
	ctx := r.evalContext(vars)
	out := &Instructions{}

	url, err := evalString(r.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: url: %w", r.Name, err)
	}
	out.URL = url

	for _, s := range r.steps {
		if len(s.archs) > 0 && !slices.Contains(s.archs, vars.Arch.Name) {
			continue
		}
		step := Step{Name: s.name}
		if step.Command, err = evalString(s.command, ctx); err != nil {
			return nil, fmt.Errorf("recipe %s: step %s: command: %w", r.Name, s.name, err)
		}
		if step.Command == "" {
			return nil, fmt.Errorf("recipe %s: step %s: command is empty", r.Name, s.name)
		}
		if step.Args, err = evalStrings(s.args, ctx); err != nil {
			return nil, fmt.Errorf("recipe %s: step %s: args: %w", r.Name, s.name, err)
		}
		if step.Env, err = evalStringMap(s.env, ctx); err != nil {
			return nil, fmt.Errorf("recipe %s: step %s: env: %w", r.Name, s.name, err)
		}
		if step.Dir, err = evalString(s.dir, ctx); err != nil {
			return nil, fmt.Errorf("recipe %s: step %s: dir: %w", r.Name, s.name, err)
		}
		out.Steps = append(out.Steps, step)
	}
	return out, nil
}

func (r *Recipe) evalContext(vars Vars) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"name":    cty.StringVal(r.Name),
			"version": cty.StringVal(r.Version),
			"prefix":  cty.StringVal(vars.Prefix),
			"source":  cty.StringVal(vars.Source),
			"jobs":    cty.NumberIntVal(int64(max(vars.Jobs, 1))),
			"target": cty.ObjectVal(map[string]cty.Value{
				"name":   cty.StringVal(vars.Arch.Name),
				"triple": cty.StringVal(vars.Arch.Triple),
				"api":    cty.NumberIntVal(int64(vars.API)),
			}),
			"deps":     stringObject(vars.Deps),
			"tools":    stringObject(vars.Tools),
			"buildsys": listObject(vars.BuildArgs),
		},
		Functions: functions,
	}
}

func stringObject(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(m))
	for k, v := range m {
		attrs[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(attrs)
}

func listObject(m map[string][]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(m))
	for k, vs := range m {
		if len(vs) == 0 {
			attrs[k] = cty.ListValEmpty(cty.String)
			continue
		}
		elems := make([]cty.Value, len(vs))
		for i, v := range vs {
			elems[i] = cty.StringVal(v)
		}
		attrs[k] = cty.ListVal(elems)
	}
	return cty.ObjectVal(attrs)
}

func evalValue(expr hcl.Expression, ctx *hcl.EvalContext) (cty.Value, error) {
	if expr == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	v, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	if !v.IsWhollyKnown() {
		return cty.NilVal, fmt.Errorf("value is not known")
	}
	return v, nil
}

func evalString(expr hcl.Expression, ctx *hcl.EvalContext) (string, error) {
	v, err := evalValue(expr, ctx)
	if err != nil || v.IsNull() {
		return "", err
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	return s.AsString(), nil
}

func evalStrings(expr hcl.Expression, ctx *hcl.EvalContext) ([]string, error) {
	v, err := evalValue(expr, ctx)
	if err != nil || v.IsNull() {
		return nil, err
	}
	ty := v.Type()
	if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
		return nil, fmt.Errorf("must be a list, got %s", ty.FriendlyName())
	}
	var out []string
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		s, err := convert.Convert(ev, cty.String)
		if err != nil {
			return nil, err
		}
		if s.IsNull() {
			return nil, fmt.Errorf("list elements must not be null")
		}
		out = append(out, s.AsString())
	}
	return out, nil
}

func evalStringMap(expr hcl.Expression, ctx *hcl.EvalContext) (map[string]string, error) {
	v, err := evalValue(expr, ctx)
	if err != nil || v.IsNull() {
		return nil, err
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("must be a map, got %s", ty.FriendlyName())
	}
	out := make(map[string]string)
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		s, err := convert.Convert(ev, cty.String)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k.AsString(), err)
		}
		if s.IsNull() {
			return nil, fmt.Errorf("%s must not be null", k.AsString())
		}
		out[k.AsString()] = s.AsString()
	}
	return out, nil
}

// stepNames returns the names of all steps, regardless of architecture.
func (r *Recipe) stepNames() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.name
	}
	return names
}

// SortedDepends returns the direct dependency names in sorted order.
func (r *Recipe) SortedDepends() []string {
	deps := slices.Clone(r.Depends)
	sort.Strings(deps)
	return slices.Compact(deps)
}
