package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/goplus/apkbuild/internal/arch"
	"github.com/goplus/apkbuild/internal/version"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// UnknownKeyPolicy decides what happens to keys the parser does not
// recognize.
type UnknownKeyPolicy int

const (
	// Warn records unknown keys in Manifest.Warnings and carries on, so
	// manifests written for newer tools still load.
	Warn UnknownKeyPolicy = iota
	// Reject fails the parse with a ValidationError per unknown key.
	Reject
)

// Options configures Parse.
type Options struct {
	UnknownKeys UnknownKeyPolicy
}

// Documented defaults for optional keys.
const (
	DefaultAPI         = 33
	DefaultMinAPI      = 21
	DefaultOrientation = "portrait"
	DefaultSourceDir   = "."
)

// DefaultIncludeExts is used when source.include_exts is absent.
var DefaultIncludeExts = []string{"py", "png", "jpg", "kv", "atlas", "wav", "ogg", "ttf"}

var orientations = []string{"portrait", "landscape", "sensorPortrait", "sensorLandscape", "all"}

var (
	reIdent       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reRequirement = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9_.+-]*?)\s*(?:(==|>=)\s*(\S+))?$`)
)

// appKeys lists the keys recognized in the [app] section.
var appKeys = []string{
	"title",
	"package.name",
	"package.domain",
	"version",
	"version.code",
	"requirements",
	"orientation",
	"fullscreen",
	"source.dir",
	"source.include_exts",
	"source.include_patterns",
	"source.exclude_patterns",
	"source.required_patterns",
	"android.permissions",
	"android.api",
	"android.minapi",
	"android.ndk_api",
	"android.archs",
	"p4a.local_recipes",
}

// buildozerKeys are recognized for compatibility and otherwise ignored.
var buildozerKeys = []string{"log_level", "warn_on_root", "build_dir", "bin_dir"}

type field struct {
	section string
	key     string
	value   string
}

// Load reads and parses the manifest at path.
func Load(path string, opts Options) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data, opts)
}

// Parse parses the manifest named name. The format is chosen by extension:
// .yaml and .yml are YAML, anything else is the sectioned key/value format.
// On failure the returned error joins one *ValidationError per violation.
func Parse(name string, data []byte, opts Options) (*Manifest, error) {
	var (
		fields []field
		err    error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		fields, err = yamlFields(data)
	default:
		fields, err = iniFields(data)
	}
	if err != nil {
		return nil, &ValidationError{Field: filepath.Base(name), Msg: err.Error()}
	}
	m, err := fromFields(fields, opts)
	if err != nil {
		return nil, err
	}
	m.Dir = filepath.Dir(name)
	return m, nil
}

func iniFields(data []byte) ([]field, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		SpaceBeforeInlineComment:   true,
	}, data)
	if err != nil {
		return nil, err
	}
	var fields []field
	for _, sec := range cfg.Sections() {
		for _, k := range sec.Keys() {
			fields = append(fields, field{section: sec.Name(), key: k.Name(), value: strings.TrimSpace(k.Value())})
		}
	}
	return fields, nil
}

func yamlFields(data []byte) ([]field, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping of sections", root.Line)
	}
	var fields []field
	for i := 0; i+1 < len(root.Content); i += 2 {
		section, body := root.Content[i].Value, root.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: section %q must be a mapping", body.Line, section)
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key, val := body.Content[j].Value, body.Content[j+1]
			value, err := yamlScalar(val)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s.%s: %w", val.Line, section, key, err)
			}
			fields = append(fields, field{section: section, key: key, value: value})
		}
	}
	return fields, nil
}

func yamlScalar(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return strings.TrimSpace(n.Value), nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				return "", errors.New("list items must be scalars")
			}
			parts = append(parts, c.Value)
		}
		return strings.Join(parts, ","), nil
	}
	return "", errors.New("value must be a scalar or a list")
}

func fromFields(fields []field, opts Options) (*Manifest, error) {
	var (
		errs   []error
		values = make(map[string]string)
		m      = &Manifest{}
	)

	for _, f := range fields {
		switch {
		case f.section == "app" && slices.Contains(appKeys, f.key):
			values[f.key] = f.value
		case f.section == "buildozer" && slices.Contains(buildozerKeys, f.key):
		default:
			name := f.key
			if f.section != "" && f.section != "app" && f.section != ini.DefaultSection {
				name = f.section + "." + f.key
			}
			if opts.UnknownKeys == Reject {
				errs = append(errs, invalid(name, "unknown key"))
				continue
			}
			m.Warnings = append(m.Warnings, fmt.Sprintf("ignoring unknown key %s", name))
		}
	}

	required := func(key string) string {
		v := values[key]
		if v == "" {
			errs = append(errs, invalid(key, "required field is missing"))
		}
		return v
	}
	optionalInt := func(key string, def int) int {
		v, ok := values[key]
		if !ok || v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, invalid(key, "must be a positive integer, got %q", v))
			return def
		}
		return n
	}

	m.Title = required("title")

	m.PackageName = required("package.name")
	if m.PackageName != "" && !reIdent.MatchString(m.PackageName) {
		errs = append(errs, invalid("package.name", "%q is not a valid identifier", m.PackageName))
	}
	m.PackageDomain = required("package.domain")
	if m.PackageDomain != "" {
		for _, part := range strings.Split(m.PackageDomain, ".") {
			if !reIdent.MatchString(part) {
				errs = append(errs, invalid("package.domain", "%q is not a valid dotted identifier", m.PackageDomain))
				break
			}
		}
	}

	m.Version = required("version")
	if m.Version != "" && !version.Valid(m.Version) {
		errs = append(errs, invalid("version", "%q is not a comparable version", m.Version))
	}

	archErrs := len(errs)
	for _, name := range splitList(values["android.archs"]) {
		a, ok := arch.Lookup(name)
		if !ok {
			errs = append(errs, invalid("android.archs", "unknown architecture %q (known: %s)", name, strings.Join(arch.Names(), ", ")))
			continue
		}
		if m.HasArch(a.Name) {
			errs = append(errs, invalid("android.archs", "duplicate architecture %q", a.Name))
			continue
		}
		m.Archs = append(m.Archs, a)
	}
	if len(m.Archs) == 0 && len(errs) == archErrs {
		errs = append(errs, invalid("android.archs", "at least one architecture is required"))
	}

	m.API = optionalInt("android.api", DefaultAPI)
	m.MinAPI = optionalInt("android.minapi", DefaultMinAPI)
	m.NDKAPI = optionalInt("android.ndk_api", m.MinAPI)
	if m.MinAPI > m.API {
		errs = append(errs, invalid("android.minapi", "minapi %d is greater than api %d", m.MinAPI, m.API))
	}
	if m.NDKAPI > m.MinAPI {
		errs = append(errs, invalid("android.ndk_api", "ndk_api %d is greater than minapi %d", m.NDKAPI, m.MinAPI))
	}

	if v, ok := values["android.permissions"]; ok && v != "" {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				errs = append(errs, invalid("android.permissions", "permission names must be non-empty"))
				continue
			}
			m.Permissions = append(m.Permissions, p)
		}
	}

	m.Orientation = DefaultOrientation
	if v := values["orientation"]; v != "" {
		if !slices.Contains(orientations, v) {
			errs = append(errs, invalid("orientation", "%q is not one of %s", v, strings.Join(orientations, ", ")))
		}
		m.Orientation = v
	}

	if v := values["fullscreen"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, invalid("fullscreen", "must be a boolean, got %q", v))
		}
		m.Fullscreen = b
	}

	seen := make(map[string]bool)
	for _, item := range splitList(values["requirements"]) {
		match := reRequirement.FindStringSubmatch(item)
		if match == nil {
			errs = append(errs, invalid("requirements", "malformed requirement %q", item))
			continue
		}
		req := Requirement{Name: strings.ToLower(match[1]), Op: match[2], Version: match[3]}
		if req.Op != "" && !version.Valid(req.Version) {
			errs = append(errs, invalid("requirements", "requirement %q pins an invalid version", item))
			continue
		}
		if seen[req.Name] {
			errs = append(errs, invalid("requirements", "duplicate requirement %q", req.Name))
			continue
		}
		seen[req.Name] = true
		m.Requirements = append(m.Requirements, req)
	}

	m.Assets.SourceDir = DefaultSourceDir
	if v := values["source.dir"]; v != "" {
		m.Assets.SourceDir = v
	}
	m.Assets.IncludeExts = DefaultIncludeExts
	if v, ok := values["source.include_exts"]; ok {
		m.Assets.IncludeExts = nil
		for _, ext := range splitList(v) {
			m.Assets.IncludeExts = append(m.Assets.IncludeExts, strings.TrimPrefix(ext, "."))
		}
	}
	m.Assets.IncludePatterns = splitList(values["source.include_patterns"])
	m.Assets.ExcludePatterns = splitList(values["source.exclude_patterns"])
	m.Assets.RequiredPatterns = splitList(values["source.required_patterns"])
	m.LocalRecipes = values["p4a.local_recipes"]

	m.VersionCode = optionalInt("version.code", 0)
	if m.VersionCode == 0 {
		m.VersionCode = versionCode(m.MinAPI, m.Version)
	}

	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool {
			return errs[i].(*ValidationError).Field < errs[j].(*ValidationError).Field
		})
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// versionCode derives the integer Android version code from the minimum api
// level and the first three numeric version components.
func versionCode(minAPI int, v string) int {
	code := minAPI
	nums := version.Numbers(v)
	for i := 0; i < 3; i++ {
		n := 0
		if i < len(nums) {
			n = min(max(nums[i], 0), 99)
		}
		code = code*100 + n
	}
	return code
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '\n' }) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
