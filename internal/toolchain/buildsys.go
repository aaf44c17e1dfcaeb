package toolchain

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goplus/apkbuild/internal/arch"
)

// cmakeDefine is one -D cache entry; an empty typeName writes an untyped
// define.
type cmakeDefine struct {
	value    string
	typeName string
}

// BuildArgs returns the standard arguments of each supported build system
// when cross-compiling for a at api into prefix, keyed by build system:
//
//	cmake      configure-time defines selecting the NDK toolchain file
//	configure  --host/--prefix for autotools configure scripts
//
// Recipes reach them as ${buildsys.cmake} and ${buildsys.configure}.
func (c *Config) BuildArgs(a arch.Arch, api int, prefix string, deps []string) map[string][]string {
	return map[string][]string{
		"cmake":     c.cmakeArgs(a, api, prefix, deps),
		"configure": configureArgs(a, prefix),
	}
}

func (c *Config) cmakeArgs(a arch.Arch, api int, prefix string, deps []string) []string {
	defines := map[string]cmakeDefine{
		"CMAKE_INSTALL_PREFIX": {value: prefix, typeName: "PATH"},
		"CMAKE_BUILD_TYPE":     {value: "Release", typeName: "STRING"},
		"BUILD_SHARED_LIBS":    {value: "ON", typeName: "BOOL"},
		"ANDROID_ABI":          {value: a.Name},
		"ANDROID_PLATFORM":     {value: "android-" + strconv.Itoa(api)},
	}
	if c.NDK != "" {
		defines["CMAKE_TOOLCHAIN_FILE"] = cmakeDefine{
			value:    filepath.Join(c.NDK, "build", "cmake", "android.toolchain.cmake"),
			typeName: "FILEPATH",
		}
	}
	if len(deps) > 0 {
		defines["CMAKE_PREFIX_PATH"] = cmakeDefine{value: strings.Join(deps, ";"), typeName: "STRING"}
		// The NDK toolchain file restricts find_* to the sysroot unless
		// the dependency prefixes are searched as well.
		defines["CMAKE_FIND_ROOT_PATH"] = cmakeDefine{value: strings.Join(deps, ";")}
	}
	return definesArgs(defines)
}

func definesArgs(defines map[string]cmakeDefine) []string {
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		def := defines[k]
		if def.typeName != "" {
			args = append(args, "-D"+k+":"+def.typeName+"="+def.value)
			continue
		}
		args = append(args, "-D"+k+"="+def.value)
	}
	return args
}

func configureArgs(a arch.Arch, prefix string) []string {
	return []string{
		"--host=" + a.Triple,
		"--prefix=" + prefix,
		"--enable-shared",
		"--disable-static",
	}
}
