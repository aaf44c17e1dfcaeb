// Package arch describes the Android ABIs a package can target.
package arch

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Arch is one recognized ABI.
type Arch struct {
	// Name is the canonical ABI name, also used as the lib/<abi> directory.
	Name string
	// Triple is the GNU target triple used for --host and binutils prefixes.
	Triple string
	// ClangTriple prefixes the NDK clang wrapper: <ClangTriple><api>-clang.
	ClangTriple string
	// CFlags are extra compiler flags the ABI needs.
	CFlags []string
}

func (a Arch) String() string { return a.Name }

var known = []Arch{
	{Name: "arm64-v8a", Triple: "aarch64-linux-android", ClangTriple: "aarch64-linux-android"},
	{Name: "armeabi-v7a", Triple: "arm-linux-androideabi", ClangTriple: "armv7a-linux-androideabi",
		CFlags: []string{"-march=armv7-a", "-mfloat-abi=softfp", "-mfpu=vfp", "-mthumb"}},
	{Name: "armeabi", Triple: "arm-linux-androideabi", ClangTriple: "armv7a-linux-androideabi",
		CFlags: []string{"-march=armv5te", "-mtune=xscale", "-msoft-float"}},
	{Name: "x86", Triple: "i686-linux-android", ClangTriple: "i686-linux-android",
		CFlags: []string{"-march=i686", "-mssse3", "-mfpmath=sse", "-m32"}},
	{Name: "x86_64", Triple: "x86_64-linux-android", ClangTriple: "x86_64-linux-android",
		CFlags: []string{"-march=x86-64", "-msse4.2", "-mpopcnt", "-m64"}},
}

var aliases = map[string]string{
	"arm64":   "arm64-v8a",
	"aarch64": "arm64-v8a",
	"armv7":   "armeabi-v7a",
	"x86-64":  "x86_64",
	"amd64":   "x86_64",
	"i686":    "x86",
}

// Lookup returns the architecture named by name or one of its aliases.
func Lookup(name string) (Arch, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	for _, a := range known {
		if a.Name == name {
			return a, true
		}
	}
	return Arch{}, false
}

// Names returns the canonical names of all recognized architectures.
func Names() []string {
	names := make([]string, len(known))
	for i, a := range known {
		names[i] = a.Name
	}
	return names
}

// HostTag returns the NDK prebuilt host directory for the running system.
func HostTag() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "linux-x86_64", nil
	case "darwin":
		// NDK r23+ ships universal binaries under darwin-x86_64.
		return "darwin-x86_64", nil
	case "windows":
		return "windows-x86_64", nil
	}
	return "", fmt.Errorf("unsupported host system for Android NDK: %s", runtime.GOOS)
}

// Clang returns the path of the NDK clang wrapper for a at the given api
// level, rooted at the NDK's llvm prebuilt bin directory.
func (a Arch) Clang(binDir string, api int, cxx bool) string {
	name := a.ClangTriple + strconv.Itoa(api) + "-clang"
	if cxx {
		name += "++"
	}
	return filepath.Join(binDir, name)
}
