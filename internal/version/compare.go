// Package version compares the version strings found in manifests and
// recipes.
//
// Versions that are valid semantic versions (with or without a leading "v")
// are compared by semver rules. Anything else falls back to a version-sort
// ordering in the style of GNU sort -V, so "1.2.10" sorts after "1.2.9" and "2.0~rc1" sorts
// before "2.0".
package version

import (
	"cmp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Valid reports whether v can take part in a comparison: it must start with
// a digit and contain only alphanumerics and the separators ".+-~_".
func Valid(v string) bool {
	v = strings.TrimPrefix(v, "v")
	if v == "" || !isDigit(v[0]) {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if isDigit(c) || isAlpha(c) {
			continue
		}
		switch c {
		case '.', '+', '-', '~', '_':
		default:
			return false
		}
	}
	return true
}

// Compare returns -1, 0 or +1 depending on whether a sorts before, equal to
// or after b.
func Compare(a, b string) int {
	sa, sb := canonical(a), canonical(b)
	if semver.IsValid(sa) && semver.IsValid(sb) {
		return semver.Compare(sa, sb)
	}
	return fallbackCompare(strings.TrimPrefix(a, "v"), strings.TrimPrefix(b, "v"))
}

// Numbers returns the leading numeric components of v, stopping at the
// first component that is not a plain number.
func Numbers(v string) []int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "+-~_"); i >= 0 {
		v = v[:i]
	}
	var out []int
	for _, part := range strings.Split(v, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// fallbackCompare splits both versions into alternating text and number
// segments and compares them pairwise.
func fallbackCompare(a, b string) int {
	for a != "" || b != "" {
		var sa, sb string
		sa, a = cut(a, false)
		sb, b = cut(b, false)
		if c := compareText(sa, sb); c != 0 {
			return c
		}
		sa, a = cut(a, true)
		sb, b = cut(b, true)
		if c := compareNumber(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

// cut splits s after its leading run of digits, or of non-digits.
func cut(s string, digits bool) (head, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) == digits {
		i++
	}
	return s[:i], s[i:]
}

func compareText(a, b string) int {
	for i := 0; i < max(len(a), len(b)); i++ {
		if c := cmp.Compare(textRank(a, i), textRank(b, i)); c != 0 {
			return c
		}
	}
	return 0
}

// textRank orders '~' before the end of a segment, the end before letters
// and letters before any other character.
func textRank(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	switch c := s[i]; {
	case c == '~':
		return -1
	case isAlpha(c):
		return int(c)
	default:
		return int(c) + 256
	}
}

// compareNumber compares digit runs of any length by value.
func compareNumber(a, b string) int {
	a, b = strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
