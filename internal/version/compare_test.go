package version

import (
	"slices"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		// semver
		{"1.0.0", "1.0.1", -1},
		{"1.2.10", "1.2.9", 1},
		{"v2.0.0", "2.0.0", 0},
		{"1.0.0-rc1", "1.0.0", -1},
		{"1.10", "1.9", 1},

		// version-sort fallback
		{"1.01", "1.1", 0},
		{"1.0~rc1", "1.0", -1},
		{"3.11.5a", "3.11.5b", -1},
		{"2.1.0.1", "2.1.0", 1},
		{"1.2.3.4", "1.2.3.10", -1},
		{"1.0.0.99999999999999999999", "1.0.0.100000000000000000000", -1},
		{"2.0~beta", "2.0~rc", -1},
		{"1.0_p1", "1.0a", 1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Compare(tt.b, tt.a); got != -tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestValid(t *testing.T) {
	for _, v := range []string{"1", "1.0", "v1.2.3", "2.0~rc1", "3.11.5-r2", "1.0+build.7"} {
		if !Valid(v) {
			t.Errorf("Valid(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"", "v", "beta", "1.0 beta", "1.0/2"} {
		if Valid(v) {
			t.Errorf("Valid(%q) = true, want false", v)
		}
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		v    string
		want []int
	}{
		{"1.2.3", []int{1, 2, 3}},
		{"v0.9", []int{0, 9}},
		{"2.0-rc1", []int{2, 0}},
		{"1.2a.3", []int{1}},
		{"x", nil},
	}
	for _, tt := range tests {
		if got := Numbers(tt.v); !slices.Equal(got, tt.want) {
			t.Errorf("Numbers(%q) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
