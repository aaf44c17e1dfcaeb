package build

import (
	"fmt"
	"strings"
)

// Failure is one (recipe, arch) build that failed.
type Failure struct {
	Recipe string
	Arch   string
	Err    error
}

// Skip is one (recipe, arch) build that did not run.
type Skip struct {
	Recipe string
	Arch   string
	// Reason names the failed dependency, or says the run was cancelled.
	Reason string
}

// Report collects every failure of a run. It is returned as the error of
// Builder.Build, and errors.As finds the failures' underlying errors
// through it.
type Report struct {
	Failures []Failure
	Skipped  []Skip
}

func (r *Report) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d build(s) failed", len(r.Failures))
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, ", %d skipped", len(r.Skipped))
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\n  %s [%s]: %v", f.Recipe, f.Arch, f.Err)
	}
	return b.String()
}

func (r *Report) Unwrap() []error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f.Err
	}
	return errs
}
