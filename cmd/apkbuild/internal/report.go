package internal

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goplus/apkbuild/internal/build"
	"github.com/goplus/apkbuild/internal/toolchain"
)

// tailLines is how much step output a failure report shows.
const tailLines = 20

// PrintError writes err to w for a person to read. Build failures are
// listed one per (recipe, architecture) with the failing step and the end
// of its output.
func PrintError(w io.Writer, err error) {
	var report *build.Report
	if !errors.As(err, &report) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			fmt.Fprintln(w, "Error:")
			for _, e := range joined.Unwrap() {
				fmt.Fprintf(w, "  %v\n", e)
			}
			return
		}
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "Build failed: %d build(s) failed", len(report.Failures))
	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, ", %d skipped", len(report.Skipped))
	}
	fmt.Fprintln(w)

	for _, f := range report.Failures {
		fmt.Fprintf(w, "\n  %s [%s]\n", f.Recipe, f.Arch)
		var terr *toolchain.ToolchainError
		if !errors.As(f.Err, &terr) {
			fmt.Fprintf(w, "    error:     %v\n", f.Err)
			continue
		}
		fmt.Fprintf(w, "    step:      %s\n", terr.Step)
		switch {
		case terr.TimedOut:
			fmt.Fprintf(w, "    timed out: after %s\n", terr.Timeout)
		case terr.ExitCode >= 0:
			fmt.Fprintf(w, "    exit code: %d\n", terr.ExitCode)
		default:
			fmt.Fprintf(w, "    error:     %v\n", terr.Err)
		}
		if tail := terr.Tail(tailLines); tail != "" {
			fmt.Fprintln(w, "    output:")
			for _, line := range strings.Split(tail, "\n") {
				fmt.Fprintf(w, "      | %s\n", line)
			}
		}
	}

	if len(report.Skipped) > 0 {
		fmt.Fprintln(w, "\n  Skipped:")
		for _, s := range report.Skipped {
			fmt.Fprintf(w, "    %s [%s]: %s\n", s.Recipe, s.Arch, s.Reason)
		}
	}
}
