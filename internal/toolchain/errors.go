package toolchain

import (
	"fmt"
	"strings"
	"time"
)

// ToolchainError reports a failed build step. Output holds the last part
// of the step's combined stdout and stderr.
type ToolchainError struct {
	Recipe string
	Arch   string
	Step   string

	// ExitCode is the process exit status, or -1 when the process did not
	// exit on its own (killed, timed out, or never started).
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
	Output   []byte

	Err error
}

func (e *ToolchainError) Error() string {
	var b strings.Builder
	if e.Recipe != "" {
		fmt.Fprintf(&b, "%s [%s] ", e.Recipe, e.Arch)
	}
	fmt.Fprintf(&b, "step %s: ", e.Step)
	switch {
	case e.TimedOut:
		fmt.Fprintf(&b, "timed out after %s", e.Timeout)
	case e.ExitCode > 0:
		fmt.Fprintf(&b, "exit status %d", e.ExitCode)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("failed")
	}
	return b.String()
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// Tail returns the last n lines of the captured output.
func (e *ToolchainError) Tail(n int) string {
	out := strings.TrimRight(string(e.Output), "\n")
	if out == "" {
		return ""
	}
	lines := strings.Split(out, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
