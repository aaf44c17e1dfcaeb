package assemble

import "fmt"

// AssemblyError reports a package that could not be assembled. Exactly one
// of Arch, Pattern or Err describes the cause.
type AssemblyError struct {
	// Arch is set when an architecture has no build outputs.
	Arch string
	// Pattern is set when a required asset pattern matched no file.
	Pattern string
	Err     error
}

func (e *AssemblyError) Error() string {
	switch {
	case e.Arch != "":
		return fmt.Sprintf("assemble: no build outputs for architecture %s", e.Arch)
	case e.Pattern != "":
		return fmt.Sprintf("assemble: required asset pattern %q matched no files", e.Pattern)
	}
	return fmt.Sprintf("assemble: %v", e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
