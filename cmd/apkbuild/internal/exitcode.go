package internal

import (
	"errors"

	"github.com/goplus/apkbuild/internal/assemble"
	"github.com/goplus/apkbuild/internal/manifest"
	"github.com/goplus/apkbuild/internal/resolve"
	"github.com/goplus/apkbuild/internal/toolchain"
)

// Exit codes, one per failure class, so calling scripts can branch on them.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitResolution = 3
	ExitToolchain  = 4
	ExitAssembly   = 5
)

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	var (
		verr *manifest.ValidationError
		aerr *assemble.AssemblyError
		terr *toolchain.ToolchainError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &verr):
		return ExitValidation
	case errors.Is(err, resolve.ErrResolution):
		return ExitResolution
	case errors.As(err, &aerr):
		return ExitAssembly
	case errors.As(err, &terr):
		return ExitToolchain
	}
	return ExitFailure
}
