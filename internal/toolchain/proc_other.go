//go:build !unix

package toolchain

import "os/exec"

// setProcessGroup keeps exec's default cancellation, which kills only the
// direct child.
func setProcessGroup(cmd *exec.Cmd) {}
