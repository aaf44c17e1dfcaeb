package toolchain

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// tailSize is how much of a step's output is kept for error reports.
const tailSize = 16 << 10

// Command is one subprocess invocation.
type Command struct {
	Name string // step name, for reports
	Path string
	Args []string
	Dir  string
	// Env is the complete environment; nil inherits the current process's.
	Env []string
}

// Runner runs commands in their own process group with a timeout.
// Cancelling the context passed to Run kills the whole group.
type Runner struct {
	Timeout time.Duration
	// Output, if set, receives the live combined output.
	Output io.Writer
}

// Run runs c to completion. On failure it returns a *ToolchainError whose
// Recipe and Arch are left for the caller to fill in.
func (r *Runner) Run(ctx context.Context, c Command) error {
	log := logr.FromContextOrDiscard(ctx)

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	tail := &tailBuffer{max: tailSize}
	var w io.Writer = tail
	if r.Output != nil {
		w = io.MultiWriter(tail, r.Output)
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = w
	cmd.Stderr = w
	// Children that inherit the pipes must not keep Wait blocked after the
	// group is killed.
	cmd.WaitDelay = 5 * time.Second
	setProcessGroup(cmd)

	log.V(1).Info("Running step", "step", c.Name, "cmd", c.Path, "args", c.Args, "dir", c.Dir)
	start := time.Now()
	err := cmd.Run()
	log.V(1).Info("Step finished", "step", c.Name, "elapsed", time.Since(start).Round(time.Millisecond), "err", err)
	if err == nil {
		return nil
	}

	terr := &ToolchainError{Step: c.Name, ExitCode: -1, Output: tail.Bytes(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		terr.ExitCode = exitErr.ExitCode()
	}
	switch {
	case ctx.Err() != nil:
		terr.Err = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		terr.TimedOut = true
		terr.Timeout = r.Timeout
		terr.Err = context.DeadlineExceeded
	}
	return terr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}
