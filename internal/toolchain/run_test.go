//go:build unix

package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestRunnerExitCode(t *testing.T) {
	r := &Runner{Timeout: time.Minute}
	err := r.Run(context.Background(), Command{
		Name: "configure",
		Path: "sh",
		Args: []string{"-c", "echo checking for gcc; echo 'error: no C compiler' >&2; exit 3"},
	})
	var terr *ToolchainError
	if !errors.As(err, &terr) {
		t.Fatalf("Run() = %v, want ToolchainError", err)
	}
	if terr.ExitCode != 3 || terr.TimedOut || terr.Step != "configure" {
		t.Errorf("got %+v", terr)
	}
	if got := terr.Tail(1); got != "error: no C compiler" {
		t.Errorf("Tail(1) = %q", got)
	}
	if !strings.Contains(string(terr.Output), "checking for gcc") {
		t.Errorf("Output = %q, want stdout captured", terr.Output)
	}
	if got, want := terr.Error(), "step configure: exit status 3"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRunnerSuccess(t *testing.T) {
	dir := t.TempDir()
	var out strings.Builder
	r := &Runner{Output: &out}
	err := r.Run(context.Background(), Command{
		Name: "build",
		Path: "sh",
		Args: []string{"-c", `echo "$GREETING" > out.txt; echo done`},
		Dir:  dir,
		Env:  []string{"GREETING=hello", "PATH=" + os.Getenv("PATH")},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil || string(data) != "hello\n" {
		t.Errorf("out.txt = %q, %v", data, err)
	}
	if out.String() != "done\n" {
		t.Errorf("Output = %q", out.String())
	}
}

func TestRunnerTimeout(t *testing.T) {
	r := &Runner{Timeout: 100 * time.Millisecond}
	start := time.Now()
	err := r.Run(context.Background(), Command{Name: "hang", Path: "sleep", Args: []string{"30"}})
	var terr *ToolchainError
	if !errors.As(err, &terr) || !terr.TimedOut {
		t.Fatalf("Run() = %v, want timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error does not match DeadlineExceeded")
	}
	if terr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", terr.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run took %s after timeout", elapsed)
	}
}

func TestRunnerCancelKillsGroup(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		r := &Runner{}
		done <- r.Run(ctx, Command{
			Name: "make",
			Path: "sh",
			// The grandchild stands in for a compiler spawned by make.
			Args: []string{"-c", "sleep 30 & echo $! > " + pidFile + "; wait"},
		})
	}()

	var pid int
	deadline := time.Now().Add(5 * time.Second)
	for pid == 0 && time.Now().Before(deadline) {
		if data, err := os.ReadFile(pidFile); err == nil {
			pid, _ = strconv.Atoi(strings.TrimSpace(string(data)))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if pid == 0 {
		cancel()
		t.Fatal("child did not start")
	}

	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}

	// The grandchild must be gone, not reparented and left running.
	deadline = time.Now().Add(5 * time.Second)
	for {
		if !alive(pid) {
			break
		}
		if time.Now().After(deadline) {
			syscall.Kill(pid, syscall.SIGKILL)
			t.Fatalf("process %d survived cancellation", pid)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunnerMissingCommand(t *testing.T) {
	r := &Runner{}
	err := r.Run(context.Background(), Command{Name: "cc", Path: filepath.Join(t.TempDir(), "no-such-cc")})
	var terr *ToolchainError
	if !errors.As(err, &terr) || terr.ExitCode != -1 {
		t.Fatalf("Run() = %v, want ToolchainError with ExitCode -1", err)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	tb.Write([]byte("0123"))
	tb.Write([]byte("456789ab"))
	if got := string(tb.Bytes()); got != "456789ab" {
		t.Errorf("Bytes() = %q", got)
	}
}

// alive reports whether pid is running. Zombies count as gone since an
// init that does not reap would otherwise keep them visible.
func alive(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return false
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	_, rest, ok := strings.Cut(string(data), ") ")
	return !ok || !strings.HasPrefix(rest, "Z")
}
