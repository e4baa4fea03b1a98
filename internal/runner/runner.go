package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/ferdiu/latex-server/internal/log"
)

const (
	// maxOutputBytes caps the combined stdout+stderr captured per pass.
	maxOutputBytes = 512 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Command describes one external invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// PassRecord is the immutable result of one subprocess invocation. A timeout
// is a normal (if unhappy) result, not an error: the record carries whatever
// output was captured before termination.
type PassRecord struct {
	Command        string
	ExitCode       int
	CombinedOutput string
	TimedOut       bool
	Duration       time.Duration
}

// Runner executes external commands in a working directory under a wall-clock
// timeout. Processes are started in their own process group so that timeout
// termination also reaps any children the command spawned.
type Runner struct {
	logger *slog.Logger
}

// New creates a Runner.
func New() *Runner {
	return &Runner{logger: log.WithComponent("runner")}
}

// Run executes cmd and blocks until it exits or the timeout fires. It never
// leaves the external process (or its descendants) running after it returns.
func (r *Runner) Run(ctx context.Context, cmd Command) PassRecord {
	start := time.Now()

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Don't use CommandContext - we manage termination ourselves so the
	// whole process group gets the signal, not just the direct child.
	ex := exec.Command(cmd.Name, cmd.Args...)
	ex.Dir = cmd.Dir
	ex.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	ex.Stdout = &output
	ex.Stderr = &output

	r.logger.Debug("spawning command", "command", cmd.Name, "dir", cmd.Dir, "timeout", timeout)

	if err := ex.Start(); err != nil {
		return PassRecord{
			Command:        cmd.Name,
			ExitCode:       -1,
			CombinedOutput: fmt.Sprintf("failed to start %s: %v", cmd.Name, err),
			Duration:       time.Since(start),
		}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- ex.Wait()
	}()

	select {
	case <-ctx.Done():
		r.kill(ex, waitErr)
		return PassRecord{
			Command:        cmd.Name,
			ExitCode:       -1,
			CombinedOutput: truncateOutput(output.String()),
			TimedOut:       true,
			Duration:       time.Since(start),
		}

	case <-timeoutTimer.C:
		r.logger.Warn("command timed out, sending SIGTERM", "command", cmd.Name, "timeout", timeout)
		r.kill(ex, waitErr)
		return PassRecord{
			Command:        cmd.Name,
			ExitCode:       -1,
			CombinedOutput: truncateOutput(output.String()),
			TimedOut:       true,
			Duration:       time.Since(start),
		}

	case err := <-waitErr:
		rec := PassRecord{
			Command:        cmd.Name,
			CombinedOutput: truncateOutput(output.String()),
			Duration:       time.Since(start),
		}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				rec.ExitCode = exitErr.ExitCode()
				r.logger.Warn("command exited with non-zero status", "command", cmd.Name, "exit_code", rec.ExitCode)
			} else {
				rec.ExitCode = -1
				rec.CombinedOutput += fmt.Sprintf("\nwait for process: %v", err)
			}
		}
		return rec
	}
}

// kill terminates the process group with SIGTERM, escalates to SIGKILL after
// the grace period, and waits for the process to be reaped.
func (r *Runner) kill(ex *exec.Cmd, waitErr <-chan error) {
	if ex.Process == nil {
		return
	}

	// Setpgid makes the child the group leader, so -pid addresses the group.
	pgid := ex.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		r.logger.Error("failed to send SIGTERM to process group", "error", err)
		_ = ex.Process.Signal(syscall.SIGTERM)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		r.logger.Info("process exited after SIGTERM")
	case <-grace.C:
		r.logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			_ = ex.Process.Kill()
		}
		<-waitErr
	}
}

func truncateOutput(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
