// Package verify executes the automated test suite as a child process
// under an enforced wall-clock timeout. This is the one place in the
// engine where blocking work is explicitly time-boxed: on timeout the
// whole child process group is killed so no orphan keeps running.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/vk/modtool/internal/config"
	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
)

const source = "verify"

// Verdict is the tri-state outcome of a verification run.
type Verdict string

const (
	VerdictPassed   Verdict = "passed"
	VerdictFailed   Verdict = "failed"
	VerdictTimedOut Verdict = "timed_out"
	// VerdictSkipped is reported when no verification command is declared.
	VerdictSkipped Verdict = "skipped"
)

// Report is the result of one verification run.
type Report struct {
	Verdict  Verdict
	Detail   string
	Duration time.Duration
}

// Runner runs the declared test command with the declared timeout.
type Runner struct {
	cfg *config.Config
	bus *events.Bus
}

// New creates a Runner bound to the declaration and event bus.
func New(cfg *config.Config, bus *events.Bus) *Runner {
	return &Runner{cfg: cfg, bus: bus}
}

// Run executes the test suite. Exit status 0 maps to passed, a nonzero
// exit to failed, and hitting the timeout to timed_out. A timed-out run
// degrades confidence but never blocks startup, so it is published as a
// warning rather than an error.
func (r *Runner) Run(ctx context.Context) Report {
	logger := ctxlog.FromContext(ctx)

	if len(r.cfg.VerifyCommand) == 0 {
		r.bus.Publish(events.SeverityInfo, source, "no verification command declared, tests skipped")
		return Report{Verdict: VerdictSkipped, Detail: "no command declared"}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.VerifyTimeout)
	defer cancel()

	argv := r.cfg.VerifyCommand
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = r.cfg.Root
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Run the suite in its own process group and kill the whole group on
	// cancellation, otherwise grandchildren survive the parent's death.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	r.bus.Publish(events.SeverityInfo, source, fmt.Sprintf("running test suite (timeout %s)", r.cfg.VerifyTimeout))
	logger.Info("Verification run started.", "command", argv[0], "timeout", r.cfg.VerifyTimeout)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		detail := fmt.Sprintf("test suite exceeded %s and was terminated", r.cfg.VerifyTimeout)
		r.bus.Publish(events.SeverityWarn, source, detail)
		logger.Warn("Verification timed out.", "elapsed", elapsed)
		return Report{Verdict: VerdictTimedOut, Detail: detail, Duration: elapsed}
	case err == nil:
		r.bus.Publish(events.SeverityInfo, source, "test suite passed")
		logger.Info("Verification passed.", "elapsed", elapsed)
		return Report{Verdict: VerdictPassed, Detail: "test suite passed", Duration: elapsed}
	default:
		detail := "test suite failed"
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = fmt.Sprintf("test suite failed (exit status %d)", exitErr.ExitCode())
		} else {
			detail = fmt.Sprintf("test suite could not run: %v", err)
		}
		if tail := lastLine(output.Bytes()); tail != "" {
			detail += ": " + tail
		}
		r.bus.Publish(events.SeverityError, source, detail)
		logger.Error("Verification failed.", "elapsed", elapsed, "error", err)
		return Report{Verdict: VerdictFailed, Detail: detail, Duration: elapsed}
	}
}

// lastLine returns the final non-empty output line, enough context for a
// one-line status without dumping the whole suite log into the stream.
func lastLine(output []byte) string {
	lines := bytes.Split(bytes.TrimSpace(output), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(bytes.TrimSpace(lines[len(lines)-1]))
}
